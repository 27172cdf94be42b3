package scheduler

import (
	"sort"
	"sync"

	"github.com/flarebyte/fabrik/internal/plan"
)

// outputClaims maps each output path of a phase to the command producing
// it. Skipped commands claim what they recorded last time.
type outputClaims struct {
	mu       sync.Mutex
	owner    map[string]plan.Command
	inputs   map[plan.Signature][]string
	commit   map[plan.Signature]commitState
	poisoned map[plan.Signature]bool
}

type commitState int

const (
	notCommitted commitState = iota
	committing
	committed
)

func newOutputClaims() *outputClaims {
	return &outputClaims{
		owner:    map[string]plan.Command{},
		inputs:   map[plan.Signature][]string{},
		commit:   map[plan.Signature]commitState{},
		poisoned: map[plan.Signature]bool{},
	}
}

// claim registers paths for cmd and returns the first path already owned
// by another command, with that command.
func (c *outputClaims) claim(cmd plan.Command, paths []string) (string, plan.Command, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, p := range paths {
		if other, ok := c.owner[p]; ok && other.Signature() != cmd.Signature() {
			return p, other, true
		}
	}
	for _, p := range paths {
		c.owner[p] = cmd
	}
	return "", plan.Command{}, false
}

// stored marks cmd's record as already present, as for a skipped command.
func (c *outputClaims) stored(cmd plan.Command) {
	c.mu.Lock()
	c.commit[cmd.Signature()] = committed
	c.mu.Unlock()
}

// poison marks cmd as a party to an output collision. It reports whether
// cmd's record is already stored, in which case the caller must forget it.
// A command still committing forgets its own record in endCommit.
func (c *outputClaims) poison(cmd plan.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.poisoned[cmd.Signature()] = true
	return c.commit[cmd.Signature()] == committed
}

// beginCommit reports whether cmd may commit its record.
func (c *outputClaims) beginCommit(cmd plan.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.poisoned[cmd.Signature()] {
		return false
	}
	c.commit[cmd.Signature()] = committing
	return true
}

// endCommit reports whether cmd was poisoned while its commit was in
// flight. The caller then owns forgetting the record.
func (c *outputClaims) endCommit(cmd plan.Command) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commit[cmd.Signature()] = committed
	return c.poisoned[cmd.Signature()]
}

func (c *outputClaims) recordInputs(cmd plan.Command, paths []string) {
	c.mu.Lock()
	c.inputs[cmd.Signature()] = paths
	c.mu.Unlock()
}

// crossReads finds commands that read a file another command of the same
// phase wrote. Such pairs belong in different phases.
func (c *outputClaims) crossReads(cmds []plan.Command) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, cmd := range cmds {
		for _, p := range c.inputs[cmd.Signature()] {
			w, ok := c.owner[p]
			if !ok || w.Signature() == cmd.Signature() {
				continue
			}
			out = append(out, cmd.String()+" read "+p+" written by "+w.String()+" in the same phase; move it to a later phase")
		}
	}
	sort.Strings(out)
	return out
}
