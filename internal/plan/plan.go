package plan

import (
	"fmt"
	"path/filepath"
)

// Phase is an ordered group of commands that may run concurrently. Every
// command of a phase reaches a terminal state before the next phase starts.
type Phase struct {
	Name     string
	Commands []Command
}

// Plan is the immutable description of what to build, handed to the
// scheduler once per invocation.
type Plan struct {
	// Root is the project root; the dependency store lives beneath it.
	Root   string
	Phases []Phase
	// Jobs is the concurrency limit requested by the plan source. Zero
	// means the caller decides.
	Jobs int
}

// CommandCount returns the number of commands across all phases.
func (p Plan) CommandCount() int {
	n := 0
	for _, ph := range p.Phases {
		n += len(ph.Commands)
	}
	return n
}

// Builder accumulates phases. The configuration sources use it to build a
// Plan from imperative or declarative input.
type Builder struct {
	root   string
	jobs   int
	phases []Phase
	cur    Phase
}

// NewBuilder starts a plan rooted at root with one empty phase open.
func NewBuilder(root string) *Builder {
	return &Builder{root: root}
}

// Add appends a command to the open phase. A relative dir is resolved
// against the plan root; an empty dir means the root itself.
func (b *Builder) Add(argv []string, dir string) Command {
	switch {
	case dir == "":
		dir = b.root
	case !filepath.IsAbs(dir):
		dir = filepath.Join(b.root, dir)
	}
	c := NewCommand(argv, filepath.Clean(dir), len(b.phases))
	b.cur.Commands = append(b.cur.Commands, c)
	return c
}

// Barrier closes the open phase and opens a new one named name. An empty
// open phase is renamed rather than emitted.
func (b *Builder) Barrier(name string) {
	if len(b.cur.Commands) == 0 {
		if name != "" {
			b.cur.Name = name
		}
		return
	}
	b.phases = append(b.phases, b.cur)
	b.cur = Phase{Name: name}
}

// SetJobs records the concurrency limit requested by the source.
func (b *Builder) SetJobs(n int) { b.jobs = n }

// Build returns the plan. Empty phases are dropped and phase names default
// to their one-based position.
func (b *Builder) Build() Plan {
	phases := append([]Phase(nil), b.phases...)
	if len(b.cur.Commands) > 0 {
		phases = append(phases, b.cur)
	}
	out := Plan{Root: b.root, Jobs: b.jobs, Phases: make([]Phase, 0, len(phases))}
	for i, ph := range phases {
		name := ph.Name
		if name == "" {
			name = fmt.Sprintf("%d", i+1)
		}
		cmds := make([]Command, len(ph.Commands))
		for j, c := range ph.Commands {
			cmds[j] = NewCommand(c.argv, c.dir, i)
		}
		out.Phases = append(out.Phases, Phase{Name: name, Commands: cmds})
	}
	return out
}

// Validate rejects plans the scheduler cannot run safely. It never touches
// the dependency store or the file system and runs before any command is
// dispatched; a working directory may be created by an earlier phase.
func Validate(p Plan) error {
	if p.Root == "" || !filepath.IsAbs(p.Root) {
		return &ConfigurationError{Phase: -1, Index: -1, Msg: fmt.Sprintf("project root must be absolute: %q", p.Root)}
	}
	if p.Jobs < 0 {
		return &ConfigurationError{Phase: -1, Index: -1, Msg: fmt.Sprintf("jobs must be >= 0, got %d", p.Jobs)}
	}
	for pi, ph := range p.Phases {
		seen := make(map[Signature]int, len(ph.Commands))
		for ci, c := range ph.Commands {
			if len(c.argv) == 0 || c.argv[0] == "" {
				return &ConfigurationError{Phase: pi, Index: ci, Msg: "empty argument vector"}
			}
			if c.phase != pi {
				return &ConfigurationError{Phase: pi, Index: ci, Msg: fmt.Sprintf("command tagged with phase %d", c.phase)}
			}
			if !filepath.IsAbs(c.dir) {
				return &ConfigurationError{Phase: pi, Index: ci, Msg: fmt.Sprintf("working directory must be absolute: %q", c.dir)}
			}
			if prev, dup := seen[c.sig]; dup {
				return &ConfigurationError{Phase: pi, Index: ci, Msg: fmt.Sprintf("duplicate of command %d: %s", prev, c.String())}
			}
			seen[c.sig] = ci
		}
	}
	return nil
}
