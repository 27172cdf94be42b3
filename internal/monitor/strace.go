package monitor

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/plan"
)

// DefaultStrace is the tracer binary looked up on PATH.
const DefaultStrace = "strace"

const defaultPollInterval = 5 * time.Millisecond

// Strace traces process trees with ptrace through the strace binary. The
// trace is written to a temporary file which the session follows while the
// command runs, so inputs are fingerprinted close to when they are read.
type Strace struct {
	Path     string
	TraceDir string
	Filter   Filter
	Hasher   *fingerprint.Hasher
	// PollInterval is how long the follower sleeps at end of file.
	PollInterval time.Duration
}

func (s *Strace) Name() string { return "strace" }

func (s *Strace) bin() string {
	if s.Path != "" {
		return s.Path
	}
	return DefaultStrace
}

// Probe runs a trivial traced command. Missing binaries and ptrace
// restrictions both surface here.
func (s *Strace) Probe(ctx context.Context) error {
	bin, err := exec.LookPath(s.bin())
	if err != nil {
		return &MonitoringError{Op: "probe", Msg: "strace not found", Err: err}
	}
	out, err := exec.CommandContext(ctx, bin, "-f", "-qq", "-o", os.DevNull, "-e", "trace=execve", "--", "true").CombinedOutput()
	if err != nil {
		msg := strings.Join(strings.Fields(string(out)), " ")
		if msg == "" {
			msg = "cannot trace processes"
		}
		return &MonitoringError{Op: "probe", Msg: msg, Err: err}
	}
	return nil
}

func (s *Strace) Begin(cmd plan.Command) (Session, error) {
	f, err := os.CreateTemp(s.TraceDir, "fabrik-trace-*.log")
	if err != nil {
		return nil, &MonitoringError{Op: "begin", Msg: "create trace file", Err: err}
	}
	hasher := s.Hasher
	if hasher == nil {
		hasher = fingerprint.NewHasher(0)
	}
	poll := s.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	argv := []string{
		s.bin(), "-f", "-qq", "-y", "-s", "4096",
		"-e", "signal=none",
		"-e", "trace=%file,%process,fchdir",
		"-o", f.Name(), "--",
	}
	sess := &straceSession{
		argv:   append(argv, cmd.Argv()...),
		trace:  f,
		poll:   poll,
		parser: newTraceParser(cmd.Dir()),
		set:    newAccessSet(hasher, s.Filter),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go sess.follow()
	return sess, nil
}

type straceSession struct {
	argv  []string
	trace *os.File
	poll  time.Duration

	parser *traceParser
	set    *accessSet
	lines  int
	err    error

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

func (s *straceSession) Argv() []string { return s.argv }

// follow reads the trace as strace appends to it. After stop it drains
// whatever is left; strace has exited by then so the file is complete.
func (s *straceSession) follow() {
	defer close(s.done)
	r := bufio.NewReaderSize(s.trace, 64*1024)
	var partial strings.Builder
	stopping := false
	for {
		chunk, err := r.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			s.consume(partial.String())
			partial.Reset()
			continue
		}
		if !errors.Is(err, io.EOF) {
			s.err = err
			return
		}
		if stopping {
			if partial.Len() > 0 {
				s.consume(partial.String())
			}
			return
		}
		select {
		case <-s.stop:
			stopping = true
		case <-time.After(s.poll):
		}
	}
}

func (s *straceSession) consume(line string) {
	s.lines++
	for _, ev := range s.parser.feed(line) {
		s.set.apply(ev)
	}
}

func (s *straceSession) halt() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done
	name := s.trace.Name()
	_ = s.trace.Close()
	_ = os.Remove(name)
}

func (s *straceSession) Abort() { s.halt() }

func (s *straceSession) Finish(exitCode int) (Accesses, error) {
	s.halt()
	if s.err != nil {
		return Accesses{}, &MonitoringError{Op: "finish", Msg: "read trace", Err: s.err}
	}
	if s.set.execs == 0 {
		if exitCode == 0 {
			return Accesses{}, &MonitoringError{Op: "finish", Msg: "command succeeded but no process execution was observed"}
		}
		// strace could not start the command; the runner reports the
		// failure with strace's own diagnostics.
		return Accesses{}, nil
	}
	return s.set.result(), nil
}

// accessSet aggregates events of one process tree.
type accessSet struct {
	hasher *fingerprint.Hasher
	filter Filter

	inputs  map[string]*fingerprint.Fingerprint
	written map[string]struct{}
	removed map[string]struct{}
	execs   int
}

func newAccessSet(h *fingerprint.Hasher, f Filter) *accessSet {
	return &accessSet{
		hasher:  h,
		filter:  f,
		inputs:  map[string]*fingerprint.Fingerprint{},
		written: map[string]struct{}{},
		removed: map[string]struct{}{},
	}
}

func (a *accessSet) apply(ev event) {
	if ev.kind == evExec {
		a.execs++
	}
	if !a.filter.Keep(ev.path) {
		return
	}
	switch ev.kind {
	case evRead, evExec:
		if _, w := a.written[ev.path]; w {
			return
		}
		if _, seen := a.inputs[ev.path]; seen {
			return
		}
		fp, err := a.hasher.Of(ev.path)
		if err != nil {
			a.inputs[ev.path] = nil
			return
		}
		a.inputs[ev.path] = &fp
	case evWrite:
		a.written[ev.path] = struct{}{}
		delete(a.removed, ev.path)
	case evRemove:
		delete(a.written, ev.path)
		a.removed[ev.path] = struct{}{}
	}
}

// result fingerprints outputs now that the tree has exited. Files the
// command deleted again are dropped from both sides.
func (a *accessSet) result() Accesses {
	var acc Accesses
	for p := range a.written {
		a.hasher.Invalidate(p)
		fp, err := a.hasher.Of(p)
		if err != nil {
			continue
		}
		acc.Outputs = append(acc.Outputs, fingerprint.FileRecord{Path: p, Role: fingerprint.RoleOutput, Fingerprint: fp})
	}
	for p, fp := range a.inputs {
		if fp == nil {
			continue
		}
		if _, w := a.written[p]; w {
			continue
		}
		if _, r := a.removed[p]; r {
			continue
		}
		acc.Inputs = append(acc.Inputs, fingerprint.FileRecord{Path: p, Role: fingerprint.RoleInput, Fingerprint: *fp})
	}
	sortRecords(acc.Inputs)
	sortRecords(acc.Outputs)
	return acc
}
