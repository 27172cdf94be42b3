package scheduler

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flarebyte/fabrik/internal/oracle"
	"github.com/flarebyte/fabrik/internal/plan"
)

type slot struct{ phase, index int }

// RunLedger is the state of one invocation. It lives for the duration of
// Execute and is safe for concurrent use by the workers.
type RunLedger struct {
	id   string
	jobs int

	mu          sync.Mutex
	reports     [][]CommandReport
	dispatched  map[slot]struct{}
	outstanding map[slot]struct{}
	inFlight    int
	maxInFlight int
	failed      bool
	firstErr    error
	phase       int
	warnings    []string
	started     time.Time
}

func newLedger(p plan.Plan, jobs int) *RunLedger {
	l := &RunLedger{
		id:          uuid.NewString(),
		jobs:        jobs,
		reports:     make([][]CommandReport, len(p.Phases)),
		dispatched:  map[slot]struct{}{},
		outstanding: map[slot]struct{}{},
		started:     time.Now(),
	}
	for pi, ph := range p.Phases {
		l.reports[pi] = make([]CommandReport, len(ph.Commands))
		for ci, c := range ph.Commands {
			l.reports[pi][ci] = CommandReport{
				Phase:     pi,
				PhaseName: ph.Name,
				Command:   c.String(),
				Dir:       c.Dir(),
				Signature: c.Signature(),
				Status:    StatusNotRun,
			}
		}
	}
	return l
}

// ID identifies the invocation in logs and reports.
func (l *RunLedger) ID() string { return l.id }

func (l *RunLedger) enterPhase(pi int) {
	l.mu.Lock()
	l.phase = pi
	l.mu.Unlock()
}

func (l *RunLedger) decide(pi, ci int, d oracle.Decision) {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := &l.reports[pi][ci]
	r.Reason, r.ReasonPath = d.Reason, d.Path
	if !d.Stale {
		r.Status = StatusSkipped
	}
}

func (l *RunLedger) setStatus(pi, ci int, s Status) {
	l.mu.Lock()
	l.reports[pi][ci].Status = s
	l.mu.Unlock()
}

// dispatch claims a worker slot. It refuses once the run has failed.
func (l *RunLedger) dispatch(pi, ci int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failed {
		return false
	}
	k := slot{pi, ci}
	l.dispatched[k] = struct{}{}
	l.outstanding[k] = struct{}{}
	l.inFlight++
	if l.inFlight > l.maxInFlight {
		l.maxInFlight = l.inFlight
	}
	l.reports[pi][ci].Started = time.Now()
	return true
}

// finish records the terminal state of a dispatched command. A non-nil err
// marks the run failed unless it is a cancellation.
func (l *RunLedger) finish(pi, ci int, s Status, exitCode, inputs, outputs int, stderr string, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := slot{pi, ci}
	delete(l.outstanding, k)
	l.inFlight--
	r := &l.reports[pi][ci]
	r.Status = s
	r.ExitCode = exitCode
	r.Finished = time.Now()
	r.Duration = r.Finished.Sub(r.Started)
	r.Inputs, r.Outputs = inputs, outputs
	r.Stderr = stderr
	if err != nil {
		r.Error = err.Error()
		if s != StatusCanceled {
			l.failLocked(err)
		}
	}
}

func (l *RunLedger) fail(err error) {
	l.mu.Lock()
	l.failLocked(err)
	l.mu.Unlock()
}

func (l *RunLedger) failLocked(err error) {
	if !l.failed {
		l.failed = true
		l.firstErr = err
	}
}

func (l *RunLedger) isFailed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.failed
}

func (l *RunLedger) err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.firstErr
}

func (l *RunLedger) warn(msg string) {
	l.mu.Lock()
	l.warnings = append(l.warnings, msg)
	l.mu.Unlock()
}

// Progress is a point-in-time view for progress output.
type Progress struct {
	RunID     string
	Phase     int
	Phases    int
	PhaseName string
	Done      int
	Total     int
	Running   int
	Failed    bool
}

func (l *RunLedger) progress() Progress {
	l.mu.Lock()
	defer l.mu.Unlock()
	p := Progress{RunID: l.id, Phase: l.phase, Phases: len(l.reports), Running: l.inFlight, Failed: l.failed}
	if l.phase < len(l.reports) {
		rs := l.reports[l.phase]
		p.Total = len(rs)
		if len(rs) > 0 {
			p.PhaseName = rs[0].PhaseName
		}
		for _, r := range rs {
			switch r.Status {
			case StatusSkipped, StatusSucceeded, StatusFailed, StatusCanceled:
				p.Done++
			}
		}
	}
	return p
}

func (l *RunLedger) report(dryRun bool) *Report {
	l.mu.Lock()
	defer l.mu.Unlock()
	r := &Report{
		RunID:       l.id,
		Success:     !l.failed,
		DryRun:      dryRun,
		Jobs:        l.jobs,
		Started:     l.started,
		Finished:    time.Now(),
		Dispatched:  len(l.dispatched),
		MaxInFlight: l.maxInFlight,
		Warnings:    append([]string(nil), l.warnings...),
	}
	for _, rs := range l.reports {
		r.Commands = append(r.Commands, rs...)
	}
	if l.firstErr != nil {
		r.Error = l.firstErr.Error()
	}
	return r
}
