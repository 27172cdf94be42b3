// Package scheduler runs a plan phase by phase with bounded parallelism,
// skipping commands whose recorded dependencies are unchanged.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/logging"
	"github.com/flarebyte/fabrik/internal/oracle"
	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/runner"
	"github.com/flarebyte/fabrik/internal/store"
)

// Options are per-invocation settings.
type Options struct {
	// Jobs caps concurrently running commands. Zero falls back to the
	// plan's value, then to the number of CPUs.
	Jobs int
	// Force bypasses the staleness check for this invocation.
	Force bool
	// DryRun evaluates staleness without running anything.
	DryRun bool
}

// Scheduler owns the store for the lifetime of an invocation.
type Scheduler struct {
	Store  store.Store
	Runner *runner.Runner
	Hasher *fingerprint.Hasher
	Log    logrus.FieldLogger

	current atomic.Pointer[RunLedger]
}

// Progress reports the state of the running invocation, if any.
func (s *Scheduler) Progress() (Progress, bool) {
	l := s.current.Load()
	if l == nil {
		return Progress{}, false
	}
	return l.progress(), true
}

// ResolveJobs applies the fallback order for the concurrency limit.
func ResolveJobs(requested int, p plan.Plan) int {
	switch {
	case requested > 0:
		return requested
	case p.Jobs > 0:
		return p.Jobs
	}
	if n := runtime.NumCPU(); n > 0 {
		return n
	}
	return 1
}

// Execute runs p. The report is returned whenever the plan was valid; err
// is the first failure: a *plan.ConfigurationError, a
// *monitor.MonitoringError, a *runner.CommandFailure, a store error, or
// runner.ErrCanceled after an interrupt.
func (s *Scheduler) Execute(ctx context.Context, p plan.Plan, opts Options) (*Report, error) {
	if err := plan.Validate(p); err != nil {
		return nil, err
	}
	jobs := ResolveJobs(opts.Jobs, p)
	ledger := newLedger(p, jobs)
	s.current.Store(ledger)
	defer s.current.Store(nil)

	log := s.logger().WithField("run", ledger.ID())
	orc := oracle.New(s.Store, s.hasher(), opts.Force)

	if opts.DryRun {
		s.dryRun(ledger, orc, p)
		return ledger.report(true), nil
	}

	canceled := false
	for pi, ph := range p.Phases {
		if ledger.isFailed() {
			break
		}
		if ctx.Err() != nil {
			canceled = true
			break
		}
		ledger.enterPhase(pi)
		label := logging.PhaseLabel(pi, len(p.Phases), ph.Name)
		s.runPhase(ctx, ledger, orc, pi, ph, jobs, label, log)
		if ctx.Err() != nil {
			canceled = true
		}
	}

	rep := ledger.report(false)
	switch {
	case ledger.err() != nil:
		return rep, ledger.err()
	case canceled:
		rep.Success = false
		rep.Error = runner.ErrCanceled.Error()
		return rep, runner.ErrCanceled
	}
	log.WithFields(logrus.Fields{"dispatched": rep.Dispatched, "commands": len(rep.Commands)}).Debug("build finished")
	return rep, nil
}

func (s *Scheduler) runPhase(ctx context.Context, ledger *RunLedger, orc *oracle.Oracle, pi int, ph plan.Phase, jobs int, label string, base logrus.FieldLogger) {
	log := base.WithField("phase", label)
	claims := newOutputClaims()
	var stale []int
	for ci, cmd := range ph.Commands {
		d := orc.Check(cmd)
		ledger.decide(pi, ci, d)
		if d.Stale {
			stale = append(stale, ci)
			continue
		}
		if rec, ok := s.Store.Lookup(cmd.Signature()); ok {
			claims.stored(cmd)
			if path, other, clash := claims.claim(cmd, recordPaths(rec.Outputs)); clash {
				ledger.fail(collision(pi, ci, path, cmd, other))
			}
		}
	}
	log.WithFields(logrus.Fields{"stale": len(stale), "skipped": len(ph.Commands) - len(stale)}).Info("phase start")

	sem := semaphore.NewWeighted(int64(jobs))
	var g errgroup.Group
	for _, ci := range stale {
		cmd := ph.Commands[ci]
		if err := sem.Acquire(ctx, 1); err != nil {
			ledger.setStatus(pi, ci, StatusCanceled)
			continue
		}
		if !ledger.dispatch(pi, ci) {
			sem.Release(1)
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			s.runOne(ctx, ledger, claims, pi, ci, cmd, logging.ForCommand(base, label, cmd))
			return nil
		})
	}
	_ = g.Wait()

	for _, w := range claims.crossReads(ph.Commands) {
		log.Warn(w)
		ledger.warn(w)
	}
}

func (s *Scheduler) runOne(ctx context.Context, ledger *RunLedger, claims *outputClaims, pi, ci int, cmd plan.Command, log logrus.FieldLogger) {
	log.Info("run")
	res, err := s.Runner.Run(ctx, cmd)
	switch {
	case errors.Is(err, runner.ErrCanceled):
		ledger.finish(pi, ci, StatusCanceled, res.ExitCode, 0, 0, "", err)
		log.Warn("canceled")
		return
	case err != nil:
		ledger.finish(pi, ci, StatusFailed, res.ExitCode, 0, 0, res.Stderr, err)
		log.WithError(err).Error("failed")
		return
	}

	acc := res.Accesses
	claims.recordInputs(cmd, recordPaths(acc.Inputs))
	if path, other, clash := claims.claim(cmd, acc.OutputPaths()); clash {
		cerr := collision(pi, ci, path, cmd, other)
		// Neither producer can be trusted to own the file now.
		if claims.poison(other) {
			s.forget(other, log)
		}
		ledger.finish(pi, ci, StatusFailed, res.ExitCode, len(acc.Inputs), len(acc.Outputs), "", cerr)
		log.WithError(cerr).Error("output collision")
		return
	}
	if !claims.beginCommit(cmd) {
		ledger.finish(pi, ci, StatusSucceeded, res.ExitCode, len(acc.Inputs), len(acc.Outputs), "", nil)
		log.Warn("not recorded: outputs collide with another command")
		return
	}
	err = s.Store.Commit(store.NewRecord(cmd, res.ExitCode, acc.Inputs, acc.Outputs))
	if claims.endCommit(cmd) && err == nil {
		s.forget(cmd, log)
	}
	if err != nil {
		ledger.finish(pi, ci, StatusFailed, res.ExitCode, len(acc.Inputs), len(acc.Outputs), "", err)
		log.WithError(err).Error("commit failed")
		return
	}
	ledger.finish(pi, ci, StatusSucceeded, res.ExitCode, len(acc.Inputs), len(acc.Outputs), "", nil)
	log.WithFields(logrus.Fields{"inputs": len(acc.Inputs), "outputs": len(acc.Outputs), "duration": res.Duration}).Debug("done")
}

func (s *Scheduler) dryRun(ledger *RunLedger, orc *oracle.Oracle, p plan.Plan) {
	blocked := false
	for pi, ph := range p.Phases {
		phaseStale := false
		for ci, cmd := range ph.Commands {
			d := orc.Check(cmd)
			ledger.decide(pi, ci, d)
			switch {
			case blocked:
				// Earlier phases would change files this phase may read.
				ledger.setStatus(pi, ci, StatusPending)
			case d.Stale:
				ledger.setStatus(pi, ci, StatusWouldRun)
				phaseStale = true
			}
		}
		blocked = blocked || phaseStale
	}
}

func (s *Scheduler) forget(cmd plan.Command, log logrus.FieldLogger) {
	if err := s.Store.Forget(cmd.Signature()); err != nil {
		log.WithError(err).WithField("forget", cmd.Signature().Short()).Error("forget failed")
	}
}

func collision(pi, ci int, path string, cmd, other plan.Command) *plan.ConfigurationError {
	return &plan.ConfigurationError{
		Phase: pi,
		Index: ci,
		Msg:   fmt.Sprintf("output %s is produced by both %q and %q", path, cmd.String(), other.String()),
	}
}

func recordPaths(rs []fingerprint.FileRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Path
	}
	return out
}

func (s *Scheduler) hasher() *fingerprint.Hasher {
	if s.Hasher == nil {
		s.Hasher = fingerprint.NewHasher(0)
	}
	return s.Hasher
}

func (s *Scheduler) logger() logrus.FieldLogger {
	if s.Log == nil {
		return logging.Discard()
	}
	return s.Log
}
