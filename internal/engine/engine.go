// Package engine assembles the pieces of a build for the CLI commands:
// the plan, the dependency store, the access monitor, the runner and the
// scheduler.
package engine

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/flarebyte/fabrik/internal/config"
	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/ignore"
	"github.com/flarebyte/fabrik/internal/logging"
	"github.com/flarebyte/fabrik/internal/monitor"
	"github.com/flarebyte/fabrik/internal/oracle"
	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/runner"
	"github.com/flarebyte/fabrik/internal/scheduler"
	"github.com/flarebyte/fabrik/internal/store"
	"github.com/flarebyte/fabrik/internal/watch"
)

// Engine is one opened project.
type Engine struct {
	Settings Settings
	PlanFile string
	Root     string
	Plan     plan.Plan

	Log     logrus.FieldLogger
	Hasher  *fingerprint.Hasher
	Store   store.Store
	Monitor monitor.Monitor
	Sched   *scheduler.Scheduler

	output io.Writer
	probed bool
}

// Option customizes Open.
type Option func(*Engine)

// WithMonitor replaces the strace monitor.
func WithMonitor(m monitor.Monitor) Option { return func(e *Engine) { e.Monitor = m } }

// WithOutput sets where command output is streamed. Defaults to stderr.
func WithOutput(w io.Writer) Option { return func(e *Engine) { e.output = w } }

// WithLogger sets the logger instead of building one from Settings.
func WithLogger(l logrus.FieldLogger) Option { return func(e *Engine) { e.Log = l } }

// Open loads the plan and opens the store. The caller must Close.
func Open(s Settings, opts ...Option) (*Engine, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{Settings: s, output: os.Stderr}
	for _, o := range opts {
		o(e)
	}
	if e.Log == nil {
		l, err := logging.New(s.LogLevel, os.Stderr)
		if err != nil {
			return nil, err
		}
		e.Log = l
	}

	planFile := s.PlanPath
	if planFile == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if planFile, err = config.Discover(cwd); err != nil {
			return nil, err
		}
	}
	abs, err := filepath.Abs(planFile)
	if err != nil {
		return nil, plan.Errorf("plan path: %v", err)
	}
	e.PlanFile = abs
	e.Root = filepath.Dir(abs)
	if err := e.Reload(); err != nil {
		return nil, err
	}

	storePath := s.StorePath
	if storePath == "" {
		storePath = store.DefaultPath(e.Root, s.storeKind())
	} else if storePath, err = filepath.Abs(storePath); err != nil {
		return nil, plan.Errorf("store path: %v", err)
	}
	if e.Store, err = store.Open(s.storeKind(), storePath, e.Log); err != nil {
		return nil, err
	}

	e.Hasher = fingerprint.NewHasher(0)
	if e.Monitor == nil {
		e.Monitor = &monitor.Strace{
			Path:   s.Strace,
			Filter: e.filter(),
			Hasher: e.Hasher,
		}
	}
	e.Sched = &scheduler.Scheduler{
		Store: e.Store,
		Runner: &runner.Runner{
			Monitor:   e.Monitor,
			Output:    runner.NewLineSink(e.output),
			TermGrace: s.TermGrace,
			Log:       e.Log,
		},
		Hasher: e.Hasher,
		Log:    e.Log,
	}
	return e, nil
}

// Reload evaluates the plan file again.
func (e *Engine) Reload() error {
	p, err := config.Load(e.PlanFile, config.Options{Target: e.Settings.Target, NoGitignore: e.Settings.NoGitignore})
	if err != nil {
		return err
	}
	e.Plan = p
	return nil
}

func (e *Engine) stateDir() string { return filepath.Dir(e.Store.Path()) }

func (e *Engine) filter() monitor.Filter {
	return monitor.Filter{
		Exclude: []string{e.stateDir()},
		Ignore:  ignore.New(e.Root, e.Settings.Ignore, false),
	}
}

// Build runs the plan once. The monitor is probed before the first real
// build so a missing tracer fails fast.
func (e *Engine) Build(ctx context.Context) (*scheduler.Report, error) {
	if !e.Settings.DryRun && !e.probed {
		if err := e.Monitor.Probe(ctx); err != nil {
			return nil, err
		}
		e.probed = true
	}
	return e.Sched.Execute(ctx, e.Plan, scheduler.Options{
		Jobs:   e.Settings.Jobs,
		Force:  e.Settings.Force,
		DryRun: e.Settings.DryRun,
	})
}

// Explanation is the staleness verdict for one planned command.
type Explanation struct {
	Phase     int            `json:"phase"`
	PhaseName string         `json:"phaseName"`
	Command   string         `json:"command"`
	Dir       string         `json:"dir"`
	Signature plan.Signature `json:"signature"`
	Stale     bool           `json:"stale"`
	Reason    oracle.Reason  `json:"reason"`
	Path      string         `json:"path,omitempty"`
	Recorded  *RecordSummary `json:"recorded,omitempty"`
}

// RecordSummary describes the stored record behind an explanation.
type RecordSummary struct {
	Inputs  int `json:"inputs"`
	Outputs int `json:"outputs"`
}

// Explain evaluates every command of the plan without running anything.
func (e *Engine) Explain() []Explanation {
	orc := oracle.New(e.Store, e.Hasher, e.Settings.Force)
	var out []Explanation
	for pi, ph := range e.Plan.Phases {
		for _, cmd := range ph.Commands {
			d := orc.Check(cmd)
			x := Explanation{
				Phase:     pi + 1,
				PhaseName: ph.Name,
				Command:   cmd.String(),
				Dir:       cmd.Dir(),
				Signature: cmd.Signature(),
				Stale:     d.Stale,
				Reason:    d.Reason,
				Path:      d.Path,
			}
			if rec, ok := e.Store.Lookup(cmd.Signature()); ok {
				x.Recorded = &RecordSummary{Inputs: len(rec.Inputs), Outputs: len(rec.Outputs)}
			}
			out = append(out, x)
		}
	}
	return out
}

// Clean deletes every recorded output under the project root and forgets
// the records. Outputs outside the root are left alone. It returns the
// removed paths.
func (e *Engine) Clean(dryRun bool) ([]string, error) {
	var removed []string
	for _, rec := range e.Store.Records() {
		for _, out := range rec.Outputs {
			if !e.within(out.Path) {
				e.Log.WithField("path", out.Path).Warn("not removing output outside the project root")
				continue
			}
			if dryRun {
				removed = append(removed, out.Path)
				continue
			}
			err := os.Remove(out.Path)
			switch {
			case err == nil:
				removed = append(removed, out.Path)
			case errors.Is(err, fs.ErrNotExist):
			default:
				return removed, err
			}
		}
		if dryRun {
			continue
		}
		e.Hasher.Invalidate(paths(rec.Outputs)...)
		if err := e.Store.Forget(rec.Signature); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func (e *Engine) within(p string) bool {
	rel, err := filepath.Rel(e.Root, p)
	return err == nil && rel != "." && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// WatchSet lists what watch mode follows: every recorded input plus the
// plan file, and every recorded output.
func (e *Engine) WatchSet() watch.Set {
	set := watch.Set{Inputs: []string{e.PlanFile}}
	for _, rec := range e.Store.Records() {
		set.Inputs = append(set.Inputs, paths(rec.Inputs)...)
		set.Outputs = append(set.Outputs, paths(rec.Outputs)...)
	}
	return set
}

// InStateDir reports whether p lies in the store's directory.
func (e *Engine) InStateDir(p string) bool {
	d := e.stateDir()
	return p == d || strings.HasPrefix(p, d+string(filepath.Separator))
}

// Close releases the store.
func (e *Engine) Close() error {
	if e.Store == nil {
		return nil
	}
	return e.Store.Close()
}

func paths(rs []fingerprint.FileRecord) []string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.Path
	}
	return out
}
