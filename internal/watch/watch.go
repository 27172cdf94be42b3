// Package watch rebuilds when files a build depends on change.
package watch

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// DefaultDebounce collapses bursts of events, such as an editor saving
// through a temp file, into one rebuild.
const DefaultDebounce = 200 * time.Millisecond

// Set is what one build reports back: the files whose change should
// trigger the next build, and the files the build itself writes.
type Set struct {
	Inputs  []string
	Outputs []string
}

// BuildFunc runs one build. An error is logged and watching continues, so
// a broken plan can be fixed in place; the returned Set is still used.
type BuildFunc func(ctx context.Context) (Set, error)

// Watcher drives BuildFunc from filesystem events.
type Watcher struct {
	Debounce time.Duration
	// Ignore drops paths such as the state directory.
	Ignore func(path string) bool
	Log    logrus.FieldLogger
}

// Run builds once, then again after every relevant change, until ctx is
// done. It returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context, build BuildFunc) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer func() { _ = fw.Close() }()

	log := w.logger()
	watched := map[string]bool{}
	for {
		set, err := build(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("build failed; waiting for changes")
		}
		rel := newRelevance(set, w.Ignore)
		w.sync(fw, watched, rel.dirs(), log)
		log.WithField("dirs", len(watched)).Info("watching for changes")

		if err := w.wait(ctx, fw, rel, log); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
	}
}

// sync makes the watched directories match want.
func (w *Watcher) sync(fw *fsnotify.Watcher, watched map[string]bool, want []string, log logrus.FieldLogger) {
	keep := map[string]bool{}
	for _, d := range want {
		keep[d] = true
		if watched[d] {
			continue
		}
		if err := fw.Add(d); err != nil {
			log.WithError(err).WithField("dir", d).Debug("cannot watch directory")
			continue
		}
		watched[d] = true
	}
	for d := range watched {
		if !keep[d] {
			_ = fw.Remove(d)
			delete(watched, d)
		}
	}
}

// wait blocks until a relevant event has been followed by a quiet period.
func (w *Watcher) wait(ctx context.Context, fw *fsnotify.Watcher, rel relevance, log logrus.FieldLogger) error {
	var timer *time.Timer
	var fire <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return errors.New("watcher closed")
			}
			if !rel.matches(ev) {
				continue
			}
			log.WithFields(logrus.Fields{"path": ev.Name, "op": ev.Op.String()}).Debug("change detected")
			if timer == nil {
				timer = time.NewTimer(w.debounce())
			} else {
				timer.Reset(w.debounce())
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return errors.New("watcher closed")
			}
			log.WithError(err).Warn("watch error")
		case <-fire:
			return nil
		}
	}
}

func (w *Watcher) debounce() time.Duration {
	if w.Debounce > 0 {
		return w.Debounce
	}
	return DefaultDebounce
}

func (w *Watcher) logger() logrus.FieldLogger {
	if w.Log != nil {
		return w.Log
	}
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

// relevance decides which events should trigger a rebuild. Changes to
// known inputs always count. New files in a watched directory count too,
// since a glob may pick them up, unless the build wrote them.
type relevance struct {
	inputs  map[string]bool
	outputs map[string]bool
	ignore  func(string) bool
}

func newRelevance(s Set, ignore func(string) bool) relevance {
	r := relevance{inputs: map[string]bool{}, outputs: map[string]bool{}, ignore: ignore}
	for _, p := range s.Inputs {
		r.inputs[filepath.Clean(p)] = true
	}
	for _, p := range s.Outputs {
		r.outputs[filepath.Clean(p)] = true
	}
	return r
}

func (r relevance) dirs() []string {
	seen := map[string]bool{}
	for p := range r.inputs {
		if r.ignore != nil && r.ignore(p) {
			continue
		}
		seen[filepath.Dir(p)] = true
	}
	out := make([]string, 0, len(seen))
	for d := range seen {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

func (r relevance) matches(ev fsnotify.Event) bool {
	p := filepath.Clean(ev.Name)
	if r.outputs[p] || (r.ignore != nil && r.ignore(p)) {
		return false
	}
	if ev.Op == fsnotify.Chmod {
		return false
	}
	if r.inputs[p] {
		return true
	}
	return ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename) || ev.Has(fsnotify.Remove)
}
