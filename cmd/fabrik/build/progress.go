package build

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flarebyte/fabrik/internal/scheduler"
)

const defaultProgressInterval = 500 * time.Millisecond

type progressSource func() (scheduler.Progress, bool)

type progressReporter struct {
	enabled  bool
	interval time.Duration
	w        io.Writer
	source   progressSource

	mu   sync.Mutex
	last string
}

func newProgressReporter(enabled bool, interval time.Duration, w io.Writer, src progressSource) *progressReporter {
	if !enabled || src == nil {
		return &progressReporter{enabled: false}
	}
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	return &progressReporter{enabled: true, interval: interval, w: w, source: src}
}

// start emits a line on every tick until the returned stop is called.
// Unchanged snapshots are not repeated.
func (p *progressReporter) start() (stop func()) {
	if p == nil || !p.enabled {
		return func() {}
	}
	ticker := time.NewTicker(p.interval)
	done := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for {
			select {
			case <-ticker.C:
				p.emit()
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
		<-finished
	}
}

func (p *progressReporter) emit() {
	if p == nil || !p.enabled || p.w == nil {
		return
	}
	snap, ok := p.source()
	if !ok {
		return
	}
	line := formatProgress(snap)
	p.mu.Lock()
	defer p.mu.Unlock()
	if line == p.last {
		return
	}
	p.last = line
	_, _ = io.WriteString(p.w, line)
}

func formatProgress(s scheduler.Progress) string {
	name := s.PhaseName
	if name == "" {
		name = "-"
	}
	return fmt.Sprintf("progress phase=%d/%d name=%s done=%d/%d running=%d\n",
		s.Phase+1, s.Phases, name, s.Done, s.Total, s.Running)
}
