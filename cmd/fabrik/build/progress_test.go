package build

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flarebyte/fabrik/internal/scheduler"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestFormatProgress(t *testing.T) {
	got := formatProgress(scheduler.Progress{Phase: 1, Phases: 2, PhaseName: "link", Done: 0, Total: 1, Running: 1})
	if got != "progress phase=2/2 name=link done=0/1 running=1\n" {
		t.Fatalf("unexpected line %q", got)
	}
}

func TestProgressReporterDeduplicates(t *testing.T) {
	var out syncBuffer
	snap := scheduler.Progress{Phases: 1, PhaseName: "compile", Total: 2, Running: 2}
	p := newProgressReporter(true, 5*time.Millisecond, &out, func() (scheduler.Progress, bool) { return snap, true })
	stop := p.start()
	time.Sleep(60 * time.Millisecond)
	stop()
	if n := strings.Count(out.String(), "progress "); n != 1 {
		t.Fatalf("expected one line, got %d:\n%s", n, out.String())
	}
}

func TestProgressReporterDisabled(t *testing.T) {
	var out syncBuffer
	p := newProgressReporter(false, time.Millisecond, &out, func() (scheduler.Progress, bool) { return scheduler.Progress{}, true })
	p.start()()
	p.emit()
	if out.String() != "" {
		t.Fatalf("disabled reporter wrote %q", out.String())
	}
}
