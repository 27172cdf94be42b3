package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/flarebyte/fabrik/internal/monitor"
	"github.com/flarebyte/fabrik/internal/plan"
	"github.com/flarebyte/fabrik/internal/testutil"
)

func requirePOSIXShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func shCommand(dir, script string) plan.Command {
	return plan.NewCommand([]string{"sh", "-c", script}, dir, 0)
}

func TestRunSuccessCollectsAccesses(t *testing.T) {
	requirePOSIXShell(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "in.txt"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	var streamed bytes.Buffer
	r := &Runner{
		Monitor: &testutil.DeclaredMonitor{},
		Output:  NewLineSink(&streamed),
	}
	cmd := plan.NewCommand(testutil.Declare([]string{"in.txt"}, []string{"out.txt"}, "cp in.txt out.txt && echo copied"), dir, 0)
	res, err := r.Run(context.Background(), cmd)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.ExitCode != 0 || strings.TrimSpace(res.Stdout) != "copied" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if streamed.String() != "copied\n" {
		t.Fatalf("stream mismatch: %q", streamed.String())
	}
	if len(res.Accesses.Inputs) != 1 || len(res.Accesses.Outputs) != 1 {
		t.Fatalf("unexpected accesses: %+v", res.Accesses)
	}
}

func TestRunFailureCarriesOutput(t *testing.T) {
	requirePOSIXShell(t)
	r := &Runner{Monitor: &testutil.DeclaredMonitor{}}
	res, err := r.Run(context.Background(), shCommand(t.TempDir(), "echo out; echo boom >&2; exit 7"))
	var cf *CommandFailure
	if !errors.As(err, &cf) {
		t.Fatalf("expected CommandFailure, got %v", err)
	}
	if cf.ExitCode != 7 || res.ExitCode != 7 {
		t.Fatalf("exit code: %d", cf.ExitCode)
	}
	if strings.TrimSpace(cf.Stdout) != "out" || strings.TrimSpace(cf.Stderr) != "boom" {
		t.Fatalf("captured output: %q %q", cf.Stdout, cf.Stderr)
	}
	if !strings.Contains(cf.Error(), "boom") {
		t.Fatalf("error text should carry last stderr line: %s", cf.Error())
	}
	if len(res.Accesses.Outputs) != 0 {
		t.Fatalf("failed command must not report accesses")
	}
}

func TestRunMissingDirIsCommandFailure(t *testing.T) {
	requirePOSIXShell(t)
	r := &Runner{Monitor: &testutil.DeclaredMonitor{}}
	dir := filepath.Join(t.TempDir(), "build")
	_, err := r.Run(context.Background(), shCommand(dir, "true"))
	var cf *CommandFailure
	if !errors.As(err, &cf) {
		t.Fatalf("expected CommandFailure, got %v", err)
	}
	if !strings.Contains(cf.Error(), "working directory does not exist") {
		t.Fatalf("unexpected error: %v", cf)
	}

	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Run(context.Background(), shCommand(dir, "true")); err != nil {
		t.Fatalf("run after mkdir: %v", err)
	}
}

func TestRunCancelKillsProcessTree(t *testing.T) {
	requirePOSIXShell(t)
	dir := t.TempDir()
	marker := filepath.Join(dir, "late")
	r := &Runner{Monitor: &testutil.DeclaredMonitor{}, TermGrace: 200 * time.Millisecond}
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(200*time.Millisecond, cancel)
	start := time.Now()
	_, err := r.Run(ctx, shCommand(dir, "(sleep 2; touch late) & sleep 5"))
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("expected ErrCanceled, got %v", err)
	}
	if time.Since(start) > 3*time.Second {
		t.Fatalf("cancel took too long")
	}
	time.Sleep(2500 * time.Millisecond)
	if _, err := os.Stat(marker); err == nil {
		t.Fatalf("background child survived cancellation")
	}
}

type failingMonitor struct{}

func (failingMonitor) Name() string                { return "failing" }
func (failingMonitor) Probe(context.Context) error { return nil }

func (failingMonitor) Begin(plan.Command) (monitor.Session, error) {
	return nil, &monitor.MonitoringError{Op: "begin", Msg: "no tracer"}
}

func TestRunMonitoringError(t *testing.T) {
	r := &Runner{Monitor: failingMonitor{}}
	_, err := r.Run(context.Background(), shCommand(t.TempDir(), "true"))
	var me *monitor.MonitoringError
	if !errors.As(err, &me) {
		t.Fatalf("expected MonitoringError, got %v", err)
	}
}

func TestLimitedBuffer(t *testing.T) {
	b := &limitedBuffer{max: 4}
	_, _ = b.Write([]byte("ab"))
	_, _ = b.Write([]byte("cdef"))
	if b.String() != "abcd" || !b.truncated {
		t.Fatalf("got %q truncated=%v", b.String(), b.truncated)
	}
}

func TestLineSinkKeepsLinesWhole(t *testing.T) {
	var out bytes.Buffer
	sink := NewLineSink(&out)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(tag string) {
			defer wg.Done()
			w := sink.Writer()
			for j := 0; j < 50; j++ {
				_, _ = w.Write([]byte(tag))
				_, _ = w.Write([]byte(tag + "\n"))
			}
			_, _ = w.Write([]byte("tail-" + tag))
			w.Flush()
		}(string(rune('a' + i)))
	}
	wg.Wait()
	for _, line := range strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n") {
		if len(line) == 2 && line[0] == line[1] {
			continue
		}
		if strings.HasPrefix(line, "tail-") {
			continue
		}
		t.Fatalf("interleaved line %q", line)
	}
}
