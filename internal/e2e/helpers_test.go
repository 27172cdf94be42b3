package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/shlex"

	"github.com/flarebyte/fabrik/internal/monitor"
	"github.com/flarebyte/fabrik/internal/scheduler"
	"github.com/flarebyte/fabrik/internal/testutil"
)

type runResult struct {
	code   int
	stdout []byte
	stderr []byte
}

var (
	buildOnce sync.Once
	binPath   string
	buildErr  error
	buildOut  []byte
)

// buildFabrik compiles the CLI once per test binary.
func buildFabrik(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("e2e tests build the binary")
	}
	if _, err := exec.LookPath("go"); err != nil {
		t.Skip("go toolchain not on PATH")
	}
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "fabrik-e2e-bin-")
		if err != nil {
			buildErr = err
			return
		}
		binPath = filepath.Join(dir, "fabrik")
		if runtime.GOOS == "windows" {
			binPath += ".exe"
		}
		cmd := exec.Command("go", "build", "-o", binPath, "./cmd/fabrik")
		cmd.Dir = filepath.Join("..", "..")
		buildOut, buildErr = cmd.CombinedOutput()
	})
	if buildErr != nil {
		t.Fatalf("build failed: %v\n%s", buildErr, string(buildOut))
	}
	return binPath
}

// requireStrace skips unless processes can be traced here.
func requireStrace(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := (&monitor.Strace{}).Probe(ctx); err != nil {
		t.Skipf("strace unavailable: %v", err)
	}
}

func runCmd(t *testing.T, bin string, args ...string) runResult {
	t.Helper()
	cmd := exec.Command(bin, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	code := 0
	if err != nil {
		if ee, ok := err.(*exec.ExitError); ok {
			code = ee.ExitCode()
		} else {
			code = -1
		}
	}
	return runResult{code: code, stdout: stdout.Bytes(), stderr: stderr.Bytes()}
}

// build runs `fabrik build` with a JSON report and decodes it.
func build(t *testing.T, bin, planFile string, extra ...string) (runResult, scheduler.Report) {
	t.Helper()
	args := append([]string{"build", "--plan", planFile, "--format", "json", "--log-level", "warn"}, extra...)
	r := runCmd(t, bin, args...)
	var rep scheduler.Report
	if len(bytes.TrimSpace(r.stdout)) > 0 {
		if err := json.Unmarshal(r.stdout, &rep); err != nil {
			t.Fatalf("invalid report: %v\n%s", err, r.stdout)
		}
	}
	return r, rep
}

// statuses maps each command line, words joined by single spaces, to its
// status.
func statuses(t *testing.T, rep scheduler.Report) map[string]scheduler.Status {
	t.Helper()
	out := map[string]scheduler.Status{}
	for _, c := range rep.Commands {
		words, err := shlex.Split(c.Command)
		if err != nil {
			t.Fatalf("unparsable command %q: %v", c.Command, err)
		}
		out[strings.Join(words, " ")] = c.Status
	}
	return out
}

// newProject copies testdata/cpp: three sources sharing one header. The
// "compiler" never mentions the header on its command line; only tracing
// finds it.
func newProject(t *testing.T) (root, planFile string) {
	t.Helper()
	root = t.TempDir()
	if err := testutil.CopyTree(filepath.Join("testdata", "cpp"), root); err != nil {
		t.Fatalf("copy fixture: %v", err)
	}
	return root, filepath.Join(root, "fabfile.lua")
}
