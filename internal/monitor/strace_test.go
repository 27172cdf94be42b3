package monitor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/ignore"
	"github.com/flarebyte/fabrik/internal/plan"
)

func TestAccessSetClassification(t *testing.T) {
	dir := t.TempDir()
	in := filepath.Join(dir, "in.c")
	both := filepath.Join(dir, "state")
	out := filepath.Join(dir, "out.o")
	tmp := filepath.Join(dir, "tmp")
	for _, p := range []string{in, both, out} {
		if err := os.WriteFile(p, []byte(p), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	a := newAccessSet(fingerprint.NewHasher(0), Filter{Exclude: []string{filepath.Join(dir, ".fabrik")}})
	for _, ev := range []event{
		{evExec, "/bin/sh"},
		{evRead, in},
		{evRead, both},
		{evWrite, both},
		{evWrite, out},
		{evWrite, tmp},
		{evRemove, tmp},
		{evRead, "/proc/self/status"},
		{evWrite, filepath.Join(dir, ".fabrik", "deps.json")},
	} {
		a.apply(ev)
	}
	acc := a.result()
	if len(acc.Outputs) != 2 || acc.Outputs[0].Path != out || acc.Outputs[1].Path != both {
		t.Fatalf("unexpected outputs: %+v", acc.Outputs)
	}
	for _, r := range acc.Inputs {
		if r.Path == both || r.Path == tmp {
			t.Fatalf("%s must not be an input", r.Path)
		}
	}
	found := false
	for _, r := range acc.Inputs {
		if r.Path == in && r.Role == fingerprint.RoleInput {
			found = true
		}
	}
	if !found {
		t.Fatalf("input missing: %+v", acc.Inputs)
	}
}

func TestFilterIgnorePatterns(t *testing.T) {
	root := t.TempDir()
	f := Filter{Ignore: ignore.New(root, []string{"*.log"}, false)}
	if f.Keep(filepath.Join(root, "build.log")) {
		t.Fatalf("ignored pattern kept")
	}
	if !f.Keep(filepath.Join(root, "a.c")) || !f.Keep("/usr/include/stdio.h") {
		t.Fatalf("regular paths dropped")
	}
	if f.Keep("relative/path") || f.Keep("/dev/null") {
		t.Fatalf("relative or device path kept")
	}
}

func requireStrace(t *testing.T) *Strace {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	s := &Strace{TraceDir: t.TempDir()}
	if err := s.Probe(context.Background()); err != nil {
		t.Skipf("strace unusable here: %v", err)
	}
	return s
}

func TestStraceSessionEndToEnd(t *testing.T) {
	s := requireStrace(t)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "src.txt"), []byte("hello\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cmd := plan.NewCommand([]string{"sh", "-c", "cat src.txt > out.txt && (mkdir -p sub && cd sub && cp ../out.txt copy.txt)"}, dir, 0)
	sess, err := s.Begin(cmd)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	argv := sess.Argv()
	c := exec.Command(argv[0], argv[1:]...)
	c.Dir = dir
	if out, err := c.CombinedOutput(); err != nil {
		sess.Abort()
		t.Fatalf("run: %v\n%s", err, out)
	}
	acc, err := sess.Finish(0)
	if err != nil {
		t.Fatalf("finish: %v", err)
	}
	outs := map[string]bool{}
	for _, r := range acc.Outputs {
		outs[r.Path] = true
	}
	if !outs[filepath.Join(dir, "out.txt")] || !outs[filepath.Join(dir, "sub", "copy.txt")] {
		t.Fatalf("outputs missing: %+v", acc.Outputs)
	}
	ins := map[string]bool{}
	for _, r := range acc.Inputs {
		ins[r.Path] = true
	}
	if !ins[filepath.Join(dir, "src.txt")] {
		t.Fatalf("input missing: %+v", acc.Inputs)
	}
	if ins[filepath.Join(dir, "out.txt")] {
		t.Fatalf("read-after-write file reported as input")
	}
}

func TestFinishWithoutExecIsMonitoringError(t *testing.T) {
	s := &Strace{TraceDir: t.TempDir()}
	sess, err := s.Begin(plan.NewCommand([]string{"true"}, t.TempDir(), 0))
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	_, err = sess.Finish(0)
	var me *MonitoringError
	if !errors.As(err, &me) || me.ExitCode() != 3 {
		t.Fatalf("expected MonitoringError, got %v", err)
	}
}
