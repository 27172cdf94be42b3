package diagnose

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flarebyte/fabrik/internal/engine"
)

const plan = `configVersion: "1"
phases:
  - name: compile
    commands:
      - run: cc -c a.c -o a.o
      - run: cc -c b.c -o b.o
  - commands:
      - run: cc -o app a.o b.o
`

func TestRunExplainsEveryCommand(t *testing.T) {
	dir := t.TempDir()
	planFile := filepath.Join(dir, "fabrik.yaml")
	if err := os.WriteFile(planFile, []byte(plan), 0o644); err != nil {
		t.Fatal(err)
	}
	out := filepath.Join(dir, "dump", "diagnose.json")

	var buf bytes.Buffer
	if err := Run(engine.Settings{PlanPath: planFile, LogLevel: "error"}, Options{Out: out}, &buf); err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d:\n%s", len(lines), buf.String())
	}
	var first engine.Explanation
	if err := json.Unmarshal([]byte(lines[0]), &first); err != nil {
		t.Fatalf("line 1: %v", err)
	}
	if !first.Stale || first.Reason != "new-command" || first.Phase != 1 || first.PhaseName != "compile" {
		t.Fatalf("unexpected explanation: %+v", first)
	}

	b, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("dump not written: %v", err)
	}
	var all []engine.Explanation
	if err := json.Unmarshal(b, &all); err != nil || len(all) != 3 {
		t.Fatalf("dump: %v (%d items)", err, len(all))
	}
}

func TestRunRecordsOnEmptyStore(t *testing.T) {
	dir := t.TempDir()
	planFile := filepath.Join(dir, "fabrik.yaml")
	if err := os.WriteFile(planFile, []byte(plan), 0o644); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Run(engine.Settings{PlanPath: planFile, LogLevel: "error"}, Options{Records: true}, &buf); err != nil {
		t.Fatalf("diagnose: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected no records, got %q", buf.String())
	}
}
