package buildscript

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/flarebyte/fabrik/internal/ignore"
	"github.com/flarebyte/fabrik/internal/plan"
)

func writeTree(t *testing.T, root string, files ...string) {
	t.Helper()
	for _, f := range files {
		p := filepath.Join(root, filepath.FromSlash(f))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(p, []byte(f), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

const compileScript = `
local cflags = {"-O2", "-Wall"}
jobs(2)

local function compile(dir, out)
  mkdir(out)
  local objs = {}
  for _, src in ipairs(glob(dir .. "/*.cpp")) do
    local obj = join(out, stem(src) .. ".o")
    run("c++", "-c", src, "-o", obj, cflags, nil)
    table.insert(objs, obj)
  end
  return objs
end

target("build", function()
  local objs = compile("src", "obj")
  after()
  run("c++", "-o", "app", objs, {"-L", "."})
end)

target("testing", function()
  table.insert(cflags, "-DUNIT_TESTING")
  local objs = compile("src", "tobj")
  phase("link")
  run("c++", "-o", "unittest", objs)
end)
`

func TestEvalDefaultTarget(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "src/a.cpp", "src/b.cpp", "README")
	p, err := EvalString(compileScript, "fabfile.lua", Options{Root: root})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if p.Jobs != 2 || len(p.Phases) != 2 {
		t.Fatalf("unexpected plan shape: jobs=%d phases=%d", p.Jobs, len(p.Phases))
	}
	got := p.Phases[0].Commands[0].Argv()
	want := []string{"c++", "-c", "src/a.cpp", "-o", "obj/a.o", "-O2", "-Wall"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("argv\n got %q\nwant %q", got, want)
	}
	link := p.Phases[1].Commands[0].Argv()
	if !reflect.DeepEqual(link, []string{"c++", "-o", "app", "obj/a.o", "obj/b.o", "-L", "."}) {
		t.Fatalf("link argv %q", link)
	}
	if p.Phases[0].Commands[0].Dir() != root {
		t.Fatalf("commands must run in the root")
	}
	if st, err := os.Stat(filepath.Join(root, "obj")); err != nil || !st.IsDir() {
		t.Fatalf("mkdir did not create obj")
	}
	if err := plan.Validate(p); err != nil {
		t.Fatalf("plan invalid: %v", err)
	}
}

func TestEvalNamedTarget(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "src/a.cpp")
	p, err := EvalString(compileScript, "fabfile.lua", Options{Root: root, Target: "testing"})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if p.Phases[1].Name != "link" {
		t.Fatalf("phase name %q", p.Phases[1].Name)
	}
	argv := p.Phases[0].Commands[0].Argv()
	if argv[len(argv)-1] != "-DUNIT_TESTING" {
		t.Fatalf("target-specific flag missing: %q", argv)
	}
}

func TestEvalUnknownTarget(t *testing.T) {
	_, err := EvalString(compileScript, "fabfile.lua", Options{Root: t.TempDir(), Target: "deploy"})
	var ce *plan.ConfigurationError
	if !errors.As(err, &ce) || !strings.Contains(ce.Error(), "available: build, testing") {
		t.Fatalf("expected unknown target error, got %v", err)
	}
}

func TestEvalWithoutTargets(t *testing.T) {
	root := t.TempDir()
	p, err := EvalString(`run("echo", 1, 2.5) after() run_in("sub", "ls")`, "s.lua", Options{Root: root})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if got := p.Phases[0].Commands[0].Argv(); !reflect.DeepEqual(got, []string{"echo", "1", "2.5"}) {
		t.Fatalf("number formatting: %q", got)
	}
	if p.Phases[1].Commands[0].Dir() != filepath.Join(root, "sub") {
		t.Fatalf("run_in dir not applied")
	}
	if _, err := EvalString(`run("true")`, "s.lua", Options{Root: root, Target: "x"}); err == nil {
		t.Fatalf("target without declared targets must fail")
	}
}

func TestEvalErrorsAreConfigurationErrors(t *testing.T) {
	root := t.TempDir()
	cases := map[string]string{
		"syntax":      `run(`,
		"empty run":   `run()`,
		"bad arg":     `run("x", true)`,
		"io disabled": `io.open("x")`,
		"dofile":      `dofile("x.lua")`,
		"runaway":     `while true do end`,
	}
	for name, src := range cases {
		_, err := EvalString(src, "s.lua", Options{Root: root, Timeout: 200_000_000})
		var ce *plan.ConfigurationError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: expected ConfigurationError, got %v", name, err)
		}
	}
}

func TestGlobRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, ".gitignore", "src/a.cpp", "gen/x.cpp")
	if err := os.WriteFile(filepath.Join(root, ".gitignore"), []byte("gen/\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := EvalString(`for _, f in ipairs(glob("*.cpp")) do run("cc", f) end`, "s.lua", Options{Root: root, Glob: ignore.New(root, nil, true)})
	if err != nil {
		t.Fatalf("eval: %v", err)
	}
	if n := p.CommandCount(); n != 1 {
		t.Fatalf("expected 1 command, got %d", n)
	}
}

func TestPathHelpers(t *testing.T) {
	src := `
local r, e = splitext("src/a.tar.gz")
assert(r == "src/a.tar" and e == ".gz", "splitext")
assert(basename("src/a.c") == "a.c", "basename")
assert(dirname("src/a.c") == "src", "dirname")
assert(stem("src/a.c") == "a", "stem")
assert(join("a", {"b", "c.o"}) == "a/b/c.o", "join")
assert(exists("present") and not exists("absent"), "exists")
`
	root := t.TempDir()
	writeTree(t, root, "present")
	if _, err := EvalString(src, "s.lua", Options{Root: root}); err != nil {
		t.Fatalf("helpers: %v", err)
	}
}
