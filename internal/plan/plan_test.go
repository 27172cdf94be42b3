package plan

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/shlex"
)

func TestSignatureStableAndSensitive(t *testing.T) {
	a := NewCommand([]string{"cc", "-c", "a.c"}, "/src", 0)
	b := NewCommand([]string{"cc", "-c", "a.c"}, "/src", 3)
	if a.Signature() != b.Signature() {
		t.Fatalf("phase must not affect signature")
	}
	if c := NewCommand([]string{"cc", "-O2", "-c", "a.c"}, "/src", 0); c.Signature() == a.Signature() {
		t.Fatalf("argv change must change signature")
	}
	if c := NewCommand([]string{"cc", "-c", "a.c"}, "/other", 0); c.Signature() == a.Signature() {
		t.Fatalf("dir change must change signature")
	}
	x := NewCommand([]string{"echo", "a b"}, "/src", 0)
	y := NewCommand([]string{"echo", "a", "b"}, "/src", 0)
	if x.Signature() == y.Signature() {
		t.Fatalf("argument boundaries must be part of the signature")
	}
}

func TestCommandIsImmutable(t *testing.T) {
	argv := []string{"cc", "a.c"}
	c := NewCommand(argv, "/src", 0)
	argv[1] = "b.c"
	got := c.Argv()
	got[0] = "gcc"
	if c.Argv()[0] != "cc" || c.Argv()[1] != "a.c" {
		t.Fatalf("command mutated through aliasing: %v", c.Argv())
	}
}

func TestCommandString(t *testing.T) {
	c := NewCommand([]string{"echo", "hello world", "it's"}, "/", 0)
	back, err := shlex.Split(c.String())
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(back) != 3 || back[1] != "hello world" || back[2] != "it's" {
		t.Fatalf("quoting did not round-trip: %q -> %q", c.String(), back)
	}
}

func TestBuilderPhases(t *testing.T) {
	root := t.TempDir()
	b := NewBuilder(root)
	b.Barrier("compile")
	b.Add([]string{"cc", "a.c"}, "")
	b.Add([]string{"cc", "b.c"}, "sub")
	b.Barrier("")
	b.Barrier("link")
	b.Add([]string{"ld", "a.o", "b.o"}, "")
	p := b.Build()
	if len(p.Phases) != 2 {
		t.Fatalf("expected 2 phases, got %d", len(p.Phases))
	}
	if p.Phases[0].Name != "compile" || p.Phases[1].Name != "link" {
		t.Fatalf("unexpected names: %q %q", p.Phases[0].Name, p.Phases[1].Name)
	}
	if got := p.Phases[0].Commands[1].Dir(); got != filepath.Join(root, "sub") {
		t.Fatalf("relative dir not resolved: %s", got)
	}
	if p.Phases[1].Commands[0].Phase() != 1 {
		t.Fatalf("phase tag not assigned")
	}
	if p.CommandCount() != 3 {
		t.Fatalf("expected 3 commands")
	}
}

func TestValidate(t *testing.T) {
	root := t.TempDir()
	ok := NewBuilder(root)
	ok.Add([]string{"true"}, "")
	if err := Validate(ok.Build()); err != nil {
		t.Fatalf("valid plan rejected: %v", err)
	}

	cases := map[string]func(*Builder){
		"empty argv": func(b *Builder) { b.Add(nil, "") },
		"duplicate": func(b *Builder) {
			b.Add([]string{"true"}, "")
			b.Add([]string{"true"}, "")
		},
	}
	for name, build := range cases {
		b := NewBuilder(root)
		build(b)
		err := Validate(b.Build())
		var ce *ConfigurationError
		if !errors.As(err, &ce) {
			t.Fatalf("%s: expected ConfigurationError, got %v", name, err)
		}
		if ce.ExitCode() != 2 {
			t.Fatalf("%s: exit code %d", name, ce.ExitCode())
		}
	}

	// The same command in two different phases is fine.
	b := NewBuilder(root)
	b.Add([]string{"true"}, "")
	b.Barrier("")
	b.Add([]string{"true"}, "")
	if err := Validate(b.Build()); err != nil {
		t.Fatalf("cross-phase duplicate rejected: %v", err)
	}

	// An earlier phase may create a later command's directory.
	b = NewBuilder(root)
	b.Add([]string{"mkdir", "-p", "build"}, "")
	b.Barrier("")
	b.Add([]string{"true"}, "build")
	if err := Validate(b.Build()); err != nil {
		t.Fatalf("directory created by an earlier phase rejected: %v", err)
	}

	rel := Plan{Root: root, Phases: []Phase{{Commands: []Command{NewCommand([]string{"true"}, "rel", 0)}}}}
	var ce *ConfigurationError
	if !errors.As(Validate(rel), &ce) {
		t.Fatalf("relative working directory accepted")
	}

	if err := Validate(Plan{Root: "rel"}); err == nil {
		t.Fatalf("relative root accepted")
	}
}
