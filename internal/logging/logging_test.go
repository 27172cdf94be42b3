package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/flarebyte/fabrik/internal/plan"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]logrus.Level{"": logrus.InfoLevel, "DEBUG": logrus.DebugLevel, "warn": logrus.WarnLevel, "error": logrus.ErrorLevel}
	for in, want := range cases {
		got, err := ParseLevel(in)
		if err != nil || got != want {
			t.Fatalf("ParseLevel(%q)=%v,%v", in, got, err)
		}
	}
	if _, err := ParseLevel("loud"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestForCommandFields(t *testing.T) {
	var buf bytes.Buffer
	l, err := New("info", &buf)
	if err != nil {
		t.Fatal(err)
	}
	cmd := plan.NewCommand([]string{"cc", "a.c"}, "/src", 0)
	ForCommand(l, "1/2 compile", cmd).Info("hello")
	out := buf.String()
	for _, want := range []string{"phase=\"1/2 compile\"", "sig=" + cmd.Signature().Short(), "msg=hello"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestPhaseLabel(t *testing.T) {
	if got := PhaseLabel(0, 2, "1"); got != "1/2" {
		t.Fatalf("got %q", got)
	}
	if got := PhaseLabel(1, 2, "link"); got != "2/2 link" {
		t.Fatalf("got %q", got)
	}
}
