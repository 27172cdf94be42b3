package testutil

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/flarebyte/fabrik/internal/fingerprint"
	"github.com/flarebyte/fabrik/internal/monitor"
	"github.com/flarebyte/fabrik/internal/plan"
)

const declaredMarker = "fabrik-declared"

// Declare builds an sh argv whose file accesses are stated up front, so
// DeclaredMonitor can report them without tracing. Paths are relative to
// the command's directory.
func Declare(inputs, outputs []string, script string) []string {
	argv := []string{"sh", "-c", script, declaredMarker}
	for _, in := range inputs {
		argv = append(argv, "in:"+in)
	}
	for _, out := range outputs {
		argv = append(argv, "out:"+out)
	}
	return argv
}

// DeclaredMonitor reports the accesses encoded by Declare. It executes the
// command unchanged.
type DeclaredMonitor struct {
	Hasher *fingerprint.Hasher
}

func (m *DeclaredMonitor) Name() string { return "declared" }

func (m *DeclaredMonitor) Probe(context.Context) error { return nil }

func (m *DeclaredMonitor) Begin(cmd plan.Command) (monitor.Session, error) {
	h := m.Hasher
	if h == nil {
		h = fingerprint.NewHasher(0)
	}
	s := &declaredSession{argv: cmd.Argv(), hasher: h}
	inDecl := false
	for _, a := range s.argv {
		if a == declaredMarker {
			inDecl = true
			continue
		}
		if !inDecl {
			continue
		}
		switch {
		case strings.HasPrefix(a, "in:"):
			p := filepath.Join(cmd.Dir(), a[len("in:"):])
			if fp, err := h.Of(p); err == nil {
				s.inputs = append(s.inputs, fingerprint.FileRecord{Path: p, Role: fingerprint.RoleInput, Fingerprint: fp})
			}
		case strings.HasPrefix(a, "out:"):
			s.outputs = append(s.outputs, filepath.Join(cmd.Dir(), a[len("out:"):]))
		}
	}
	return s, nil
}

type declaredSession struct {
	argv    []string
	hasher  *fingerprint.Hasher
	inputs  []fingerprint.FileRecord
	outputs []string
}

func (s *declaredSession) Argv() []string { return s.argv }

func (s *declaredSession) Abort() {}

func (s *declaredSession) Finish(exitCode int) (monitor.Accesses, error) {
	acc := monitor.Accesses{Inputs: s.inputs}
	if exitCode != 0 {
		return monitor.Accesses{}, nil
	}
	for _, p := range s.outputs {
		s.hasher.Invalidate(p)
		fp, err := s.hasher.Of(p)
		if err != nil {
			continue
		}
		acc.Outputs = append(acc.Outputs, fingerprint.FileRecord{Path: p, Role: fingerprint.RoleOutput, Fingerprint: fp})
	}
	return acc, nil
}
