// Package config turns plan files into plans.
//
// Three forms are accepted: Lua build scripts (.lua), and declarative CUE
// (.cue) or YAML (.yaml, .yml) files. The directory holding the file is
// the project root.
package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/flarebyte/fabrik/internal/buildscript"
	"github.com/flarebyte/fabrik/internal/ignore"
	"github.com/flarebyte/fabrik/internal/plan"
)

// DefaultNames are looked up, in order, when no plan path is given.
var DefaultNames = []string{"fabfile.lua", "fabrik.cue", "fabrik.yaml", "fabrik.yml"}

// Discover returns the first default plan file found in dir.
func Discover(dir string) (string, error) {
	for _, n := range DefaultNames {
		p := filepath.Join(dir, n)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
	}
	return "", plan.Errorf("no plan file found in %s (looked for %v)", dir, DefaultNames)
}

// Options tune loading.
type Options struct {
	// Target selects a Lua build target. Empty selects the default.
	Target string
	// NoGitignore disables .gitignore filtering of glob results.
	NoGitignore bool
}

// Load reads the plan at path. Every failure is a *plan.ConfigurationError.
func Load(path string, opts Options) (plan.Plan, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return plan.Plan{}, plan.Errorf("plan path: %v", err)
	}
	root := filepath.Dir(abs)

	var f File
	switch filepath.Ext(abs) {
	case ".lua":
		p, err := buildscript.Eval(abs, buildscript.Options{
			Root:   root,
			Target: opts.Target,
			Glob:   ignore.New(root, nil, !opts.NoGitignore),
		})
		if err != nil {
			return plan.Plan{}, wrap(abs, err)
		}
		return p, nil
	case ".cue":
		f, err = ParseCUE(abs)
	case ".yaml", ".yml":
		f, err = ParseYAML(abs)
	default:
		return plan.Plan{}, plan.Errorf("unsupported plan format: %s (expected .lua, .cue or .yaml)", filepath.Ext(abs))
	}
	if err != nil {
		return plan.Plan{}, wrap(abs, err)
	}
	if opts.Target != "" {
		return plan.Plan{}, plan.Errorf("targets are only supported by .lua build scripts")
	}
	p, err := f.Plan(root)
	if err != nil {
		return plan.Plan{}, wrap(abs, err)
	}
	return p, nil
}

func wrap(path string, err error) error {
	var ce *plan.ConfigurationError
	if errors.As(err, &ce) {
		ce.Msg = filepath.Base(path) + ": " + ce.Msg
		return ce
	}
	return &plan.ConfigurationError{Phase: -1, Index: -1, Msg: filepath.Base(path), Err: err}
}
