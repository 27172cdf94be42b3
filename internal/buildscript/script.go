// Package buildscript evaluates Lua build scripts into plans.
//
// A script calls run to queue commands and after to start a new phase.
// Commands run concurrently within a phase. Scripts may group work into
// named targets:
//
//	local cflags = {"-O2", "-Wall"}
//	mkdir("obj")
//	target("build", function()
//	  for _, src in ipairs(glob("src/*.cpp")) do
//	    run("c++", "-c", src, "-o", join("obj", stem(src) .. ".o"), cflags)
//	  end
//	  after()
//	  run("c++", "-o", "app", objects)
//	end)
//
// Evaluation happens once, before anything runs, so glob only sees files
// that already exist. Derive object names from sources rather than
// globbing build products.
package buildscript

import (
	"context"
	"errors"
	"os"
	"sort"
	"strings"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/flarebyte/fabrik/internal/ignore"
	"github.com/flarebyte/fabrik/internal/plan"
)

// DefaultTarget runs when a script declares targets and none is requested.
const DefaultTarget = "build"

const defaultTimeout = 10 * time.Second

// Options configure evaluation.
type Options struct {
	// Root is the project root; relative paths resolve against it.
	Root string
	// Target names the target to build.
	Target string
	// Glob answers glob() calls. Nil globs without ignore rules.
	Glob *ignore.Matcher
	// Timeout bounds script evaluation. Zero means ten seconds.
	Timeout time.Duration
}

// Eval runs the script at path and returns the plan it describes.
func Eval(path string, opts Options) (plan.Plan, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return plan.Plan{}, plan.Errorf("failed to read build script: %v", err)
	}
	return EvalString(string(src), path, opts)
}

// EvalString evaluates script source; name labels error messages.
func EvalString(src, name string, opts Options) (plan.Plan, error) {
	if opts.Glob == nil {
		opts.Glob = ignore.New(opts.Root, nil, false)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	L := newSandboxLuaState()
	defer L.Close()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	L.SetContext(ctx)

	e := &env{root: opts.Root, b: plan.NewBuilder(opts.Root), glob: opts.Glob}
	e.install(L)

	fn, err := L.Load(strings.NewReader(src), name)
	if err != nil {
		return plan.Plan{}, plan.Errorf("build script: %v", err)
	}
	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		return plan.Plan{}, scriptError(err)
	}

	if err := e.runTarget(L, opts.Target); err != nil {
		return plan.Plan{}, err
	}
	return e.b.Build(), nil
}

func (e *env) runTarget(L *lua.LState, name string) error {
	if len(e.targets) == 0 {
		if name != "" {
			return plan.Errorf("target %q requested but the script declares no targets", name)
		}
		return nil
	}
	if name == "" {
		name = DefaultTarget
	}
	fn, ok := e.targets[name]
	if !ok {
		names := make([]string, 0, len(e.targets))
		for n := range e.targets {
			names = append(names, n)
		}
		sort.Strings(names)
		return plan.Errorf("unknown target %q (available: %s)", name, strings.Join(names, ", "))
	}
	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		return scriptError(err)
	}
	return nil
}

func scriptError(err error) error {
	msg := err.Error()
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	if errors.Is(err, context.DeadlineExceeded) || strings.Contains(strings.ToLower(msg), "deadline") {
		return plan.Errorf("build script timed out")
	}
	return plan.Errorf("build script: %s", msg)
}
