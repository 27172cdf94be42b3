package buildscript

import (
	"os"
	"path/filepath"
	"strings"

	lua "github.com/yuin/gopher-lua"

	"github.com/flarebyte/fabrik/internal/ignore"
	"github.com/flarebyte/fabrik/internal/plan"
)

// env is the state a script manipulates through the installed functions.
type env struct {
	root    string
	b       *plan.Builder
	glob    *ignore.Matcher
	targets map[string]*lua.LFunction
}

func (e *env) install(L *lua.LState) {
	fns := map[string]lua.LGFunction{
		"run":      e.luaRun,
		"run_in":   e.luaRunIn,
		"after":    e.luaAfter,
		"phase":    e.luaPhase,
		"jobs":     e.luaJobs,
		"target":   e.luaTarget,
		"glob":     e.luaGlob,
		"mkdir":    e.luaMkdir,
		"exists":   e.luaExists,
		"basename": luaBasename,
		"dirname":  luaDirname,
		"stem":     luaStem,
		"splitext": luaSplitext,
		"join":     luaJoin,
	}
	for name, fn := range fns {
		L.SetGlobal(name, L.NewFunction(fn))
	}
}

func (e *env) luaRun(L *lua.LState) int {
	argv := flattenArgs(L, 1)
	if len(argv) == 0 {
		L.RaiseError("run: empty command")
	}
	e.b.Add(argv, "")
	return 0
}

func (e *env) luaRunIn(L *lua.LState) int {
	dir := L.CheckString(1)
	argv := flattenArgs(L, 2)
	if len(argv) == 0 {
		L.RaiseError("run_in: empty command")
	}
	e.b.Add(argv, filepath.FromSlash(dir))
	return 0
}

func (e *env) luaAfter(L *lua.LState) int {
	e.b.Barrier("")
	return 0
}

func (e *env) luaPhase(L *lua.LState) int {
	e.b.Barrier(L.CheckString(1))
	return 0
}

func (e *env) luaJobs(L *lua.LState) int {
	n := L.CheckInt(1)
	if n < 1 {
		L.ArgError(1, "jobs must be >= 1")
	}
	e.b.SetJobs(n)
	return 0
}

func (e *env) luaTarget(L *lua.LState) int {
	name := L.CheckString(1)
	fn := L.CheckFunction(2)
	if e.targets == nil {
		e.targets = map[string]*lua.LFunction{}
	}
	if _, dup := e.targets[name]; dup {
		L.RaiseError("target %q declared twice", name)
	}
	e.targets[name] = fn
	return 0
}

func (e *env) luaGlob(L *lua.LState) int {
	pattern := L.CheckString(1)
	matches, err := e.glob.Glob(pattern)
	if err != nil {
		L.RaiseError("glob %s: %v", pattern, err)
	}
	t := L.NewTable()
	for _, m := range matches {
		rel, err := filepath.Rel(e.root, m)
		if err != nil {
			rel = m
		}
		t.Append(lua.LString(filepath.ToSlash(rel)))
	}
	L.Push(t)
	return 1
}

func (e *env) abs(p string) string {
	p = filepath.FromSlash(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(e.root, p)
}

func (e *env) luaMkdir(L *lua.LState) int {
	if err := os.MkdirAll(e.abs(L.CheckString(1)), 0o755); err != nil {
		L.RaiseError("mkdir: %v", err)
	}
	return 0
}

func (e *env) luaExists(L *lua.LState) int {
	_, err := os.Stat(e.abs(L.CheckString(1)))
	L.Push(lua.LBool(err == nil))
	return 1
}

func luaBasename(L *lua.LState) int {
	L.Push(lua.LString(filepath.Base(L.CheckString(1))))
	return 1
}

func luaDirname(L *lua.LState) int {
	L.Push(lua.LString(filepath.ToSlash(filepath.Dir(L.CheckString(1)))))
	return 1
}

func luaStem(L *lua.LState) int {
	base := filepath.Base(L.CheckString(1))
	L.Push(lua.LString(strings.TrimSuffix(base, filepath.Ext(base))))
	return 1
}

func luaSplitext(L *lua.LState) int {
	p := L.CheckString(1)
	ext := filepath.Ext(p)
	L.Push(lua.LString(strings.TrimSuffix(p, ext)))
	L.Push(lua.LString(ext))
	return 2
}

func luaJoin(L *lua.LState) int {
	parts := flattenArgs(L, 1)
	L.Push(lua.LString(filepath.ToSlash(filepath.Join(parts...))))
	return 1
}

// flattenArgs collects arguments from position start on. Nested tables are
// spliced in order and nil values are dropped, so flag lists can be passed
// as they are.
func flattenArgs(L *lua.LState, start int) []string {
	var out []string
	var add func(v lua.LValue)
	add = func(v lua.LValue) {
		switch x := v.(type) {
		case *lua.LNilType:
		case lua.LString:
			out = append(out, string(x))
		case lua.LNumber:
			out = append(out, x.String())
		case *lua.LTable:
			for i := 1; i <= x.Len(); i++ {
				add(x.RawGetInt(i))
			}
		default:
			L.RaiseError("unsupported argument type %s", v.Type().String())
		}
	}
	for i := start; i <= L.GetTop(); i++ {
		add(L.Get(i))
	}
	return out
}
