package buildscript

import (
	lua "github.com/yuin/gopher-lua"
)

// newSandboxLuaState opens only the libraries a build script needs. The io
// and os libraries stay closed; filesystem access goes through the
// functions this package installs.
func newSandboxLuaState() *lua.LState {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:        true,
		RegistrySize:        1024,
		RegistryMaxSize:     1024 * 64,
		RegistryGrowStep:    64,
		IncludeGoStackTrace: false,
	})
	openLib := func(name string, f lua.LGFunction) {
		L.Push(L.NewFunction(f))
		L.Push(lua.LString(name))
		L.Call(1, 0)
	}
	openLib("base", lua.OpenBase)
	openLib("string", lua.OpenString)
	openLib("table", lua.OpenTable)
	openLib("math", lua.OpenMath)
	for _, name := range []string{"dofile", "loadfile", "require", "module"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}
