package engine

import (
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

var stdlibOpeners = map[string]lua.LGFunction{
	LibTable:     lua.OpenTable,
	LibString:    lua.OpenString,
	LibMath:      lua.OpenMath,
	LibCoroutine: lua.OpenCoroutine,
	LibOS:        lua.OpenOs,
}

// IsStdlib reports whether name is a library accepted by WithStdlibs.
func IsStdlib(name string) bool {
	_, ok := stdlibOpeners[name]
	return ok
}

// osAllowed are the only os functions scripts can reach.
var osAllowed = []string{"time", "clock", "date"}

// blockedGlobals are removed from the base library.
var blockedGlobals = []string{"dofile", "loadfile"}

func openLib(L *lua.LState, name string, open lua.LGFunction) error {
	return L.CallByParam(lua.P{
		Fn:      L.NewFunction(open),
		NRet:    0,
		Protect: true,
	}, lua.LString(name))
}

func openSandbox(L *lua.LState, libs []string, print lua.LGFunction) error {
	if err := openLib(L, lua.BaseLibName, lua.OpenBase); err != nil {
		return fmt.Errorf("failed to open base library: %w", err)
	}
	for _, name := range blockedGlobals {
		L.SetGlobal(name, lua.LNil)
	}
	L.SetGlobal("print", L.NewFunction(print))

	for _, name := range libs {
		open, ok := stdlibOpeners[name]
		if !ok {
			return fmt.Errorf("unknown standard library %q", name)
		}
		if err := openLib(L, name, open); err != nil {
			return fmt.Errorf("failed to open %s library: %w", name, err)
		}
		if name == LibOS {
			restrictOS(L)
		}
	}
	return nil
}

func restrictOS(L *lua.LState) {
	full, ok := L.GetGlobal(lua.OsLibName).(*lua.LTable)
	if !ok {
		return
	}
	safe := L.NewTable()
	for _, fn := range osAllowed {
		L.SetField(safe, fn, L.GetField(full, fn))
	}
	L.SetGlobal(lua.OsLibName, safe)
	if loaded, ok := L.GetField(L.Get(lua.RegistryIndex), "_LOADED").(*lua.LTable); ok {
		L.SetField(loaded, lua.OsLibName, safe)
	}
}

func (e *Engine) printHandler() lua.LGFunction {
	return func(L *lua.LState) int {
		top := L.GetTop()
		parts := make([]string, 0, top)
		for i := 1; i <= top; i++ {
			parts = append(parts, L.ToStringMeta(L.Get(i)).String())
		}
		line := strings.Join(parts, "\t")
		if e.printWriter != nil {
			fmt.Fprintln(e.printWriter, line)
			return 0
		}
		e.logger.Info(line, "source", "print")
		return 0
	}
}
