// Package jsonlib implements the json capability: encode and decode between script values
// and JSON text.
package jsonlib

import (
	"github.com/atlanticdynamic/nitr/internal/script/bindings"
	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	lua "github.com/yuin/gopher-lua"
)

// Loader builds the json module table.
func Loader(L *lua.LState) lua.LValue {
	return bindings.NewModule(L, map[string]bindings.Func{
		"encode": encode,
		"decode": decode,
	})
}

func encode(L *lua.LState, base int) int {
	data, err := bridge.EncodeJSON(bridge.FromLua(L.Get(base)))
	if err != nil {
		bindings.RaiseErr(L, err)
		return 0
	}
	L.Push(lua.LString(data))
	return 1
}

func decode(L *lua.LState, base int) int {
	s, ok := L.Get(base).(lua.LString)
	if !ok {
		bindings.RaiseMarshal(L, "json.decode expects a string, got %s", bridge.TypeName(L.Get(base)))
		return 0
	}
	v, err := bridge.DecodeJSON([]byte(s))
	if err != nil {
		bindings.RaiseErr(L, err)
		return 0
	}
	L.Push(bridge.ToLua(L, v))
	return 1
}
