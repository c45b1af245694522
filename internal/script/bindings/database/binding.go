package database

import (
	"database/sql"
	"sort"

	"github.com/atlanticdynamic/nitr/internal/script/bindings"
	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/engine"
	lua "github.com/yuin/gopher-lua"
)

type nullMarker struct{}

// Null returns the db.null sentinel, which binds SQL NULL at its position.
func Null(L *lua.LState) *lua.LUserData {
	ud := L.NewUserData()
	ud.Value = nullMarker{}
	mt := L.NewTable()
	L.SetField(mt, "__tostring", L.NewFunction(func(L *lua.LState) int {
		L.Push(lua.LString("db.null"))
		return 1
	}))
	L.SetMetatable(ud, mt)
	return ud
}

func isNull(lv lua.LValue) bool {
	ud, ok := lv.(*lua.LUserData)
	if !ok {
		return false
	}
	_, ok = ud.Value.(nullMarker)
	return ok
}

// Loader returns the capability loader for the db table bound to h.
func Loader(h *Handle) func(L *lua.LState) lua.LValue {
	return func(L *lua.LState) lua.LValue {
		query := func(L *lua.LState, base int) int {
			sqlText, args := statementArgs(L, base)
			rows, err := h.Query(engine.CallContext(L), sqlText, args...)
			if err != nil {
				bindings.RaiseErr(L, err)
				return 0
			}
			out := L.CreateTable(len(rows), 0)
			for _, row := range rows {
				out.Append(bridge.ToLua(L, bridge.TableOf(row)))
			}
			L.Push(out)
			return 1
		}
		queryOne := func(L *lua.LState, base int) int {
			sqlText, args := statementArgs(L, base)
			row, err := h.QueryOne(engine.CallContext(L), sqlText, args...)
			if err != nil {
				bindings.RaiseErr(L, err)
				return 0
			}
			L.Push(bridge.ToLua(L, bridge.TableOf(row)))
			return 1
		}
		queryRow := func(L *lua.LState, base int) int {
			sqlText, args := statementArgs(L, base)
			row, err := h.QueryRow(engine.CallContext(L), sqlText, args...)
			if err != nil {
				bindings.RaiseErr(L, err)
				return 0
			}
			L.Push(bridge.ToLua(L, bridge.TableOf(row)))
			return 1
		}
		execute := func(L *lua.LState, base int) int {
			sqlText, args := statementArgs(L, base)
			n, err := h.Execute(engine.CallContext(L), sqlText, args...)
			if err != nil {
				bindings.RaiseErr(L, err)
				return 0
			}
			L.Push(lua.LNumber(n))
			return 1
		}

		mod := bindings.NewModule(L, map[string]bindings.Func{
			"execute":   execute,
			"query":     query,
			"queryOne":  queryOne,
			"query_one": queryOne,
			"queryRow":  queryRow,
			"query_row": queryRow,
		})
		L.SetField(mod, "null", Null(L))
		return mod
	}
}

func statementArgs(L *lua.LState, base int) (string, []any) {
	sqlText, ok := L.Get(base).(lua.LString)
	if !ok {
		bindings.RaiseDatabase(L, "SQL statement must be a string, got %s", bridge.TypeName(L.Get(base)))
		return "", nil
	}
	switch p := L.Get(base + 1).(type) {
	case *lua.LNilType:
		return string(sqlText), nil
	case *lua.LTable:
		return string(sqlText), Params(p)
	default:
		bindings.RaiseDatabase(L, "SQL parameters must be a table, got %s", bridge.TypeName(p))
		return "", nil
	}
}

// Params converts a parameter table. Sequence entries bind positionally in order; string
// keys bind as named parameters. Values that cannot be bound are skipped.
func Params(t *lua.LTable) []any {
	type indexed struct {
		pos lua.LNumber
		v   lua.LValue
	}
	var positional []indexed
	named := map[string]lua.LValue{}
	bridge.Each(t, func(k, v lua.LValue) {
		switch key := k.(type) {
		case lua.LNumber:
			positional = append(positional, indexed{key, v})
		case lua.LString:
			named[string(key)] = v
		}
	})
	sort.Slice(positional, func(i, j int) bool { return positional[i].pos < positional[j].pos })

	args := make([]any, 0, len(positional)+len(named))
	for _, p := range positional {
		if arg, ok := luaParam(p.v); ok {
			args = append(args, arg)
		}
	}
	names := make([]string, 0, len(named))
	for name := range named {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if arg, ok := luaParam(named[name]); ok {
			args = append(args, sql.Named(name, arg))
		}
	}
	return args
}

func luaParam(v lua.LValue) (any, bool) {
	if isNull(v) {
		return nil, true
	}
	switch v.(type) {
	case *lua.LTable, *lua.LFunction, *lua.LUserData, *lua.LState, lua.LChannel:
		return nil, false
	}
	return Param(bridge.FromLua(v))
}
