package bridge

import (
	lua "github.com/yuin/gopher-lua"
)

// FromLua converts an interpreter value into a Value. Functions, userdata, threads and
// channels have no host representation and become nil. Tables that contain themselves
// are cut at the point of recursion.
func FromLua(lv lua.LValue) Value {
	return fromLua(lv, make(map[*lua.LTable]struct{}))
}

func fromLua(lv lua.LValue, seen map[*lua.LTable]struct{}) Value {
	switch v := lv.(type) {
	case nil:
		return Nil()
	case *lua.LNilType:
		return Nil()
	case lua.LBool:
		return Bool(bool(v))
	case lua.LNumber:
		return Number(float64(v))
	case lua.LString:
		return String(string(v))
	case *lua.LTable:
		if _, ok := seen[v]; ok {
			return Nil()
		}
		seen[v] = struct{}{}
		defer delete(seen, v)

		t := NewTable()
		Each(v, func(k, val lua.LValue) {
			key := fromLua(k, seen)
			if key.Kind() == KindTable {
				// table keys have no stable host identity
				return
			}
			t.Set(key, fromLua(val, seen))
		})
		return TableOf(t)
	case *lua.LFunction:
		return Nil()
	case *lua.LUserData:
		return Nil()
	case *lua.LState:
		return Nil()
	case lua.LChannel:
		return Nil()
	default:
		return Nil()
	}
}

// Each calls fn for every entry of t: the array part in index order, then the hash part in
// insertion order. LTable.ForEach walks Go maps and has no stable order.
func Each(t *lua.LTable, fn func(k, v lua.LValue)) {
	for k, v := t.Next(lua.LNil); k != lua.LNil; k, v = t.Next(k) {
		fn(k, v)
	}
}

// ToLua converts a Value into an interpreter value owned by L.
func ToLua(L *lua.LState, v Value) lua.LValue {
	switch v.Kind() {
	case KindNil:
		return lua.LNil
	case KindBool:
		return lua.LBool(v.b)
	case KindInt:
		return lua.LNumber(float64(v.i))
	case KindFloat:
		return lua.LNumber(v.f)
	case KindString:
		return lua.LString(v.s)
	case KindBytes:
		return lua.LString(string(v.raw))
	case KindTable:
		seq := v.t.SeqLen()
		tbl := L.CreateTable(seq, v.t.Len()-seq)
		v.t.Range(func(k, val Value) bool {
			tbl.RawSet(ToLua(L, k), ToLua(L, val))
			return true
		})
		return tbl
	default:
		return lua.LNil
	}
}

// TypeName returns the interpreter type name of lv, for error messages.
func TypeName(lv lua.LValue) string {
	if lv == nil {
		return lua.LTNil.String()
	}
	return lv.Type().String()
}
