// Package bindings holds helpers shared by the capability bindings.
package bindings

import (
	"errors"

	"github.com/atlanticdynamic/nitr/internal/script/body"
	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	"github.com/atlanticdynamic/nitr/internal/script/errz"
	lua "github.com/yuin/gopher-lua"
)

// Func is a module function. base is the stack index of its first argument.
type Func func(L *lua.LState, base int) int

// NewModule builds a table of functions that accept both call styles: mod.fn(a) and
// mod:fn(a). A leading argument equal to the table itself is skipped.
func NewModule(L *lua.LState, fns map[string]Func) *lua.LTable {
	mod := L.NewTable()
	for name, fn := range fns {
		L.SetField(mod, name, L.NewFunction(func(L *lua.LState) int {
			return fn(L, ArgBase(L, mod))
		}))
	}
	return mod
}

// ArgBase returns 2 when the first argument is self, otherwise 1.
func ArgBase(L *lua.LState, self lua.LValue) int {
	if L.GetTop() >= 1 && L.Get(1) == self {
		return 2
	}
	return 1
}

// RaiseMarshal aborts the running call with a marshal error.
func RaiseMarshal(L *lua.LState, format string, args ...any) {
	L.RaiseError("%s", errz.Raise(errz.ErrMarshal, format, args...))
}

// RaiseDatabase aborts the running call with a database error.
func RaiseDatabase(L *lua.LState, format string, args ...any) {
	L.RaiseError("%s", errz.Raise(errz.ErrDatabase, format, args...))
}

// RaiseErr aborts the running call with err. Errors that already carry a binding kind
// keep their message; anything else is reported as a marshal error.
func RaiseErr(L *lua.LState, err error) {
	if errors.Is(err, errz.ErrMarshal) || errors.Is(err, errz.ErrDatabase) {
		L.RaiseError("%s", err.Error())
		return
	}
	RaiseMarshal(L, "%v", err)
}

// BodyFunc returns a body method for a userdata: read, text or json. The method accepts
// both call styles.
func BodyFunc(L *lua.LState, self *lua.LUserData, c *body.Cursor, method string) *lua.LFunction {
	return L.NewFunction(func(L *lua.LState) int {
		_ = ArgBase(L, self)
		switch method {
		case "read":
			chunk, err := c.Next()
			if err != nil {
				RaiseErr(L, err)
				return 0
			}
			if chunk == nil {
				L.Push(lua.LNil)
				return 1
			}
			L.Push(lua.LString(chunk))
		case "text":
			data, err := c.ReadAll()
			if err != nil {
				RaiseErr(L, err)
				return 0
			}
			L.Push(lua.LString(data))
		case "json":
			v, err := c.JSON()
			if err != nil {
				RaiseErr(L, err)
				return 0
			}
			L.Push(bridge.ToLua(L, v))
		default:
			L.Push(lua.LNil)
		}
		return 1
	})
}

// URITable builds the uri/url table shared by requests and fetch responses.
func URITable(L *lua.LState, scheme, host string, port int, path, authority, query string) *lua.LTable {
	t := L.NewTable()
	setOpt := func(k, v string) {
		if v != "" {
			L.SetField(t, k, lua.LString(v))
		}
	}
	setOpt("scheme", scheme)
	setOpt("host", host)
	L.SetField(t, "port", lua.LNumber(port))
	L.SetField(t, "path", lua.LString(path))
	setOpt("authority", authority)
	setOpt("query", query)
	return t
}

// UserDataIndex installs a metatable on ud whose __index resolves keys through get.
// Unknown keys resolve to nil.
func UserDataIndex(L *lua.LState, ud *lua.LUserData, get func(key string) lua.LValue) {
	mt := L.NewTable()
	L.SetField(mt, "__index", L.NewFunction(func(L *lua.LState) int {
		key := L.ToString(2)
		v := get(key)
		if v == nil {
			v = lua.LNil
		}
		L.Push(v)
		return 1
	}))
	L.SetField(mt, "__newindex", L.NewFunction(func(L *lua.LState) int {
		RaiseMarshal(L, "cannot assign field %q of a read-only value", L.ToString(2))
		return 0
	}))
	L.SetMetatable(ud, mt)
}
