package engine

import (
	"context"
	"errors"
	"io"

	lua "github.com/yuin/gopher-lua"
)

type scopeKey struct{}

// Scope collects resources opened by bindings during one call. They are released when
// the call returns.
type Scope struct {
	closers []io.Closer
}

// Track registers c to be closed when the current call ends. It reports false when L is
// not running inside Execute, in which case the caller owns c.
func Track(L *lua.LState, c io.Closer) bool {
	s := ScopeOf(L)
	if s == nil {
		return false
	}
	s.closers = append(s.closers, c)
	return true
}

// ScopeOf returns the scope of the running call, or nil.
func ScopeOf(L *lua.LState) *Scope {
	ctx := L.Context()
	if ctx == nil {
		return nil
	}
	s, _ := ctx.Value(scopeKey{}).(*Scope)
	return s
}

// CallContext returns the context of the running call. It is cancelled when the call is
// aborted by the memory watchdog. Outside a call it returns context.Background().
func CallContext(L *lua.LState) context.Context {
	if ctx := L.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func (s *Scope) close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
