package lifecycle

import (
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// Slot is the stable reference to the current handler function. Reloading replaces the
// function held by the slot, never the slot itself.
type Slot struct {
	path    string
	fn      atomic.Pointer[lua.LFunction]
	version atomic.Uint64
}

func newSlot(path string, fn *lua.LFunction) *Slot {
	s := &Slot{path: path}
	s.Swap(fn)
	return s
}

// Load returns the current handler function.
func (s *Slot) Load() *lua.LFunction {
	return s.fn.Load()
}

// Swap replaces the handler function and returns the new version.
func (s *Slot) Swap(fn *lua.LFunction) uint64 {
	s.fn.Store(fn)
	return s.version.Add(1)
}

// Version increases by one on every swap, starting at 1.
func (s *Slot) Version() uint64 {
	return s.version.Load()
}

// Path is the handler source file.
func (s *Slot) Path() string {
	return s.path
}
