// Package capability defines the flags that gate which host bindings a script can reach.
package capability

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
	lua "github.com/yuin/gopher-lua"
)

// Set is a bitset of capabilities. It is fixed once the engine has booted.
type Set uint32

const (
	Debug Set = 1 << iota
	Fetch
	Template
	JSON
	Database

	None Set = 0
	All      = Debug | Fetch | Template | JSON | Database
)

var ordered = []Set{Debug, Fetch, Template, JSON, Database}

var names = map[Set]string{
	Debug:    "debug",
	Fetch:    "fetch",
	Template: "template",
	JSON:     "json",
	Database: "database",
}

// globals maps each flag to the identifier it is installed under.
var globals = map[Set]string{
	Debug:    "debug",
	Fetch:    "fetch",
	Template: "template",
	JSON:     "json",
	Database: "db",
}

func (s Set) Union(o Set) Set         { return s | o }
func (s Set) Intersect(o Set) Set     { return s & o }
func (s Set) SymmetricDiff(o Set) Set { return s ^ o }
func (s Set) Has(o Set) bool          { return o != None && s&o == o }
func (s Set) IsNone() bool            { return s&All == None }
func (s Set) IsAll() bool             { return s&All == All }

// Len returns how many defined capabilities are in the set.
func (s Set) Len() int { return bits.OnesCount32(uint32(s & All)) }

// List returns the individual flags in declaration order.
func (s Set) List() []Set {
	out := make([]Set, 0, s.Len())
	for _, c := range ordered {
		if s&c != 0 {
			out = append(out, c)
		}
	}
	return out
}

// Name returns the human-readable name of a single flag.
func (s Set) Name() string {
	if n, ok := names[s]; ok {
		return n
	}
	return fmt.Sprintf("capability(%d)", uint32(s))
}

// Global returns the namespace identifier of a single flag, or "" for a combined set.
func (s Set) Global() string {
	return globals[s]
}

func (s Set) String() string {
	switch {
	case s.IsNone():
		return "none"
	case s.IsAll():
		return "all"
	}
	parts := make([]string, 0, s.Len())
	for _, c := range s.List() {
		parts = append(parts, c.Name())
	}
	return strings.Join(parts, "|")
}

// Parse builds a set from configuration names. "all" and "none" are accepted, and "db"
// is an alias of "database".
func Parse(values []string) (Set, error) {
	var out Set
	for _, raw := range values {
		v := strings.ToLower(strings.TrimSpace(raw))
		switch v {
		case "":
			continue
		case "all":
			out |= All
			continue
		case "none":
			continue
		case "db":
			v = "database"
		}
		found := false
		for flag, name := range names {
			if name == v {
				out |= flag
				found = true
				break
			}
		}
		if !found {
			return None, fmt.Errorf("%w: unknown capability %q", errz.ErrCapabilityUnavailable, raw)
		}
	}
	return out, nil
}

// Loader builds the Lua value for one binding.
type Loader func(L *lua.LState) lua.LValue

// Install places the binding of every flag in set under its global name. Flags outside the
// set are left undefined. A flag in the set without a loader is an error.
func Install(L *lua.LState, set Set, loaders map[Set]Loader) error {
	for _, c := range set.List() {
		load, ok := loaders[c]
		if !ok || load == nil {
			return fmt.Errorf("%w: no binding for %s", errz.ErrCapabilityUnavailable, c.Name())
		}
		L.SetGlobal(c.Global(), load(L))
	}
	return nil
}
