// Package dbg implements the debug capability: a readable dump of any value to a writer.
package dbg

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/atlanticdynamic/nitr/internal/script/bridge"
	lua "github.com/yuin/gopher-lua"
)

// Loader returns a capability loader that writes dumps to w. A nil writer means stderr.
func Loader(w io.Writer) func(L *lua.LState) lua.LValue {
	if w == nil {
		w = os.Stderr
	}
	return func(L *lua.LState) lua.LValue {
		return L.NewFunction(func(L *lua.LState) int {
			var sb strings.Builder
			for i := 1; i <= L.GetTop(); i++ {
				if i > 1 {
					sb.WriteString("\t")
				}
				Dump(&sb, L.Get(i))
			}
			sb.WriteString("\n")
			// never raises: write failures are dropped
			_, _ = io.WriteString(w, sb.String())
			return 0
		})
	}
}

// Dump writes a readable representation of lv.
func Dump(sb *strings.Builder, lv lua.LValue) {
	dump(sb, lv, 0, map[*lua.LTable]bool{})
}

func dump(sb *strings.Builder, lv lua.LValue, depth int, seen map[*lua.LTable]bool) {
	switch v := lv.(type) {
	case lua.LString:
		fmt.Fprintf(sb, "%q", string(v))
	case *lua.LTable:
		if seen[v] {
			sb.WriteString("<cycle>")
			return
		}
		seen[v] = true
		defer delete(seen, v)

		keys := sortedKeys(v)
		if len(keys) == 0 {
			sb.WriteString("{}")
			return
		}
		sb.WriteString("{\n")
		indent := strings.Repeat("  ", depth+1)
		for _, k := range keys {
			sb.WriteString(indent)
			if s, ok := k.(lua.LString); ok {
				sb.WriteString(string(s))
			} else {
				sb.WriteString("[")
				dump(sb, k, depth+1, seen)
				sb.WriteString("]")
			}
			sb.WriteString(" = ")
			dump(sb, v.RawGet(k), depth+1, seen)
			sb.WriteString(",\n")
		}
		sb.WriteString(strings.Repeat("  ", depth))
		sb.WriteString("}")
	case nil:
		sb.WriteString("nil")
	default:
		sb.WriteString(lv.String())
	}
}

// sortedKeys orders numbers before strings before everything else.
func sortedKeys(t *lua.LTable) []lua.LValue {
	var keys []lua.LValue
	bridge.Each(t, func(k, _ lua.LValue) { keys = append(keys, k) })
	rank := func(k lua.LValue) int {
		switch k.(type) {
		case lua.LNumber:
			return 0
		case lua.LString:
			return 1
		default:
			return 2
		}
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, rj := rank(keys[i]), rank(keys[j])
		if ri != rj {
			return ri < rj
		}
		switch a := keys[i].(type) {
		case lua.LNumber:
			return a < keys[j].(lua.LNumber)
		case lua.LString:
			return a < keys[j].(lua.LString)
		}
		return false
	})
	return keys
}
