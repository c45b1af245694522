package bridge

import (
	"fmt"
	"math"
	"strings"
)

// tableKey is the comparable form of a scalar Value used to index a Table.
type tableKey struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
}

// Table is an ordered keyed table. Keys keep their first insertion position; writing an
// existing key replaces its value (last write wins). Only scalar values can be keys.
type Table struct {
	keys  []Value
	vals  []Value
	index map[tableKey]int
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{index: make(map[tableKey]int)}
}

// NewSequence builds a table with the values at keys 1..n.
func NewSequence(values ...Value) *Table {
	t := NewTable()
	for _, v := range values {
		t.Append(v)
	}
	return t
}

// normalizeKey maps a Value onto its table key. Integral floats index like integers.
func normalizeKey(k Value) (Value, tableKey, bool) {
	switch k.kind {
	case KindNil:
		return k, tableKey{}, false
	case KindBool:
		return k, tableKey{kind: KindBool, b: k.b}, true
	case KindInt:
		return k, tableKey{kind: KindInt, i: k.i}, true
	case KindFloat:
		if math.IsNaN(k.f) {
			return k, tableKey{}, false
		}
		if n := Number(k.f); n.kind == KindInt {
			return n, tableKey{kind: KindInt, i: n.i}, true
		}
		return k, tableKey{kind: KindFloat, f: k.f}, true
	case KindString, KindBytes:
		s, _ := k.AsString()
		return String(s), tableKey{kind: KindString, s: s}, true
	case KindTable:
		return k, tableKey{}, false
	default:
		return k, tableKey{}, false
	}
}

// Set stores v under k. A nil value removes the key. Keys that cannot index a table
// (nil, NaN, tables) are ignored and Set reports false.
func (t *Table) Set(k, v Value) bool {
	key, tk, ok := normalizeKey(k)
	if !ok {
		return false
	}
	pos, exists := t.index[tk]
	if v.IsNil() {
		if exists {
			t.remove(pos)
		}
		return true
	}
	if exists {
		t.vals[pos] = v
		return true
	}
	t.index[tk] = len(t.keys)
	t.keys = append(t.keys, key)
	t.vals = append(t.vals, v)
	return true
}

// SetString is a shorthand for Set(String(k), v).
func (t *Table) SetString(k string, v Value) {
	t.Set(String(k), v)
}

// Append stores v at the key one past the current sequence length.
func (t *Table) Append(v Value) {
	t.Set(Int(int64(t.SeqLen()+1)), v)
}

func (t *Table) remove(pos int) {
	_, tk, _ := normalizeKey(t.keys[pos])
	delete(t.index, tk)
	t.keys = append(t.keys[:pos], t.keys[pos+1:]...)
	t.vals = append(t.vals[:pos], t.vals[pos+1:]...)
	for i := pos; i < len(t.keys); i++ {
		_, k, _ := normalizeKey(t.keys[i])
		t.index[k] = i
	}
}

// Get returns the value under k, or nil.
func (t *Table) Get(k Value) Value {
	_, tk, ok := normalizeKey(k)
	if !ok {
		return Nil()
	}
	if pos, exists := t.index[tk]; exists {
		return t.vals[pos]
	}
	return Nil()
}

// GetString is a shorthand for Get(String(k)).
func (t *Table) GetString(k string) Value {
	return t.Get(String(k))
}

// Len returns the number of entries.
func (t *Table) Len() int {
	return len(t.keys)
}

// SeqLen returns n when keys 1..n are all present.
func (t *Table) SeqLen() int {
	n := 0
	for {
		if _, ok := t.index[tableKey{kind: KindInt, i: int64(n + 1)}]; !ok {
			return n
		}
		n++
	}
}

// IsSequence reports whether the table is non-empty and its keys are exactly 1..n.
func (t *Table) IsSequence() bool {
	return t.Len() > 0 && t.SeqLen() == t.Len()
}

// Range calls fn for each entry in insertion order until fn returns false.
func (t *Table) Range(fn func(k, v Value) bool) {
	for i := range t.keys {
		if !fn(t.keys[i], t.vals[i]) {
			return
		}
	}
}

// Keys returns the keys in insertion order.
func (t *Table) Keys() []Value {
	out := make([]Value, len(t.keys))
	copy(out, t.keys)
	return out
}

// Values returns the values in insertion order.
func (t *Table) Values() []Value {
	out := make([]Value, len(t.vals))
	copy(out, t.vals)
	return out
}

// Equal compares entries regardless of insertion order.
func (t *Table) Equal(o *Table) bool {
	if t == nil || o == nil {
		return t == o
	}
	if t.Len() != o.Len() {
		return false
	}
	for i, k := range t.keys {
		if !t.vals[i].Equal(o.Get(k)) {
			return false
		}
	}
	return true
}

func (t *Table) String() string {
	var sb strings.Builder
	sb.WriteString("{")
	for i, k := range t.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "[%s]=%s", k, t.vals[i])
	}
	sb.WriteString("}")
	return sb.String()
}
