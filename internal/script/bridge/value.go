// Package bridge converts values between the Lua interpreter, host Go types and JSON.
//
// Value is the tagged variant every binding and the marshaler pass around. Each
// conversion function handles every variant explicitly, including the ones it skips.
package bridge

import (
	"bytes"
	"fmt"
	"math"
)

// Kind identifies the variant held by a Value.
type Kind uint8

const (
	KindNil Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindBytes
	KindTable
)

// String returns the name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNil:
		return "nil"
	case KindBool:
		return "boolean"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindTable:
		return "table"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable tagged variant. The zero Value is nil.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	raw  []byte
	t    *Table
}

// Nil returns the nil value.
func Nil() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float wraps a float.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// String wraps a text string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Bytes wraps a byte sequence. The slice is copied.
func Bytes(b []byte) Value {
	return Value{kind: KindBytes, raw: bytes.Clone(b)}
}

// TableOf wraps a table. A nil table becomes the nil value.
func TableOf(t *Table) Value {
	if t == nil {
		return Nil()
	}
	return Value{kind: KindTable, t: t}
}

// Number returns Int when f is integral and fits int64, Float otherwise.
func Number(f float64) Value {
	if f == math.Trunc(f) && f >= math.MinInt64 && f < math.MaxInt64 {
		return Int(int64(f))
	}
	return Float(f)
}

// Kind returns the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsNil reports whether v is nil.
func (v Value) IsNil() bool { return v.kind == KindNil }

// AsBool returns the boolean and whether v is a boolean.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsInt returns the integer and whether v is an integer.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns v as a float for both numeric kinds.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.f, true
	case KindInt:
		return float64(v.i), true
	default:
		return 0, false
	}
}

// AsString returns the text of a String or Bytes value.
func (v Value) AsString() (string, bool) {
	switch v.kind {
	case KindString:
		return v.s, true
	case KindBytes:
		return string(v.raw), true
	default:
		return "", false
	}
}

// AsBytes returns the raw bytes of a Bytes or String value.
func (v Value) AsBytes() ([]byte, bool) {
	switch v.kind {
	case KindBytes:
		return v.raw, true
	case KindString:
		return []byte(v.s), true
	default:
		return nil, false
	}
}

// AsTable returns the table and whether v is a table.
func (v Value) AsTable() (*Table, bool) { return v.t, v.kind == KindTable }

// Equal compares two values deeply. Int and Float compare by numeric value, String and
// Bytes by content, matching how the interpreter sees them.
func (v Value) Equal(o Value) bool {
	switch v.kind {
	case KindNil:
		return o.kind == KindNil
	case KindBool:
		return o.kind == KindBool && v.b == o.b
	case KindInt, KindFloat:
		a, _ := v.AsFloat()
		b, ok := o.AsFloat()
		if v.kind == KindInt && o.kind == KindInt {
			return v.i == o.i
		}
		return ok && a == b
	case KindString, KindBytes:
		a, _ := v.AsString()
		b, ok := o.AsString()
		return ok && a == b
	case KindTable:
		ot, ok := o.AsTable()
		return ok && v.t.Equal(ot)
	default:
		return false
	}
}

// String renders v for diagnostics.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindInt:
		return fmt.Sprintf("%d", v.i)
	case KindFloat:
		return fmt.Sprintf("%g", v.f)
	case KindString:
		return fmt.Sprintf("%q", v.s)
	case KindBytes:
		return fmt.Sprintf("bytes(%q)", v.raw)
	case KindTable:
		return v.t.String()
	default:
		return v.kind.String()
	}
}
