package bridge

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"time"
)

// FromGo converts a host value into a Value. Types without a script representation
// (functions, channels, structs) are skipped and become nil.
func FromGo(x any) Value {
	switch v := x.(type) {
	case nil:
		return Nil()
	case Value:
		return v
	case *Table:
		return TableOf(v)
	case bool:
		return Bool(v)
	case int:
		return Int(int64(v))
	case int8:
		return Int(int64(v))
	case int16:
		return Int(int64(v))
	case int32:
		return Int(int64(v))
	case int64:
		return Int(v)
	case uint:
		return fromUint(uint64(v))
	case uint8:
		return Int(int64(v))
	case uint16:
		return Int(int64(v))
	case uint32:
		return Int(int64(v))
	case uint64:
		return fromUint(v)
	case float32:
		return Float(float64(v))
	case float64:
		return Float(v)
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return Int(i)
		}
		if f, err := v.Float64(); err == nil {
			return Float(f)
		}
		return String(v.String())
	case string:
		return String(v)
	case []byte:
		return Bytes(v)
	case time.Time:
		return String(v.Format(time.RFC3339Nano))
	case []any:
		t := NewTable()
		for _, item := range v {
			t.Append(FromGo(item))
		}
		return TableOf(t)
	case []string:
		t := NewTable()
		for _, item := range v {
			t.Append(String(item))
		}
		return TableOf(t)
	case map[string]any:
		t := NewTable()
		for _, k := range sortedKeys(v) {
			t.SetString(k, FromGo(v[k]))
		}
		return TableOf(t)
	case map[string]string:
		t := NewTable()
		for _, k := range sortedKeys(v) {
			t.SetString(k, String(v[k]))
		}
		return TableOf(t)
	default:
		return Nil()
	}
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Interface converts v into plain Go values: nil, bool, int64, float64, string, []byte,
// []any for sequences and map[string]any for every other table.
func (v Value) Interface() any {
	switch v.kind {
	case KindNil:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindBytes:
		return v.raw
	case KindTable:
		if v.t.IsSequence() {
			out := make([]any, 0, v.t.Len())
			for i := 1; i <= v.t.Len(); i++ {
				out = append(out, v.t.Get(Int(int64(i))).Interface())
			}
			return out
		}
		out := make(map[string]any, v.t.Len())
		v.t.Range(func(k, val Value) bool {
			out[KeyString(k)] = val.Interface()
			return true
		})
		return out
	default:
		return nil
	}
}

// KeyString renders a table key as an object key.
func KeyString(k Value) string {
	switch k.kind {
	case KindString, KindBytes:
		s, _ := k.AsString()
		return s
	case KindInt:
		return strconv.FormatInt(k.i, 10)
	case KindFloat:
		return strconv.FormatFloat(k.f, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(k.b)
	case KindNil, KindTable:
		return ""
	default:
		return ""
	}
}
