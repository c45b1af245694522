package bridge

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"

	"github.com/atlanticdynamic/nitr/internal/script/errz"
)

// maxJSONDepth bounds nesting on both encode and decode.
const maxJSONDepth = 512

// EncodeJSON renders v as JSON. Sequences become arrays, every other table an object
// with keys in insertion order. An empty table encodes as an object.
func EncodeJSON(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeValue(&buf, v, 0); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(buf *bytes.Buffer, v Value, depth int) error {
	if depth > maxJSONDepth {
		return fmt.Errorf("%w: json nesting deeper than %d", errz.ErrMarshal, maxJSONDepth)
	}
	switch v.Kind() {
	case KindNil:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return fmt.Errorf("%w: cannot encode %v as json", errz.ErrMarshal, v.f)
		}
		b, err := json.Marshal(v.f)
		if err != nil {
			return fmt.Errorf("%w: %w", errz.ErrMarshal, err)
		}
		buf.Write(b)
	case KindString, KindBytes:
		s, _ := v.AsString()
		encodeString(buf, s)
	case KindTable:
		return encodeTable(buf, v.t, depth)
	default:
		return fmt.Errorf("%w: cannot encode %s as json", errz.ErrMarshal, v.Kind())
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encode on a string cannot fail
	_ = enc.Encode(s)
	buf.Truncate(buf.Len() - 1)
}

func encodeTable(buf *bytes.Buffer, t *Table, depth int) error {
	if t.IsSequence() {
		buf.WriteByte('[')
		for i := 1; i <= t.Len(); i++ {
			if i > 1 {
				buf.WriteByte(',')
			}
			if err := encodeValue(buf, t.Get(Int(int64(i))), depth+1); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil
	}

	buf.WriteByte('{')
	first := true
	var err error
	t.Range(func(k, val Value) bool {
		if !first {
			buf.WriteByte(',')
		}
		first = false
		encodeString(buf, KeyString(k))
		buf.WriteByte(':')
		err = encodeValue(buf, val, depth+1)
		return err == nil
	})
	if err != nil {
		return err
	}
	buf.WriteByte('}')
	return nil
}

// DecodeJSON parses exactly one JSON document. Object key order is kept, integral
// numbers decode as integers and null becomes nil (absent inside tables).
func DecodeJSON(data []byte) (Value, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return Nil(), fmt.Errorf("%w: unexpected end of JSON input", errz.ErrMarshal)
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	v, err := decodeValue(dec, 0)
	if err != nil {
		return Nil(), fmt.Errorf("%w: %w", errz.ErrMarshal, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return Nil(), fmt.Errorf("%w: trailing data after json value", errz.ErrMarshal)
	}
	return v, nil
}

func decodeValue(dec *json.Decoder, depth int) (Value, error) {
	if depth > maxJSONDepth {
		return Nil(), fmt.Errorf("json nesting deeper than %d", maxJSONDepth)
	}
	tok, err := dec.Token()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Nil(), io.ErrUnexpectedEOF
		}
		return Nil(), err
	}

	switch t := tok.(type) {
	case nil:
		return Nil(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Nil(), err
		}
		return Number(f), nil
	case string:
		return String(t), nil
	case json.Delim:
		switch t {
		case '[':
			return decodeArray(dec, depth)
		case '{':
			return decodeObject(dec, depth)
		default:
			return Nil(), fmt.Errorf("unexpected delimiter %q", t)
		}
	default:
		return Nil(), fmt.Errorf("unexpected token %v", tok)
	}
}

func decodeArray(dec *json.Decoder, depth int) (Value, error) {
	t := NewTable()
	idx := int64(0)
	for dec.More() {
		idx++
		v, err := decodeValue(dec, depth+1)
		if err != nil {
			return Nil(), err
		}
		t.Set(Int(idx), v)
	}
	if _, err := dec.Token(); err != nil {
		return Nil(), err
	}
	return TableOf(t), nil
}

func decodeObject(dec *json.Decoder, depth int) (Value, error) {
	t := NewTable()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return Nil(), err
		}
		key, ok := tok.(string)
		if !ok {
			return Nil(), fmt.Errorf("object key is %T, not a string", tok)
		}
		v, err := decodeValue(dec, depth+1)
		if err != nil {
			return Nil(), err
		}
		t.SetString(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return Nil(), err
	}
	return TableOf(t), nil
}
