package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind uint8

// Value kinds. KindMissing is the zero value so an absent key needs no
// special handling by callers.
const (
	KindMissing Kind = iota
	KindNull
	KindNumber
	KindText
	KindBool
	KindList
	KindObject
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindMissing:
		return "missing"
	case KindNull:
		return "null"
	case KindNumber:
		return "number"
	case KindText:
		return "text"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is a decoded JSON value from the wire.
//
// Frames are decoded into Values once, at the protocol boundary, so that
// callers match on Kind instead of probing dynamic types. The zero Value
// is Missing.
type Value struct {
	kind Kind
	num  float64
	text string
	b    bool
	list []Value
	obj  map[string]Value
}

// Missing returns the Value used for absent keys.
func Missing() Value { return Value{} }

// Null returns a JSON null.
func Null() Value { return Value{kind: KindNull} }

// Number returns a numeric Value.
func Number(f float64) Value { return Value{kind: KindNumber, num: f} }

// Text returns a string Value.
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Bool returns a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List returns a list Value.
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, list: items}
}

// Object returns an object Value. A nil map becomes an empty object.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsMissing reports whether v is absent.
func (v Value) IsMissing() bool { return v.kind == KindMissing }

// Present reports whether v holds something other than Missing or Null.
func (v Value) Present() bool { return v.kind != KindMissing && v.kind != KindNull }

// Is reports whether v is one of the given kinds.
// With no kinds it reports whether v is Present.
func (v Value) Is(kinds ...Kind) bool {
	if len(kinds) == 0 {
		return v.Present()
	}
	for _, k := range kinds {
		if v.kind == k {
			return true
		}
	}
	return false
}

// Number returns the numeric payload.
func (v Value) Number() (float64, bool) {
	return v.num, v.kind == KindNumber
}

// Int returns the numeric payload when it is integral.
func (v Value) Int() (int64, bool) {
	if v.kind != KindNumber || v.num != math.Trunc(v.num) || math.IsInf(v.num, 0) {
		return 0, false
	}
	// float64(MaxInt64) rounds up to 2^63, which does not fit.
	if v.num >= math.MaxInt64 || v.num < math.MinInt64 {
		return 0, false
	}
	return int64(v.num), true
}

// Text returns the string payload.
func (v Value) Text() (string, bool) {
	return v.text, v.kind == KindText
}

// Bool returns the boolean payload.
func (v Value) Bool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// List returns the list payload.
func (v Value) List() ([]Value, bool) {
	return v.list, v.kind == KindList
}

// Object returns the object payload.
func (v Value) Object() (map[string]Value, bool) {
	return v.obj, v.kind == KindObject
}

// Get returns the field named key, or Missing when v is not an object
// or has no such field.
func (v Value) Get(key string) Value {
	if v.kind != KindObject {
		return Value{}
	}
	return v.obj[key]
}

// Interface converts v back to plain Go values as produced by encoding/json.
// Missing converts to nil.
func (v Value) Interface() any {
	switch v.kind {
	case KindNumber:
		return v.num
	case KindText:
		return v.text
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, item := range v.list {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]any, len(v.obj))
		for k, item := range v.obj {
			out[k] = item.Interface()
		}
		return out
	default:
		return nil
	}
}

// String renders v for logs.
func (v Value) String() string {
	switch v.kind {
	case KindMissing:
		return "<missing>"
	case KindText:
		return v.text
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return "<invalid>"
		}
		return string(data)
	}
}

// MarshalJSON encodes v. Missing encodes as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindMissing, KindNull:
		return []byte("null"), nil
	case KindNumber:
		if math.IsNaN(v.num) || math.IsInf(v.num, 0) {
			return nil, fmt.Errorf("rpc: cannot encode %v as JSON", v.num)
		}
		return json.Marshal(v.num)
	case KindText:
		return json.Marshal(v.text)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		return json.Marshal(v.list)
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var buf bytes.Buffer
		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := json.Marshal(v.obj[k])
			if err != nil {
				return nil, err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			buf.Write(vb)
		}
		buf.WriteByte('}')
		return buf.Bytes(), nil
	default:
		return nil, fmt.Errorf("rpc: unknown value kind %d", v.kind)
	}
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	decoded, err := ValueOf(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// ValueOf converts a plain Go value into a Value. It accepts the shapes
// produced by encoding/json (with or without UseNumber) plus the common
// Go scalar types, string slices and nested maps.
func ValueOf(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t, nil
	case bool:
		return Bool(t), nil
	case string:
		return Text(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("rpc: invalid number %q: %w", t.String(), err)
		}
		return Number(f), nil
	case float64:
		return Number(t), nil
	case float32:
		return Number(float64(t)), nil
	case int:
		return Number(float64(t)), nil
	case int32:
		return Number(float64(t)), nil
	case int64:
		return Number(float64(t)), nil
	case uint:
		return Number(float64(t)), nil
	case uint32:
		return Number(float64(t)), nil
	case uint64:
		return Number(float64(t)), nil
	case []string:
		items := make([]Value, len(t))
		for i, s := range t {
			items[i] = Text(s)
		}
		return List(items...), nil
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return List(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := ValueOf(item)
			if err != nil {
				return Value{}, fmt.Errorf("field %q: %w", k, err)
			}
			fields[k] = v
		}
		return Object(fields), nil
	case map[string]Value:
		return Object(t), nil
	default:
		return Value{}, fmt.Errorf("%w: cannot convert %T", ErrTypeMismatch, x)
	}
}

// kindList renders kinds for error messages, e.g. "number|bool".
func kindList(kinds []Kind) string {
	if len(kinds) == 0 {
		return "any"
	}
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return strings.Join(names, "|")
}
