package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

// Value kinds. The set is closed: scalars that a downstream index can search
// on, plus a list and an object variant for small structured values.
const (
	// KindNull is the zero Kind; it marshals to JSON null.
	KindNull Kind = iota

	// KindString holds a UTF-8 string.
	KindString

	// KindInt holds a 64-bit signed integer.
	KindInt

	// KindFloat holds a 64-bit floating point number.
	KindFloat

	// KindBool holds a boolean.
	KindBool

	// KindList holds an ordered sequence of Values.
	KindList

	// KindObject holds string-keyed Values.
	KindObject
)

// String returns a human-readable name for the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a tagged union over the JSON-like values that may appear as
// primary-filter values, other-info values, related-entity identifiers, and
// event-info values. It preserves the "arbitrary JSON-like value" contract of
// the wire format without handing callers untyped data.
//
// The zero Value is null. Values are immutable once constructed; List and
// Object copy their inputs.
type Value struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	b    bool
	list []Value
	obj  map[string]Value
}

// String constructs a string Value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int constructs an integer Value.
func Int(i int64) Value { return Value{kind: KindInt, i64: i} }

// Float constructs a floating point Value.
func Float(f float64) Value { return Value{kind: KindFloat, f64: f} }

// Bool constructs a boolean Value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// List constructs a list Value from a copy of vs.
func List(vs ...Value) Value {
	out := make([]Value, len(vs))
	copy(out, vs)
	return Value{kind: KindList, list: out}
}

// Object constructs an object Value from a copy of m.
func Object(m map[string]Value) Value {
	out := make(map[string]Value, len(m))
	for k, v := range m {
		out[k] = v
	}
	return Value{kind: KindObject, obj: out}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// StringVal returns the string variant's content. It returns the zero value
// when the kind does not match.
func (v Value) StringVal() string { return v.str }

// IntVal returns the integer variant's content.
func (v Value) IntVal() int64 { return v.i64 }

// FloatVal returns the float variant's content.
func (v Value) FloatVal() float64 { return v.f64 }

// BoolVal returns the boolean variant's content.
func (v Value) BoolVal() bool { return v.b }

// ListVal returns a copy of the list variant's elements.
func (v Value) ListVal() []Value {
	if v.list == nil {
		return nil
	}
	out := make([]Value, len(v.list))
	copy(out, v.list)
	return out
}

// ObjectVal returns a copy of the object variant's entries.
func (v Value) ObjectVal() map[string]Value {
	if v.obj == nil {
		return nil
	}
	out := make(map[string]Value, len(v.obj))
	for k, e := range v.obj {
		out[k] = e
	}
	return out
}

// Equal reports deep equality of kind and content. Int and Float are distinct
// kinds: Int(1) is not Equal to Float(1).
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindInt:
		return v.i64 == o.i64
	case KindFloat:
		return v.f64 == o.f64
	case KindBool:
		return v.b == o.b
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := o.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// MarshalJSON encodes the value as its plain JSON counterpart. Floats always
// render with a fraction or an exponent, so a whole-number float decodes back
// as KindFloat rather than KindInt.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return json.Marshal(v.i64)
	case KindFloat:
		return appendFloatJSON(v.f64)
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindObject:
		if v.obj == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.obj)
	default:
		return nil, fmt.Errorf("types: cannot marshal value of kind %s", v.kind)
	}
}

// appendFloatJSON renders f in the shortest form that still reads back as a
// float: when the rendering carries no '.', 'e', or 'E' a ".0" suffix is
// added. Non-finite values are not representable in JSON.
func appendFloatJSON(f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("types: cannot marshal non-finite float %v", f)
	}
	out := strconv.AppendFloat(nil, f, 'g', -1, 64)
	if !bytes.ContainsAny(out, ".eE") {
		out = append(out, '.', '0')
	}
	return out, nil
}

// UnmarshalJSON decodes plain JSON into the matching variant. Numbers without
// a fraction or exponent become KindInt; all others become KindFloat, so that
// integer identifiers survive a round trip exactly.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("types: invalid value: %w", err)
	}

	parsed, err := fromDecoded(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// fromDecoded converts the output of a UseNumber json decode into a Value.
func fromDecoded(raw interface{}) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Value{}, nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		s := t.String()
		if !strings.ContainsAny(s, ".eE") {
			i, err := t.Int64()
			if err == nil {
				return Int(i), nil
			}
			// Falls through for integers beyond int64 range.
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("types: invalid number %q: %w", s, err)
		}
		return Float(f), nil
	case []interface{}:
		list := make([]Value, 0, len(t))
		for _, e := range t {
			ev, err := fromDecoded(e)
			if err != nil {
				return Value{}, err
			}
			list = append(list, ev)
		}
		return Value{kind: KindList, list: list}, nil
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			ev, err := fromDecoded(e)
			if err != nil {
				return Value{}, err
			}
			obj[k] = ev
		}
		return Value{kind: KindObject, obj: obj}, nil
	default:
		return Value{}, fmt.Errorf("types: unsupported value of type %T", raw)
	}
}

// String renders the value for logs and error messages. Objects render with
// sorted keys so the output is stable.
func (v Value) String() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindString:
		return v.str
	case KindInt:
		return fmt.Sprintf("%d", v.i64)
	case KindFloat:
		return fmt.Sprintf("%g", v.f64)
	case KindBool:
		return fmt.Sprintf("%t", v.b)
	case KindList:
		parts := make([]string, len(v.list))
		for i, e := range v.list {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ",") + "]"
	case KindObject:
		keys := make([]string, 0, len(v.obj))
		for k := range v.obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = k + ":" + v.obj[k].String()
		}
		return "{" + strings.Join(parts, ",") + "}"
	default:
		return fmt.Sprintf("kind(%d)", int(v.kind))
	}
}
