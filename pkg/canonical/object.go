package canonical

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"unicode/utf16"
)

// Member is one key/value pair of an Object.
type Member struct {
	Key   string
	Value any
}

// Object is a JSON object that remembers key order. Decode produces Objects in
// source order; Canonicalize produces them in canonical order.
type Object []Member

// Get returns the value stored under key.
func (o Object) Get(key string) (any, bool) {
	for _, m := range o {
		if m.Key == key {
			return m.Value, true
		}
	}
	return nil, false
}

// GetString returns the string stored under key, or "" when absent or not a string.
func (o Object) GetString(key string) string {
	v, ok := o.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Keys lists the keys in their current order.
func (o Object) Keys() []string {
	keys := make([]string, len(o))
	for i, m := range o {
		keys[i] = m.Key
	}
	return keys
}

// MarshalJSON writes the members in their current order using the same rules
// as the digest serialization.
func (o Object) MarshalJSON() ([]byte, error) {
	return appendValue(nil, o)
}

type undefinedValue struct{}

// Undefined marks a value that is absent. It is dropped from objects and
// written as null inside arrays, the way JSON.stringify treats undefined.
var Undefined any = undefinedValue{}

func objectFromMap(m map[string]any) Object {
	obj := make(Object, 0, len(m))
	for k, v := range m {
		obj = append(obj, Member{Key: k, Value: v})
	}
	return obj
}

// compareJSProperty orders keys the way a JavaScript object iterates keys that
// were inserted in sorted order: integer-index keys first, numerically, then
// every other key by UTF-16 code units.
func compareJSProperty(a, b string) int {
	ai, aIndex := arrayIndex(a)
	bi, bIndex := arrayIndex(b)
	switch {
	case aIndex && bIndex:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aIndex:
		return -1
	case bIndex:
		return 1
	}
	return compareUTF16(a, b)
}

// arrayIndex reports whether k is a canonical array index ("0".."4294967294").
func arrayIndex(k string) (uint64, bool) {
	if k == "" || len(k) > 10 {
		return 0, false
	}
	if len(k) > 1 && k[0] == '0' {
		return 0, false
	}
	for i := 0; i < len(k); i++ {
		if k[i] < '0' || k[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseUint(k, 10, 64)
	if err != nil || n >= math.MaxUint32 {
		return 0, false
	}
	return n, true
}

// compareUTF16 compares by UTF-16 code units, matching Array.prototype.sort
// and RFC 8785.
func compareUTF16(a, b string) int {
	ua := utf16.Encode([]rune(a))
	ub := utf16.Encode([]rune(b))
	for i := 0; i < len(ua) && i < len(ub); i++ {
		if ua[i] != ub[i] {
			if ua[i] < ub[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(ua) < len(ub):
		return -1
	case len(ua) > len(ub):
		return 1
	}
	return 0
}

// normalize maps v onto the JSON data model used by this package: nil, bool,
// float64, string, Object, map[string]any, []any and Undefined. Other Go
// values round-trip through encoding/json.
func normalize(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, undefinedValue:
		return v, nil
	case json.Number:
		f, err := strconv.ParseFloat(t.String(), 64)
		if err != nil && !isRangeErr(err) {
			return nil, fmt.Errorf("canonical: invalid number %q: %w", t.String(), err)
		}
		return f, nil
	case float32:
		return float64(t), nil
	case int:
		return float64(t), nil
	case int8:
		return float64(t), nil
	case int16:
		return float64(t), nil
	case int32:
		return float64(t), nil
	case int64:
		return float64(t), nil
	case uint:
		return float64(t), nil
	case uint8:
		return float64(t), nil
	case uint16:
		return float64(t), nil
	case uint32:
		return float64(t), nil
	case uint64:
		return float64(t), nil
	case json.RawMessage:
		return Decode(t)
	case Object:
		out := make(Object, len(t))
		for i, m := range t {
			nv, err := normalize(m.Value)
			if err != nil {
				return nil, err
			}
			out[i] = Member{Key: m.Key, Value: nv}
		}
		return out, nil
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, elem := range t {
			nv, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[k] = nv
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, elem := range t {
			nv, err := normalize(elem)
			if err != nil {
				return nil, err
			}
			out[i] = nv
		}
		return out, nil
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("canonical: unsupported value %T: %w", v, err)
		}
		return Decode(b)
	}
}
