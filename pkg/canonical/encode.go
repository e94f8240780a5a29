package canonical

import (
	"errors"
	"math"
	"slices"
	"strconv"
	"unicode/utf8"

	"github.com/gowebpki/jcs"
)

const hexDigits = "0123456789abcdef"

// appendValue writes v as compact JSON following JSON.stringify: no
// whitespace, no HTML escaping, ECMAScript number formatting, non-finite
// numbers as null.
func appendValue(dst []byte, v any) ([]byte, error) {
	switch t := v.(type) {
	case nil, undefinedValue:
		return append(dst, "null"...), nil
	case bool:
		return strconv.AppendBool(dst, t), nil
	case float64:
		return appendNumber(dst, t)
	case string:
		return appendString(dst, t), nil
	case Object:
		return appendObject(dst, t)
	case map[string]any:
		obj := objectFromMap(t)
		slices.SortFunc(obj, func(a, b Member) int {
			return compareJSProperty(a.Key, b.Key)
		})
		return appendObject(dst, obj)
	case []any:
		dst = append(dst, '[')
		for i, elem := range t {
			if i > 0 {
				dst = append(dst, ',')
			}
			var err error
			dst, err = appendValue(dst, elem)
			if err != nil {
				return nil, err
			}
		}
		return append(dst, ']'), nil
	default:
		n, err := normalize(v)
		if err != nil {
			return nil, err
		}
		return appendValue(dst, n)
	}
}

func appendObject(dst []byte, obj Object) ([]byte, error) {
	dst = append(dst, '{')
	first := true
	for _, m := range obj {
		if _, skip := m.Value.(undefinedValue); skip {
			continue
		}
		if !first {
			dst = append(dst, ',')
		}
		first = false
		dst = appendString(dst, m.Key)
		dst = append(dst, ':')
		var err error
		dst, err = appendValue(dst, m.Value)
		if err != nil {
			return nil, err
		}
	}
	return append(dst, '}'), nil
}

func appendNumber(dst []byte, f float64) ([]byte, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return append(dst, "null"...), nil
	}
	s, err := jcs.NumberToJSON(f)
	if err != nil {
		return nil, err
	}
	return append(dst, s...), nil
}

// appendString quotes s the way JSON.stringify does: only the quote, the
// backslash and C0 control characters are escaped.
func appendString(dst []byte, s string) []byte {
	dst = append(dst, '"')
	for _, r := range s {
		switch r {
		case '"':
			dst = append(dst, '\\', '"')
		case '\\':
			dst = append(dst, '\\', '\\')
		case '\b':
			dst = append(dst, '\\', 'b')
		case '\f':
			dst = append(dst, '\\', 'f')
		case '\n':
			dst = append(dst, '\\', 'n')
		case '\r':
			dst = append(dst, '\\', 'r')
		case '\t':
			dst = append(dst, '\\', 't')
		default:
			if r < 0x20 {
				dst = append(dst, '\\', 'u', '0', '0', hexDigits[r>>4], hexDigits[r&0xf])
				continue
			}
			dst = utf8.AppendRune(dst, r)
		}
	}
	return append(dst, '"')
}

func isRangeErr(err error) bool {
	return errors.Is(err, strconv.ErrRange)
}
