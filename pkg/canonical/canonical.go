// Package canonical computes the stable digest used to fingerprint certificate records.
//
// A record is canonicalized by sorting the keys of every mapping, serialized as
// compact JSON with JavaScript JSON.stringify rules, and hashed with SHA-256. The
// resulting 64-character lowercase hex digest is identical for records that hold
// the same key/value pairs in any key order, and identical to the digest the
// browser helper produced for certificates issued before this service existed.
//
// Arrays are the one place where the scheme is configurable; see ArrayMode.
package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"

	"github.com/gowebpki/jcs"
)

// ArrayMode selects how arrays are treated during canonicalization.
type ArrayMode int

const (
	// ArraysVerbatim leaves arrays untouched: element order is kept and elements
	// are not canonicalized, so mappings nested in arrays keep their own key
	// order. This is the compatibility default for already-issued certificates.
	ArraysVerbatim ArrayMode = iota

	// ArraysRecursive canonicalizes array elements in place and serializes the
	// result as RFC 8785 (JCS). Intended for new deployments.
	ArraysRecursive

	// ArraysIndexed rewrites an array into a mapping keyed "0".."n-1", which is
	// what enumerating an array's keys does in the JavaScript helper.
	ArraysIndexed
)

var arrayModeNames = map[ArrayMode]string{
	ArraysVerbatim:  "verbatim",
	ArraysRecursive: "recursive",
	ArraysIndexed:   "indexed",
}

func (m ArrayMode) String() string {
	if name, ok := arrayModeNames[m]; ok {
		return name
	}
	return "ArrayMode(" + strconv.Itoa(int(m)) + ")"
}

// ParseArrayMode parses "verbatim", "recursive" or "indexed". The empty string
// selects ArraysVerbatim.
func ParseArrayMode(s string) (ArrayMode, error) {
	if s == "" {
		return ArraysVerbatim, nil
	}
	for mode, name := range arrayModeNames {
		if name == s {
			return mode, nil
		}
	}
	return ArraysVerbatim, fmt.Errorf("canonical: unknown array mode %q", s)
}

// Hasher canonicalizes and hashes records under one ArrayMode. The zero value
// is not usable; build one with New. A Hasher is safe for concurrent use.
type Hasher struct {
	arrays ArrayMode
}

// Option configures a Hasher.
type Option func(*Hasher)

// WithArrayMode sets the array treatment.
func WithArrayMode(mode ArrayMode) Option {
	return func(h *Hasher) {
		h.arrays = mode
	}
}

// New builds a Hasher. Without options it uses ArraysVerbatim.
func New(opts ...Option) *Hasher {
	h := &Hasher{arrays: ArraysVerbatim}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// ArrayMode reports the array treatment in effect.
func (h *Hasher) ArrayMode() ArrayMode {
	return h.arrays
}

// Canonicalize returns the canonical form of v. Mappings (map[string]any or
// Object) become an Object whose keys are sorted at every level; scalars and
// null are returned unchanged; arrays follow the Hasher's ArrayMode.
//
// Values outside the JSON data model are normalized through encoding/json
// first; if that fails v is returned unchanged.
func (h *Hasher) Canonicalize(v any) any {
	n, err := normalize(v)
	if err != nil {
		return v
	}
	return h.canonicalize(n)
}

// Marshal returns the compact serialization of the canonical form of v: the
// exact bytes that Hash digests.
func (h *Hasher) Marshal(v any) ([]byte, error) {
	n, err := normalize(v)
	if err != nil {
		return nil, err
	}
	canon := h.canonicalize(n)
	out, err := appendValue(nil, canon)
	if err != nil {
		return nil, err
	}
	if h.arrays != ArraysRecursive {
		return out, nil
	}
	switch canon.(type) {
	case Object, []any:
		// jcs only accepts an object or array at the top level; scalars are
		// already in RFC 8785 form.
		out, err = jcs.Transform(out)
		if err != nil {
			return nil, fmt.Errorf("canonical: jcs transform: %w", err)
		}
	}
	return out, nil
}

// Hash returns the lowercase hex SHA-256 digest of Marshal(v). Any value
// produced by decoding JSON hashes without error.
func (h *Hasher) Hash(v any) (string, error) {
	b, err := h.Marshal(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}

func (h *Hasher) canonicalize(v any) any {
	switch t := v.(type) {
	case Object:
		return h.object(t)
	case map[string]any:
		return h.object(objectFromMap(t))
	case []any:
		switch h.arrays {
		case ArraysRecursive:
			out := make([]any, len(t))
			for i, elem := range t {
				out[i] = h.canonicalize(elem)
			}
			return out
		case ArraysIndexed:
			obj := make(Object, len(t))
			for i, elem := range t {
				obj[i] = Member{Key: strconv.Itoa(i), Value: elem}
			}
			return h.object(obj)
		default:
			return t
		}
	default:
		return v
	}
}

func (h *Hasher) object(o Object) Object {
	out := make(Object, len(o))
	for i, m := range o {
		out[i] = Member{Key: m.Key, Value: h.canonicalize(m.Value)}
	}
	cmp := compareJSProperty
	if h.arrays == ArraysRecursive {
		cmp = compareUTF16
	}
	slices.SortStableFunc(out, func(a, b Member) int {
		return cmp(a.Key, b.Key)
	})
	return out
}

var defaultHasher = New()

// Canonicalize canonicalizes v with ArraysVerbatim.
func Canonicalize(v any) any {
	return defaultHasher.Canonicalize(v)
}

// Marshal serializes the canonical form of v with ArraysVerbatim.
func Marshal(v any) ([]byte, error) {
	return defaultHasher.Marshal(v)
}

// StableHash digests v with ArraysVerbatim.
func StableHash(v any) (string, error) {
	return defaultHasher.Hash(v)
}

// HashBytes returns the lowercase hex SHA-256 of b.
func HashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// ValidDigest reports whether s looks like a digest produced by this package.
func ValidDigest(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
