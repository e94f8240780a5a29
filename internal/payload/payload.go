// Package payload interprets the text carried by a certificate QR code.
//
// A payload is either the raw certificate fields (a JSON object) or a proof
// {"id": ..., "hash": ...} issued at registration time.
package payload

import (
	"math"
	"strings"

	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
)

// Kind tells raw certificate fields apart from a registration proof.
type Kind int

const (
	KindFields Kind = iota
	KindProof
)

func (k Kind) String() string {
	if k == KindProof {
		return "proof"
	}
	return "fields"
}

// Proof is the {id, hash} pair embedded in QR codes issued at registration.
type Proof struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// Payload is a parsed QR payload.
type Payload struct {
	Kind   Kind
	Fields canonical.Object
	Proof  Proof
}

// Rules lists the fields a certificate record must carry. Each entry is a set
// of alternatives; at least one alternative must be present with a truthy value.
type Rules struct {
	Required [][]string
}

// DefaultRules requires studentName and one of courseName or course.
var DefaultRules = Rules{
	Required: [][]string{
		{"studentName"},
		{"courseName", "course"},
	},
}

// Decode parses text as JSON. Anything that is not JSON yields CodePayloadNotJSON.
func Decode(text string) (any, error) {
	v, err := canonical.Decode([]byte(strings.TrimSpace(text)))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePayloadNotJSON, "QR code does not contain JSON data")
	}
	return v, nil
}

// IsJSON reports whether text parses as a JSON value.
func IsJSON(text string) bool {
	_, err := Decode(text)
	return err == nil
}

// ParseForVerification accepts either a proof or raw certificate fields. Any
// non-empty object may have been registered, so creation rules do not apply.
func ParseForVerification(text string) (*Payload, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}
	if proof, ok := proofOf(obj); ok {
		return &Payload{Kind: KindProof, Proof: proof}, nil
	}
	if _, hasID := obj.Get("id"); hasID {
		if _, hasHash := obj.Get("hash"); hasHash {
			return nil, dErrors.New(dErrors.CodePayloadSchemaInvalid, `invalid proof format: "id" and "hash" must be non-empty strings`)
		}
	}
	if len(obj) == 0 {
		return nil, dErrors.New(dErrors.CodePayloadSchemaInvalid, "QR payload is an empty object")
	}
	return &Payload{Kind: KindFields, Fields: obj}, nil
}

// ParseForCreation accepts only raw certificate fields.
func ParseForCreation(text string, rules Rules) (*Payload, error) {
	obj, err := decodeObject(text)
	if err != nil {
		return nil, err
	}
	if _, ok := proofOf(obj); ok && !rules.satisfied(obj) {
		return nil, dErrors.New(dErrors.CodePayloadSchemaInvalid, "QR code contains a verification proof, not raw certificate data")
	}
	if err := rules.Check(obj); err != nil {
		return nil, err
	}
	return &Payload{Kind: KindFields, Fields: obj}, nil
}

// Check validates obj against the rules.
func (r Rules) Check(obj canonical.Object) error {
	for _, alternatives := range r.Required {
		if !anyTruthy(obj, alternatives) {
			return dErrors.New(dErrors.CodePayloadSchemaInvalid,
				"required field missing: "+strings.Join(alternatives, " or "))
		}
	}
	return nil
}

func (r Rules) satisfied(obj canonical.Object) bool {
	return r.Check(obj) == nil
}

func decodeObject(text string) (canonical.Object, error) {
	v, err := Decode(text)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(canonical.Object)
	if !ok {
		return nil, dErrors.New(dErrors.CodePayloadSchemaInvalid, "QR payload must be a JSON object")
	}
	return obj, nil
}

func proofOf(obj canonical.Object) (Proof, bool) {
	id := obj.GetString("id")
	hash := obj.GetString("hash")
	if id == "" || hash == "" {
		return Proof{}, false
	}
	return Proof{ID: id, Hash: hash}, true
}

func anyTruthy(obj canonical.Object, keys []string) bool {
	for _, k := range keys {
		if v, ok := obj.Get(k); ok && Truthy(v) {
			return true
		}
	}
	return false
}

// Truthy follows JavaScript truthiness for JSON values.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	default:
		return true
	}
}
