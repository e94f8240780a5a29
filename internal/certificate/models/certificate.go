package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
)

// Reserved keys are set by the registry and override same-named certificate fields
// when a certificate is rendered.
const (
	KeyID        = "id"
	KeyDataHash  = "dataHash"
	KeyCreatedAt = "createdAt"
)

// Certificate is a registered certificate record.
//
// Invariants:
//   - ID is a UUIDv4 string assigned at registration
//   - Data is the compact JSON object that was registered, in source key order
//   - DataHash is the digest of Data under ArrayMode and is unique in the registry
//   - CreatedAt is immutable after construction
type Certificate struct {
	ID            string
	Data          json.RawMessage
	DataHash      string
	ArrayMode     canonical.ArrayMode
	InstitutionID string
	CreatedAt     time.Time
}

// NewCertificate builds a certificate for fields already hashed to digest.
func NewCertificate(fields canonical.Object, digest string, mode canonical.ArrayMode, institutionID string, now time.Time) (*Certificate, error) {
	if len(fields) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "certificate data must be a non-empty object")
	}
	if !canonical.ValidDigest(digest) {
		return nil, dErrors.New(dErrors.CodeValidation, "dataHash must be a 64 character lowercase hex digest")
	}
	data, err := fields.MarshalJSON()
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "certificate data cannot be serialized")
	}
	return &Certificate{
		ID:            uuid.NewString(),
		Data:          data,
		DataHash:      digest,
		ArrayMode:     mode,
		InstitutionID: institutionID,
		CreatedAt:     now.UTC(),
	}, nil
}

// Fields decodes Data back into an ordered object.
func (c *Certificate) Fields() (canonical.Object, error) {
	v, err := canonical.Decode(c.Data)
	if err != nil {
		return nil, err
	}
	obj, ok := v.(canonical.Object)
	if !ok {
		return nil, dErrors.New(dErrors.CodeInternal, "stored certificate data is not an object")
	}
	return obj, nil
}

// Document renders the certificate for API responses: the registered fields
// followed by id, dataHash and createdAt, which win over same-named fields.
func (c *Certificate) Document() (canonical.Object, error) {
	fields, err := c.Fields()
	if err != nil {
		return nil, err
	}
	reserved := map[string]bool{KeyID: true, KeyDataHash: true, KeyCreatedAt: true}
	doc := make(canonical.Object, 0, len(fields)+len(reserved))
	for _, m := range fields {
		if !reserved[m.Key] {
			doc = append(doc, m)
		}
	}
	return append(doc,
		canonical.Member{Key: KeyID, Value: c.ID},
		canonical.Member{Key: KeyDataHash, Value: c.DataHash},
		canonical.Member{Key: KeyCreatedAt, Value: c.CreatedAt.Format(time.RFC3339Nano)},
	), nil
}

// RegisterRequest carries a registration attempt into the service.
type RegisterRequest struct {
	Fields canonical.Object
	// ClaimedHash is the digest the client computed, if any.
	ClaimedHash string
}

// RegisterResult is the outcome of a registration.
type RegisterResult struct {
	Certificate *Certificate
	// Created is false when the digest was already registered and the existing
	// certificate is returned.
	Created bool
	QRCode  string
	Upload  *UploadInfo
}

// VerifyResult is the outcome of a verification.
type VerifyResult struct {
	Verified    bool
	Certificate *Certificate
	// Authoritative is set when the server compared a proof against the
	// stored record itself.
	Authoritative bool
	Reason        string
	Receipt       string
	// Method is how the digest was obtained: hash, fields or proof.
	Method string
	Upload *UploadInfo
}

// Verification failure reasons.
const (
	ReasonNotFound      = "not_found"
	ReasonHashMismatch  = "hash_mismatch"
	ReasonRecordAltered = "record_altered"
)

// Verification methods.
const (
	MethodHash   = "hash"
	MethodFields = "fields"
	MethodProof  = "proof"
)

// UploadInfo describes where in an uploaded PDF the payload was found.
type UploadInfo struct {
	// DocumentHash is the SHA-256 of the uploaded file, also its archive key.
	DocumentHash string
	Page         int
	Scale        float64
	Attempts     int
	Kind         string
}
