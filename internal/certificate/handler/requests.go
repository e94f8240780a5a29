package handler

import (
	"bytes"
	"encoding/json"
	"strings"

	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
)

// CreateRecordRequest is the body of POST /api/create-record.
type CreateRecordRequest struct {
	CertificateData json.RawMessage `json:"certificateData"`
	DataHash        string          `json:"dataHash,omitempty"`

	// Populated by Validate, in source key order.
	fields canonical.Object
}

// Validate implements httputil.Validatable.
func (r *CreateRecordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	fields, err := decodeFields(r.CertificateData)
	if err != nil {
		return err
	}
	r.fields = fields

	r.DataHash = strings.TrimSpace(r.DataHash)
	if r.DataHash != "" && !canonical.ValidDigest(r.DataHash) {
		return dErrors.New(dErrors.CodeValidation, "dataHash must be a 64 character lowercase hex digest")
	}
	return nil
}

// Fields returns the decoded certificate data.
func (r *CreateRecordRequest) Fields() canonical.Object {
	return r.fields
}

// VerifyRecordRequest is the body of POST /api/verify-record. Exactly one of
// dataHash and certificateData is set.
type VerifyRecordRequest struct {
	DataHash        string          `json:"dataHash,omitempty"`
	CertificateData json.RawMessage `json:"certificateData,omitempty"`

	fields canonical.Object
}

// Validate implements httputil.Validatable.
func (r *VerifyRecordRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.DataHash = strings.TrimSpace(r.DataHash)
	hasData := !isAbsent(r.CertificateData)

	switch {
	case r.DataHash != "" && hasData:
		return dErrors.New(dErrors.CodeValidation, "provide either dataHash or certificateData, not both")
	case r.DataHash != "":
		if !canonical.ValidDigest(r.DataHash) {
			return dErrors.New(dErrors.CodeValidation, "dataHash must be a 64 character lowercase hex digest")
		}
		return nil
	case hasData:
		fields, err := decodeFields(r.CertificateData)
		if err != nil {
			return err
		}
		r.fields = fields
		return nil
	default:
		return dErrors.New(dErrors.CodeValidation, "dataHash or certificateData is required")
	}
}

// Fields returns the decoded certificate data, nil when verifying by hash.
func (r *VerifyRecordRequest) Fields() canonical.Object {
	return r.fields
}

// VerifyProofRequest is the body of POST /api/verify-proof.
type VerifyProofRequest struct {
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// Validate implements httputil.Validatable.
func (r *VerifyProofRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.ID = strings.TrimSpace(r.ID)
	r.Hash = strings.TrimSpace(r.Hash)
	if r.ID == "" {
		return dErrors.New(dErrors.CodeValidation, "id is required")
	}
	if r.Hash == "" {
		return dErrors.New(dErrors.CodeValidation, "hash is required")
	}
	if len(r.ID) > 128 {
		return dErrors.New(dErrors.CodeValidation, "id must be at most 128 characters")
	}
	return nil
}

func isAbsent(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// decodeFields parses raw as a non-empty JSON object, keeping key order.
func decodeFields(raw json.RawMessage) (canonical.Object, error) {
	if isAbsent(raw) {
		return nil, dErrors.New(dErrors.CodeValidation, "certificateData is required")
	}
	v, err := canonical.Decode(raw)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "certificateData is not valid JSON")
	}
	obj, ok := v.(canonical.Object)
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "certificateData must be a JSON object")
	}
	if len(obj) == 0 {
		return nil, dErrors.New(dErrors.CodeValidation, "certificateData must not be empty")
	}
	return obj, nil
}
