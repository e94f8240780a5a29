// Package domainerrors carries typed error codes across service boundaries.
//
// Services return *Error values (optionally wrapping a cause). Transport layers
// translate the Code into a status; callers test for a kind with Is or with
// errors.Is against a freshly built error of the same code.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code identifies an error kind.
type Code string

const (
	// Service codes.
	CodeBadRequest   Code = "bad_request"
	CodeValidation   Code = "validation_error"
	CodeNotFound     Code = "not_found"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"
	CodeRateLimited  Code = "rate_limited"
	CodeInternal     Code = "internal_error"

	// Upload and verification flow codes.
	CodeFileMissing          Code = "file_missing"
	CodeDecodeFailure        Code = "decode_failure"
	CodePayloadNotJSON       Code = "payload_not_json"
	CodePayloadSchemaInvalid Code = "payload_schema_invalid"
	CodeNetworkFailure       Code = "network_failure"
	CodeServerRejected       Code = "server_rejected"
	CodeHashMismatch         Code = "hash_mismatch"
)

// Error is a domain error with a stable code and a user-facing message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error carrying the same code, so errors.Is(err, New(code, "")) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// New builds a domain error.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap builds a domain error that keeps err as its cause.
func Wrap(err error, code Code, msg string) error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Is reports whether err (or anything it wraps) is a domain error with the given code.
func Is(err error, code Code) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Code == code
	}
	return false
}

// CodeOf returns the code of the first domain error in err's chain, or CodeInternal.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}
	return CodeInternal
}

// MessageOf returns the user-facing message of the first domain error in err's chain.
func MessageOf(err error) string {
	var de *Error
	if errors.As(err, &de) {
		return de.Message
	}
	return "internal error"
}
