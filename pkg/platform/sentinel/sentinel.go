package sentinel

import "errors"

// Sentinel errors for infrastructure facts. Stores, caches and archives return
// these (optionally wrapped) so services can translate them into domain errors.
//
// - ErrNotFound: no certificate or object under the requested key
// - ErrConflict: a record with the same unique key already exists
// - ErrUnavailable: backing service unreachable or temporarily failing
//
// For validation errors (bad input, missing fields), use pkg/domain-errors directly.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrUnavailable = errors.New("unavailable")
)
