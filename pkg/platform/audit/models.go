package audit

import (
	"context"
	"time"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// route and retain them differently.
type EventCategory string

const (
	// CategoryCompliance covers events that change the registry of record.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected or suspicious requests.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine lookups and verifications.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	Timestamp     time.Time
	Action        string
	CertificateID string
	DataHash      string
	// InstitutionID is the capability subject that made the request, if any.
	InstitutionID string
	Decision      string
	Reason        string
	RequestID     string
	ClientIP      string
}

// Category derives the category from the action.
func (e Event) Category() EventCategory {
	return AuditEvent(e.Action).Category()
}

type AuditEvent string

const (
	EventCertificateRegistered AuditEvent = "certificate_registered"
	EventCertificateVerified   AuditEvent = "certificate_verified"
	EventVerificationFailed    AuditEvent = "verification_failed"
	EventUploadRejected        AuditEvent = "upload_rejected"
	EventRateLimitExceeded     AuditEvent = "rate_limit_exceeded"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventCertificateRegistered: CategoryCompliance,
	EventVerificationFailed:    CategorySecurity,
	EventUploadRejected:        CategorySecurity,
	EventRateLimitExceeded:     CategorySecurity,
	EventCertificateVerified:   CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events and lists them back per certificate.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByCertificate(ctx context.Context, certificateID string) ([]Event, error)
}

// Sink receives a copy of every persisted event (message brokers, SIEM).
type Sink interface {
	Publish(ctx context.Context, event Event) error
}
