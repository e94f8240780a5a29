// Package service registers certificates by canonical digest and verifies
// digests, field sets, proofs and uploaded PDFs against the registry.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certisure/internal/certificate/metrics"
	"certisure/internal/certificate/models"
	"certisure/internal/payload"
	"certisure/internal/scanner"
	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
	"certisure/pkg/platform/audit"
	"certisure/pkg/platform/sentinel"
	"certisure/pkg/requestcontext"
)

// Store persists certificates. Both the id and the digest are unique.
type Store interface {
	Create(ctx context.Context, cert *models.Certificate) error
	FindByID(ctx context.Context, id string) (*models.Certificate, error)
	FindByHash(ctx context.Context, hash string) (*models.Certificate, error)
}

// AuditPublisher records audit events.
type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Scanner finds the QR payload in a PDF.
type Scanner interface {
	Scan(ctx context.Context, pdf []byte) (*scanner.Result, error)
}

// Archive keeps uploaded PDFs by content digest.
type Archive interface {
	Put(ctx context.Context, data []byte) (string, error)
}

// ReceiptSigner attests verification outcomes. An empty receipt means signing
// is disabled.
type ReceiptSigner interface {
	SignReceipt(certificateID, dataHash string, verified bool, method string) (string, error)
}

// QREncoder renders the proof QR code returned on registration.
type QREncoder interface {
	DataURL(p payload.Proof) (string, error)
}

// Service is safe for concurrent use.
type Service struct {
	store    Store
	hasher   *canonical.Hasher
	auditor  AuditPublisher
	scanner  Scanner
	archive  Archive
	receipts ReceiptSigner
	qr       QREncoder
	rules    payload.Rules
	metrics  *metrics.Metrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

type Option func(*Service)

// WithHasher sets the hasher used for new registrations and recomputed digests.
func WithHasher(h *canonical.Hasher) Option {
	return func(s *Service) {
		s.hasher = h
	}
}

func WithAuditor(a AuditPublisher) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithScanner(sc Scanner) Option {
	return func(s *Service) {
		s.scanner = sc
	}
}

func WithArchive(a Archive) Option {
	return func(s *Service) {
		s.archive = a
	}
}

func WithReceipts(r ReceiptSigner) Option {
	return func(s *Service) {
		s.receipts = r
	}
}

func WithQREncoder(q QREncoder) Option {
	return func(s *Service) {
		s.qr = q
	}
}

// WithRules sets the required-field rules for uploaded creation payloads.
func WithRules(r payload.Rules) Option {
	return func(s *Service) {
		s.rules = r
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{
		store:  store,
		hasher: canonical.New(),
		rules:  payload.DefaultRules,
		logger: slog.Default(),
		tracer: otel.Tracer("certisure/certificate"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register stores fields under their server-computed digest. A claimed digest
// that differs is rejected with CodeHashMismatch. Registering the same content
// again returns the existing certificate with Created false.
func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Register")
	defer span.End()

	result, err := s.register(ctx, req)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.String("certificate.id", result.Certificate.ID),
		attribute.Bool("certificate.created", result.Created),
	)
	return result, nil
}

func (s *Service) register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResult, error) {
	if len(req.Fields) == 0 {
		s.metrics.IncrementRegistration("rejected")
		return nil, dErrors.New(dErrors.CodeValidation, "certificateData must be a non-empty object")
	}

	digest, err := s.hasher.Hash(req.Fields)
	if err != nil {
		s.metrics.IncrementRegistration("rejected")
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "certificateData cannot be hashed")
	}

	if req.ClaimedHash != "" && req.ClaimedHash != digest {
		s.metrics.IncrementRegistration("rejected")
		s.logger.WarnContext(ctx, "client digest does not match server digest",
			"claimed", req.ClaimedHash,
			"computed", digest,
			"request_id", requestcontext.RequestID(ctx),
		)
		s.emit(ctx, audit.EventUploadRejected, "", digest, "rejected", models.ReasonHashMismatch)
		return nil, dErrors.New(dErrors.CodeHashMismatch, "dataHash does not match the certificate data")
	}

	existing, err := s.store.FindByHash(ctx, digest)
	switch {
	case err == nil:
		s.metrics.IncrementRegistration("duplicate")
		return s.registered(ctx, existing, false)
	case !errors.Is(err, sentinel.ErrNotFound):
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up certificate")
	}

	cert, err := models.NewCertificate(req.Fields, digest, s.hasher.ArrayMode(),
		requestcontext.InstitutionID(ctx), requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}

	if err := s.store.Create(ctx, cert); err != nil {
		if !errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to save certificate")
		}
		// Lost a race with an identical registration.
		existing, findErr := s.store.FindByHash(ctx, digest)
		if findErr != nil {
			return nil, dErrors.Wrap(findErr, dErrors.CodeConflict, "certificate already registered")
		}
		s.metrics.IncrementRegistration("duplicate")
		return s.registered(ctx, existing, false)
	}

	s.metrics.IncrementRegistration("created")
	s.logger.InfoContext(ctx, "certificate registered",
		"certificate_id", cert.ID,
		"data_hash", cert.DataHash,
		"institution_id", cert.InstitutionID,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventCertificateRegistered, cert.ID, cert.DataHash, "registered", "")
	return s.registered(ctx, cert, true)
}

func (s *Service) registered(ctx context.Context, cert *models.Certificate, created bool) (*models.RegisterResult, error) {
	result := &models.RegisterResult{Certificate: cert, Created: created}
	if s.qr == nil {
		return result, nil
	}
	qr, err := s.qr.DataURL(payload.Proof{ID: cert.ID, Hash: cert.DataHash})
	if err != nil {
		// The certificate is stored; a missing QR image is not worth failing for.
		s.logger.ErrorContext(ctx, "failed to render proof QR code",
			"error", err,
			"certificate_id", cert.ID,
		)
		return result, nil
	}
	result.QRCode = qr
	return result, nil
}

// VerifyHash reports whether digest is registered. An unknown digest is a
// normal not-verified result, not an error.
func (s *Service) VerifyHash(ctx context.Context, digest string) (*models.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.VerifyHash")
	defer span.End()

	if !canonical.ValidDigest(digest) {
		err := dErrors.New(dErrors.CodeValidation, "dataHash must be a 64 character lowercase hex digest")
		recordSpanError(span, err)
		return nil, err
	}
	result, err := s.verifyDigest(ctx, digest, models.MethodHash)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("certificate.verified", result.Verified))
	return result, nil
}

// VerifyFields hashes fields with the server scheme and looks the digest up.
// On a miss the other array modes are tried, and a hit there counts only when
// the record was registered under that mode.
func (s *Service) VerifyFields(ctx context.Context, fields canonical.Object) (*models.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.VerifyFields")
	defer span.End()

	if len(fields) == 0 {
		err := dErrors.New(dErrors.CodeValidation, "certificateData must be a non-empty object")
		recordSpanError(span, err)
		return nil, err
	}
	digest, err := s.hasher.Hash(fields)
	if err != nil {
		err = dErrors.Wrap(err, dErrors.CodeValidation, "certificateData cannot be hashed")
		recordSpanError(span, err)
		return nil, err
	}
	cert, err := s.findFields(ctx, fields, digest)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	var result *models.VerifyResult
	if cert == nil {
		result, err = s.outcome(ctx, nil, digest, models.MethodFields, false, models.ReasonNotFound, false)
	} else {
		result, err = s.outcome(ctx, cert, cert.DataHash, models.MethodFields, true, "", false)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("certificate.verified", result.Verified))
	return result, nil
}

// findFields looks digest up, then the digests of fields under every other
// array mode. It returns nil when nothing registered matches.
func (s *Service) findFields(ctx context.Context, fields canonical.Object, digest string) (*models.Certificate, error) {
	cert, err := s.lookup(ctx, digest)
	if cert != nil || err != nil {
		return cert, err
	}
	tried := map[string]bool{digest: true}
	for _, mode := range []canonical.ArrayMode{canonical.ArraysVerbatim, canonical.ArraysRecursive, canonical.ArraysIndexed} {
		if mode == s.hasher.ArrayMode() {
			continue
		}
		alt, err := canonical.New(canonical.WithArrayMode(mode)).Hash(fields)
		if err != nil || tried[alt] {
			continue
		}
		tried[alt] = true
		cert, err := s.lookup(ctx, alt)
		if err != nil {
			return nil, err
		}
		if cert != nil && cert.ArrayMode == mode {
			s.logger.DebugContext(ctx, "certificate matched under its registered array mode",
				"certificate_id", cert.ID,
				"array_mode", mode.String(),
			)
			return cert, nil
		}
	}
	return nil, nil
}

func (s *Service) lookup(ctx context.Context, digest string) (*models.Certificate, error) {
	cert, err := s.store.FindByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up certificate")
	}
	return cert, nil
}

func (s *Service) verifyDigest(ctx context.Context, digest, method string) (*models.VerifyResult, error) {
	cert, err := s.store.FindByHash(ctx, digest)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.outcome(ctx, nil, digest, method, false, models.ReasonNotFound, false)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up certificate")
	}
	return s.outcome(ctx, cert, digest, method, true, "", false)
}

// VerifyProof checks a {id, hash} proof against the stored record. The stored
// digest must equal the proof hash and must still match the stored data.
// Only this path is authoritative.
func (s *Service) VerifyProof(ctx context.Context, proof payload.Proof) (*models.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.VerifyProof")
	defer span.End()

	result, err := s.verifyProof(ctx, proof)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	span.SetAttributes(
		attribute.Bool("certificate.verified", result.Verified),
		attribute.String("certificate.reason", result.Reason),
	)
	return result, nil
}

func (s *Service) verifyProof(ctx context.Context, proof payload.Proof) (*models.VerifyResult, error) {
	if proof.ID == "" || proof.Hash == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "id and hash are required")
	}

	cert, err := s.store.FindByID(ctx, proof.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return s.outcome(ctx, nil, proof.Hash, models.MethodProof, false, models.ReasonNotFound, true)
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to look up certificate")
	}

	if subtle.ConstantTimeCompare([]byte(proof.Hash), []byte(cert.DataHash)) != 1 {
		return s.outcome(ctx, cert, proof.Hash, models.MethodProof, false, models.ReasonHashMismatch, true)
	}

	recomputed, err := s.recompute(cert)
	if err != nil {
		return nil, err
	}
	if recomputed != cert.DataHash {
		s.logger.ErrorContext(ctx, "stored certificate no longer matches its digest",
			"certificate_id", cert.ID,
			"stored", cert.DataHash,
			"recomputed", recomputed,
			"request_id", requestcontext.RequestID(ctx),
		)
		return s.outcome(ctx, cert, proof.Hash, models.MethodProof, false, models.ReasonRecordAltered, true)
	}

	return s.outcome(ctx, cert, proof.Hash, models.MethodProof, true, "", true)
}

// recompute hashes the stored data with the scheme it was registered under.
func (s *Service) recompute(cert *models.Certificate) (string, error) {
	fields, err := cert.Fields()
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "stored certificate data is unreadable")
	}
	hasher := s.hasher
	if cert.ArrayMode != hasher.ArrayMode() {
		hasher = canonical.New(canonical.WithArrayMode(cert.ArrayMode))
	}
	digest, err := hasher.Hash(fields)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "stored certificate data cannot be hashed")
	}
	return digest, nil
}

func (s *Service) outcome(ctx context.Context, cert *models.Certificate, digest, method string, verified bool, reason string, authoritative bool) (*models.VerifyResult, error) {
	result := &models.VerifyResult{
		Verified:      verified,
		Authoritative: authoritative,
		Reason:        reason,
		Method:        method,
	}
	certID := ""
	if verified {
		result.Certificate = cert
	}
	if cert != nil {
		certID = cert.ID
	}

	s.metrics.IncrementVerification(method, verified)
	if verified {
		s.emit(ctx, audit.EventCertificateVerified, certID, digest, "verified", method)
	} else {
		s.emit(ctx, audit.EventVerificationFailed, certID, digest, "not_verified", reason)
	}

	if s.receipts != nil {
		receipt, err := s.receipts.SignReceipt(certID, digest, verified, method)
		if err != nil {
			s.logger.ErrorContext(ctx, "failed to sign verification receipt",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		result.Receipt = receipt
	}
	return result, nil
}

// Get returns a registered certificate by id.
func (s *Service) Get(ctx context.Context, id string) (*models.Certificate, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.Get")
	defer span.End()

	if id == "" {
		err := dErrors.New(dErrors.CodeBadRequest, "certificate id is required")
		recordSpanError(span, err)
		return nil, err
	}
	cert, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			err = dErrors.New(dErrors.CodeNotFound, "certificate not found")
		} else {
			err = dErrors.Wrap(err, dErrors.CodeInternal, "failed to load certificate")
		}
		recordSpanError(span, err)
		return nil, err
	}
	return cert, nil
}

func (s *Service) emit(ctx context.Context, action audit.AuditEvent, certID, digest, decision, reason string) {
	if s.auditor == nil {
		return
	}
	err := s.auditor.Emit(ctx, audit.Event{
		Action:        string(action),
		CertificateID: certID,
		DataHash:      digest,
		InstitutionID: requestcontext.InstitutionID(ctx),
		Decision:      decision,
		Reason:        reason,
		RequestID:     requestcontext.RequestID(ctx),
		ClientIP:      requestcontext.ClientIP(ctx),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "failed to emit audit event",
			"action", string(action),
			"error", err,
		)
	}
}

func recordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
}
