// Package handler exposes the certificate service over HTTP.
package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"certisure/internal/capability"
	"certisure/internal/certificate/models"
	"certisure/internal/payload"
	"certisure/internal/platform/middleware"
	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
	"certisure/pkg/platform/httputil"
	"certisure/pkg/requestcontext"
)

// Service defines the certificate operations the handler needs.
type Service interface {
	Register(ctx context.Context, req models.RegisterRequest) (*models.RegisterResult, error)
	VerifyHash(ctx context.Context, digest string) (*models.VerifyResult, error)
	VerifyFields(ctx context.Context, fields canonical.Object) (*models.VerifyResult, error)
	VerifyProof(ctx context.Context, proof payload.Proof) (*models.VerifyResult, error)
	Get(ctx context.Context, id string) (*models.Certificate, error)
	RegisterUpload(ctx context.Context, pdf []byte) (*models.RegisterResult, error)
	VerifyUpload(ctx context.Context, pdf []byte) (*models.VerifyResult, error)
}

// UploadLimiter rate limits the upload endpoints by request class.
type UploadLimiter interface {
	RateLimit(class string) func(http.Handler) http.Handler
}

// Rate limit classes for the upload endpoints.
const (
	ClassUploadCreation     = "upload_creation"
	ClassUploadVerification = "upload_verification"
)

// DefaultMaxUploadBytes bounds multipart uploads when no limit is configured.
const DefaultMaxUploadBytes = 10 << 20

// uploadField is the multipart field carrying the PDF.
const uploadField = "file"

// Handler wires certificate endpoints to the certificate service.
type Handler struct {
	service        Service
	logger         *slog.Logger
	capabilities   middleware.CapabilityValidator
	limiter        UploadLimiter
	maxUploadBytes int64
}

type Option func(*Handler)

// WithCapabilities gates registration and verification routes on bearer
// capability tokens.
func WithCapabilities(v middleware.CapabilityValidator) Option {
	return func(h *Handler) {
		h.capabilities = v
	}
}

// WithUploadLimiter rate limits the upload endpoints.
func WithUploadLimiter(l UploadLimiter) Option {
	return func(h *Handler) {
		h.limiter = l
	}
}

// WithMaxUploadBytes bounds the size of an uploaded PDF.
func WithMaxUploadBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxUploadBytes = n
		}
	}
}

// New constructs a certificate handler with its dependencies.
func New(service Service, logger *slog.Logger, opts ...Option) *Handler {
	h := &Handler{
		service:        service,
		logger:         logger,
		maxUploadBytes: DefaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts certificate endpoints on the router.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCapability(h.capabilities, capability.Register, h.logger))
		r.Post("/api/create-record", h.HandleCreateRecord)
		r.Post("/api/certificates", h.HandleCreateCertificate)
		r.With(h.rateLimit(ClassUploadCreation)).Post("/api/upload-for-creation", h.HandleUploadForCreation)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireCapability(h.capabilities, capability.Verify, h.logger))
		r.Post("/api/verify-record", h.HandleVerifyRecord)
		r.Post("/api/verify-proof", h.HandleVerifyProof)
		r.Get("/api/certificates/{id}", h.HandleGetCertificate)
		r.With(h.rateLimit(ClassUploadVerification)).Post("/api/upload-for-verification", h.HandleUploadForVerification)
	})
}

func (h *Handler) rateLimit(class string) func(http.Handler) http.Handler {
	if h.limiter == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return h.limiter.RateLimit(class)
}

// HandleCreateRecord handles POST /api/create-record requests.
func (h *Handler) HandleCreateRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[CreateRecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.Register(ctx, models.RegisterRequest{
		Fields:      req.Fields(),
		ClaimedHash: req.DataHash,
	})
	if err != nil {
		h.fail(ctx, w, "certificate registration failed", err)
		return
	}
	h.writeRecord(ctx, w, result)
}

// HandleCreateCertificate handles POST /api/certificates, whose body is the
// certificate fields themselves.
func (h *Handler) HandleCreateCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, httputil.MaxBodyBytes))
	if err != nil {
		h.fail(ctx, w, "failed to read request body", dErrors.Wrap(err, dErrors.CodeBadRequest, "request body too large"))
		return
	}
	fields, err := decodeFields(body)
	if err != nil {
		h.fail(ctx, w, "invalid certificate body", err)
		return
	}

	result, err := h.service.Register(ctx, models.RegisterRequest{Fields: fields})
	if err != nil {
		h.fail(ctx, w, "certificate registration failed", err)
		return
	}
	doc, err := result.Certificate.Document()
	if err != nil {
		h.fail(ctx, w, "failed to render certificate", err)
		return
	}

	msg := msgRegistered
	status := http.StatusCreated
	if !result.Created {
		msg = msgAlreadyRegistered
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, &LegacyCreateResponse{
		Message:       msg,
		CertificateID: result.Certificate.ID,
		QRCode:        result.QRCode,
		Certificate:   doc,
	})
}

// HandleVerifyRecord handles POST /api/verify-record requests.
func (h *Handler) HandleVerifyRecord(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyRecordRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	var (
		result *models.VerifyResult
		err    error
	)
	if req.DataHash != "" {
		result, err = h.service.VerifyHash(ctx, req.DataHash)
	} else {
		result, err = h.service.VerifyFields(ctx, req.Fields())
	}
	if err != nil {
		h.fail(ctx, w, "certificate verification failed", err)
		return
	}
	h.writeVerify(ctx, w, result)
}

// HandleVerifyProof handles POST /api/verify-proof requests.
func (h *Handler) HandleVerifyProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[VerifyProofRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	result, err := h.service.VerifyProof(ctx, payload.Proof{ID: req.ID, Hash: req.Hash})
	if err != nil {
		h.fail(ctx, w, "proof verification failed", err)
		return
	}
	h.writeVerify(ctx, w, result)
}

// HandleGetCertificate handles GET /api/certificates/{id} requests.
func (h *Handler) HandleGetCertificate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cert, err := h.service.Get(ctx, chi.URLParam(r, "id"))
	if err != nil {
		h.fail(ctx, w, "certificate lookup failed", err)
		return
	}
	doc, err := cert.Document()
	if err != nil {
		h.fail(ctx, w, "failed to render certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &CertificateResponse{Message: msgFound, Certificate: doc})
}

// HandleUploadForCreation handles POST /api/upload-for-creation requests.
func (h *Handler) HandleUploadForCreation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	pdf, err := h.readUpload(w, r)
	if err != nil {
		h.fail(ctx, w, "invalid upload", err)
		return
	}
	result, err := h.service.RegisterUpload(ctx, pdf)
	if err != nil {
		h.fail(ctx, w, "upload registration failed", err)
		return
	}
	h.logger.InfoContext(ctx, "upload registered",
		"request_id", requestcontext.RequestID(ctx),
		"certificate_id", result.Certificate.ID,
		"created", result.Created,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	h.writeRecord(ctx, w, result)
}

// HandleUploadForVerification handles POST /api/upload-for-verification requests.
func (h *Handler) HandleUploadForVerification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	start := time.Now()

	pdf, err := h.readUpload(w, r)
	if err != nil {
		h.fail(ctx, w, "invalid upload", err)
		return
	}
	result, err := h.service.VerifyUpload(ctx, pdf)
	if err != nil {
		h.fail(ctx, w, "upload verification failed", err)
		return
	}
	h.logger.InfoContext(ctx, "upload verified",
		"request_id", requestcontext.RequestID(ctx),
		"verified", result.Verified,
		"method", result.Method,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	h.writeVerify(ctx, w, result)
}

// readUpload returns the bytes of the "file" part of a multipart body.
func (h *Handler) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "uploaded file is too large")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeFileMissing, "a multipart PDF upload is required")
	}
	defer func() {
		_ = r.MultipartForm.RemoveAll()
	}()

	file, _, err := r.FormFile(uploadField)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeFileMissing, "a PDF file is required in the \"file\" field")
	}
	defer file.Close()

	pdf, err := io.ReadAll(file)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeBadRequest, "failed to read uploaded file")
	}
	if len(pdf) == 0 {
		return nil, dErrors.New(dErrors.CodeFileMissing, "uploaded file is empty")
	}
	return pdf, nil
}

func (h *Handler) writeRecord(ctx context.Context, w http.ResponseWriter, result *models.RegisterResult) {
	resp, err := toRecordResponse(result)
	if err != nil {
		h.fail(ctx, w, "failed to render certificate", err)
		return
	}
	status := http.StatusCreated
	if !result.Created {
		status = http.StatusOK
	}
	httputil.WriteJSON(w, status, resp)
}

func (h *Handler) writeVerify(ctx context.Context, w http.ResponseWriter, result *models.VerifyResult) {
	resp, err := toVerifyResponse(result)
	if err != nil {
		h.fail(ctx, w, "failed to render certificate", err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) fail(ctx context.Context, w http.ResponseWriter, msg string, err error) {
	level := slog.LevelWarn
	if httputil.StatusFor(dErrors.CodeOf(err)) >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(ctx, level, msg,
		"request_id", requestcontext.RequestID(ctx),
		"error", err,
	)
	httputil.WriteError(w, err)
}
