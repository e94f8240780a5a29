package service

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"certisure/internal/certificate/models"
	"certisure/internal/payload"
	"certisure/internal/scanner"
	dErrors "certisure/pkg/domain-errors"
	"certisure/pkg/platform/audit"
	"certisure/pkg/requestcontext"
)

// RegisterUpload scans pdf for a certificate payload, checks the required
// fields and registers it.
func (s *Service) RegisterUpload(ctx context.Context, pdf []byte) (*models.RegisterResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.RegisterUpload")
	defer span.End()

	info, text, err := s.scan(ctx, pdf)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	p, err := payload.ParseForCreation(text, s.rules)
	if err != nil {
		s.rejectUpload(ctx, info, err)
		recordSpanError(span, err)
		return nil, err
	}
	info.Kind = p.Kind.String()

	result, err := s.Register(ctx, models.RegisterRequest{Fields: p.Fields})
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	result.Upload = info
	span.SetAttributes(attribute.String("certificate.id", result.Certificate.ID))
	return result, nil
}

// VerifyUpload scans pdf and verifies what it finds: a proof goes through
// VerifyProof, raw fields through VerifyFields.
func (s *Service) VerifyUpload(ctx context.Context, pdf []byte) (*models.VerifyResult, error) {
	ctx, span := s.tracer.Start(ctx, "certificate.VerifyUpload")
	defer span.End()

	info, text, err := s.scan(ctx, pdf)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	p, err := payload.ParseForVerification(text)
	if err != nil {
		s.rejectUpload(ctx, info, err)
		recordSpanError(span, err)
		return nil, err
	}
	info.Kind = p.Kind.String()

	var result *models.VerifyResult
	if p.Kind == payload.KindProof {
		result, err = s.VerifyProof(ctx, p.Proof)
	} else {
		result, err = s.VerifyFields(ctx, p.Fields)
	}
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	result.Upload = info
	span.SetAttributes(attribute.Bool("certificate.verified", result.Verified))
	return result, nil
}

// scan archives pdf (best effort) and runs the QR search.
func (s *Service) scan(ctx context.Context, pdf []byte) (*models.UploadInfo, string, error) {
	if len(pdf) == 0 {
		err := dErrors.New(dErrors.CodeFileMissing, "a PDF file is required")
		s.rejectUpload(ctx, nil, err)
		return nil, "", err
	}
	if s.scanner == nil {
		return nil, "", dErrors.New(dErrors.CodeInternal, "PDF scanning is not configured")
	}

	info := &models.UploadInfo{}
	if s.archive != nil {
		digest, err := s.archive.Put(ctx, pdf)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to archive upload",
				"error", err,
				"request_id", requestcontext.RequestID(ctx),
			)
		}
		info.DocumentHash = digest
	}

	start := time.Now()
	res, err := s.scanner.Scan(ctx, pdf)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		s.metrics.ObserveScan(time.Since(start), 0)
		s.rejectUpload(ctx, info, err)
		return nil, "", err
	}
	s.metrics.ObserveScan(time.Since(start), res.Attempts)
	info.Page = res.Page
	info.Scale = res.Scale
	info.Attempts = res.Attempts

	s.logger.InfoContext(ctx, "qr payload found",
		"page", res.Page,
		"scale", res.Scale,
		"attempts", res.Attempts,
		"request_id", requestcontext.RequestID(ctx),
	)
	return info, res.Payload, nil
}

func (s *Service) rejectUpload(ctx context.Context, info *models.UploadInfo, err error) {
	code := dErrors.CodeOf(err)
	s.metrics.IncrementUploadRejection(string(code))
	documentHash := ""
	if info != nil {
		documentHash = info.DocumentHash
	}
	s.logger.WarnContext(ctx, "upload rejected",
		"code", string(code),
		"error", err,
		"document_hash", documentHash,
		"request_id", requestcontext.RequestID(ctx),
	)
	s.emit(ctx, audit.EventUploadRejected, "", documentHash, "rejected", string(code))
}

var _ Scanner = (*scanner.Scanner)(nil)
