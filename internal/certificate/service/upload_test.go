package service

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"certisure/internal/archive"
	"certisure/internal/certificate/models"
	"certisure/internal/scanner"
	dErrors "certisure/pkg/domain-errors"
	"certisure/pkg/platform/audit"
)

type stubScanner struct {
	result *scanner.Result
	err    error
	calls  int
}

func (f *stubScanner) Scan(_ context.Context, _ []byte) (*scanner.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.result, nil
}

var pdf = []byte("%PDF-1.7 certificate")

func (s *ServiceSuite) uploadService(sc Scanner, opts ...Option) *Service {
	base := []Option{
		WithScanner(sc),
		WithAuditor(recorder{store: s.events}),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return New(s.store, append(base, opts...)...)
}

func (s *ServiceSuite) TestRegisterUpload() {
	files, err := archive.NewFileStore(s.T().TempDir())
	s.Require().NoError(err)
	sc := &stubScanner{result: &scanner.Result{
		Payload:  `{"studentName":"John Doe","courseName":"Web Development"}`,
		Page:     1,
		Scale:    2,
		Attempts: 2,
	}}
	svc := s.uploadService(sc, WithArchive(files))

	res, err := svc.RegisterUpload(s.ctx, pdf)
	s.Require().NoError(err)
	s.True(res.Created)
	s.Equal(johnDoeDigest, res.Certificate.DataHash)
	s.Require().NotNil(res.Upload)
	s.Equal(archive.Digest(pdf), res.Upload.DocumentHash)
	s.Equal(2.0, res.Upload.Scale)
	s.Equal("fields", res.Upload.Kind)

	stored, err := files.Exists(s.ctx, archive.Digest(pdf))
	s.Require().NoError(err)
	s.True(stored)
}

func (s *ServiceSuite) TestRegisterUpload_Rejections() {
	tests := []struct {
		name    string
		pdf     []byte
		scanner *stubScanner
		want    dErrors.Code
	}{
		{"no file", nil, &stubScanner{}, dErrors.CodeFileMissing},
		{"no symbol", pdf, &stubScanner{err: dErrors.New(dErrors.CodeDecodeFailure, "no QR code found")}, dErrors.CodeDecodeFailure},
		{"missing course", pdf, &stubScanner{result: &scanner.Result{Payload: `{"studentName":"Ann"}`}}, dErrors.CodePayloadSchemaInvalid},
		{"proof is not registrable", pdf, &stubScanner{result: &scanner.Result{Payload: `{"id":"a","hash":"b"}`}}, dErrors.CodePayloadSchemaInvalid},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.uploadService(tt.scanner).RegisterUpload(s.ctx, tt.pdf)
			s.Require().Error(err)
			s.Equal(tt.want, dErrors.CodeOf(err))
		})
	}
	s.Contains(s.actions(), string(audit.EventUploadRejected))
}

func (s *ServiceSuite) TestVerifyUpload() {
	cert := s.register(`{"studentName":"John Doe","courseName":"Web Development"}`)

	s.Run("proof payload", func() {
		sc := &stubScanner{result: &scanner.Result{Payload: `{"id":"` + cert.ID + `","hash":"` + cert.DataHash + `"}`, Page: 1, Scale: 1.5, Attempts: 1}}
		res, err := s.uploadService(sc).VerifyUpload(s.ctx, pdf)
		s.Require().NoError(err)
		s.True(res.Verified)
		s.True(res.Authoritative)
		s.Equal(models.MethodProof, res.Method)
		s.Equal("proof", res.Upload.Kind)
	})

	s.Run("raw fields payload", func() {
		sc := &stubScanner{result: &scanner.Result{Payload: `{"courseName":"Web Development","studentName":"John Doe"}`}}
		res, err := s.uploadService(sc).VerifyUpload(s.ctx, pdf)
		s.Require().NoError(err)
		s.True(res.Verified)
		s.False(res.Authoritative)
		s.Equal(models.MethodFields, res.Method)
	})

	s.Run("record registered without creation fields", func() {
		other := s.register(`{"certificateId":"C-1","issueDate":"2024-05-01","institution":"MIT"}`)
		sc := &stubScanner{result: &scanner.Result{Payload: `{"institution":"MIT","certificateId":"C-1","issueDate":"2024-05-01"}`}}
		res, err := s.uploadService(sc).VerifyUpload(s.ctx, pdf)
		s.Require().NoError(err)
		s.True(res.Verified)
		s.Equal(other.ID, res.Certificate.ID)
	})

	s.Run("unregistered fields", func() {
		sc := &stubScanner{result: &scanner.Result{Payload: `{"studentName":"Mallory","courseName":"Web Development"}`}}
		res, err := s.uploadService(sc).VerifyUpload(s.ctx, pdf)
		s.Require().NoError(err)
		s.False(res.Verified)
	})

	s.Run("non json payload", func() {
		sc := &stubScanner{err: dErrors.New(dErrors.CodePayloadNotJSON, "QR code does not contain JSON")}
		_, err := s.uploadService(sc).VerifyUpload(s.ctx, pdf)
		s.Equal(dErrors.CodePayloadNotJSON, dErrors.CodeOf(err))
	})

	s.Run("cancelled request", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		sc := &stubScanner{err: context.Canceled}
		_, err := s.uploadService(sc).VerifyUpload(ctx, pdf)
		s.True(errors.Is(err, context.Canceled))
	})

	s.Run("scanner not configured", func() {
		_, err := New(s.store).VerifyUpload(s.ctx, pdf)
		s.True(dErrors.Is(err, dErrors.CodeInternal))
	})
}
