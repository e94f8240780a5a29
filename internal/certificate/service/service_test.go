package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/suite"

	"certisure/internal/capability"
	"certisure/internal/certificate/metrics"
	"certisure/internal/certificate/models"
	"certisure/internal/certificate/store/certificate"
	"certisure/internal/payload"
	"certisure/internal/proofqr"
	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
	"certisure/pkg/platform/audit"
	auditmemory "certisure/pkg/platform/audit/store/memory"
	"certisure/pkg/platform/sentinel"
	"certisure/pkg/requestcontext"
)

const johnDoeDigest = "8c642c59a79e8115aaee483ea89ab515adc6745a0bff5f53147b8ebce520acb0"

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	store    *certificate.InMemory
	events   *auditmemory.InMemoryStore
	metrics  *metrics.Metrics
	receipts *capability.Service
	service  *Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

// recorder appends straight to the in-memory audit store.
type recorder struct {
	store *auditmemory.InMemoryStore
}

func (r recorder) Emit(ctx context.Context, e audit.Event) error {
	return r.store.Append(ctx, e)
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithInstitution(context.Background(), "tech-university")
	s.ctx = requestcontext.WithRequestID(s.ctx, "req-1")
	s.store = certificate.NewInMemory()
	s.events = auditmemory.NewInMemoryStore()
	s.metrics = metrics.NewWithRegisterer(prometheus.NewRegistry())
	s.receipts = capability.New("receipt-key", "certisure", "certisure-api")
	s.service = New(s.store,
		WithAuditor(recorder{store: s.events}),
		WithReceipts(s.receipts),
		WithQREncoder(proofqr.New()),
		WithMetrics(s.metrics),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func (s *ServiceSuite) fields(js string) canonical.Object {
	v, err := canonical.Decode([]byte(js))
	s.Require().NoError(err)
	return v.(canonical.Object)
}

func (s *ServiceSuite) register(js string) *models.Certificate {
	res, err := s.service.Register(s.ctx, models.RegisterRequest{Fields: s.fields(js)})
	s.Require().NoError(err)
	return res.Certificate
}

func (s *ServiceSuite) actions() []string {
	events, err := s.events.ListRecent(s.ctx, 100)
	s.Require().NoError(err)
	var out []string
	for _, e := range events {
		out = append(out, e.Action)
	}
	return out
}

func (s *ServiceSuite) TestRegister() {
	s.Run("stores the server digest and returns a proof QR", func() {
		res, err := s.service.Register(s.ctx, models.RegisterRequest{
			Fields: s.fields(`{"studentName":"John Doe","courseName":"Web Development"}`),
		})
		s.Require().NoError(err)
		s.True(res.Created)
		s.Equal(johnDoeDigest, res.Certificate.DataHash)
		s.Equal("tech-university", res.Certificate.InstitutionID)
		s.Contains(res.QRCode, "data:image/png;base64,")
		s.Contains(s.actions(), string(audit.EventCertificateRegistered))
	})

	s.Run("same content in another key order is a duplicate", func() {
		first, err := s.store.FindByHash(s.ctx, johnDoeDigest)
		s.Require().NoError(err)

		res, err := s.service.Register(s.ctx, models.RegisterRequest{
			Fields:      s.fields(`{"courseName":"Web Development","studentName":"John Doe"}`),
			ClaimedHash: johnDoeDigest,
		})
		s.Require().NoError(err)
		s.False(res.Created)
		s.Equal(first.ID, res.Certificate.ID)
		s.Equal(1.0, testutil.ToFloat64(s.metrics.Registrations.WithLabelValues("duplicate")))
	})

	s.Run("claimed digest must match", func() {
		_, err := s.service.Register(s.ctx, models.RegisterRequest{
			Fields:      s.fields(`{"studentName":"Ann","courseName":"Go"}`),
			ClaimedHash: johnDoeDigest,
		})
		s.Require().Error(err)
		s.Equal(dErrors.CodeHashMismatch, dErrors.CodeOf(err))

		n, err := s.store.Count(s.ctx)
		s.Require().NoError(err)
		s.Equal(1, n, "nothing stored on mismatch")
	})

	s.Run("empty data rejected", func() {
		_, err := s.service.Register(s.ctx, models.RegisterRequest{Fields: canonical.Object{}})
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestRegister_RecoversFromCreateRace() {
	racy := &racingStore{InMemory: s.store}
	svc := New(racy, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	res, err := svc.Register(s.ctx, models.RegisterRequest{
		Fields: s.fields(`{"studentName":"John Doe","courseName":"Web Development"}`),
	})
	s.Require().NoError(err)
	s.False(res.Created)
	s.Equal(racy.winner.ID, res.Certificate.ID)
}

func (s *ServiceSuite) TestVerifyHash() {
	cert := s.register(`{"studentName":"John Doe","courseName":"Web Development"}`)

	s.Run("registered digest verifies with a receipt", func() {
		res, err := s.service.VerifyHash(s.ctx, johnDoeDigest)
		s.Require().NoError(err)
		s.True(res.Verified)
		s.False(res.Authoritative)
		s.Equal(cert.ID, res.Certificate.ID)

		claims, err := s.receipts.ParseReceipt(res.Receipt)
		s.Require().NoError(err)
		s.True(claims.Verified)
		s.Equal(models.MethodHash, claims.Method)
	})

	s.Run("unknown digest is not verified", func() {
		res, err := s.service.VerifyHash(s.ctx, canonical.HashBytes([]byte("nope")))
		s.Require().NoError(err)
		s.False(res.Verified)
		s.Nil(res.Certificate)
		s.Equal(models.ReasonNotFound, res.Reason)
	})

	s.Run("malformed digest", func() {
		_, err := s.service.VerifyHash(s.ctx, "ABC")
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestVerifyFieldsMatchesVerifyHash() {
	s.register(`{"studentName":"John Doe","courseName":"Web Development","scores":[1,2]}`)

	byFields, err := s.service.VerifyFields(s.ctx, s.fields(`{"scores":[1,2],"courseName":"Web Development","studentName":"John Doe"}`))
	s.Require().NoError(err)
	s.True(byFields.Verified)

	digest, err := canonical.StableHash(s.fields(`{"studentName":"John Doe","courseName":"Web Development","scores":[1,2]}`))
	s.Require().NoError(err)
	byHash, err := s.service.VerifyHash(s.ctx, digest)
	s.Require().NoError(err)
	s.Equal(byHash.Verified, byFields.Verified)
	s.Equal(byHash.Certificate.ID, byFields.Certificate.ID)

	reordered, err := s.service.VerifyFields(s.ctx, s.fields(`{"scores":[2,1],"courseName":"Web Development","studentName":"John Doe"}`))
	s.Require().NoError(err)
	s.False(reordered.Verified, "array order is significant")
}

func (s *ServiceSuite) TestVerifyProof() {
	cert := s.register(`{"studentName":"John Doe","courseName":"Web Development"}`)

	s.Run("valid proof is authoritative", func() {
		res, err := s.service.VerifyProof(s.ctx, payload.Proof{ID: cert.ID, Hash: cert.DataHash})
		s.Require().NoError(err)
		s.True(res.Verified)
		s.True(res.Authoritative)
		s.NotEmpty(res.Receipt)
	})

	s.Run("wrong hash", func() {
		res, err := s.service.VerifyProof(s.ctx, payload.Proof{ID: cert.ID, Hash: canonical.HashBytes([]byte("x"))})
		s.Require().NoError(err)
		s.False(res.Verified)
		s.Equal(models.ReasonHashMismatch, res.Reason)
		s.Nil(res.Certificate)
	})

	s.Run("unknown id", func() {
		res, err := s.service.VerifyProof(s.ctx, payload.Proof{ID: "missing", Hash: cert.DataHash})
		s.Require().NoError(err)
		s.False(res.Verified)
		s.Equal(models.ReasonNotFound, res.Reason)
	})

	s.Run("empty proof", func() {
		_, err := s.service.VerifyProof(s.ctx, payload.Proof{})
		s.True(dErrors.Is(err, dErrors.CodeValidation))
	})
}

func (s *ServiceSuite) TestVerifyProof_DetectsAlteredRecord() {
	cert := s.register(`{"studentName":"John Doe","courseName":"Web Development"}`)
	tampered := &tamperingStore{InMemory: s.store, data: []byte(`{"studentName":"Jane Doe","courseName":"Web Development"}`)}
	svc := New(tampered, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	res, err := svc.VerifyProof(s.ctx, payload.Proof{ID: cert.ID, Hash: cert.DataHash})
	s.Require().NoError(err)
	s.False(res.Verified)
	s.Equal(models.ReasonRecordAltered, res.Reason)
}

func (s *ServiceSuite) TestVerifyProof_UsesRegisteredArrayMode() {
	recursive := New(s.store, WithHasher(canonical.New(canonical.WithArrayMode(canonical.ArraysRecursive))))
	res, err := recursive.Register(s.ctx, models.RegisterRequest{
		Fields: s.fields(`{"studentName":"Ann","courseName":"Go","modules":[{"b":1,"a":2}]}`),
	})
	s.Require().NoError(err)

	// Verified by a service whose default scheme differs.
	out, err := s.service.VerifyProof(s.ctx, payload.Proof{ID: res.Certificate.ID, Hash: res.Certificate.DataHash})
	s.Require().NoError(err)
	s.True(out.Verified)
}

func (s *ServiceSuite) TestVerifyFields_FindsRecordsFromAnotherArrayMode() {
	js := `{"studentName":"Ann","courseName":"Go","modules":[{"b":1,"a":2}]}`
	recursive := New(s.store, WithHasher(canonical.New(canonical.WithArrayMode(canonical.ArraysRecursive))))
	res, err := recursive.Register(s.ctx, models.RegisterRequest{Fields: s.fields(js)})
	s.Require().NoError(err)

	verbatim, err := canonical.New().Hash(s.fields(js))
	s.Require().NoError(err)
	s.Require().NotEqual(res.Certificate.DataHash, verbatim)

	out, err := s.service.VerifyFields(s.ctx, s.fields(js))
	s.Require().NoError(err)
	s.True(out.Verified)
	s.Equal(res.Certificate.ID, out.Certificate.ID)

	byHash, err := s.service.VerifyHash(s.ctx, verbatim)
	s.Require().NoError(err)
	s.False(byHash.Verified, "a digest is looked up as given")

	s.Run("other data still misses", func() {
		out, err := s.service.VerifyFields(s.ctx, s.fields(`{"studentName":"Ann","courseName":"Go","modules":[{"b":1,"a":3}]}`))
		s.Require().NoError(err)
		s.False(out.Verified)
		s.Equal(models.ReasonNotFound, out.Reason)
	})
}

func (s *ServiceSuite) TestGet() {
	cert := s.register(`{"studentName":"John Doe","courseName":"Web Development"}`)

	got, err := s.service.Get(s.ctx, cert.ID)
	s.Require().NoError(err)
	s.Equal(cert.DataHash, got.DataHash)

	_, err = s.service.Get(s.ctx, "missing")
	s.True(dErrors.Is(err, dErrors.CodeNotFound))

	failing := New(&brokenStore{}, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	_, err = failing.Get(s.ctx, cert.ID)
	s.True(dErrors.Is(err, dErrors.CodeInternal))
}

func (s *ServiceSuite) TestReceiptsDisabled() {
	svc := New(s.store, WithReceipts(capability.New("", "", "")))
	cert := s.register(`{"studentName":"John Doe","courseName":"Web Development"}`)

	res, err := svc.VerifyHash(s.ctx, cert.DataHash)
	s.Require().NoError(err)
	s.True(res.Verified)
	s.Empty(res.Receipt)
}

// racingStore simulates another request registering the same digest between
// the duplicate check and the insert.
type racingStore struct {
	*certificate.InMemory
	winner *models.Certificate
	raced  bool
}

func (r *racingStore) Create(ctx context.Context, c *models.Certificate) error {
	if !r.raced {
		r.raced = true
		winner := *c
		winner.ID = "winner-id"
		r.winner = &winner
		if err := r.InMemory.Create(ctx, &winner); err != nil {
			return err
		}
	}
	return r.InMemory.Create(ctx, c)
}

// tamperingStore returns records whose data was changed after registration.
type tamperingStore struct {
	*certificate.InMemory
	data []byte
}

func (t *tamperingStore) FindByID(ctx context.Context, id string) (*models.Certificate, error) {
	c, err := t.InMemory.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Data = t.data
	return c, nil
}

type brokenStore struct{}

func (brokenStore) Create(context.Context, *models.Certificate) error { return sentinel.ErrUnavailable }
func (brokenStore) FindByID(context.Context, string) (*models.Certificate, error) {
	return nil, errors.Join(sentinel.ErrUnavailable, errors.New("connection reset"))
}
func (brokenStore) FindByHash(context.Context, string) (*models.Certificate, error) {
	return nil, sentinel.ErrUnavailable
}
