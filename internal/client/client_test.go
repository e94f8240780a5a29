package client

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"certisure/internal/capability"
	"certisure/internal/certificate/handler"
	"certisure/internal/certificate/metrics"
	"certisure/internal/certificate/service"
	"certisure/internal/certificate/store/certificate"
	httpapi "certisure/internal/http"
	"certisure/internal/payload"
	platformmetrics "certisure/internal/platform/metrics"
	"certisure/internal/scanner"
	dErrors "certisure/pkg/domain-errors"
)

const johnDoe = `{"studentName":"John Doe","courseName":"Web Development","issueDate":"2025-06-30"}`

var pdf = []byte("%PDF-1.7 certificate")

type stubScanner struct {
	payload string
	err     error
}

func (s stubScanner) Scan(context.Context, []byte) (*scanner.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &scanner.Result{Payload: s.payload, Page: 1, Scale: 1.5, Attempts: 1}, nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type server struct {
	*httptest.Server
	store *certificate.InMemory
	caps  *capability.Service
}

// newServer runs the real certificate stack over an in-memory store.
func newServer(t *testing.T, sc service.Scanner, caps *capability.Service) *server {
	t.Helper()
	store := certificate.NewInMemory()
	reg := prometheus.NewRegistry()
	svc := service.New(store,
		service.WithScanner(sc),
		service.WithReceipts(caps),
		service.WithMetrics(metrics.NewWithRegisterer(reg)),
		service.WithLogger(quietLogger()),
	)
	h := handler.New(svc, quietLogger(), handler.WithCapabilities(caps))
	router := httpapi.NewRouter(httpapi.Config{
		Logger:   quietLogger(),
		Metrics:  platformmetrics.NewWithRegisterer(reg),
		Gatherer: reg,
	}, h)

	ts := httptest.NewServer(router)
	t.Cleanup(ts.Close)
	return &server{Server: ts, store: store, caps: caps}
}

func newClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	c, err := New(baseURL, append([]Option{WithLogger(quietLogger()), WithTimeout(5 * time.Second)}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestRecordContract(t *testing.T) {
	caps := capability.New("", "certisure", "certisure-api")
	srv := newServer(t, nil, caps)

	var transitions []State
	registrar := newClient(t, srv.URL,
		WithScanner(stubScanner{payload: johnDoe}),
		WithTransitionHook(func(_, to State) { transitions = append(transitions, to) }),
	)

	reg, err := registrar.Register(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, reg.State)
	assert.True(t, reg.Verified)
	assert.NotEmpty(t, reg.CertificateID)
	assert.Len(t, reg.DataHash, 64)
	assert.Equal(t, "John Doe", reg.Certificate.GetString("studentName"))
	assert.Equal(t, []State{StateFileSelected, StateDecoding, StateHashing, StateContactingServer, StateVerified}, transitions)

	t.Run("registering again is not an error", func(t *testing.T) {
		again, err := registrar.Register(context.Background(), pdf)
		require.NoError(t, err)
		assert.Equal(t, reg.CertificateID, again.CertificateID)
	})

	t.Run("raw fields in another key order verify", func(t *testing.T) {
		c := newClient(t, srv.URL, WithScanner(stubScanner{
			payload: `{"issueDate":"2025-06-30","courseName":"Web Development","studentName":"John Doe"}`,
		}))
		out, err := c.Verify(context.Background(), pdf)
		require.NoError(t, err)
		assert.True(t, out.Verified)
		assert.False(t, out.Authoritative)
		assert.False(t, out.Advisory)
		assert.Equal(t, reg.CertificateID, out.CertificateID)
	})

	t.Run("proof is verified by the server", func(t *testing.T) {
		c := newClient(t, srv.URL, WithScanner(stubScanner{
			payload: `{"id":"` + reg.CertificateID + `","hash":"` + reg.DataHash + `"}`,
		}))
		out, err := c.Verify(context.Background(), pdf)
		require.NoError(t, err)
		assert.Equal(t, StateVerified, out.State)
		assert.True(t, out.Authoritative)
		assert.False(t, out.Advisory)
	})

	t.Run("proof with another hash is a hash mismatch", func(t *testing.T) {
		c := newClient(t, srv.URL, WithScanner(stubScanner{
			payload: `{"id":"` + reg.CertificateID + `","hash":"deadbeef"}`,
		}))
		out, err := c.Verify(context.Background(), pdf)
		require.NoError(t, err)
		assert.Equal(t, StateNotVerified, out.State)
		assert.True(t, out.Authoritative)
		assert.Equal(t, string(dErrors.CodeHashMismatch), out.Reason)
	})

	t.Run("unknown certificate is not verified", func(t *testing.T) {
		c := newClient(t, srv.URL, WithScanner(stubScanner{
			payload: `{"studentName":"Mallory","courseName":"Web Development"}`,
		}))
		out, err := c.Verify(context.Background(), pdf)
		require.NoError(t, err)
		assert.Equal(t, StateNotVerified, out.State)
		assert.False(t, out.Verified)
		assert.NotEmpty(t, out.Message)
	})
}

func TestCertificatesContract_IsAdvisory(t *testing.T) {
	srv := newServer(t, nil, nil)

	reg, err := newClient(t, srv.URL, WithContract(ContractCertificates), WithScanner(stubScanner{payload: johnDoe})).
		Register(context.Background(), pdf)
	require.NoError(t, err)
	require.NotEmpty(t, reg.CertificateID)

	verify := func(id, hash string) *Outcome {
		c := newClient(t, srv.URL, WithContract(ContractCertificates), WithScanner(stubScanner{
			payload: `{"id":"` + id + `","hash":"` + hash + `"}`,
		}))
		out, err := c.Verify(context.Background(), pdf)
		require.NoError(t, err)
		return out
	}

	out := verify(reg.CertificateID, reg.DataHash)
	assert.True(t, out.Verified)
	assert.True(t, out.Advisory)
	assert.False(t, out.Authoritative)

	out = verify(reg.CertificateID, "0000000000000000000000000000000000000000000000000000000000000000")
	assert.Equal(t, StateNotVerified, out.State)
	assert.True(t, out.Advisory)
	assert.Equal(t, string(dErrors.CodeHashMismatch), out.Reason)

	out = verify("3f1c2a8e-0d7b-4c55-9a61-2b3c4d5e6f70", reg.DataHash)
	assert.Equal(t, StateNotVerified, out.State)
	assert.Equal(t, "Certificate not found.", out.Message)
	assert.Equal(t, string(dErrors.CodeNotFound), out.Reason)
}

func TestUploadContract(t *testing.T) {
	srv := newServer(t, stubScanner{payload: johnDoe}, nil)
	c := newClient(t, srv.URL, WithContract(ContractUpload))

	var transitions []State
	c.observe = func(_, to State) { transitions = append(transitions, to) }

	reg, err := c.Register(context.Background(), pdf)
	require.NoError(t, err)
	assert.True(t, reg.Verified)
	assert.Equal(t, []State{StateFileSelected, StateContactingServer, StateVerified}, transitions)

	out, err := c.Verify(context.Background(), pdf)
	require.NoError(t, err)
	assert.True(t, out.Verified)
	assert.Equal(t, reg.CertificateID, out.CertificateID)

	t.Run("server side decode failure", func(t *testing.T) {
		srv := newServer(t, stubScanner{err: dErrors.New(dErrors.CodeDecodeFailure, "No QR code found in the PDF.")}, nil)
		c := newClient(t, srv.URL, WithContract(ContractUpload))

		out, err := c.Verify(context.Background(), pdf)
		require.Error(t, err)
		assert.Equal(t, StateDecodeFailed, out.State)
		assert.True(t, dErrors.Is(err, dErrors.CodeDecodeFailure))
		assert.Equal(t, "Error: No QR code found in the PDF.", out.Message)
	})
}

func TestClientFailures(t *testing.T) {
	srv := newServer(t, nil, nil)

	tests := []struct {
		name    string
		pdf     []byte
		scanner stubScanner
		state   State
		code    dErrors.Code
	}{
		{"no file", nil, stubScanner{payload: johnDoe}, StateIdle, dErrors.CodeFileMissing},
		{"no qr code", pdf, stubScanner{err: dErrors.New(dErrors.CodeDecodeFailure, "No QR code found in the PDF.")}, StateDecodeFailed, dErrors.CodeDecodeFailure},
		{"qr is not json", pdf, stubScanner{err: dErrors.New(dErrors.CodePayloadNotJSON, "QR code does not contain JSON data")}, StatePayloadInvalid, dErrors.CodePayloadNotJSON},
		{"missing student", pdf, stubScanner{payload: `{"courseName":"Go"}`}, StatePayloadInvalid, dErrors.CodePayloadSchemaInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newClient(t, srv.URL, WithScanner(tt.scanner))
			out, err := c.Register(context.Background(), tt.pdf)
			require.Error(t, err)
			assert.Equal(t, tt.state, out.State)
			assert.Equal(t, tt.code, dErrors.CodeOf(err))
			assert.Contains(t, out.Message, "Error: ")
		})
	}

	t.Run("server unreachable", func(t *testing.T) {
		dead := httptest.NewServer(http.NotFoundHandler())
		dead.Close()

		c := newClient(t, dead.URL, WithScanner(stubScanner{payload: johnDoe}))
		out, err := c.Register(context.Background(), pdf)
		require.Error(t, err)
		assert.Equal(t, StateServerError, out.State)
		assert.Equal(t, dErrors.CodeNetworkFailure, dErrors.CodeOf(err))
	})

	t.Run("server rejects the request", func(t *testing.T) {
		caps := capability.New("signing-key", "certisure", "certisure-api")
		guarded := newServer(t, nil, caps)

		c := newClient(t, guarded.URL, WithScanner(stubScanner{payload: johnDoe}))
		out, err := c.Register(context.Background(), pdf)
		require.Error(t, err)
		assert.Equal(t, StateServerError, out.State)
		assert.Equal(t, dErrors.CodeServerRejected, dErrors.CodeOf(err))
		assert.Contains(t, out.Message, "401")

		token, err := caps.Issue("tech-university", []capability.Capability{capability.Register}, time.Hour)
		require.NoError(t, err)
		out, err = newClient(t, guarded.URL, WithScanner(stubScanner{payload: johnDoe}), WithToken(token)).
			Register(context.Background(), pdf)
		require.NoError(t, err)
		assert.True(t, out.Verified)
	})
}

func TestNew_Validation(t *testing.T) {
	_, err := New("localhost:8080", WithScanner(stubScanner{}))
	assert.Error(t, err)

	_, err = New("http://localhost:8080")
	assert.Error(t, err, "record contract decodes locally and needs a scanner")

	c, err := New("http://localhost:8080", WithContract(ContractUpload))
	require.NoError(t, err)
	assert.Equal(t, ContractUpload, c.Contract())
}

func TestVerify_RecordWithoutCreationFields(t *testing.T) {
	record := `{"certificateId":"C-1","issueDate":"2024-05-01","institution":"MIT"}`
	srv := newServer(t, stubScanner{payload: record}, nil)

	_, err := newClient(t, srv.URL, WithScanner(stubScanner{payload: record})).Register(context.Background(), pdf)
	require.Error(t, err, "default rules still guard registration")
	assert.True(t, dErrors.Is(err, dErrors.CodePayloadSchemaInvalid))

	reg, err := newClient(t, srv.URL, WithRules(payload.Rules{}), WithScanner(stubScanner{payload: record})).
		Register(context.Background(), pdf)
	require.NoError(t, err)

	out, err := newClient(t, srv.URL, WithScanner(stubScanner{payload: record})).Verify(context.Background(), pdf)
	require.NoError(t, err)
	assert.Equal(t, StateVerified, out.State)
	assert.Equal(t, reg.CertificateID, out.CertificateID)

	t.Run("through the upload path", func(t *testing.T) {
		out, err := newClient(t, srv.URL, WithContract(ContractUpload)).Verify(context.Background(), pdf)
		require.NoError(t, err)
		assert.Equal(t, StateVerified, out.State)
		assert.Equal(t, reg.CertificateID, out.CertificateID)
	})
}
