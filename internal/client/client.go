// Package client runs the register and verify flows against a CertiSure
// server: find the QR payload in a PDF, hash it and ask the server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"certisure/internal/payload"
	"certisure/internal/scanner"
	"certisure/pkg/canonical"
	dErrors "certisure/pkg/domain-errors"
)

// DefaultTimeout bounds every server call when no http.Client is supplied.
const DefaultTimeout = 30 * time.Second

// maxResponseBytes bounds how much of a server response is read.
const maxResponseBytes = 4 << 20

// Scanner finds the QR payload in a PDF.
type Scanner interface {
	Scan(ctx context.Context, pdf []byte) (*scanner.Result, error)
}

// Outcome is what one attempt ended with. Message is the single status line
// shown to the user, for failures as well as results.
type Outcome struct {
	State    State
	Verified bool
	// Authoritative is set when the server compared a proof itself.
	Authoritative bool
	// Advisory is set when only the client compared hashes.
	Advisory bool
	Message  string
	// Reason explains a NotVerified outcome: not_found, hash_mismatch or
	// record_altered.
	Reason        string
	CertificateID string
	DataHash      string
	Certificate   canonical.Object
	Receipt       string
	QRCode        string
}

// Client is safe for concurrent use; every call runs its own Attempt.
type Client struct {
	baseURL  *url.URL
	http     *http.Client
	contract Contract
	scanner  Scanner
	hasher   *canonical.Hasher
	rules    payload.Rules
	token    string
	observe  TransitionFunc
	logger   *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client and its timeout.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithTimeout sets the timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.http = &http.Client{Timeout: d}
	}
}

// WithContract selects the server endpoints.
func WithContract(contract Contract) Option {
	return func(c *Client) {
		c.contract = contract
	}
}

// WithScanner sets the local QR scanner; required unless ContractUpload is used.
func WithScanner(s Scanner) Option {
	return func(c *Client) {
		c.scanner = s
	}
}

// WithHasher sets the hashing scheme; it must match the server's.
func WithHasher(h *canonical.Hasher) Option {
	return func(c *Client) {
		c.hasher = h
	}
}

// WithRules sets the required-field rules for registration payloads.
func WithRules(r payload.Rules) Option {
	return func(c *Client) {
		c.rules = r
	}
}

// WithToken sends a bearer capability token on every call.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// WithTransitionHook observes every state change of every attempt.
func WithTransitionHook(fn TransitionFunc) Option {
	return func(c *Client) {
		c.observe = fn
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// New builds a client for the server at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("client: parse base url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("client: base url %q must be an absolute http(s) url", baseURL)
	}
	c := &Client{
		baseURL:  u,
		http:     &http.Client{Timeout: DefaultTimeout},
		contract: ContractRecord,
		hasher:   canonical.New(),
		rules:    payload.DefaultRules,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.contract.decodesLocally() && c.scanner == nil {
		return nil, fmt.Errorf("client: contract %s needs a scanner", c.contract)
	}
	return c, nil
}

// Contract returns the configured contract.
func (c *Client) Contract() Contract {
	return c.contract
}

type operation int

const (
	opRegister operation = iota
	opVerify
)

// Register finds the certificate payload in pdf and registers it. The
// returned Outcome is always set; err is non-nil when the attempt failed.
func (c *Client) Register(ctx context.Context, pdf []byte) (*Outcome, error) {
	return c.run(ctx, pdf, opRegister)
}

// Verify finds the payload in pdf and checks it against the server. A
// certificate that is not registered is a NotVerified outcome, not an error.
func (c *Client) Verify(ctx context.Context, pdf []byte) (*Outcome, error) {
	return c.run(ctx, pdf, opVerify)
}

// attempt couples the state machine with the outcome being built.
type attempt struct {
	*Attempt
	out *Outcome
}

func (a *attempt) move(next State) error {
	if err := a.Transition(next); err != nil {
		return err
	}
	a.out.State = next
	return nil
}

// fail ends the attempt in state with err as the status line.
func (a *attempt) fail(state State, err error) (*Outcome, error) {
	if moveErr := a.move(state); moveErr != nil {
		return a.out, errors.Join(err, moveErr)
	}
	a.out.Message = statusLine(err)
	return a.out, err
}

func (c *Client) run(ctx context.Context, pdf []byte, op operation) (*Outcome, error) {
	a := &attempt{Attempt: NewAttempt(c.observe), out: &Outcome{State: StateIdle}}

	if len(pdf) == 0 {
		err := dErrors.New(dErrors.CodeFileMissing, "Please select a PDF file first.")
		a.out.Message = statusLine(err)
		return a.out, err
	}
	if err := a.move(StateFileSelected); err != nil {
		return a.out, err
	}

	if !c.contract.decodesLocally() {
		if err := a.move(StateContactingServer); err != nil {
			return a.out, err
		}
		return c.upload(ctx, a, pdf, op)
	}

	if err := a.move(StateDecoding); err != nil {
		return a.out, err
	}
	res, err := c.scanner.Scan(ctx, pdf)
	if err != nil {
		if dErrors.Is(err, dErrors.CodePayloadNotJSON) {
			return a.fail(StatePayloadInvalid, err)
		}
		return a.fail(StateDecodeFailed, err)
	}
	c.logger.DebugContext(ctx, "qr payload found",
		"page", res.Page,
		"scale", res.Scale,
		"attempts", res.Attempts,
	)

	var p *payload.Payload
	if op == opRegister {
		p, err = payload.ParseForCreation(res.Payload, c.rules)
	} else {
		p, err = payload.ParseForVerification(res.Payload)
	}
	if err != nil {
		return a.fail(StatePayloadInvalid, err)
	}

	if p.Kind == payload.KindProof {
		if err := a.move(StateContactingServer); err != nil {
			return a.out, err
		}
		a.out.CertificateID = p.Proof.ID
		a.out.DataHash = p.Proof.Hash
		return c.verifyProof(ctx, a, p.Proof)
	}

	if err := a.move(StateHashing); err != nil {
		return a.out, err
	}
	digest, err := c.hasher.Hash(p.Fields)
	if err != nil {
		return a.fail(StatePayloadInvalid, dErrors.Wrap(err, dErrors.CodePayloadSchemaInvalid, "certificate data cannot be hashed"))
	}
	a.out.DataHash = digest
	if err := a.move(StateContactingServer); err != nil {
		return a.out, err
	}

	if op == opRegister {
		return c.register(ctx, a, p.Fields, digest)
	}
	return c.verifyDigest(ctx, a, digest)
}

// serverBody is the union of the response bodies the client reads.
type serverBody struct {
	Message       string          `json:"message"`
	Verified      bool            `json:"verified"`
	Authoritative bool            `json:"authoritative"`
	Reason        string          `json:"reason"`
	Receipt       string          `json:"receipt"`
	QRCode        string          `json:"qrCode"`
	CertificateID string          `json:"certificateId"`
	Certificate   json.RawMessage `json:"certificate"`
	Proof         *payload.Proof  `json:"proof"`

	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (c *Client) register(ctx context.Context, a *attempt, fields canonical.Object, digest string) (*Outcome, error) {
	var (
		body []byte
		err  error
		path string
	)
	switch c.contract {
	case ContractCertificates:
		path = "/api/certificates"
		body, err = json.Marshal(fields)
	default:
		path = "/api/create-record"
		body, err = json.Marshal(struct {
			CertificateData canonical.Object `json:"certificateData"`
			DataHash        string           `json:"dataHash"`
		}{fields, digest})
	}
	if err != nil {
		return a.fail(StatePayloadInvalid, dErrors.Wrap(err, dErrors.CodePayloadSchemaInvalid, "certificate data cannot be encoded"))
	}

	status, resp, err := c.call(ctx, http.MethodPost, path, bytes.NewReader(body), "application/json")
	if err != nil {
		return a.fail(StateServerError, err)
	}
	if status != http.StatusOK && status != http.StatusCreated {
		return a.fail(StateServerError, rejected(status, resp))
	}
	return c.registered(a, resp)
}

func (c *Client) registered(a *attempt, resp *serverBody) (*Outcome, error) {
	if err := a.move(StateVerified); err != nil {
		return a.out, err
	}
	a.out.Verified = true
	a.out.Message = resp.Message
	a.out.QRCode = resp.QRCode
	a.out.CertificateID = resp.CertificateID
	if resp.Proof != nil {
		a.out.CertificateID = resp.Proof.ID
		a.out.DataHash = resp.Proof.Hash
	}
	a.out.Certificate = decodeCertificate(resp.Certificate)
	if a.out.CertificateID == "" {
		a.out.CertificateID = a.out.Certificate.GetString("id")
	}
	if hash := a.out.Certificate.GetString("dataHash"); hash != "" {
		a.out.DataHash = hash
	}
	return a.out, nil
}

func (c *Client) verifyDigest(ctx context.Context, a *attempt, digest string) (*Outcome, error) {
	body, err := json.Marshal(map[string]string{"dataHash": digest})
	if err != nil {
		return a.fail(StateServerError, err)
	}
	status, resp, err := c.call(ctx, http.MethodPost, "/api/verify-record", bytes.NewReader(body), "application/json")
	if err != nil {
		return a.fail(StateServerError, err)
	}
	if status != http.StatusOK {
		return a.fail(StateServerError, rejected(status, resp))
	}
	return c.verified(a, resp)
}

func (c *Client) verifyProof(ctx context.Context, a *attempt, proof payload.Proof) (*Outcome, error) {
	if c.contract == ContractCertificates {
		return c.compareLocally(ctx, a, proof)
	}

	body, err := json.Marshal(proof)
	if err != nil {
		return a.fail(StateServerError, err)
	}
	status, resp, err := c.call(ctx, http.MethodPost, "/api/verify-proof", bytes.NewReader(body), "application/json")
	if err != nil {
		return a.fail(StateServerError, err)
	}
	if status != http.StatusOK {
		return a.fail(StateServerError, rejected(status, resp))
	}
	return c.verified(a, resp)
}

// compareLocally fetches the certificate and compares digests on the client.
// The server never confirms the comparison, so the outcome is advisory.
func (c *Client) compareLocally(ctx context.Context, a *attempt, proof payload.Proof) (*Outcome, error) {
	a.out.Advisory = true

	status, resp, err := c.call(ctx, http.MethodGet, "/api/certificates/"+url.PathEscape(proof.ID), nil, "")
	if err != nil {
		return a.fail(StateServerError, err)
	}
	switch status {
	case http.StatusOK:
	case http.StatusNotFound:
		if err := a.move(StateNotVerified); err != nil {
			return a.out, err
		}
		a.out.Message = "Certificate not found."
		a.out.Reason = string(dErrors.CodeNotFound)
		return a.out, nil
	default:
		return a.fail(StateServerError, rejected(status, resp))
	}

	cert := decodeCertificate(resp.Certificate)
	if cert.GetString("dataHash") != proof.Hash {
		if err := a.move(StateNotVerified); err != nil {
			return a.out, err
		}
		a.out.Message = "Certificate hash does not match the registered record (advisory)."
		a.out.Reason = string(dErrors.CodeHashMismatch)
		return a.out, nil
	}

	if err := a.move(StateVerified); err != nil {
		return a.out, err
	}
	a.out.Verified = true
	a.out.Certificate = cert
	a.out.Message = "Certificate hash matches the registered record (advisory, not confirmed by the server)."
	return a.out, nil
}

func (c *Client) verified(a *attempt, resp *serverBody) (*Outcome, error) {
	next := StateNotVerified
	if resp.Verified {
		next = StateVerified
	}
	if err := a.move(next); err != nil {
		return a.out, err
	}
	a.out.Verified = resp.Verified
	a.out.Authoritative = resp.Authoritative
	a.out.Message = resp.Message
	a.out.Reason = resp.Reason
	a.out.Receipt = resp.Receipt
	a.out.Certificate = decodeCertificate(resp.Certificate)
	if id := a.out.Certificate.GetString("id"); id != "" {
		a.out.CertificateID = id
	}
	return a.out, nil
}

// upload sends the PDF to the server, which decodes it.
func (c *Client) upload(ctx context.Context, a *attempt, pdf []byte, op operation) (*Outcome, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "certificate.pdf")
	if err == nil {
		_, err = part.Write(pdf)
	}
	if err == nil {
		err = mw.Close()
	}
	if err != nil {
		return a.fail(StateServerError, fmt.Errorf("client: build upload: %w", err))
	}

	path := "/api/upload-for-verification"
	if op == opRegister {
		path = "/api/upload-for-creation"
	}
	status, resp, err := c.call(ctx, http.MethodPost, path, &buf, mw.FormDataContentType())
	if err != nil {
		return a.fail(StateServerError, err)
	}

	if status == http.StatusOK || status == http.StatusCreated {
		if op == opRegister {
			return c.registered(a, resp)
		}
		return c.verified(a, resp)
	}

	err = rejected(status, resp)
	switch dErrors.Code(resp.Error) {
	case dErrors.CodeDecodeFailure:
		return a.fail(StateDecodeFailed, dErrors.Wrap(err, dErrors.CodeDecodeFailure, resp.ErrorDescription))
	case dErrors.CodePayloadNotJSON, dErrors.CodePayloadSchemaInvalid:
		return a.fail(StatePayloadInvalid, dErrors.Wrap(err, dErrors.Code(resp.Error), resp.ErrorDescription))
	default:
		return a.fail(StateServerError, err)
	}
}

// call sends one request and decodes the JSON body, whatever the status.
func (c *Client) call(ctx context.Context, method, path string, body io.Reader, contentType string) (int, *serverBody, error) {
	target := c.baseURL.JoinPath(path)
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return 0, nil, fmt.Errorf("client: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "server unreachable",
			"method", method,
			"path", path,
			"error", err,
		)
		return 0, nil, dErrors.Wrap(err, dErrors.CodeNetworkFailure, "Could not reach the verification server.")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return 0, nil, dErrors.Wrap(err, dErrors.CodeNetworkFailure, "The verification server response was cut off.")
	}
	out := &serverBody{}
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, out); err != nil && resp.StatusCode < http.StatusBadRequest {
			return resp.StatusCode, nil, dErrors.Wrap(err, dErrors.CodeServerRejected, "The verification server sent an unreadable response.")
		}
	}
	return resp.StatusCode, out, nil
}

func rejected(status int, resp *serverBody) error {
	msg := resp.ErrorDescription
	if msg == "" {
		msg = resp.Message
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	return dErrors.New(dErrors.CodeServerRejected, fmt.Sprintf("Server rejected the request (%d): %s", status, msg))
}

func decodeCertificate(raw json.RawMessage) canonical.Object {
	if len(raw) == 0 {
		return nil
	}
	v, err := canonical.Decode(raw)
	if err != nil {
		return nil
	}
	obj, _ := v.(canonical.Object)
	return obj
}

func statusLine(err error) string {
	var de *dErrors.Error
	if errors.As(err, &de) && de.Message != "" {
		return "Error: " + de.Message
	}
	return "Error: " + err.Error()
}
