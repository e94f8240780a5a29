// Package capability issues and checks the HS256 tokens that gate registration
// and verification, and signs verification receipts.
package capability

import (
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	dErrors "certisure/pkg/domain-errors"
)

// Receipts carry their own typ header and audience so a receipt never passes
// as a capability token and the other way round.
const (
	receiptType           = "receipt+jwt"
	receiptAudienceSuffix = "/receipt"
)

// Capability is a grant carried in the cap claim.
type Capability string

const (
	Register Capability = "register"
	Verify   Capability = "verify"
)

// ParseCapability accepts "register" or "verify".
func ParseCapability(s string) (Capability, error) {
	switch c := Capability(strings.TrimSpace(s)); c {
	case Register, Verify:
		return c, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "capability must be register or verify")
}

// Claims are the claims of a capability token. Cap holds one or more
// space-separated capabilities.
type Claims struct {
	Cap string `json:"cap"`
	jwt.RegisteredClaims
}

// Grants reports whether the token carries c.
func (c *Claims) Grants(want Capability) bool {
	return slices.Contains(strings.Fields(c.Cap), string(want))
}

// ReceiptClaims attest one verification outcome.
type ReceiptClaims struct {
	CertificateID string `json:"cid,omitempty"`
	DataHash      string `json:"dh"`
	Verified      bool   `json:"verified"`
	Method        string `json:"method"`
	jwt.RegisteredClaims
}

// Service signs and validates tokens with one HMAC key. A Service without a
// key is disabled: Enabled reports false and signing returns "".
type Service struct {
	signingKey []byte
	issuer     string
	audience   string
	receiptTTL time.Duration
	now        func() time.Time
}

type Option func(*Service)

// WithReceiptTTL sets how long receipts stay valid (default 24h).
func WithReceiptTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.receiptTTL = ttl
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func New(signingKey, issuer, audience string, opts ...Option) *Service {
	s := &Service{
		signingKey: []byte(signingKey),
		issuer:     issuer,
		audience:   audience,
		receiptTTL: 24 * time.Hour,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether a signing key is configured.
func (s *Service) Enabled() bool {
	return s != nil && len(s.signingKey) > 0
}

// Issue mints a capability token for subject.
func (s *Service) Issue(subject string, caps []Capability, expiresIn time.Duration) (string, error) {
	if !s.Enabled() {
		return "", dErrors.New(dErrors.CodeInternal, "capability signing key is not configured")
	}
	if len(caps) == 0 {
		return "", dErrors.New(dErrors.CodeValidation, "at least one capability is required")
	}
	names := make([]string, len(caps))
	for i, c := range caps {
		names[i] = string(c)
	}
	now := s.now()
	return s.sign("", Claims{
		Cap: strings.Join(names, " "),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.audience},
			ID:        uuid.NewString(),
		},
	})
}

// Validate parses token and checks that it grants want.
func (s *Service) Validate(token string, want Capability) (*Claims, error) {
	claims := &Claims{}
	if err := s.parse(token, claims, s.audience, ""); err != nil {
		return nil, err
	}
	if !claims.Grants(want) {
		return nil, dErrors.New(dErrors.CodeForbidden, "token does not grant the "+string(want)+" capability")
	}
	return claims, nil
}

// SignReceipt returns a receipt for a verification outcome, or "" when disabled.
func (s *Service) SignReceipt(certificateID, dataHash string, verified bool, method string) (string, error) {
	if !s.Enabled() {
		return "", nil
	}
	now := s.now()
	return s.sign(receiptType, ReceiptClaims{
		CertificateID: certificateID,
		DataHash:      dataHash,
		Verified:      verified,
		Method:        method,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   dataHash,
			ExpiresAt: jwt.NewNumericDate(now.Add(s.receiptTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    s.issuer,
			Audience:  []string{s.receiptAudience()},
			ID:        uuid.NewString(),
		},
	})
}

// ParseReceipt validates a receipt issued by SignReceipt. Capability tokens
// are rejected.
func (s *Service) ParseReceipt(token string) (*ReceiptClaims, error) {
	claims := &ReceiptClaims{}
	if err := s.parse(token, claims, s.receiptAudience(), receiptType); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *Service) receiptAudience() string {
	return s.audience + receiptAudienceSuffix
}

// sign signs claims; a non-empty typ replaces the default "JWT" header.
func (s *Service) sign(typ string, claims jwt.Claims) (string, error) {
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	if typ != "" {
		t.Header["typ"] = typ
	}
	signed, err := t.SignedString(s.signingKey)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "failed to sign token")
	}
	return signed, nil
}

// parse validates token against audience. typ is the required header value;
// "" means any header except a receipt's.
func (s *Service) parse(token string, claims jwt.Claims, audience, typ string) error {
	if !s.Enabled() {
		return dErrors.New(dErrors.CodeUnauthorized, "capability tokens are disabled")
	}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenUnverifiable
		}
		got, _ := t.Header["typ"].(string)
		if (typ == "" && got == receiptType) || (typ != "" && got != typ) {
			return nil, jwt.ErrTokenUnverifiable
		}
		return s.signingKey, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(audience),
		jwt.WithTimeFunc(s.now),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return dErrors.New(dErrors.CodeUnauthorized, "token has expired")
		}
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	if !parsed.Valid {
		return dErrors.New(dErrors.CodeUnauthorized, "invalid token")
	}
	return nil
}
