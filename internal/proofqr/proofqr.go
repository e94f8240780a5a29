// Package proofqr renders registration proofs as QR code images.
package proofqr

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	qrcode "github.com/skip2/go-qrcode"

	"certisure/internal/payload"
)

// DefaultSize is the edge length in pixels of generated images.
const DefaultSize = 256

// Encoder turns proofs into PNG QR codes.
type Encoder struct {
	size  int
	level qrcode.RecoveryLevel
}

type Option func(*Encoder)

func WithSize(px int) Option {
	return func(e *Encoder) {
		if px > 0 {
			e.size = px
		}
	}
}

// WithRecoveryLevel sets the error correction level (default Medium).
func WithRecoveryLevel(level qrcode.RecoveryLevel) Option {
	return func(e *Encoder) {
		e.level = level
	}
}

func New(opts ...Option) *Encoder {
	e := &Encoder{size: DefaultSize, level: qrcode.Medium}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Text is the QR content for a proof: compact JSON {"id":...,"hash":...}.
func Text(p payload.Proof) (string, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("proofqr: marshal proof: %w", err)
	}
	return string(b), nil
}

// PNG returns the QR code for p as PNG bytes.
func (e *Encoder) PNG(p payload.Proof) ([]byte, error) {
	text, err := Text(p)
	if err != nil {
		return nil, err
	}
	png, err := qrcode.Encode(text, e.level, e.size)
	if err != nil {
		return nil, fmt.Errorf("proofqr: encode: %w", err)
	}
	return png, nil
}

// DataURL returns the QR code for p as a data:image/png;base64 URL.
func (e *Encoder) DataURL(p payload.Proof) (string, error) {
	png, err := e.PNG(p)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
