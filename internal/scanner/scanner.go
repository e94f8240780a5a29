// Package scanner extracts a certificate QR payload from a PDF.
//
// Pages are rasterized at increasing scales and handed to a QR decoder until a
// payload that parses as JSON is found. Rendering and decoding are delegated to
// a Renderer and a Decoder so the search policy can be tested without poppler.
package scanner

import (
	"context"
	"errors"
	"image"
	"log/slog"

	"certisure/internal/payload"
	dErrors "certisure/pkg/domain-errors"
)

// ErrNoSymbol is returned by a Decoder when the image holds no readable QR code.
var ErrNoSymbol = errors.New("scanner: no QR symbol found")

// DefaultScales are tried in order for every page. Scale s means 72*s DPI.
var DefaultScales = []float64{1.5, 2.0, 3.0, 4.0}

// Renderer opens PDF documents for rasterization.
type Renderer interface {
	Open(ctx context.Context, pdf []byte) (Document, error)
}

// Document is an opened PDF. Pages are numbered from 1.
type Document interface {
	PageCount() int
	Render(ctx context.Context, page int, scale float64) (image.Image, error)
	Close() error
}

// Decoder finds a QR symbol in an image and returns its text.
type Decoder interface {
	Decode(ctx context.Context, img image.Image) (string, error)
}

// Result describes the payload that ended the search.
type Result struct {
	Payload  string
	Page     int
	Scale    float64
	Attempts int
}

// Scanner runs the page and scale search. It holds no per-scan state and is
// safe for concurrent use.
type Scanner struct {
	renderer Renderer
	decoder  Decoder
	scales   []float64
	allPages bool
	maxPages int
	logger   *slog.Logger
}

type Option func(*Scanner)

// WithScales replaces DefaultScales.
func WithScales(scales ...float64) Option {
	return func(s *Scanner) {
		if len(scales) > 0 {
			s.scales = append([]float64(nil), scales...)
		}
	}
}

// WithAllPages toggles scanning beyond the first page.
func WithAllPages(all bool) Option {
	return func(s *Scanner) {
		s.allPages = all
	}
}

// WithMaxPages caps how many pages are scanned. Zero means no cap.
func WithMaxPages(n int) Option {
	return func(s *Scanner) {
		s.maxPages = n
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Scanner) {
		s.logger = logger
	}
}

func New(renderer Renderer, decoder Decoder, opts ...Option) *Scanner {
	s := &Scanner{
		renderer: renderer,
		decoder:  decoder,
		scales:   DefaultScales,
		allPages: true,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan searches pdf for a JSON QR payload. Pages form the outer loop and scales
// the inner one; the first payload that parses as JSON wins. When the search is
// exhausted the error is CodeDecodeFailure if no symbol was ever read and
// CodePayloadNotJSON if symbols were read but none held JSON.
func (s *Scanner) Scan(ctx context.Context, pdf []byte) (*Result, error) {
	if len(pdf) == 0 {
		return nil, dErrors.New(dErrors.CodeFileMissing, "no PDF file was provided")
	}

	doc, err := s.renderer.Open(ctx, pdf)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, dErrors.Wrap(err, dErrors.CodeDecodeFailure, "could not read the PDF file")
	}
	defer func() {
		if cerr := doc.Close(); cerr != nil {
			s.logger.WarnContext(ctx, "failed to close pdf document", "error", cerr)
		}
	}()

	pages := doc.PageCount()
	if !s.allPages && pages > 1 {
		pages = 1
	}
	if s.maxPages > 0 && pages > s.maxPages {
		pages = s.maxPages
	}

	attempts := 0
	sawSymbol := false
	for page := 1; page <= pages; page++ {
		for _, scale := range s.scales {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			attempts++

			img, err := doc.Render(ctx, page, scale)
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				s.logger.DebugContext(ctx, "page render failed",
					"page", page,
					"scale", scale,
					"error", err,
				)
				continue
			}

			text, err := s.decoder.Decode(ctx, img)
			if err != nil {
				if !errors.Is(err, ErrNoSymbol) {
					s.logger.DebugContext(ctx, "qr decode failed",
						"page", page,
						"scale", scale,
						"error", err,
					)
				}
				continue
			}
			sawSymbol = true

			if payload.IsJSON(text) {
				return &Result{Payload: text, Page: page, Scale: scale, Attempts: attempts}, nil
			}
			s.logger.DebugContext(ctx, "qr payload is not json, continuing",
				"page", page,
				"scale", scale,
			)
		}
	}

	if sawSymbol {
		return nil, dErrors.New(dErrors.CodePayloadNotJSON,
			"the QR code does not contain certificate data in JSON format")
	}
	return nil, dErrors.New(dErrors.CodeDecodeFailure, "no QR code found in the PDF")
}
