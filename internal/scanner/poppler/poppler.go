// Package poppler rasterizes PDF pages with the poppler command line tools
// (pdfinfo and pdftoppm).
package poppler

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"certisure/internal/scanner"
)

// PointsPerInch converts PDF points to pixels: scale s renders at 72*s DPI.
const PointsPerInch = 72.0

// Renderer implements scanner.Renderer. It carries the resolved tool paths and
// nothing else, so two renderers built from the same directory behave the same.
type Renderer struct {
	pdfinfo  string
	pdftoppm string
	tempDir  string
}

type Option func(*Renderer)

// WithTempDir sets where uploaded PDFs are spooled while they are rendered.
func WithTempDir(dir string) Option {
	return func(r *Renderer) {
		r.tempDir = dir
	}
}

// New resolves pdfinfo and pdftoppm in binDir, or on PATH when binDir is empty.
func New(binDir string, opts ...Option) (*Renderer, error) {
	pdfinfo, err := resolve(binDir, "pdfinfo")
	if err != nil {
		return nil, err
	}
	pdftoppm, err := resolve(binDir, "pdftoppm")
	if err != nil {
		return nil, err
	}
	r := &Renderer{pdfinfo: pdfinfo, pdftoppm: pdftoppm}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

func resolve(binDir, name string) (string, error) {
	candidate := name
	if binDir != "" {
		candidate = filepath.Join(binDir, name)
	}
	path, err := exec.LookPath(candidate)
	if err != nil {
		return "", fmt.Errorf("poppler: locate %s: %w", name, err)
	}
	return path, nil
}

// Binaries returns the resolved pdfinfo and pdftoppm paths.
func (r *Renderer) Binaries() (pdfinfo, pdftoppm string) {
	return r.pdfinfo, r.pdftoppm
}

// Open spools pdf to a temporary file and reads its page count.
func (r *Renderer) Open(ctx context.Context, pdf []byte) (scanner.Document, error) {
	dir, err := os.MkdirTemp(r.tempDir, "certisure-pdf-")
	if err != nil {
		return nil, fmt.Errorf("poppler: create temp dir: %w", err)
	}
	path := filepath.Join(dir, "upload.pdf")
	if err := os.WriteFile(path, pdf, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return nil, fmt.Errorf("poppler: spool pdf: %w", err)
	}

	out, err := run(ctx, r.pdfinfo, path)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}
	pages, err := parsePageCount(out)
	if err != nil {
		_ = os.RemoveAll(dir)
		return nil, err
	}

	return &document{renderer: r, dir: dir, path: path, pages: pages}, nil
}

type document struct {
	renderer *Renderer
	dir      string
	path     string
	pages    int
}

func (d *document) PageCount() int {
	return d.pages
}

// Render rasterizes one page to PNG on stdout and decodes it.
func (d *document) Render(ctx context.Context, page int, scale float64) (image.Image, error) {
	if page < 1 || page > d.pages {
		return nil, fmt.Errorf("poppler: page %d out of range 1..%d", page, d.pages)
	}
	if scale <= 0 {
		return nil, fmt.Errorf("poppler: invalid scale %v", scale)
	}
	dpi := strconv.FormatFloat(PointsPerInch*scale, 'f', -1, 64)
	pageArg := strconv.Itoa(page)

	out, err := run(ctx, d.renderer.pdftoppm,
		"-f", pageArg, "-l", pageArg,
		"-r", dpi,
		"-png", "-singlefile",
		d.path,
	)
	if err != nil {
		return nil, err
	}
	img, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, fmt.Errorf("poppler: decode rendered page %d: %w", page, err)
	}
	return img, nil
}

func (d *document) Close() error {
	return os.RemoveAll(d.dir)
}

func run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, bin, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		msg := strings.TrimSpace(stderr.String())
		return nil, fmt.Errorf("poppler: %s: %w: %s", filepath.Base(bin), err, msg)
	}
	return out, nil
}

var errNoPageCount = errors.New("poppler: pdfinfo reported no page count")

func parsePageCount(info []byte) (int, error) {
	sc := bufio.NewScanner(bytes.NewReader(info))
	for sc.Scan() {
		key, value, ok := strings.Cut(sc.Text(), ":")
		if !ok || strings.TrimSpace(key) != "Pages" {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0, fmt.Errorf("poppler: parse page count %q: %w", value, err)
		}
		if n < 1 {
			return 0, errNoPageCount
		}
		return n, nil
	}
	return 0, errNoPageCount
}
