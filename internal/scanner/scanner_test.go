package scanner

import (
	"context"
	"errors"
	"image"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "certisure/pkg/domain-errors"
)

type renderCall struct {
	page  int
	scale float64
}

// fakeDoc renders a 1x1 image tagged with its page and scale; the fake decoder
// looks the pair up in a table of payloads.
type fakeDoc struct {
	pages  int
	calls  []renderCall
	closed bool
	fail   map[renderCall]error
}

type taggedImage struct {
	image.Image
	call renderCall
}

func (d *fakeDoc) PageCount() int { return d.pages }

func (d *fakeDoc) Render(_ context.Context, page int, scale float64) (image.Image, error) {
	call := renderCall{page: page, scale: scale}
	d.calls = append(d.calls, call)
	if err := d.fail[call]; err != nil {
		return nil, err
	}
	return taggedImage{Image: image.NewGray(image.Rect(0, 0, 1, 1)), call: call}, nil
}

func (d *fakeDoc) Close() error {
	d.closed = true
	return nil
}

type fakeRenderer struct {
	doc     *fakeDoc
	openErr error
}

func (r *fakeRenderer) Open(context.Context, []byte) (Document, error) {
	if r.openErr != nil {
		return nil, r.openErr
	}
	return r.doc, nil
}

type fakeDecoder struct {
	payloads map[renderCall]string
	onDecode func()
}

func (d *fakeDecoder) Decode(_ context.Context, img image.Image) (string, error) {
	if d.onDecode != nil {
		d.onDecode()
	}
	tagged := img.(taggedImage)
	text, ok := d.payloads[tagged.call]
	if !ok {
		return "", ErrNoSymbol
	}
	return text, nil
}

var pdfBytes = []byte("%PDF-1.7")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestScan_FindsPayloadAtHigherScale(t *testing.T) {
	doc := &fakeDoc{pages: 1}
	dec := &fakeDecoder{payloads: map[renderCall]string{
		{page: 1, scale: 3.0}: `{"studentName":"John Doe","courseName":"Web Development"}`,
	}}
	s := New(&fakeRenderer{doc: doc}, dec, WithLogger(quietLogger()))

	res, err := s.Scan(context.Background(), pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 3.0, res.Scale)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, []renderCall{{1, 1.5}, {1, 2.0}, {1, 3.0}}, doc.calls)
	assert.True(t, doc.closed)
}

func TestScan_PagesOuterScalesInner(t *testing.T) {
	doc := &fakeDoc{pages: 2}
	dec := &fakeDecoder{payloads: map[renderCall]string{
		{page: 2, scale: 1.5}: `{"id":"a","hash":"b"}`,
		{page: 1, scale: 4.0}: `{"id":"late","hash":"b"}`,
	}}
	s := New(&fakeRenderer{doc: doc}, dec, WithLogger(quietLogger()))

	res, err := s.Scan(context.Background(), pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Page, "every scale of page 1 is tried before page 2")
	assert.Equal(t, 4.0, res.Scale)
	assert.Equal(t, 4, res.Attempts)
}

func TestScan_SecondPage(t *testing.T) {
	doc := &fakeDoc{pages: 3}
	dec := &fakeDecoder{payloads: map[renderCall]string{
		{page: 2, scale: 2.0}: `{"id":"a","hash":"b"}`,
	}}
	s := New(&fakeRenderer{doc: doc}, dec, WithLogger(quietLogger()))

	res, err := s.Scan(context.Background(), pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Page)
	assert.Equal(t, 6, res.Attempts)

	t.Run("first page only", func(t *testing.T) {
		doc := &fakeDoc{pages: 3}
		s := New(&fakeRenderer{doc: doc}, dec, WithAllPages(false), WithLogger(quietLogger()))
		_, err := s.Scan(context.Background(), pdfBytes)
		require.Error(t, err)
		assert.Equal(t, dErrors.CodeDecodeFailure, dErrors.CodeOf(err))
		assert.Len(t, doc.calls, len(DefaultScales))
	})
}

func TestScan_NonJSONPayloadDoesNotStopSearch(t *testing.T) {
	doc := &fakeDoc{pages: 1}
	dec := &fakeDecoder{payloads: map[renderCall]string{
		{page: 1, scale: 1.5}: "https://example.org/not-json",
		{page: 1, scale: 2.0}: `{"studentName":"Ann","course":"Go"}`,
	}}
	s := New(&fakeRenderer{doc: doc}, dec, WithLogger(quietLogger()))

	res, err := s.Scan(context.Background(), pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Scale)
}

func TestScan_Failures(t *testing.T) {
	tests := []struct {
		name     string
		pdf      []byte
		renderer *fakeRenderer
		payloads map[renderCall]string
		wantCode dErrors.Code
	}{
		{
			name:     "empty upload",
			pdf:      nil,
			renderer: &fakeRenderer{doc: &fakeDoc{pages: 1}},
			wantCode: dErrors.CodeFileMissing,
		},
		{
			name:     "unreadable pdf",
			pdf:      pdfBytes,
			renderer: &fakeRenderer{openErr: errors.New("syntax error")},
			wantCode: dErrors.CodeDecodeFailure,
		},
		{
			name:     "no symbol anywhere",
			pdf:      pdfBytes,
			renderer: &fakeRenderer{doc: &fakeDoc{pages: 2}},
			wantCode: dErrors.CodeDecodeFailure,
		},
		{
			name:     "symbols but never json",
			pdf:      pdfBytes,
			renderer: &fakeRenderer{doc: &fakeDoc{pages: 1}},
			payloads: map[renderCall]string{{page: 1, scale: 2.0}: "CERT-12345"},
			wantCode: dErrors.CodePayloadNotJSON,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.renderer, &fakeDecoder{payloads: tt.payloads}, WithLogger(quietLogger()))
			_, err := s.Scan(context.Background(), tt.pdf)
			require.Error(t, err)
			assert.Equal(t, tt.wantCode, dErrors.CodeOf(err))
		})
	}
}

func TestScan_RenderErrorsAreSkipped(t *testing.T) {
	doc := &fakeDoc{
		pages: 1,
		fail:  map[renderCall]error{{page: 1, scale: 1.5}: errors.New("pdftoppm exited 1")},
	}
	dec := &fakeDecoder{payloads: map[renderCall]string{{page: 1, scale: 2.0}: `{"id":"a","hash":"b"}`}}
	s := New(&fakeRenderer{doc: doc}, dec, WithLogger(quietLogger()))

	res, err := s.Scan(context.Background(), pdfBytes)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
}

func TestScan_StopsOnCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	doc := &fakeDoc{pages: 5}
	dec := &fakeDecoder{onDecode: cancel}
	s := New(&fakeRenderer{doc: doc}, dec, WithLogger(quietLogger()))

	_, err := s.Scan(ctx, pdfBytes)
	require.ErrorIs(t, err, context.Canceled)
	assert.Len(t, doc.calls, 1)
	assert.True(t, doc.closed)
}

func TestScan_CustomScalesAndPageCap(t *testing.T) {
	doc := &fakeDoc{pages: 10}
	s := New(&fakeRenderer{doc: doc}, &fakeDecoder{}, WithScales(2.0), WithMaxPages(3), WithLogger(quietLogger()))

	_, err := s.Scan(context.Background(), pdfBytes)
	require.Error(t, err)
	assert.Equal(t, []renderCall{{1, 2.0}, {2, 2.0}, {3, 2.0}}, doc.calls)
}
