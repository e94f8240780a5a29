// Package zxing decodes QR symbols from raster images with gozxing.
package zxing

import (
	"context"
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"

	"certisure/internal/scanner"
)

// Decoder implements scanner.Decoder.
type Decoder struct {
	hints map[gozxing.DecodeHintType]interface{}
}

// New returns a decoder with the TRY_HARDER hint set.
func New() *Decoder {
	return &Decoder{hints: map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER: true,
	}}
}

// Decode returns the text of the first QR symbol in img, or scanner.ErrNoSymbol.
func (d *Decoder) Decode(ctx context.Context, img image.Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("zxing: binarize image: %w", err)
	}
	// A fresh reader per call; QRCodeReader is not safe for concurrent use.
	result, err := qrcode.NewQRCodeReader().Decode(bmp, d.hints)
	if err != nil {
		return "", scanner.ErrNoSymbol
	}
	return result.GetText(), nil
}
