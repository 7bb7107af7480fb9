package decode

import (
	"errors"
	"fmt"
	"image"
	"math"
	"sync"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Config holds configuration options for QR decoding.
type Config struct {
	// TryHarder spends more time per frame looking for a code.
	TryHarder bool

	// PureBarcode assumes the source contains only the code and a quiet zone.
	PureBarcode bool

	// CharacterSet is the encoding to assume when the code does not declare one.
	CharacterSet string
}

// DefaultConfig returns a Config tuned for camera frames.
func DefaultConfig() Config {
	return Config{TryHarder: true}
}

// QRDecoder decodes QR codes with gozxing. It is safe for concurrent use.
type QRDecoder struct {
	mu     sync.Mutex
	reader gozxing.Reader
	hints  map[gozxing.DecodeHintType]interface{}
}

// NewQRDecoder creates a QR decoder.
func NewQRDecoder(cfg Config) *QRDecoder {
	hints := make(map[gozxing.DecodeHintType]interface{})
	if cfg.TryHarder {
		hints[gozxing.DecodeHintType_TRY_HARDER] = true
	}
	if cfg.PureBarcode {
		hints[gozxing.DecodeHintType_PURE_BARCODE] = true
	}
	if cfg.CharacterSet != "" {
		hints[gozxing.DecodeHintType_CHARACTER_SET] = cfg.CharacterSet
	}

	return &QRDecoder{
		reader: qrcode.NewQRCodeReader(),
		hints:  hints,
	}
}

// Decode binarizes src and reads a QR code from it.
func (d *QRDecoder) Decode(src gozxing.LuminanceSource) (*Result, error) {
	if src == nil {
		return nil, errors.New("decode: nil luminance source")
	}

	bmp, err := gozxing.NewBinaryBitmap(gozxing.NewHybridBinarizer(src))
	if err != nil {
		return nil, fmt.Errorf("binarize: %w", err)
	}

	d.mu.Lock()
	res, err := d.reader.Decode(bmp, d.hints)
	d.reader.Reset()
	d.mu.Unlock()

	if err != nil {
		var readerErr gozxing.ReaderException
		if errors.As(err, &readerErr) {
			return nil, fmt.Errorf("%w: %v", ErrNoCode, err)
		}
		return nil, fmt.Errorf("decode qr: %w", err)
	}

	result := NewResult(res.GetText(), res.GetBarcodeFormat().String())
	for _, p := range res.GetResultPoints() {
		result.Points = append(result.Points, image.Pt(
			int(math.Round(p.GetX())),
			int(math.Round(p.GetY())),
		))
	}
	return result, nil
}

// Close is a no-op; the reader holds no external resources.
func (d *QRDecoder) Close() error {
	return nil
}
