// Package decode turns cropped preview luminance into scan results.
package decode

import (
	"errors"
	"image"
	"time"

	"github.com/google/uuid"
	"github.com/makiuchi-d/gozxing"
)

// ErrNoCode is returned when a frame holds no readable code. It is the normal
// outcome for most frames and callers simply try the next one.
var ErrNoCode = errors.New("no code found in frame")

// Decoder defines the interface for code decoding implementations.
type Decoder interface {
	// Decode reads one code from src. It returns ErrNoCode, possibly wrapped,
	// when nothing could be read.
	Decode(src gozxing.LuminanceSource) (*Result, error)

	// Close releases any resources held by the decoder.
	Close() error
}

// Result is one decoded code.
type Result struct {
	ID        uuid.UUID     `json:"id"`
	Text      string        `json:"text"`
	Format    string        `json:"format"`
	Points    []image.Point `json:"points,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// NewResult stamps text with a fresh ID and the current time.
func NewResult(text, format string) *Result {
	return &Result{
		ID:        uuid.New(),
		Text:      text,
		Format:    format,
		Timestamp: time.Now(),
	}
}
