package capture

import (
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// resolutionSource reports the preview resolution frames are delivered at.
type resolutionSource interface {
	CameraResolution() (image.Point, bool)
}

// previewCallback forwards exactly one driver frame to whoever armed it and
// then disarms itself, so a late frame never reaches a stale consumer.
type previewCallback struct {
	config resolutionSource

	mu  sync.Mutex
	dst chan<- Frame

	seq       atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

func newPreviewCallback(config resolutionSource) *previewCallback {
	return &previewCallback{config: config}
}

// arm binds dst for the next frame. A nil dst disarms the callback.
func (p *previewCallback) arm(dst chan<- Frame) {
	p.mu.Lock()
	p.dst = dst
	p.mu.Unlock()
}

func (p *previewCallback) armed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dst != nil
}

// onPreviewFrame is invoked by the driver goroutine. It never blocks on the
// consumer: a full channel drops the frame.
func (p *previewCallback) onPreviewFrame(data []byte) {
	resolution, known := p.config.CameraResolution()

	p.mu.Lock()
	dst := p.dst
	if known && dst != nil {
		p.dst = nil
	}
	p.mu.Unlock()

	if !known || dst == nil {
		p.dropped.Add(1)
		slog.Debug("capture: got preview frame but no consumer or resolution available",
			"error", ErrFrameDropped,
			"consumer", dst != nil,
			"resolution_known", known,
		)
		return
	}

	frame := Frame{
		Data:      data,
		Width:     resolution.X,
		Height:    resolution.Y,
		Seq:       p.seq.Add(1),
		Timestamp: time.Now(),
	}

	select {
	case dst <- frame:
		p.delivered.Add(1)
	default:
		p.dropped.Add(1)
		slog.Debug("capture: dropping preview frame, consumer not ready",
			"error", ErrFrameDropped,
			"seq", frame.Seq,
		)
	}
}
