package server

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"gocv.io/x/gocv"
)

// StreamSurface is the display surface handed to the camera. It keeps the
// latest preview frame as JPEG for MJPEG viewers and only encodes while
// someone is watching.
type StreamSurface struct {
	size    image.Point
	viewers atomic.Int32

	mu     sync.Mutex
	frame  []byte
	seq    uint64
	notify chan struct{}
}

// NewStreamSurface creates a surface with the given display resolution.
func NewStreamSurface(size image.Point) *StreamSurface {
	return &StreamSurface{
		size:   size,
		notify: make(chan struct{}),
	}
}

// Size returns the display resolution.
func (s *StreamSurface) Size() image.Point {
	return s.size
}

// Present encodes frame for viewers. It does not keep frame.
func (s *StreamSurface) Present(frame gocv.Mat) {
	if s.viewers.Load() == 0 || frame.Empty() {
		return
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, frame)
	if err != nil {
		slog.Debug("server: failed to encode preview frame", "error", err)
		return
	}
	defer buf.Close()

	jpeg := make([]byte, buf.Len())
	copy(jpeg, buf.GetBytes())
	s.publish(jpeg)
}

func (s *StreamSurface) publish(jpeg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.frame = jpeg
	s.seq++
	close(s.notify)
	s.notify = make(chan struct{})
}

// Next blocks until a frame newer than seq is available and returns it
// with its sequence number.
func (s *StreamSurface) Next(ctx context.Context, seq uint64) ([]byte, uint64, error) {
	for {
		s.mu.Lock()
		if s.seq > seq {
			frame, current := s.frame, s.seq
			s.mu.Unlock()
			return frame, current, nil
		}
		notify := s.notify
		s.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, seq, ctx.Err()
		case <-notify:
		}
	}
}

// Viewers returns the number of connected stream clients.
func (s *StreamSurface) Viewers() int {
	return int(s.viewers.Load())
}

// StreamHandler serves MJPEG frames from a StreamSurface.
type StreamHandler struct {
	surface *StreamSurface
}

// NewStreamHandler creates a new StreamHandler for the given surface.
func NewStreamHandler(surface *StreamSurface) *StreamHandler {
	return &StreamHandler{surface: surface}
}

// ServeHTTP streams MJPEG frames to connected clients.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.surface.viewers.Add(1)
	defer h.surface.viewers.Add(-1)

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	var seq uint64
	for {
		frame, next, err := h.surface.Next(r.Context(), seq)
		if err != nil {
			return
		}
		seq = next

		// Write MJPEG frame
		fmt.Fprintf(w, "--frame\r\n")
		fmt.Fprintf(w, "Content-Type: image/jpeg\r\n")
		fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(frame))
		if _, err := w.Write(frame); err != nil {
			return
		}
		fmt.Fprintf(w, "\r\n")

		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}
