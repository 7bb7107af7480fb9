// Package session runs a scan: it owns the camera lifecycle for one
// viewfinder and loops frame requests through the decoder.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/scanview/internal/capture"
	"github.com/ayusman/scanview/internal/decode"
	"github.com/google/uuid"
)

// Session timing defaults.
const (
	DefaultResumeDelay    = 1500 * time.Millisecond
	DefaultRequestTimeout = 2 * time.Second
	// retryInterval paces frame requests while preview is not running.
	retryInterval = 100 * time.Millisecond
)

var (
	// ErrMissingManager is returned by New without a capture manager.
	ErrMissingManager = errors.New("session: capture manager is required")
	// ErrMissingSurface is returned by New without a display surface.
	ErrMissingSurface = errors.New("session: surface is required")
	// ErrMissingOverlay is returned by New without a viewfinder overlay.
	ErrMissingOverlay = errors.New("session: overlay is required")
	// ErrClosed is returned when resuming a closed session.
	ErrClosed = errors.New("session: closed")
)

// Handler receives every decoded result. Handlers run on the decode
// goroutine and must not call Pause or Close.
type Handler func(*decode.Result)

// State of a Session.
type State string

const (
	StatePaused   State = "paused"
	StateScanning State = "scanning"
	// StateHolding means a result was found in single-shot mode and the
	// session waits for Rescan.
	StateHolding State = "holding"
	StateClosed  State = "closed"
)

// Config holds the collaborators and options of a Session.
type Config struct {
	Manager *capture.Manager
	Surface capture.Surface
	Overlay Overlay

	// Decoder reads codes from cropped frames. Defaults to a QR decoder.
	Decoder decode.Decoder

	// OnResult is called for each result before subscribers.
	OnResult Handler

	// Continuous keeps scanning after a result, pausing ResumeDelay first.
	// Otherwise the session holds after the first result until Rescan.
	Continuous  bool
	ResumeDelay time.Duration

	// RequestTimeout bounds the wait for a requested frame.
	RequestTimeout time.Duration

	// SuppressRepeats skips frames of an unchanged scene after a result in
	// continuous mode, so a code held still is reported once.
	SuppressRepeats bool
	// ChangeThreshold is the percentage of pixels that marks a new scene.
	ChangeThreshold float64
}

// Status is a snapshot of a Session.
type Status struct {
	ID         string         `json:"id"`
	State      State          `json:"state"`
	Continuous bool           `json:"continuous"`
	Frames     uint64         `json:"frames"`
	Results    uint64         `json:"results"`
	LastResult *decode.Result `json:"last_result,omitempty"`
}

// Session scans codes from the camera behind Manager. Resume starts the
// camera and decode loop, Pause stops them and releases the camera.
type Session struct {
	id      uuid.UUID
	cfg     Config
	manager *capture.Manager
	decoder decode.Decoder
	gate    *capture.ChangeDetector

	lifecycle sync.Mutex

	mu          sync.Mutex
	state       State
	stopCh      chan struct{}
	rescanCh    chan struct{}
	handlers    map[int]Handler
	nextHandler int
	frames      uint64
	results     uint64
	lastResult  *decode.Result

	wg sync.WaitGroup
}

// New validates cfg and creates a paused Session.
func New(cfg Config) (*Session, error) {
	switch {
	case cfg.Manager == nil:
		return nil, ErrMissingManager
	case cfg.Surface == nil:
		return nil, ErrMissingSurface
	case cfg.Overlay == nil:
		return nil, ErrMissingOverlay
	}

	if cfg.Decoder == nil {
		cfg.Decoder = decode.NewQRDecoder(decode.DefaultConfig())
	}
	if cfg.ResumeDelay <= 0 {
		cfg.ResumeDelay = DefaultResumeDelay
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}

	s := &Session{
		id:       uuid.New(),
		cfg:      cfg,
		manager:  cfg.Manager,
		decoder:  cfg.Decoder,
		state:    StatePaused,
		rescanCh: make(chan struct{}, 1),
		handlers: make(map[int]Handler),
	}
	if cfg.Continuous && cfg.SuppressRepeats {
		s.gate = capture.NewChangeDetector(cfg.ChangeThreshold)
	}
	return s, nil
}

// ID identifies the session in logs and result streams.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Manager returns the capture manager the session drives.
func (s *Session) Manager() *capture.Manager {
	return s.manager
}

// Resume opens the camera, starts preview, places the scan region and
// starts decoding. Resuming a scanning session does nothing.
func (s *Session) Resume() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()

	switch state {
	case StateClosed:
		return ErrClosed
	case StateScanning, StateHolding:
		return nil
	}

	if err := s.manager.Open(s.cfg.Surface); err != nil {
		return fmt.Errorf("open camera: %w", err)
	}
	if err := s.manager.StartPreview(); err != nil {
		_ = s.manager.Close()
		return fmt.Errorf("start preview: %w", err)
	}
	if err := s.placeFramingRect(); err != nil {
		slog.Warn("session: scan region not placed yet", "session", s.id, "error", err)
	}

	stopCh := make(chan struct{})
	s.mu.Lock()
	s.state = StateScanning
	s.stopCh = stopCh
	s.mu.Unlock()

	s.drainRescan()
	s.wg.Add(1)
	go s.run(stopCh)

	slog.Info("session: scanning", "session", s.id, "continuous", s.cfg.Continuous)
	return nil
}

// Pause stops decoding and releases the camera. Pausing a paused session
// does nothing.
func (s *Session) Pause() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()
	return s.pause(StatePaused)
}

func (s *Session) pause(next State) error {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()

	if stopCh == nil {
		s.setState(next)
		return nil
	}

	close(stopCh)
	s.wg.Wait()
	s.setState(next)

	s.manager.StopPreview()
	if err := s.manager.Close(); err != nil {
		return fmt.Errorf("close camera: %w", err)
	}

	slog.Info("session: paused", "session", s.id)
	return nil
}

// Close pauses the session for good and releases the decoder.
func (s *Session) Close() error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	err := s.pause(StateClosed)

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	if s.gate != nil {
		s.gate.Close()
	}
	return errors.Join(err, s.decoder.Close())
}

// Rescan resumes decoding after a single-shot result.
func (s *Session) Rescan() {
	select {
	case s.rescanCh <- struct{}{}:
	default:
	}
}

func (s *Session) drainRescan() {
	select {
	case <-s.rescanCh:
	default:
	}
}

// Subscribe registers h for results. The returned func unregisters it.
func (s *Session) Subscribe(h Handler) (unsubscribe func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextHandler
	s.nextHandler++
	s.handlers[id] = h

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.handlers, id)
	}
}

// State returns the session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recent result, or nil.
func (s *Session) LastResult() *decode.Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResult
}

// Status returns a snapshot of the session.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		ID:         s.id.String(),
		State:      s.state,
		Continuous: s.cfg.Continuous,
		Frames:     s.frames,
		Results:    s.results,
		LastResult: s.lastResult,
	}
}

// placeFramingRect computes the viewfinder rectangle and hands its preview
// image equivalent to the manager.
func (s *Session) placeFramingRect() error {
	canvas := s.cfg.Overlay.Size()
	vf, err := s.manager.FramingRect(canvas.X, canvas.Y)
	if err != nil {
		return err
	}

	preview, ok := s.manager.CameraResolution()
	if !ok {
		return errors.New("camera resolution unknown")
	}

	rect := s.cfg.Overlay.ScreenRect(vf, preview).Clip(preview)
	if rect.Empty() {
		return fmt.Errorf("scan region %v falls outside the %v preview", rect, preview)
	}

	placed := s.manager.SetFramingRectOnScreen(rect.Min.X, rect.Min.Y, rect.Max.X, rect.Max.Y)
	slog.Debug("session: scan region placed", "session", s.id, "viewfinder", vf, "screen", placed)
	return nil
}

func (s *Session) deliver(res *decode.Result) {
	s.mu.Lock()
	s.results++
	s.lastResult = res
	handlers := make([]Handler, 0, len(s.handlers)+1)
	if s.cfg.OnResult != nil {
		handlers = append(handlers, s.cfg.OnResult)
	}
	for _, h := range s.handlers {
		handlers = append(handlers, h)
	}
	s.mu.Unlock()

	slog.Info("session: code scanned", "session", s.id, "format", res.Format, "result", res.ID)
	for _, h := range handlers {
		h(res)
	}
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

func (s *Session) countFrame() {
	s.mu.Lock()
	s.frames++
	s.mu.Unlock()
}
