package capture

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/ayusman/scanview/internal/geometry"
	"github.com/makiuchi-d/gozxing"
)

// DefaultWidthScale is the framing square's side relative to the shorter
// side of the viewfinder.
const DefaultWidthScale = 0.5

// State is the lifecycle state of a Manager.
type State int

const (
	StateClosed State = iota
	StateOpened
	StatePreviewing
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StatePreviewing:
		return "previewing"
	default:
		return "closed"
	}
}

// Options configures a Manager.
type Options struct {
	// WidthScale is the framing square's side as a fraction of the shorter
	// viewfinder side. Zero means DefaultWidthScale; any other value outside
	// (0, 1] is reported by FramingRect.
	WidthScale float64

	// FocusInterval is the pause between auto-focus passes.
	FocusInterval time.Duration
}

// Stats counts preview frames handled by the single-shot callback.
type Stats struct {
	FramesDelivered uint64
	FramesDropped   uint64
}

// Manager owns the camera driver and is the only thing that talks to it.
// It handles open and close, preview start and stop, one-shot frame
// requests, torch and zoom, and the framing rectangles used to crop frames
// before decoding. Every public method holds the same lock.
type Manager struct {
	opener        Opener
	config        *ConfigManager
	preview       *previewCallback
	scale         float64
	focusInterval time.Duration

	mu                  sync.Mutex
	driver              Driver
	autoFocus           *AutoFocusManager
	framingRect         *geometry.ViewfinderRect
	framingRectOnScreen *geometry.ScreenRect
	initialized         bool
	previewing          bool
	requestedWidth      int
	requestedHeight     int
}

// NewManager creates a Manager that acquires its camera through opener.
func NewManager(opener Opener, opts Options) *Manager {
	if opts.WidthScale == 0 {
		opts.WidthScale = DefaultWidthScale
	}

	config := NewConfigManager()
	return &Manager{
		opener:        opener,
		config:        config,
		preview:       newPreviewCallback(config),
		scale:         opts.WidthScale,
		focusInterval: opts.FocusInterval,
	}
}

// Open acquires the camera if needed, binds it to surface and configures it.
//
// It only fails when no camera could be acquired or bound; a camera that
// refuses the desired parameters is reset to its previous settings plus a
// minimal safe-mode set, and if that is refused too it is left unconfigured.
func (m *Manager) Open(surface Surface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	drv := m.driver
	fresh := false
	if drv == nil {
		d, err := m.opener.Open()
		if err != nil {
			return unavailable(err)
		}
		if d == nil {
			return ErrDriverUnavailable
		}
		drv, fresh = d, true
	}

	if err := drv.SetPreviewDisplay(surface); err != nil {
		return m.abortOpen(drv, fresh, fmt.Errorf("set preview display: %w", err))
	}
	if err := drv.Lock(); err != nil {
		return m.abortOpen(drv, fresh, fmt.Errorf("lock camera: %w", err))
	}
	m.driver = drv

	if !m.initialized {
		m.initialized = true
		if err := m.config.InitFromDriver(drv, surface.Size()); err != nil {
			slog.Warn("capture: could not read camera capabilities", "error", err)
		}
		if m.requestedWidth > 0 && m.requestedHeight > 0 {
			m.setManualFramingRect(m.requestedWidth, m.requestedHeight)
		}
	}

	m.configure(drv)
	return nil
}

func (m *Manager) abortOpen(drv Driver, fresh bool, err error) error {
	if fresh {
		if rerr := drv.Release(); rerr != nil {
			slog.Warn("capture: release after failed open", "error", rerr)
		}
	}
	return unavailable(err)
}

func unavailable(err error) error {
	if errors.Is(err, ErrDriverUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrDriverUnavailable, err)
}

// configure applies the desired parameters, falling back once to the
// driver's previous flattened parameters plus safe-mode settings.
func (m *Manager) configure(drv Driver) {
	saved := ""
	if params, err := drv.Parameters(); err == nil {
		saved = params.Flatten()
	}

	err := m.config.SetDesiredParameters(drv, false)
	if err == nil {
		return
	}

	slog.Warn("capture: camera rejected parameters, setting only minimal safe-mode parameters", "error", err)
	if saved == "" {
		slog.Warn("capture: no saved camera parameters to restore, no configuration")
		return
	}

	slog.Info("capture: resetting to saved camera parameters", "parameters", saved)
	if err := m.applySafeMode(drv, saved); err != nil {
		slog.Warn("capture: camera rejected even safe-mode parameters, no configuration", "error", err)
	}
}

func (m *Manager) applySafeMode(drv Driver, saved string) error {
	params, err := drv.Parameters()
	if err != nil {
		return err
	}
	params.Unflatten(saved)
	if err := drv.SetParameters(params); err != nil {
		return fmt.Errorf("%w: restore saved parameters: %v", ErrParameterRejected, err)
	}
	return m.config.SetDesiredParameters(drv, true)
}

// Close stops any running preview and releases the camera. Both framing
// rectangles are forgotten. Closing a closed Manager does nothing.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver == nil {
		return nil
	}

	m.stopPreview()

	err := m.driver.Release()
	m.driver = nil
	m.framingRect = nil
	m.framingRectOnScreen = nil
	m.initialized = false
	m.config.reset()

	if err != nil {
		return fmt.Errorf("release camera: %w", err)
	}
	return nil
}

// IsOpen reports whether a camera is held.
func (m *Manager) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driver != nil
}

// State returns the lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch {
	case m.driver == nil:
		return StateClosed
	case m.previewing:
		return StatePreviewing
	default:
		return StateOpened
	}
}

// StartPreview starts the preview stream and the auto-focus loop. It does
// nothing when already previewing or closed.
func (m *Manager) StartPreview() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver == nil || m.previewing {
		return nil
	}

	if err := m.driver.StartPreview(); err != nil {
		return fmt.Errorf("start preview: %w", err)
	}
	m.previewing = true

	m.autoFocus = NewAutoFocusManager(m.driver, m.config.FocusMode(), m.focusInterval)
	m.autoFocus.Start()
	return nil
}

// StopPreview stops auto-focus, then the preview stream, and drops any
// pending frame request. Once it returns no frame or focus callback fires.
func (m *Manager) StopPreview() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopPreview()
}

func (m *Manager) stopPreview() {
	if m.autoFocus != nil {
		m.autoFocus.Stop()
		m.autoFocus = nil
	}
	if m.driver != nil && m.previewing {
		m.driver.SetOneShotPreviewCallback(nil)
		if err := m.driver.StopPreview(); err != nil {
			slog.Warn("capture: stop preview failed", "error", err)
		}
		m.preview.arm(nil)
		m.previewing = false
	}
}

// IsPreviewing reports whether the preview stream is running.
func (m *Manager) IsPreviewing() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.previewing
}

// RequestFrame arranges for the next preview frame to be sent on dst. The
// send never blocks, so dst should have room for one frame. Requests made
// while not previewing are dropped; the return value reports whether the
// request was armed.
func (m *Manager) RequestFrame(dst chan<- Frame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver == nil || !m.previewing || dst == nil {
		return false
	}

	m.preview.arm(dst)
	m.driver.SetOneShotPreviewCallback(m.preview.onPreviewFrame)
	return true
}

// Stats returns frame counters for the current Manager.
func (m *Manager) Stats() Stats {
	return Stats{
		FramesDelivered: m.preview.delivered.Load(),
		FramesDropped:   m.preview.dropped.Load(),
	}
}

// SetTorch switches the torch. Auto-focus is paused around the change
// because some cameras reset focus when the flash mode changes.
func (m *Manager) SetTorch(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver == nil || on == m.config.TorchState(m.driver) {
		return nil
	}

	if m.autoFocus != nil {
		m.autoFocus.Stop()
	}
	err := m.config.SetTorch(m.driver, on)
	if m.autoFocus != nil {
		m.autoFocus.Start()
	}
	return err
}

// Torch reports whether the torch is on.
func (m *Manager) Torch() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config.TorchState(m.driver)
}

// TorchSupported reports whether the open camera has a torch.
func (m *Manager) TorchSupported() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.driver != nil && m.config.TorchSupported()
}

// FramingRect returns the square scan region in the coordinates of a
// viewfinder canvas of the given size. The first result of an open session
// is cached; later calls return it whatever their arguments.
func (m *Manager) FramingRect(viewfinderWidth, viewfinderHeight int) (geometry.ViewfinderRect, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.framingRect != nil {
		return *m.framingRect, nil
	}
	if m.driver == nil {
		return geometry.ViewfinderRect{}, ErrDriverClosed
	}

	rect, err := geometry.CenteredSquare(image.Pt(viewfinderWidth, viewfinderHeight), m.scale)
	if err != nil {
		return geometry.ViewfinderRect{}, err
	}
	m.framingRect = &rect

	slog.Debug("capture: calculated framing rect", "rect", rect)
	return rect, nil
}

// SetFramingRectOnScreen records the scan region in preview-image
// coordinates. Only the first call of an open session has an effect; the
// rectangle in force is returned.
func (m *Manager) SetFramingRectOnScreen(left, top, right, bottom int) geometry.ScreenRect {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.framingRectOnScreen == nil {
		rect := geometry.NewScreenRect(left, top, right, bottom)
		m.framingRectOnScreen = &rect
		slog.Debug("capture: framing rect on screen set", "rect", rect)
	}
	return *m.framingRectOnScreen
}

// FramingRectOnScreen returns the scan region in preview-image coordinates.
func (m *Manager) FramingRectOnScreen() (geometry.ScreenRect, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.framingRectOnScreen == nil {
		return geometry.ScreenRect{}, false
	}
	return *m.framingRectOnScreen, true
}

// SetManualFramingRect sets the framing rectangle to the given size,
// clamped to the screen and centered on it. The size is kept for the life of
// the Manager and applied again on every Open, so it survives Close; before
// the first Open it is only remembered. The screen-space rectangle is
// invalidated and must be set again.
func (m *Manager) SetManualFramingRect(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requestedWidth = width
	m.requestedHeight = height
	if m.initialized {
		m.setManualFramingRect(width, height)
	}
}

func (m *Manager) setManualFramingRect(width, height int) {
	rect := geometry.ClampCentered(width, height, m.config.ScreenResolution())
	m.framingRect = &rect
	m.framingRectOnScreen = nil
	slog.Debug("capture: calculated manual framing rect", "rect", rect)
}

// BuildLuminanceSource crops a preview frame to the screen-space framing
// rectangle. It fails with ErrNoFramingRect until that rectangle is known.
// The rectangle is clipped to the frame; only a rectangle entirely outside
// it is an error.
func (m *Manager) BuildLuminanceSource(data []byte, width, height int) (gozxing.LuminanceSource, error) {
	rect, ok := m.FramingRectOnScreen()
	if !ok {
		return nil, ErrNoFramingRect
	}
	if width <= 0 || height <= 0 || len(data) < width*height {
		return nil, fmt.Errorf("frame of %d bytes does not hold %dx%d pixels", len(data), width, height)
	}
	rect = rect.Clip(image.Pt(width, height))
	if rect.Empty() {
		return nil, fmt.Errorf("scan region lies outside the %dx%d frame", width, height)
	}

	src, err := gozxing.NewPlanarYUVLuminanceSource(
		data, width, height,
		rect.Min.X, rect.Min.Y, rect.Dx(), rect.Dy(),
		false,
	)
	if err != nil {
		return nil, fmt.Errorf("crop frame to %v: %w", rect, err)
	}
	return src, nil
}

// CameraResolution returns the preview resolution of the open camera.
func (m *Manager) CameraResolution() (image.Point, bool) {
	return m.config.CameraResolution()
}

// ScreenResolution returns the resolution of the surface the camera was
// opened against.
func (m *Manager) ScreenResolution() image.Point {
	return m.config.ScreenResolution()
}

// ZoomIn raises zoom by one step.
func (m *Manager) ZoomIn() error {
	return m.updateZoom(func(current, _ int) int { return current + 1 })
}

// ZoomOut lowers zoom by one step.
func (m *Manager) ZoomOut() error {
	return m.updateZoom(func(current, _ int) int { return current - 1 })
}

// SetZoom sets zoom to level, clamped to [0, max zoom].
func (m *Manager) SetZoom(level int) error {
	return m.updateZoom(func(_, _ int) int { return level })
}

// Zoom returns the current zoom level and the maximum. ok is false when the
// camera is closed or has no zoom.
func (m *Manager) Zoom() (level, maxZoom int, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver == nil {
		return 0, 0, false
	}
	params, err := m.driver.Parameters()
	if err != nil || !params.ZoomSupported() {
		return 0, 0, false
	}
	return params.Zoom(), params.MaxZoom(), true
}

func (m *Manager) updateZoom(next func(current, maxZoom int) int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.driver == nil {
		return nil
	}
	params, err := m.driver.Parameters()
	if err != nil {
		return err
	}
	if !params.ZoomSupported() {
		return nil
	}

	current, maxZoom := params.Zoom(), params.MaxZoom()
	level := min(max(next(current, maxZoom), 0), maxZoom)
	if level == current {
		return nil
	}

	params.SetZoom(level)
	if err := m.driver.SetParameters(params); err != nil {
		return fmt.Errorf("%w: zoom %d: %v", ErrParameterRejected, level, err)
	}
	return nil
}
