package capture

import (
	"fmt"
	"image"
	"log/slog"
	"math"
	"slices"
	"sync"
)

// Focus modes in order of preference for scanning.
var preferredFocusModes = []string{
	FocusModeContinuousPicture,
	FocusModeContinuousVideo,
	FocusModeAuto,
	FocusModeMacro,
}

// ConfigManager reads what a camera supports and picks the settings used
// for scanning. It is owned by a Manager.
type ConfigManager struct {
	mu               sync.RWMutex
	screenResolution image.Point
	cameraResolution image.Point
	focusModes       []string
	focusMode        string
	zoomSupported    bool
	maxZoom          int
	torchSupported   bool
}

// NewConfigManager returns an empty ConfigManager.
func NewConfigManager() *ConfigManager {
	return &ConfigManager{}
}

// InitFromDriver captures the capabilities of drv and chooses the preview
// resolution that best fits screen.
func (c *ConfigManager) InitFromDriver(drv Driver, screen image.Point) error {
	params, err := drv.Parameters()
	if err != nil {
		return fmt.Errorf("read camera parameters: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.screenResolution = screen
	c.cameraResolution = bestPreviewSize(params.SupportedPreviewSizes(), params.PreviewSize(), screen)
	c.focusModes = params.SupportedFocusModes()
	c.focusMode = params.FocusMode()
	c.zoomSupported = params.ZoomSupported()
	c.maxZoom = params.MaxZoom()
	c.torchSupported = slices.Contains(params.SupportedFlashModes(), FlashModeTorch)

	slog.Info("capture: camera configuration captured",
		"screen", screen,
		"camera", c.cameraResolution,
		"focus_modes", c.focusModes,
		"zoom", c.zoomSupported,
		"torch", c.torchSupported,
	)

	return nil
}

// SetDesiredParameters applies the chosen preview size and focus mode to drv.
// In safe mode only the preview size and plain auto-focus are requested.
// A refusal is returned wrapped in ErrParameterRejected; it is never retried
// here.
func (c *ConfigManager) SetDesiredParameters(drv Driver, safeMode bool) error {
	params, err := drv.Parameters()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrParameterRejected, err)
	}

	c.mu.RLock()
	resolution := c.cameraResolution
	modes := c.focusModes
	torch := c.torchSupported
	c.mu.RUnlock()

	if resolution != (image.Point{}) {
		params.SetPreviewSize(resolution)
	}

	focus := ""
	if safeMode {
		if slices.Contains(modes, FocusModeAuto) {
			focus = FocusModeAuto
		}
	} else {
		focus = bestFocusMode(modes)
		if torch {
			params.SetFlashMode(FlashModeOff)
		}
	}
	if focus != "" {
		params.SetFocusMode(focus)
	}

	if err := drv.SetParameters(params); err != nil {
		if safeMode {
			return fmt.Errorf("%w: safe mode: %v", ErrParameterRejected, err)
		}
		return fmt.Errorf("%w: %v", ErrParameterRejected, err)
	}

	c.mu.Lock()
	c.focusMode = params.FocusMode()
	c.mu.Unlock()

	return nil
}

// CameraResolution returns the preview resolution chosen at init, or false
// before InitFromDriver has run.
func (c *ConfigManager) CameraResolution() (image.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cameraResolution, c.cameraResolution != (image.Point{})
}

// ScreenResolution returns the display resolution captured at init.
func (c *ConfigManager) ScreenResolution() image.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.screenResolution
}

// FocusMode returns the focus mode last applied.
func (c *ConfigManager) FocusMode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.focusMode
}

// ZoomSupported reports whether the camera has a zoom control.
func (c *ConfigManager) ZoomSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.zoomSupported
}

// MaxZoom returns the highest zoom level.
func (c *ConfigManager) MaxZoom() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.maxZoom
}

// TorchSupported reports whether the camera has a torch.
func (c *ConfigManager) TorchSupported() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.torchSupported
}

// TorchState reads the torch state from drv.
func (c *ConfigManager) TorchState(drv Driver) bool {
	if drv == nil {
		return false
	}
	params, err := drv.Parameters()
	if err != nil {
		return false
	}
	return params.FlashMode() == FlashModeTorch
}

// SetTorch switches the torch on drv.
func (c *ConfigManager) SetTorch(drv Driver, on bool) error {
	params, err := drv.Parameters()
	if err != nil {
		return err
	}

	mode := FlashModeOff
	if on {
		mode = FlashModeTorch
	}
	if !slices.Contains(params.SupportedFlashModes(), mode) {
		return fmt.Errorf("%w: flash mode %q not supported", ErrParameterRejected, mode)
	}

	params.SetFlashMode(mode)
	if err := drv.SetParameters(params); err != nil {
		return fmt.Errorf("%w: %v", ErrParameterRejected, err)
	}
	return nil
}

// reset forgets the captured configuration.
func (c *ConfigManager) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screenResolution = image.Point{}
	c.cameraResolution = image.Point{}
	c.focusModes = nil
	c.focusMode = ""
	c.zoomSupported = false
	c.maxZoom = 0
	c.torchSupported = false
}

func bestFocusMode(supported []string) string {
	for _, mode := range preferredFocusModes {
		if slices.Contains(supported, mode) {
			return mode
		}
	}
	return ""
}

// bestPreviewSize picks the largest supported size that fits within the
// screen, comparing long side to long side. Ties go to the closest aspect
// ratio. When nothing fits the smallest size is used, and when the driver
// lists nothing the current size is kept.
func bestPreviewSize(supported []image.Point, current, screen image.Point) image.Point {
	if len(supported) == 0 {
		return current
	}

	screenLong, screenShort := max(screen.X, screen.Y), min(screen.X, screen.Y)
	screenAspect := 0.0
	if screenShort > 0 {
		screenAspect = float64(screenLong) / float64(screenShort)
	}

	var best image.Point
	bestArea := -1
	bestDiff := math.MaxFloat64
	smallest := supported[0]

	for _, size := range supported {
		long, short := max(size.X, size.Y), min(size.X, size.Y)
		if size.X*size.Y < smallest.X*smallest.Y {
			smallest = size
		}
		if short <= 0 || long > screenLong || short > screenShort {
			continue
		}

		area := long * short
		diff := math.Abs(float64(long)/float64(short) - screenAspect)
		if area > bestArea || (area == bestArea && diff < bestDiff) {
			best, bestArea, bestDiff = size, area, diff
		}
	}

	if bestArea < 0 {
		return smallest
	}
	return best
}
