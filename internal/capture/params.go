package capture

import (
	"fmt"
	"image"
	"strconv"
	"strings"
)

// Parameter keys understood by the drivers in this package.
const (
	KeyPreviewSize       = "preview-size"
	KeyPreviewSizeValues = "preview-size-values"
	KeyFocusMode         = "focus-mode"
	KeyFocusModeValues   = "focus-mode-values"
	KeyFlashMode         = "flash-mode"
	KeyFlashModeValues   = "flash-mode-values"
	KeyZoom              = "zoom"
	KeyMaxZoom           = "max-zoom"
	KeyZoomSupported     = "zoom-supported"
)

// Focus modes.
const (
	FocusModeAuto              = "auto"
	FocusModeMacro             = "macro"
	FocusModeContinuousPicture = "continuous-picture"
	FocusModeContinuousVideo   = "continuous-video"
	FocusModeFixed             = "fixed"
	FocusModeInfinity          = "infinity"
)

// Flash modes.
const (
	FlashModeOff   = "off"
	FlashModeTorch = "torch"
)

// Parameters is an ordered set of camera settings. Its flattened form
// ("key=value;key=value") is what a driver reports as its current state and
// what is restored when a new configuration is rejected.
type Parameters struct {
	keys   []string
	values map[string]string
}

// NewParameters returns an empty parameter set.
func NewParameters() *Parameters {
	return &Parameters{values: make(map[string]string)}
}

// ParseParameters parses a flattened parameter string.
func ParseParameters(flattened string) *Parameters {
	p := NewParameters()
	p.Unflatten(flattened)
	return p
}

// Get returns the raw value for key, or "" when unset.
func (p *Parameters) Get(key string) string {
	return p.values[key]
}

// Set stores a raw value. Keys keep their first insertion order.
func (p *Parameters) Set(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
}

// Clone returns a deep copy of p.
func (p *Parameters) Clone() *Parameters {
	c := NewParameters()
	for _, k := range p.keys {
		c.Set(k, p.values[k])
	}
	return c
}

// Flatten serializes p.
func (p *Parameters) Flatten() string {
	var sb strings.Builder
	for i, k := range p.keys {
		if i > 0 {
			sb.WriteByte(';')
		}
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(p.values[k])
	}
	return sb.String()
}

// Unflatten replaces the contents of p with the parsed flattened string.
// Malformed entries are skipped.
func (p *Parameters) Unflatten(flattened string) {
	p.keys = p.keys[:0]
	p.values = make(map[string]string)

	for _, entry := range strings.Split(flattened, ";") {
		k, v, ok := strings.Cut(entry, "=")
		if !ok || k == "" {
			continue
		}
		p.Set(k, v)
	}
}

// PreviewSize returns the configured preview resolution.
func (p *Parameters) PreviewSize() image.Point {
	size, _ := parseSize(p.Get(KeyPreviewSize))
	return size
}

// SetPreviewSize sets the preview resolution.
func (p *Parameters) SetPreviewSize(size image.Point) {
	p.Set(KeyPreviewSize, formatSize(size))
}

// SupportedPreviewSizes lists the preview resolutions the driver accepts.
func (p *Parameters) SupportedPreviewSizes() []image.Point {
	var sizes []image.Point
	for _, s := range splitList(p.Get(KeyPreviewSizeValues)) {
		if size, ok := parseSize(s); ok {
			sizes = append(sizes, size)
		}
	}
	return sizes
}

// SetSupportedPreviewSizes sets the accepted preview resolutions.
func (p *Parameters) SetSupportedPreviewSizes(sizes []image.Point) {
	values := make([]string, len(sizes))
	for i, s := range sizes {
		values[i] = formatSize(s)
	}
	p.Set(KeyPreviewSizeValues, strings.Join(values, ","))
}

// FocusMode returns the focus mode in force.
func (p *Parameters) FocusMode() string { return p.Get(KeyFocusMode) }

// SetFocusMode selects a focus mode.
func (p *Parameters) SetFocusMode(mode string) { p.Set(KeyFocusMode, mode) }

// SupportedFocusModes lists the focus modes the driver accepts.
func (p *Parameters) SupportedFocusModes() []string {
	return splitList(p.Get(KeyFocusModeValues))
}

// FlashMode returns the flash mode in force.
func (p *Parameters) FlashMode() string { return p.Get(KeyFlashMode) }

// SetFlashMode selects a flash mode.
func (p *Parameters) SetFlashMode(mode string) { p.Set(KeyFlashMode, mode) }

// SupportedFlashModes lists the flash modes the driver accepts.
func (p *Parameters) SupportedFlashModes() []string {
	return splitList(p.Get(KeyFlashModeValues))
}

// ZoomSupported reports whether the driver exposes a zoom control.
func (p *Parameters) ZoomSupported() bool {
	return p.Get(KeyZoomSupported) == "true"
}

// Zoom returns the current zoom level.
func (p *Parameters) Zoom() int { return atoi(p.Get(KeyZoom)) }

// SetZoom sets the zoom level.
func (p *Parameters) SetZoom(level int) { p.Set(KeyZoom, strconv.Itoa(level)) }

// MaxZoom returns the highest zoom level the driver accepts.
func (p *Parameters) MaxZoom() int { return atoi(p.Get(KeyMaxZoom)) }

func parseSize(s string) (image.Point, bool) {
	w, h, ok := strings.Cut(s, "x")
	if !ok {
		return image.Point{}, false
	}
	x, errW := strconv.Atoi(w)
	y, errH := strconv.Atoi(h)
	if errW != nil || errH != nil {
		return image.Point{}, false
	}
	return image.Pt(x, y), true
}

func formatSize(size image.Point) string {
	return fmt.Sprintf("%dx%d", size.X, size.Y)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func atoi(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}
