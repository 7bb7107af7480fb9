package capture

import (
	"errors"

	"github.com/ayusman/scanview/internal/geometry"
)

var (
	// ErrDriverUnavailable is returned when no camera could be opened.
	ErrDriverUnavailable = errors.New("camera driver unavailable")

	// ErrParameterRejected is returned when the driver refuses a parameter set.
	ErrParameterRejected = errors.New("camera rejected parameters")

	// ErrInvalidScale is returned when the configured framing width scale is
	// outside (0, 1].
	ErrInvalidScale = geometry.ErrInvalidScale

	// ErrFrameDropped marks a preview frame that arrived with nobody waiting
	// for it. It is only ever logged.
	ErrFrameDropped = errors.New("preview frame dropped")

	// ErrDriverClosed is returned by operations that need an open driver.
	ErrDriverClosed = errors.New("camera driver is not open")

	// ErrNoFramingRect is returned when a luminance source is requested before
	// the screen-space framing rectangle has been set.
	ErrNoFramingRect = errors.New("screen framing rectangle not set")
)
