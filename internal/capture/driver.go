// Package capture drives the camera and hands preview frames to the decoder.
package capture

import (
	"image"
	"time"

	"gocv.io/x/gocv"
)

// Surface is the display target a driver draws its preview into.
type Surface interface {
	// Size returns the display resolution in pixels.
	Size() image.Point
}

// Presenter is implemented by surfaces that want the raw preview frames,
// for instance to re-encode them for a remote viewer.
type Presenter interface {
	Present(frame gocv.Mat)
}

// PreviewFunc receives the luminance plane of a single preview frame.
type PreviewFunc func(data []byte)

// FocusFunc receives the outcome of one auto-focus pass.
type FocusFunc func(success bool)

// Driver is an open handle on a camera device.
//
// Preview and focus callbacks are invoked from a goroutine owned by the
// driver. After StopPreview returns no preview callback may be running or
// start, and after CancelAutoFocus returns the pending focus callback must
// not be invoked.
type Driver interface {
	SetPreviewDisplay(s Surface) error
	Lock() error
	Parameters() (*Parameters, error)
	SetParameters(p *Parameters) error
	StartPreview() error
	StopPreview() error
	// SetOneShotPreviewCallback arms fn for the next frame only. A nil fn
	// disarms any pending callback.
	SetOneShotPreviewCallback(fn PreviewFunc)
	AutoFocus(fn FocusFunc) error
	CancelAutoFocus() error
	Release() error
}

// Opener acquires a camera device.
type Opener interface {
	Open() (Driver, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func() (Driver, error)

// Open calls f.
func (f OpenerFunc) Open() (Driver, error) {
	return f()
}

// Frame is one preview frame handed to the decode stage.
type Frame struct {
	Data      []byte
	Width     int
	Height    int
	Seq       uint64
	Timestamp time.Time
}
