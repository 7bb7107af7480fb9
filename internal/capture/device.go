package capture

import (
	"errors"
	"fmt"
	"image"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"time"

	"gocv.io/x/gocv"
)

// Default device settings.
const (
	DefaultFPS     = 15
	DefaultMaxZoom = 10
)

// DefaultPreviewSizes are offered when a device cannot list its modes.
var DefaultPreviewSizes = []image.Point{
	image.Pt(320, 240),
	image.Pt(640, 480),
	image.Pt(1280, 720),
	image.Pt(1920, 1080),
}

// focusSettle is how long one auto-focus pass keeps the device's
// autofocus enabled.
const focusSettle = 300 * time.Millisecond

// deviceSlot allows a single webcam handle per process.
var deviceSlot = make(chan struct{}, 1)

// DeviceOpener opens a local webcam through OpenCV. Only one device may be
// open at a time in a process; a second Open fails with
// ErrDriverUnavailable until the first handle is released.
type DeviceOpener struct {
	DeviceID int
	FPS      int
	MaxZoom  int
	Sizes    []image.Point
}

// Open opens the webcam.
func (o DeviceOpener) Open() (Driver, error) {
	select {
	case deviceSlot <- struct{}{}:
	default:
		return nil, fmt.Errorf("%w: a camera is already open in this process", ErrDriverUnavailable)
	}

	vc, err := gocv.OpenVideoCapture(o.DeviceID)
	if err != nil {
		<-deviceSlot
		return nil, fmt.Errorf("%w: device %d: %v", ErrDriverUnavailable, o.DeviceID, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		<-deviceSlot
		return nil, fmt.Errorf("%w: device %d did not open", ErrDriverUnavailable, o.DeviceID)
	}

	fps := o.FPS
	if fps <= 0 {
		fps = DefaultFPS
	}
	vc.Set(gocv.VideoCaptureFPS, float64(fps))

	d := &deviceDriver{
		deviceID: o.DeviceID,
		fps:      fps,
		capture:  vc,
	}
	d.params = d.initialParameters(o.Sizes, o.MaxZoom)

	slog.Info("capture: webcam opened", "device", o.DeviceID, "parameters", d.params.Flatten())
	return d, nil
}

// deviceDriver implements Driver over gocv.VideoCapture. The preview runs
// in its own goroutine, reading frames at fps and handing the grayscale
// plane to the armed one-shot callback.
type deviceDriver struct {
	deviceID int
	fps      int

	mu       sync.Mutex
	capture  *gocv.VideoCapture
	params   *Parameters
	surface  Surface
	oneShot  PreviewFunc
	stopCh   chan struct{}
	done     chan struct{}
	focusGen int
	released bool

	// focusMu is taken before mu. It keeps a focus callback and
	// CancelAutoFocus from overlapping.
	focusMu sync.Mutex
}

func (d *deviceDriver) initialParameters(sizes []image.Point, maxZoom int) *Parameters {
	if len(sizes) == 0 {
		sizes = DefaultPreviewSizes
	}
	if maxZoom <= 0 {
		maxZoom = DefaultMaxZoom
	}

	current := image.Pt(
		int(d.capture.Get(gocv.VideoCaptureFrameWidth)),
		int(d.capture.Get(gocv.VideoCaptureFrameHeight)),
	)
	if current.X > 0 && current.Y > 0 && !slices.Contains(sizes, current) {
		sizes = append(slices.Clone(sizes), current)
	}

	p := NewParameters()
	p.SetPreviewSize(current)
	p.SetSupportedPreviewSizes(sizes)
	p.SetFocusMode(FocusModeFixed)
	p.Set(KeyFocusModeValues, FocusModeContinuousVideo+","+FocusModeAuto+","+FocusModeFixed)
	p.SetFlashMode(FlashModeOff)
	p.Set(KeyFlashModeValues, FlashModeOff)
	p.Set(KeyZoomSupported, "true")
	p.Set(KeyMaxZoom, strconv.Itoa(maxZoom))
	p.SetZoom(0)
	return p
}

func (d *deviceDriver) SetPreviewDisplay(s Surface) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrDriverClosed
	}
	d.surface = s
	return nil
}

// Lock is satisfied by deviceSlot: the handle is already exclusive.
func (d *deviceDriver) Lock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrDriverClosed
	}
	return nil
}

func (d *deviceDriver) Parameters() (*Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrDriverClosed
	}
	return d.params.Clone(), nil
}

func (d *deviceDriver) SetParameters(p *Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrDriverClosed
	}
	if err := d.validate(p); err != nil {
		return err
	}

	size := p.PreviewSize()
	d.capture.Set(gocv.VideoCaptureFrameWidth, float64(size.X))
	d.capture.Set(gocv.VideoCaptureFrameHeight, float64(size.Y))

	switch p.FocusMode() {
	case FocusModeContinuousVideo:
		d.capture.Set(gocv.VideoCaptureAutoFocus, 1)
	default:
		d.capture.Set(gocv.VideoCaptureAutoFocus, 0)
	}
	d.capture.Set(gocv.VideoCaptureZoom, float64(p.Zoom()))

	d.params = p.Clone()
	return nil
}

func (d *deviceDriver) validate(p *Parameters) error {
	if size := p.PreviewSize(); !slices.Contains(d.params.SupportedPreviewSizes(), size) {
		return fmt.Errorf("preview size %v not supported", size)
	}
	if mode := p.FocusMode(); mode != "" && !slices.Contains(d.params.SupportedFocusModes(), mode) {
		return fmt.Errorf("focus mode %q not supported", mode)
	}
	if mode := p.FlashMode(); mode != "" && !slices.Contains(d.params.SupportedFlashModes(), mode) {
		return fmt.Errorf("flash mode %q not supported", mode)
	}
	if z := p.Zoom(); z < 0 || z > d.params.MaxZoom() {
		return fmt.Errorf("zoom %d out of range [0, %d]", z, d.params.MaxZoom())
	}
	return nil
}

func (d *deviceDriver) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrDriverClosed
	}
	if d.stopCh != nil {
		return nil
	}

	d.stopCh = make(chan struct{})
	d.done = make(chan struct{})
	go d.previewLoop(d.stopCh, d.done)
	return nil
}

// StopPreview stops the preview goroutine and waits for it, so no preview
// callback runs after it returns.
func (d *deviceDriver) StopPreview() error {
	d.mu.Lock()
	stopCh, done := d.stopCh, d.done
	d.stopCh, d.done = nil, nil
	d.oneShot = nil
	d.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	<-done
	return nil
}

func (d *deviceDriver) SetOneShotPreviewCallback(fn PreviewFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oneShot = fn
}

// AutoFocus enables the device's autofocus for a short settle period and
// then locks focus again.
func (d *deviceDriver) AutoFocus(fn FocusFunc) error {
	d.mu.Lock()
	if d.released {
		d.mu.Unlock()
		return ErrDriverClosed
	}
	d.focusGen++
	gen := d.focusGen
	d.capture.Set(gocv.VideoCaptureAutoFocus, 1)
	d.mu.Unlock()

	time.AfterFunc(focusSettle, func() {
		d.focusMu.Lock()
		defer d.focusMu.Unlock()

		d.mu.Lock()
		stale := d.released || gen != d.focusGen
		if !stale {
			d.capture.Set(gocv.VideoCaptureAutoFocus, 0)
		}
		d.mu.Unlock()

		if !stale {
			fn(true)
		}
	})
	return nil
}

// CancelAutoFocus drops any pending focus callback and locks focus where it
// is.
func (d *deviceDriver) CancelAutoFocus() error {
	d.focusMu.Lock()
	defer d.focusMu.Unlock()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.focusGen++
	if !d.released {
		d.capture.Set(gocv.VideoCaptureAutoFocus, 0)
	}
	return nil
}

// Release stops the preview and closes the device.
func (d *deviceDriver) Release() error {
	if err := d.StopPreview(); err != nil {
		return err
	}

	d.focusMu.Lock()
	defer d.focusMu.Unlock()
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil
	}
	d.released = true
	d.focusGen++
	err := d.capture.Close()
	<-deviceSlot

	slog.Info("capture: webcam released", "device", d.deviceID)
	return err
}

func (d *deviceDriver) previewLoop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(d.fps))
	defer ticker.Stop()

	frame := gocv.NewMat()
	defer frame.Close()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		ok := d.capture.Read(&frame)
		surface := d.surface
		size := d.params.PreviewSize()
		fn := d.oneShot
		if ok && !frame.Empty() {
			d.oneShot = nil
		}
		d.mu.Unlock()

		if !ok || frame.Empty() {
			slog.Debug("capture: failed to read frame from camera", "device", d.deviceID)
			continue
		}

		if p, isPresenter := surface.(Presenter); isPresenter {
			p.Present(frame)
		}

		if fn == nil {
			continue
		}

		data, err := luminancePlane(frame, size)
		if err != nil {
			slog.Warn("capture: could not extract luminance", "error", err)
			continue
		}
		fn(data)
	}
}

// luminancePlane converts a BGR frame to 8-bit grayscale at size, which is
// what the planar YUV luminance source reads as its Y plane.
func luminancePlane(frame gocv.Mat, size image.Point) ([]byte, error) {
	gray := gocv.NewMat()
	defer gray.Close()

	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &gray, gocv.ColorBGRToGray)
	} else {
		frame.CopyTo(&gray)
	}

	if size.X > 0 && size.Y > 0 && (gray.Cols() != size.X || gray.Rows() != size.Y) {
		resized := gocv.NewMat()
		defer resized.Close()
		gocv.Resize(gray, &resized, size, 0, 0, gocv.InterpolationLinear)
		return resized.ToBytes(), nil
	}

	if gray.Empty() {
		return nil, errors.New("captured frame is empty")
	}
	return gray.ToBytes(), nil
}
