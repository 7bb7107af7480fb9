package capture

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"sync"
)

// FakeDriver is an in-memory Driver for tests. Frames are pushed with
// EmitFrame, focus passes complete immediately unless held, and any callback
// that fires after preview has stopped is counted as late.
type FakeDriver struct {
	mu sync.Mutex

	params     *Parameters
	surface    Surface
	locked     bool
	previewing bool
	released   bool
	oneShot    PreviewFunc

	rejectNext    int
	rejectAll     bool
	focusResult   bool
	holdFocus     bool
	pendingFocus  FocusFunc
	displayErr    error
	focusCalls    int
	cancelCalls   int
	setCalls      int
	lateCallbacks int
}

// NewFakeDriver returns a FakeDriver with a 640x480 preview, auto and
// continuous focus, a torch and 30 zoom steps.
func NewFakeDriver() *FakeDriver {
	p := NewParameters()
	p.SetPreviewSize(image.Pt(640, 480))
	p.SetSupportedPreviewSizes([]image.Point{
		image.Pt(320, 240),
		image.Pt(640, 480),
		image.Pt(1280, 720),
		image.Pt(1920, 1080),
	})
	p.SetFocusMode(FocusModeFixed)
	p.Set(KeyFocusModeValues, FocusModeAuto+","+FocusModeContinuousPicture+","+FocusModeFixed)
	p.SetFlashMode(FlashModeOff)
	p.Set(KeyFlashModeValues, FlashModeOff+","+FlashModeTorch)
	p.Set(KeyZoomSupported, "true")
	p.Set(KeyMaxZoom, "30")
	p.SetZoom(0)

	return &FakeDriver{params: p, focusResult: true}
}

// SetParams replaces the reported parameters.
func (d *FakeDriver) SetParams(p *Parameters) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.params = p.Clone()
}

// RejectNext makes the next n SetParameters calls fail.
func (d *FakeDriver) RejectNext(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejectNext = n
}

// RejectAll makes every SetParameters call fail.
func (d *FakeDriver) RejectAll(reject bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.rejectAll = reject
}

// FailPreviewDisplay makes SetPreviewDisplay return err.
func (d *FakeDriver) FailPreviewDisplay(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.displayErr = err
}

// HoldFocus keeps focus passes pending until CompleteFocus is called.
func (d *FakeDriver) HoldFocus(hold bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.holdFocus = hold
}

// SetFocusResult sets the outcome reported by focus passes.
func (d *FakeDriver) SetFocusResult(ok bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.focusResult = ok
}

// SetPreviewDisplay records s, or fails as set by FailPreviewDisplay.
func (d *FakeDriver) SetPreviewDisplay(s Surface) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrDriverClosed
	}
	if d.displayErr != nil {
		return d.displayErr
	}
	d.surface = s
	return nil
}

// Lock fails once the driver is released.
func (d *FakeDriver) Lock() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrDriverClosed
	}
	d.locked = true
	return nil
}

// Parameters returns a copy of the parameters in force.
func (d *FakeDriver) Parameters() (*Parameters, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return nil, ErrDriverClosed
	}
	return d.params.Clone(), nil
}

// SetParameters applies p unless a rejection is armed.
func (d *FakeDriver) SetParameters(p *Parameters) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.setCalls++
	if d.released {
		return ErrDriverClosed
	}
	if d.rejectAll {
		return errors.New("fake: parameters rejected")
	}
	if d.rejectNext > 0 {
		d.rejectNext--
		return errors.New("fake: parameters rejected")
	}
	if mode := p.FlashMode(); mode != "" && !slices.Contains(d.params.SupportedFlashModes(), mode) {
		return fmt.Errorf("fake: unsupported flash mode %q", mode)
	}
	if z := p.Zoom(); z < 0 || z > d.params.MaxZoom() {
		return fmt.Errorf("fake: zoom %d out of range", z)
	}

	d.params = p.Clone()
	return nil
}

// StartPreview marks the preview as running.
func (d *FakeDriver) StartPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.released {
		return ErrDriverClosed
	}
	d.previewing = true
	return nil
}

// StopPreview stops delivering frames. A callback armed before the stop is
// deliberately left armed so that EmitFrame can detect it.
func (d *FakeDriver) StopPreview() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.previewing = false
	return nil
}

// SetOneShotPreviewCallback arms fn for the next EmitFrame.
func (d *FakeDriver) SetOneShotPreviewCallback(fn PreviewFunc) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.oneShot = fn
}

// AutoFocus reports a focus pass at once, or holds it when HoldFocus is set.
func (d *FakeDriver) AutoFocus(fn FocusFunc) error {
	d.mu.Lock()
	d.focusCalls++
	if !d.previewing || d.released {
		d.lateCallbacks++
	}
	if d.holdFocus {
		d.pendingFocus = fn
		d.mu.Unlock()
		return nil
	}
	ok := d.focusResult
	d.mu.Unlock()

	fn(ok)
	return nil
}

// CancelAutoFocus drops any held focus pass.
func (d *FakeDriver) CancelAutoFocus() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelCalls++
	d.pendingFocus = nil
	return nil
}

// Release stops the preview and marks the driver released.
func (d *FakeDriver) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = true
	d.previewing = false
	return nil
}

// CompleteFocus finishes a held focus pass. It reports whether one was
// pending.
func (d *FakeDriver) CompleteFocus(ok bool) bool {
	d.mu.Lock()
	fn := d.pendingFocus
	d.pendingFocus = nil
	if fn != nil && (!d.previewing || d.released) {
		d.lateCallbacks++
	}
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(ok)
	return true
}

// EmitFrame hands data to the armed one-shot callback, disarming it. It
// reports whether a callback was invoked. A callback still armed after
// preview stopped is invoked and counted as late.
func (d *FakeDriver) EmitFrame(data []byte) bool {
	d.mu.Lock()
	fn := d.oneShot
	d.oneShot = nil
	if fn != nil && (!d.previewing || d.released) {
		d.lateCallbacks++
	}
	d.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(data)
	return true
}

// HasPendingFrameCallback reports whether a one-shot callback is armed.
func (d *FakeDriver) HasPendingFrameCallback() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.oneShot != nil
}

// HasPendingFocus reports whether a held focus pass is outstanding.
func (d *FakeDriver) HasPendingFocus() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pendingFocus != nil
}

// LateCallbacks counts frame or focus callbacks fired after preview stopped.
func (d *FakeDriver) LateCallbacks() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lateCallbacks
}

// FocusCalls counts AutoFocus calls.
func (d *FakeDriver) FocusCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.focusCalls
}

// CancelCalls counts CancelAutoFocus calls.
func (d *FakeDriver) CancelCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cancelCalls
}

// SetParameterCalls counts SetParameters calls, rejected ones included.
func (d *FakeDriver) SetParameterCalls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.setCalls
}

// IsPreviewing reports whether the preview is running.
func (d *FakeDriver) IsPreviewing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.previewing
}

// IsReleased reports whether Release was called since the last Open.
func (d *FakeDriver) IsReleased() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.released
}

// Current returns a copy of the parameters in force.
func (d *FakeDriver) Current() *Parameters {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.params.Clone()
}

// FakeOpener hands out the same FakeDriver on every Open, or Err when set.
type FakeOpener struct {
	mu     sync.Mutex
	Driver *FakeDriver
	Err    error
	opens  int
}

// Open clears the driver's released flag and returns it.
func (o *FakeOpener) Open() (Driver, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens++
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Driver == nil {
		return nil, nil
	}

	o.Driver.mu.Lock()
	o.Driver.released = false
	o.Driver.mu.Unlock()
	return o.Driver, nil
}

// Opens counts calls to Open.
func (o *FakeOpener) Opens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens
}

// FakeSurface is a Surface of a fixed size.
type FakeSurface image.Point

// Size returns the surface size.
func (s FakeSurface) Size() image.Point { return image.Point(s) }
