package capture

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"gocv.io/x/gocv"
)

// Scene change constants.
const (
	// ChangeBlurSize is the Gaussian kernel applied before differencing.
	ChangeBlurSize = 21
	// ChangeDiffThreshold is the per-pixel difference that counts as changed.
	ChangeDiffThreshold = 25
	// DefaultChangeThreshold is the percentage of changed pixels that makes
	// a new scene.
	DefaultChangeThreshold = 5.0
)

var errDetectorClosed = errors.New("change detector is closed")

// ChangeDetector tells whether a luminance frame shows a different scene
// from the frame it last kept as baseline.
type ChangeDetector struct {
	threshold float64

	mu       sync.Mutex
	baseline gocv.Mat
	size     image.Point
	primed   bool
	closed   bool
}

// NewChangeDetector returns a ChangeDetector that reports a change once more
// than threshold percent of pixels differ. A threshold of zero or less uses
// DefaultChangeThreshold.
func NewChangeDetector(threshold float64) *ChangeDetector {
	if threshold <= 0 {
		threshold = DefaultChangeThreshold
	}
	return &ChangeDetector{
		threshold: threshold,
		baseline:  gocv.NewMat(),
	}
}

// Mark stores f as the baseline.
func (c *ChangeDetector) Mark(f Frame) error {
	blurred, err := blurredPlane(f)
	if err != nil {
		return err
	}
	defer blurred.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errDetectorClosed
	}
	blurred.CopyTo(&c.baseline)
	c.size = image.Pt(f.Width, f.Height)
	c.primed = true
	return nil
}

// Changed compares f with the baseline and returns whether it differs and
// the percentage of pixels that changed. Without a baseline, or when the
// frame size differs from it, every frame counts as changed.
func (c *ChangeDetector) Changed(f Frame) (bool, float64, error) {
	blurred, err := blurredPlane(f)
	if err != nil {
		return false, 0, err
	}
	defer blurred.Close()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false, 0, errDetectorClosed
	}
	if !c.primed || c.size != image.Pt(f.Width, f.Height) {
		return true, 100, nil
	}

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(blurred, c.baseline, &diff)

	thresh := gocv.NewMat()
	defer thresh.Close()
	gocv.Threshold(diff, &thresh, ChangeDiffThreshold, 255, gocv.ThresholdBinary)

	changed := float64(gocv.CountNonZero(thresh)) / float64(thresh.Rows()*thresh.Cols()) * 100.0
	return changed > c.threshold, changed, nil
}

// Reset forgets the baseline.
func (c *ChangeDetector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	if !c.baseline.Empty() {
		c.baseline.Close()
		c.baseline = gocv.NewMat()
	}
	c.primed = false
}

// Close releases the baseline. The detector cannot be used afterwards.
func (c *ChangeDetector) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.baseline.Close()
	c.closed = true
	c.primed = false
}

func blurredPlane(f Frame) (gocv.Mat, error) {
	if f.Width <= 0 || f.Height <= 0 || len(f.Data) < f.Width*f.Height {
		return gocv.Mat{}, fmt.Errorf("frame of %d bytes does not hold %dx%d pixels", len(f.Data), f.Width, f.Height)
	}

	plane, err := gocv.NewMatFromBytes(f.Height, f.Width, gocv.MatTypeCV8U, f.Data[:f.Width*f.Height])
	if err != nil {
		return gocv.Mat{}, err
	}
	defer plane.Close()

	blurred := gocv.NewMat()
	gocv.GaussianBlur(plane, &blurred, image.Pt(ChangeBlurSize, ChangeBlurSize), 0, 0, gocv.BorderDefault)
	return blurred, nil
}
