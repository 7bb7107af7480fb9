// Package geometry maps the scan rectangle between the viewfinder overlay,
// the display surface and the raw preview image.
package geometry

import (
	"errors"
	"fmt"
	"image"
)

// ErrInvalidScale is returned when a framing width fraction is outside (0, 1].
var ErrInvalidScale = errors.New("framing width scale must be in (0, 1]")

// ViewfinderRect is a rectangle in the coordinate space of the overlay canvas.
type ViewfinderRect struct {
	image.Rectangle
}

// ScreenRect is a rectangle in the coordinate space of the captured preview
// image. It is the region cropped out of each frame before decoding.
type ScreenRect struct {
	image.Rectangle
}

func (r ViewfinderRect) String() string {
	return fmt.Sprintf("viewfinder%v", r.Rectangle)
}

func (r ScreenRect) String() string {
	return fmt.Sprintf("screen%v", r.Rectangle)
}

// NewScreenRect builds a ScreenRect from its edges.
func NewScreenRect(left, top, right, bottom int) ScreenRect {
	return ScreenRect{image.Rect(left, top, right, bottom)}
}

// Clip intersects r with the bounds of a frame of the given size.
func (r ScreenRect) Clip(frame image.Point) ScreenRect {
	return ScreenRect{r.Intersect(image.Rectangle{Max: frame})}
}

// CenteredSquare returns the square centered in canvas whose side is the
// canvas's shorter side multiplied by scale, truncated toward zero.
func CenteredSquare(canvas image.Point, scale float64) (ViewfinderRect, error) {
	if scale <= 0 || scale > 1 {
		return ViewfinderRect{}, fmt.Errorf("%w: got %v", ErrInvalidScale, scale)
	}

	side := int(float64(min(canvas.X, canvas.Y)) * scale)
	left := (canvas.X - side) / 2
	top := (canvas.Y - side) / 2

	return ViewfinderRect{image.Rect(left, top, left+side, top+side)}, nil
}

// ClampCentered clamps a requested width and height to bounds and centers the
// result. A square request stays square, so its side is clamped to the shorter
// side of bounds.
func ClampCentered(width, height int, bounds image.Point) ViewfinderRect {
	if width == height {
		side := min(width, bounds.X, bounds.Y)
		width, height = side, side
	} else {
		width = min(width, bounds.X)
		height = min(height, bounds.Y)
	}
	width = max(width, 0)
	height = max(height, 0)

	left := (bounds.X - width) / 2
	top := (bounds.Y - height) / 2

	return ViewfinderRect{image.Rect(left, top, left+width, top+height)}
}

// MapToPreview scales a viewfinder rectangle drawn on a canvas of size canvas
// into the coordinates of a preview image of size preview. The overlay and the
// preview surface are assumed to cover the same area of the display.
func MapToPreview(vf ViewfinderRect, canvas, preview image.Point) ScreenRect {
	if canvas.X <= 0 || canvas.Y <= 0 {
		return ScreenRect{}
	}

	return ScreenRect{image.Rect(
		vf.Min.X*preview.X/canvas.X,
		vf.Min.Y*preview.Y/canvas.Y,
		vf.Max.X*preview.X/canvas.X,
		vf.Max.Y*preview.Y/canvas.Y,
	)}
}
