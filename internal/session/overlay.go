package session

import (
	"image"

	"github.com/ayusman/scanview/internal/geometry"
)

// Overlay is the viewfinder drawn over the preview. It decides where the
// scan region sits in the preview image.
type Overlay interface {
	// Size returns the size of the viewfinder canvas.
	Size() image.Point

	// ScreenRect maps the viewfinder framing rectangle into the coordinates
	// of a preview image of the given resolution.
	ScreenRect(vf geometry.ViewfinderRect, preview image.Point) geometry.ScreenRect
}

// CanvasOverlay is an Overlay whose canvas covers exactly the same area as
// the preview, so the framing rectangle maps proportionally.
type CanvasOverlay image.Point

func (o CanvasOverlay) Size() image.Point { return image.Point(o) }

func (o CanvasOverlay) ScreenRect(vf geometry.ViewfinderRect, preview image.Point) geometry.ScreenRect {
	return geometry.MapToPreview(vf, image.Point(o), preview)
}
