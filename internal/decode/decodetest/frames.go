// Package decodetest builds synthetic preview frames holding QR codes.
package decodetest

import (
	"fmt"
	"image"

	"github.com/makiuchi-d/gozxing"
	"github.com/makiuchi-d/gozxing/qrcode"
)

// Frame returns a white luminance plane of the given size with a QR code
// encoding text drawn into area. The code keeps its quiet zone inside area.
func Frame(text string, size image.Point, area image.Rectangle) ([]byte, error) {
	if !area.In(image.Rectangle{Max: size}) || area.Empty() {
		return nil, fmt.Errorf("code area %v outside %v frame", area, size)
	}

	matrix, err := qrcode.NewQRCodeWriter().Encode(text, gozxing.BarcodeFormat_QR_CODE, area.Dx(), area.Dy(), nil)
	if err != nil {
		return nil, fmt.Errorf("encode %q: %w", text, err)
	}

	data := Blank(size)
	for y := 0; y < min(matrix.GetHeight(), area.Dy()); y++ {
		for x := 0; x < min(matrix.GetWidth(), area.Dx()); x++ {
			if matrix.Get(x, y) {
				data[(area.Min.Y+y)*size.X+area.Min.X+x] = 0
			}
		}
	}
	return data, nil
}

// Blank returns a white luminance plane.
func Blank(size image.Point) []byte {
	data := make([]byte, size.X*size.Y)
	for i := range data {
		data[i] = 0xff
	}
	return data
}
