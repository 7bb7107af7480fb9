package geometry

import (
	"errors"
	"image"
	"testing"
)

func TestCenteredSquare(t *testing.T) {
	tests := []struct {
		name   string
		canvas image.Point
		scale  float64
		want   image.Rectangle
	}{
		{
			name:   "portrait viewfinder half scale",
			canvas: image.Pt(1080, 1560),
			scale:  0.5,
			want:   image.Rect(270, 510, 810, 1050),
		},
		{
			name:   "landscape canvas",
			canvas: image.Pt(1280, 720),
			scale:  0.5,
			want:   image.Rect(460, 180, 820, 540),
		},
		{
			name:   "full scale fills the short side",
			canvas: image.Pt(720, 1280),
			scale:  1,
			want:   image.Rect(0, 280, 720, 1000),
		},
		{
			name:   "truncates fractional side",
			canvas: image.Pt(101, 101),
			scale:  0.333,
			want:   image.Rect(34, 34, 67, 67),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := CenteredSquare(tt.canvas, tt.scale)
			if err != nil {
				t.Fatalf("CenteredSquare() error = %v", err)
			}
			if got.Rectangle != tt.want {
				t.Errorf("CenteredSquare() = %v, want %v", got.Rectangle, tt.want)
			}
		})
	}
}

func TestCenteredSquare_Properties(t *testing.T) {
	scales := []float64{0.1, 0.25, 0.5, 0.618, 0.9, 1}
	for w := 1; w <= 400; w += 37 {
		for h := 1; h <= 400; h += 41 {
			for _, f := range scales {
				r, err := CenteredSquare(image.Pt(w, h), f)
				if err != nil {
					t.Fatalf("CenteredSquare(%d, %d, %v) error = %v", w, h, f, err)
				}

				side := int(float64(min(w, h)) * f)
				if r.Dx() != side || r.Dy() != side {
					t.Fatalf("CenteredSquare(%d, %d, %v) = %v, want side %d", w, h, f, r, side)
				}

				// Centered to within the one pixel lost to integer division.
				if d := (r.Min.X) - (w - r.Max.X); d < -1 || d > 1 {
					t.Fatalf("CenteredSquare(%d, %d, %v) = %v not horizontally centered", w, h, f, r)
				}
				if d := (r.Min.Y) - (h - r.Max.Y); d < -1 || d > 1 {
					t.Fatalf("CenteredSquare(%d, %d, %v) = %v not vertically centered", w, h, f, r)
				}
			}
		}
	}
}

func TestCenteredSquare_InvalidScale(t *testing.T) {
	for _, scale := range []float64{1.01, 2, 0, -0.5} {
		if _, err := CenteredSquare(image.Pt(100, 100), scale); !errors.Is(err, ErrInvalidScale) {
			t.Errorf("CenteredSquare(scale=%v) error = %v, want ErrInvalidScale", scale, err)
		}
	}
}

func TestClampCentered(t *testing.T) {
	screen := image.Pt(1080, 1920)

	tests := []struct {
		name          string
		width, height int
		want          image.Rectangle
	}{
		{
			name:  "oversized square",
			width: 2000, height: 2000,
			want: image.Rect(0, 420, 1080, 1500),
		},
		{
			name:  "fits",
			width: 500, height: 500,
			want: image.Rect(290, 710, 790, 1210),
		},
		{
			name:  "wide rectangle clamps width only",
			width: 1500, height: 300,
			want: image.Rect(0, 810, 1080, 1110),
		},
		{
			name:  "tall rectangle clamps height only",
			width: 400, height: 3000,
			want: image.Rect(340, 0, 740, 1920),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ClampCentered(tt.width, tt.height, screen)
			if got.Rectangle != tt.want {
				t.Errorf("ClampCentered(%d, %d) = %v, want %v", tt.width, tt.height, got.Rectangle, tt.want)
			}
			if got.Dx() > screen.X || got.Dy() > screen.Y {
				t.Errorf("ClampCentered(%d, %d) = %v exceeds screen %v", tt.width, tt.height, got.Rectangle, screen)
			}
		})
	}
}

func TestMapToPreview(t *testing.T) {
	vf := ViewfinderRect{image.Rect(270, 510, 810, 1050)}

	got := MapToPreview(vf, image.Pt(1080, 1560), image.Pt(540, 780))
	want := image.Rect(135, 255, 405, 525)
	if got.Rectangle != want {
		t.Errorf("MapToPreview() = %v, want %v", got.Rectangle, want)
	}

	if got := MapToPreview(vf, image.Point{}, image.Pt(640, 480)); !got.Empty() {
		t.Errorf("MapToPreview() with empty canvas = %v, want empty", got.Rectangle)
	}
}

func TestScreenRect_Clip(t *testing.T) {
	r := NewScreenRect(-10, 20, 700, 500)

	got := r.Clip(image.Pt(640, 480))
	want := image.Rect(0, 20, 640, 480)
	if got.Rectangle != want {
		t.Errorf("Clip() = %v, want %v", got.Rectangle, want)
	}
}
