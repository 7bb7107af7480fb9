package capture

import (
	"image"
	"testing"
)

type staticResolution struct {
	size  image.Point
	known bool
}

func (s staticResolution) CameraResolution() (image.Point, bool) { return s.size, s.known }

func TestPreviewCallback_DeliversOnce(t *testing.T) {
	p := newPreviewCallback(staticResolution{image.Pt(4, 2), true})
	dst := make(chan Frame, 2)

	p.arm(dst)
	p.onPreviewFrame([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	p.onPreviewFrame([]byte{9, 9, 9, 9, 9, 9, 9, 9})

	if len(dst) != 1 {
		t.Fatalf("got %d frames, want 1", len(dst))
	}
	f := <-dst
	if f.Width != 4 || f.Height != 2 || f.Seq != 1 || f.Data[0] != 1 {
		t.Errorf("frame = %+v", f)
	}
	if f.Timestamp.IsZero() {
		t.Error("frame timestamp not set")
	}
	if p.armed() {
		t.Error("callback still armed after delivering")
	}
	if got := p.dropped.Load(); got != 1 {
		t.Errorf("dropped = %d, want 1", got)
	}
}

func TestPreviewCallback_Drops(t *testing.T) {
	tests := []struct {
		name       string
		resolution staticResolution
		arm        bool
		fill       bool
		wantArmed  bool
	}{
		{
			name:       "no consumer",
			resolution: staticResolution{image.Pt(4, 2), true},
		},
		{
			name:       "unknown resolution keeps request",
			resolution: staticResolution{},
			arm:        true,
			wantArmed:  true,
		},
		{
			name:       "consumer busy",
			resolution: staticResolution{image.Pt(4, 2), true},
			arm:        true,
			fill:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPreviewCallback(tt.resolution)
			dst := make(chan Frame, 1)
			if tt.fill {
				dst <- Frame{}
			}
			if tt.arm {
				p.arm(dst)
			}

			p.onPreviewFrame(make([]byte, 8))

			if got := p.delivered.Load(); got != 0 {
				t.Errorf("delivered = %d, want 0", got)
			}
			if got := p.dropped.Load(); got != 1 {
				t.Errorf("dropped = %d, want 1", got)
			}
			if got := p.armed(); got != tt.wantArmed {
				t.Errorf("armed() = %v, want %v", got, tt.wantArmed)
			}
		})
	}
}

func TestPreviewCallback_SequenceIncreases(t *testing.T) {
	p := newPreviewCallback(staticResolution{image.Pt(1, 1), true})
	dst := make(chan Frame, 1)

	var last uint64
	for i := 0; i < 5; i++ {
		p.arm(dst)
		p.onPreviewFrame([]byte{byte(i)})
		f := <-dst
		if f.Seq <= last {
			t.Fatalf("seq %d not after %d", f.Seq, last)
		}
		last = f.Seq
	}
}
