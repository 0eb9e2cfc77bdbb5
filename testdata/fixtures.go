// Package testdata builds synthetic frames shared by the package tests.
package testdata

import (
	"image/color"
	"time"

	"github.com/ayusman/bhava/internal/raster"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

// SolidFrame returns a w x h frame filled with c.
func SolidFrame(w, h int, c color.RGBA) *raster.Frame {
	pix := make([]byte, w*h*raster.Channels)
	for i := 0; i < len(pix); i += raster.Channels {
		pix[i] = c.R
		pix[i+1] = c.G
		pix[i+2] = c.B
		pix[i+3] = c.A
	}
	return &raster.Frame{Width: w, Height: h, Pix: pix, Timestamp: epoch}
}

// GradientFrame returns a gray ramp running from black on the left to white on the right.
func GradientFrame(w, h int) *raster.Frame {
	f := SolidFrame(w, h, color.RGBA{A: 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := byte(0)
			if w > 1 {
				v = byte(x * 255 / (w - 1))
			}
			i := f.Offset(x, y)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = v, v, v
		}
	}
	return f
}

// CheckerFrame returns alternating black and white squares of the given cell size.
func CheckerFrame(w, h, cell int) *raster.Frame {
	f := SolidFrame(w, h, color.RGBA{A: 255})
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if ((x/cell)+(y/cell))%2 == 0 {
				continue
			}
			i := f.Offset(x, y)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2] = 255, 255, 255
		}
	}
	return f
}

// FaceFrame returns a frame with background color bg and a face-sized box of
// color face over the default region.
func FaceFrame(w, h int, bg, face color.RGBA) *raster.Frame {
	f := SolidFrame(w, h, bg)
	r := raster.DefaultRegion(w, h)
	for y := r.Y; y < r.Y+r.Height; y++ {
		for x := r.X; x < r.X+r.Width; x++ {
			i := f.Offset(x, y)
			f.Pix[i], f.Pix[i+1], f.Pix[i+2], f.Pix[i+3] = face.R, face.G, face.B, face.A
		}
	}
	return f
}

// NoisyFrame returns a deterministic pseudo-random frame seeded by seed.
func NoisyFrame(w, h int, seed uint32) *raster.Frame {
	f := SolidFrame(w, h, color.RGBA{A: 255})
	state := seed | 1
	for i := 0; i < len(f.Pix); i += raster.Channels {
		for c := 0; c < 3; c++ {
			// xorshift32
			state ^= state << 13
			state ^= state >> 17
			state ^= state << 5
			f.Pix[i+c] = byte(state)
		}
	}
	return f
}

// Sequence returns n copies of frame spaced 100ms apart.
func Sequence(frame *raster.Frame, n int) []*raster.Frame {
	frames := make([]*raster.Frame, n)
	for i := range frames {
		frames[i] = frame.Clone()
		frames[i].Timestamp = epoch.Add(time.Duration(i) * 100 * time.Millisecond)
	}
	return frames
}
