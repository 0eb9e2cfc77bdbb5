// Package raster holds the pixel frame and region types shared by every
// pipeline stage. It has no cgo dependencies.
package raster

import (
	"errors"
	"fmt"
	"time"
)

// Channels is the number of interleaved bytes per pixel (R, G, B, A).
const Channels = 4

// DefaultRegionFraction is the share of each frame dimension covered by the
// centered region used when no face locator supplies one.
const DefaultRegionFraction = 0.6

// ErrInvalidFrame is matched by every *InvalidFrameError.
var ErrInvalidFrame = errors.New("invalid frame")

// InvalidFrameError describes why a frame was rejected. Callers should drop
// the frame and carry on with the next one.
type InvalidFrameError struct {
	Width  int
	Height int
	Len    int
	Reason string
}

func (e *InvalidFrameError) Error() string {
	return fmt.Sprintf("invalid frame %dx%d (%d bytes): %s", e.Width, e.Height, e.Len, e.Reason)
}

// Is reports whether target is ErrInvalidFrame.
func (e *InvalidFrameError) Is(target error) bool {
	return target == ErrInvalidFrame
}

// Frame is an RGBA pixel buffer captured from a video source.
// Pix holds Width*Height*4 bytes in row-major order.
type Frame struct {
	Width     int
	Height    int
	Pix       []byte
	Timestamp time.Time
}

// NewFrame wraps pix as a frame after checking its dimensions.
func NewFrame(width, height int, pix []byte) (*Frame, error) {
	f := &Frame{
		Width:     width,
		Height:    height,
		Pix:       pix,
		Timestamp: time.Now(),
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// Validate checks that the frame has positive dimensions and a 4-channel buffer.
func (f *Frame) Validate() error {
	if f == nil {
		return &InvalidFrameError{Reason: "nil frame"}
	}
	if f.Width <= 0 || f.Height <= 0 {
		return &InvalidFrameError{Width: f.Width, Height: f.Height, Len: len(f.Pix), Reason: "non-positive dimensions"}
	}
	if len(f.Pix) != f.Width*f.Height*Channels {
		return &InvalidFrameError{
			Width:  f.Width,
			Height: f.Height,
			Len:    len(f.Pix),
			Reason: fmt.Sprintf("expected %d bytes for %d channels", f.Width*f.Height*Channels, Channels),
		}
	}
	return nil
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	pix := make([]byte, len(f.Pix))
	copy(pix, f.Pix)
	return &Frame{
		Width:     f.Width,
		Height:    f.Height,
		Pix:       pix,
		Timestamp: f.Timestamp,
	}
}

// Offset returns the index of the red byte of pixel (x, y).
func (f *Frame) Offset(x, y int) int {
	return (y*f.Width + x) * Channels
}

// Region is an axis-aligned rectangle in pixel coordinates.
type Region struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultRegion returns the centered box covering 60% of each dimension.
func DefaultRegion(width, height int) Region {
	w := int(float64(width) * DefaultRegionFraction)
	h := int(float64(height) * DefaultRegionFraction)
	return Region{
		X:      (width - w) / 2,
		Y:      (height - h) / 2,
		Width:  w,
		Height: h,
	}
}

// Clip intersects the region with a width x height frame.
// The result may be empty.
func (r Region) Clip(width, height int) Region {
	x0 := max(r.X, 0)
	y0 := max(r.Y, 0)
	x1 := min(r.X+r.Width, width)
	y1 := min(r.Y+r.Height, height)
	if x1 <= x0 || y1 <= y0 {
		return Region{X: x0, Y: y0}
	}
	return Region{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
}

// Empty reports whether the region covers no pixels.
func (r Region) Empty() bool {
	return r.Width <= 0 || r.Height <= 0
}

// Contains reports whether pixel (x, y) lies inside the region.
func (r Region) Contains(x, y int) bool {
	return x >= r.X && x < r.X+r.Width && y >= r.Y && y < r.Y+r.Height
}
