// Package vision turns raw frames into the feature vector consumed by the scorer.
package vision

import (
	"math"

	"github.com/ayusman/bhava/internal/raster"
)

// Luma weights (ITU-R BT.601).
const (
	lumaR = 0.299
	lumaG = 0.587
	lumaB = 0.114
)

// denoiseKernel is the 3x3 binomial blur; its weights sum to 16.
var denoiseKernel = [3][3]int{
	{1, 2, 1},
	{2, 4, 2},
	{1, 2, 1},
}

// ConditionerConfig selects the conditioning stages.
type ConditionerConfig struct {
	Equalize bool `json:"equalize"`
	Denoise  bool `json:"denoise"`
}

// DefaultConditionerConfig enables both stages.
func DefaultConditionerConfig() ConditionerConfig {
	return ConditionerConfig{Equalize: true, Denoise: true}
}

// Conditioner normalizes contrast and noise of raw frames. It holds no state
// between calls.
type Conditioner struct {
	config ConditionerConfig
}

// NewConditioner creates a Conditioner.
func NewConditioner(config ConditionerConfig) *Conditioner {
	return &Conditioner{config: config}
}

// Condition returns a conditioned copy of frame; the input is never modified.
func (c *Conditioner) Condition(frame *raster.Frame) (*raster.Frame, error) {
	if err := frame.Validate(); err != nil {
		return nil, err
	}

	out := frame.Clone()
	if c.config.Equalize {
		EqualizeHistogram(out)
	}
	if c.config.Denoise {
		ReduceNoise(out)
	}
	return out, nil
}

func luma(r, g, b byte) float64 {
	return lumaR*float64(r) + lumaG*float64(g) + lumaB*float64(b)
}

// EqualizeHistogram spreads the frame's luma histogram over [0,255] in place.
// Each pixel's R, G and B are scaled by equalized/original luma; alpha and
// black pixels are left alone.
func EqualizeHistogram(frame *raster.Frame) {
	var hist [256]int
	total := frame.Width * frame.Height
	if total == 0 {
		return
	}

	for i := 0; i < len(frame.Pix); i += raster.Channels {
		l := luma(frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2])
		hist[lumaBin(l)]++
	}

	var lut [256]float64
	cdf := 0
	for v := 0; v < 256; v++ {
		cdf += hist[v]
		lut[v] = math.Round(float64(cdf) / float64(total) * 255)
	}

	for i := 0; i < len(frame.Pix); i += raster.Channels {
		l := luma(frame.Pix[i], frame.Pix[i+1], frame.Pix[i+2])
		if l <= 0 {
			continue
		}
		scale := lut[lumaBin(l)] / l
		frame.Pix[i] = scaleChannel(frame.Pix[i], scale)
		frame.Pix[i+1] = scaleChannel(frame.Pix[i+1], scale)
		frame.Pix[i+2] = scaleChannel(frame.Pix[i+2], scale)
	}
}

func lumaBin(l float64) int {
	bin := int(l)
	if bin > 255 {
		return 255
	}
	if bin < 0 {
		return 0
	}
	return bin
}

func scaleChannel(v byte, scale float64) byte {
	s := math.Round(float64(v) * scale)
	if s > 255 {
		return 255
	}
	return byte(s)
}

// ReduceNoise blurs R, G and B with the 3x3 binomial kernel in place.
// Border rows and columns are copied through unfiltered.
func ReduceNoise(frame *raster.Frame) {
	w, h := frame.Width, frame.Height
	if w < 3 || h < 3 {
		return
	}

	src := make([]byte, len(frame.Pix))
	copy(src, frame.Pix)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			dst := frame.Offset(x, y)
			for c := 0; c < 3; c++ {
				sum := 0
				for ky := -1; ky <= 1; ky++ {
					for kx := -1; kx <= 1; kx++ {
						sum += denoiseKernel[ky+1][kx+1] * int(src[frame.Offset(x+kx, y+ky)+c])
					}
				}
				frame.Pix[dst+c] = byte((sum + 8) / 16)
			}
		}
	}
}
