package vision

import (
	"fmt"
	"math"

	"github.com/ayusman/bhava/internal/raster"
)

// EdgeThreshold is the gradient magnitude an interior pixel must exceed to
// count as an edge.
const EdgeThreshold = 30.0

// Feature names a scalar field of a FeatureVector. The names double as the
// keys used by rule tables.
type Feature string

const (
	FeatureBrightness        Feature = "brightness"
	FeatureContrast          Feature = "contrast"
	FeatureEdgeDensity       Feature = "edgeDensity"
	FeatureGradientMagnitude Feature = "gradientMagnitude"
	FeatureFaceBrightness    Feature = "faceBrightness"
	FeatureFaceContrast      Feature = "faceContrast"
	FeatureDominantRed       Feature = "dominantColor.r"
	FeatureDominantGreen     Feature = "dominantColor.g"
	FeatureDominantBlue      Feature = "dominantColor.b"
)

// Features lists every Feature in declaration order.
var Features = []Feature{
	FeatureBrightness,
	FeatureContrast,
	FeatureEdgeDensity,
	FeatureGradientMagnitude,
	FeatureFaceBrightness,
	FeatureFaceContrast,
	FeatureDominantRed,
	FeatureDominantGreen,
	FeatureDominantBlue,
}

// Valid reports whether f names a known feature.
func (f Feature) Valid() bool {
	for _, known := range Features {
		if f == known {
			return true
		}
	}
	return false
}

// Color is an RGB triple normalized to [0,1].
type Color struct {
	R float64 `json:"r"`
	G float64 `json:"g"`
	B float64 `json:"b"`
}

// FeatureVector summarizes a frame. Every field is normalized to [0,1].
type FeatureVector struct {
	Brightness        float64 `json:"brightness"`
	Contrast          float64 `json:"contrast"`
	EdgeDensity       float64 `json:"edgeDensity"`
	GradientMagnitude float64 `json:"gradientMagnitude"`
	FaceBrightness    float64 `json:"faceBrightness"`
	FaceContrast      float64 `json:"faceContrast"`
	DominantColor     Color   `json:"dominantColor"`

	// Degraded is set when the frame was too small for gradient features.
	Degraded bool `json:"degraded,omitempty"`
}

// Value returns the field named by f.
func (fv FeatureVector) Value(f Feature) (float64, error) {
	switch f {
	case FeatureBrightness:
		return fv.Brightness, nil
	case FeatureContrast:
		return fv.Contrast, nil
	case FeatureEdgeDensity:
		return fv.EdgeDensity, nil
	case FeatureGradientMagnitude:
		return fv.GradientMagnitude, nil
	case FeatureFaceBrightness:
		return fv.FaceBrightness, nil
	case FeatureFaceContrast:
		return fv.FaceContrast, nil
	case FeatureDominantRed:
		return fv.DominantColor.R, nil
	case FeatureDominantGreen:
		return fv.DominantColor.G, nil
	case FeatureDominantBlue:
		return fv.DominantColor.B, nil
	}
	return 0, fmt.Errorf("unknown feature %q", f)
}

// IsEdge reports whether a gradient magnitude counts as an edge.
func IsEdge(magnitude float64) bool {
	return magnitude > EdgeThreshold
}

// Extract computes the feature vector of frame. roi restricts the face
// features; nil selects the default centered region. Frames smaller than 3x3
// yield a degraded vector with all gradient-derived fields at zero.
func Extract(frame *raster.Frame, roi *raster.Region) (FeatureVector, error) {
	if err := frame.Validate(); err != nil {
		return FeatureVector{}, err
	}

	w, h := frame.Width, frame.Height
	region := raster.DefaultRegion(w, h)
	if roi != nil {
		region = *roi
	}
	region = region.Clip(w, h)

	// Per-pixel brightness (mean of R, G, B) and whole-frame color sums.
	gray := make([]float64, w*h)
	var sumR, sumG, sumB, sumGray float64
	for i, p := 0, 0; p < len(frame.Pix); i, p = i+1, p+raster.Channels {
		r, g, b := float64(frame.Pix[p]), float64(frame.Pix[p+1]), float64(frame.Pix[p+2])
		sumR += r
		sumG += g
		sumB += b
		gray[i] = (r + g + b) / 3
		sumGray += gray[i]
	}

	pixels := float64(w * h)
	fv := FeatureVector{
		DominantColor: Color{
			R: sumR / pixels / 255,
			G: sumG / pixels / 255,
			B: sumB / pixels / 255,
		},
	}

	if w < 3 || h < 3 {
		fv.Brightness = sumGray / pixels / 255
		fv.FaceBrightness = fv.Brightness
		fv.Degraded = true
		return fv, nil
	}

	at := func(x, y int) float64 { return gray[y*w+x] }

	var (
		count, faceCount               int
		edges                          int
		brightSum, contrastSum, magSum float64
		faceBrightSum, faceContrastSum float64
	)

	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			b := at(x, y)
			neighbors := (at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1)) / 4
			local := math.Abs(b - neighbors)

			gx := -at(x-1, y-1) + at(x+1, y-1) -
				2*at(x-1, y) + 2*at(x+1, y) -
				at(x-1, y+1) + at(x+1, y+1)
			gy := -at(x-1, y-1) - 2*at(x, y-1) - at(x+1, y-1) +
				at(x-1, y+1) + 2*at(x, y+1) + at(x+1, y+1)
			mag := math.Sqrt(gx*gx + gy*gy)

			if IsEdge(mag) {
				edges++
			}
			count++
			brightSum += b
			contrastSum += local
			magSum += mag

			if region.Contains(x, y) {
				faceCount++
				faceBrightSum += b
				faceContrastSum += local
			}
		}
	}

	n := float64(count)
	fv.Brightness = brightSum / n / 255
	fv.Contrast = clamp01(contrastSum / n / 255)
	fv.EdgeDensity = float64(edges) / n
	fv.GradientMagnitude = clamp01(magSum / n / 255)

	if faceCount == 0 {
		fv.FaceBrightness = fv.Brightness
		fv.FaceContrast = fv.Contrast
	} else {
		fc := float64(faceCount)
		fv.FaceBrightness = faceBrightSum / fc / 255
		fv.FaceContrast = clamp01(faceContrastSum / fc / 255)
	}

	return fv, nil
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
