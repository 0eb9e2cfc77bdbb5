// Package temporal holds the stateful stages of the classifier: score
// smoothing across frames, confidence calibration and prediction history.
package temporal

import (
	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/bhava/internal/emotion"
)

// DefaultWindow is the number of score vectors the smoother averages over.
const DefaultWindow = 5

// Smoother averages recent score vectors, weighting newer ones more heavily.
// It is not safe for concurrent use.
type Smoother struct {
	capacity int
	window   []emotion.ClassScores
}

// NewSmoother returns a Smoother holding up to capacity vectors. A
// non-positive capacity selects DefaultWindow.
func NewSmoother(capacity int) *Smoother {
	if capacity <= 0 {
		capacity = DefaultWindow
	}
	return &Smoother{
		capacity: capacity,
		window:   make([]emotion.ClassScores, 0, capacity),
	}
}

// Smooth pushes scores into the window and returns the weighted average.
// Entry i of a window of length n (oldest first) has weight (i+1)/n.
func (s *Smoother) Smooth(scores emotion.ClassScores) emotion.ClassScores {
	if len(s.window) >= s.capacity {
		copy(s.window, s.window[1:])
		s.window = s.window[:s.capacity-1]
	}
	s.window = append(s.window, scores)

	n := len(s.window)
	if n == 1 {
		return scores
	}

	var out emotion.ClassScores
	var total float64
	for i, entry := range s.window {
		w := float64(i+1) / float64(n)
		floats.AddScaled(out[:], w, entry[:])
		total += w
	}
	floats.Scale(1/total, out[:])
	return out.Normalize()
}

// Len returns the number of vectors in the window.
func (s *Smoother) Len() int {
	return len(s.window)
}

// Capacity returns the window size.
func (s *Smoother) Capacity() int {
	return s.capacity
}

// Reset empties the window.
func (s *Smoother) Reset() {
	s.window = s.window[:0]
}
