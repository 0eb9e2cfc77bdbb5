package emotion

import (
	"encoding/json"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// NormTolerance is the allowed deviation of a normalized distribution's sum from 1.
const NormTolerance = 1e-6

// ClassScores holds one score per label, indexed by Label.
type ClassScores [NumLabels]float64

// Uniform returns the distribution assigning 1/7 to every label.
func Uniform() ClassScores {
	var s ClassScores
	for i := range s {
		s[i] = 1.0 / NumLabels
	}
	return s
}

// Get returns the score of l.
func (s ClassScores) Get(l Label) float64 {
	return s[l]
}

// Sum returns the total mass.
func (s ClassScores) Sum() float64 {
	return floats.Sum(s[:])
}

// Normalize returns a copy scaled to sum to 1. Negative and non-finite
// entries count as 0; a distribution with no positive mass becomes Uniform.
func (s ClassScores) Normalize() ClassScores {
	out := s
	for i, v := range out {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			out[i] = 0
		}
	}

	total := floats.Sum(out[:])
	if total <= 0 || math.IsInf(total, 0) {
		return Uniform()
	}
	floats.Scale(1/total, out[:])
	return out
}

// Argmax returns the highest-scoring label and its score. Ties resolve to
// the label that comes first in canonical order.
func (s ClassScores) Argmax() (Label, float64) {
	i := floats.MaxIdx(s[:])
	return Label(i), s[i]
}

// TopTwo returns the highest and second-highest scores.
func (s ClassScores) TopTwo() (first, second float64) {
	first, second = math.Inf(-1), math.Inf(-1)
	for _, v := range s {
		switch {
		case v > first:
			first, second = v, first
		case v > second:
			second = v
		}
	}
	return first, second
}

// Valid reports whether every score is finite and non-negative and the
// scores sum to 1 within tol.
func (s ClassScores) Valid(tol float64) bool {
	for _, v := range s {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return math.Abs(s.Sum()-1) <= tol
}

// Map returns the scores keyed by label name.
func (s ClassScores) Map() map[string]float64 {
	m := make(map[string]float64, NumLabels)
	for _, l := range Labels {
		m[l.String()] = s[l]
	}
	return m
}

// MarshalJSON encodes the scores as an object keyed by label name.
func (s ClassScores) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Map())
}

// UnmarshalJSON decodes an object keyed by label name. Missing labels score 0.
func (s *ClassScores) UnmarshalJSON(data []byte) error {
	var m map[string]float64
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	var out ClassScores
	for name, v := range m {
		l, err := ParseLabel(name)
		if err != nil {
			return fmt.Errorf("decode scores: %w", err)
		}
		out[l] = v
	}
	*s = out
	return nil
}
