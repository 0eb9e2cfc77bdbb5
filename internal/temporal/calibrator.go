package temporal

import (
	"math"

	"github.com/ayusman/bhava/internal/emotion"
)

// CalibrationConfig holds the constants used to turn a smoothed distribution
// into a confidence.
type CalibrationConfig struct {
	GapWeight       float64 `json:"gapWeight"`
	StabilityWindow int     `json:"stabilityWindow"`
	StabilityWeight float64 `json:"stabilityWeight"`
	Threshold       float64 `json:"threshold"`
	LowScale        float64 `json:"lowScale"`
	LowFloor        float64 `json:"lowFloor"`
	Min             float64 `json:"min"`
	Max             float64 `json:"max"`
}

// DefaultCalibrationConfig returns the stock calibration constants.
func DefaultCalibrationConfig() CalibrationConfig {
	return CalibrationConfig{
		GapWeight:       0.3,
		StabilityWindow: 5,
		StabilityWeight: 0.1,
		Threshold:       0.6,
		LowScale:        0.8,
		LowFloor:        0.3,
		Min:             0.1,
		Max:             0.95,
	}
}

// Calibrator computes prediction confidence.
type Calibrator struct {
	config CalibrationConfig
}

// NewCalibrator returns a Calibrator using config.
func NewCalibrator(config CalibrationConfig) *Calibrator {
	return &Calibrator{config: config}
}

// Config returns the calibration constants in use.
func (c *Calibrator) Config() CalibrationConfig {
	return c.config
}

// Calibrate returns the confidence for scores given the labels of the most
// recent predictions, oldest first. The top score is raised by a bonus for
// its lead over the runner-up and by a bonus for agreement among the last
// StabilityWindow labels. Results below Threshold are damped, and the final
// value is clamped to [Min, Max].
func (c *Calibrator) Calibrate(scores emotion.ClassScores, recent []emotion.Label) float64 {
	first, second := scores.TopTwo()
	if !isFinite(first) || !isFinite(second) {
		return c.config.Min
	}

	adjusted := first + (first-second)*c.config.GapWeight + c.stability(recent)
	if adjusted < c.config.Threshold {
		adjusted = math.Max(c.config.LowFloor, adjusted*c.config.LowScale)
	}
	return clamp(adjusted, c.config.Min, c.config.Max)
}

func (c *Calibrator) stability(recent []emotion.Label) float64 {
	n := c.config.StabilityWindow
	if n <= 0 || len(recent) < n {
		return 0
	}
	last := recent[len(recent)-n:]
	latest := last[n-1]

	same := 0
	for _, l := range last {
		if l == latest {
			same++
		}
	}
	return float64(same) / float64(n) * c.config.StabilityWeight
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(hi, math.Max(lo, v))
}
