package emotion

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/ayusman/bhava/internal/vision"
)

// FallbackConfidence is the confidence carried by a fault fallback prediction.
const FallbackConfidence = 0.1

// Flags carries diagnostics about how a prediction was produced.
type Flags uint8

const (
	// FlagFault marks a fallback prediction produced after an internal fault.
	FlagFault Flags = 1 << iota
	// FlagDegradedFeatures marks features extracted from a frame too small for gradients.
	FlagDegradedFeatures
	// FlagNoEstimator marks a fused result built without a secondary estimator.
	FlagNoEstimator
	// FlagEstimatorFailed marks a fused result whose estimator call failed.
	FlagEstimatorFailed
)

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagFault, "fault"},
	{FlagDegradedFeatures, "degraded_features"},
	{FlagNoEstimator, "no_estimator"},
	{FlagEstimatorFailed, "estimator_failed"},
}

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool {
	return f&f2 == f2
}

// Names returns the set flag names.
func (f Flags) Names() []string {
	names := []string{}
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			names = append(names, fn.name)
		}
	}
	return names
}

func (f Flags) String() string {
	return strings.Join(f.Names(), "|")
}

// MarshalJSON encodes the flags as a list of names.
func (f Flags) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Names())
}

// Prediction is the calibrated output for one frame.
type Prediction struct {
	Label      Label                 `json:"label"`
	Confidence float64               `json:"confidence"`
	Scores     ClassScores           `json:"scores"`
	Timestamp  time.Time             `json:"timestamp"`
	Features   *vision.FeatureVector `json:"features,omitempty"`
	Flags      Flags                 `json:"flags"`
}

// Estimate returns the prediction viewed through the Estimated contract.
func (p Prediction) Estimate() Estimate {
	return Estimate{Label: p.Label, Confidence: p.Confidence, Scores: p.Scores}
}

// NeutralFallback returns the neutral, low-confidence prediction emitted in
// place of a frame that could not be classified.
func NeutralFallback(ts time.Time, flags Flags) Prediction {
	return Prediction{
		Label:      Neutral,
		Confidence: FallbackConfidence,
		Scores:     Uniform(),
		Timestamp:  ts,
		Flags:      flags | FlagFault,
	}
}

// Estimate is a normalized distribution together with its dominant label and
// the confidence attached to that label.
type Estimate struct {
	Label      Label       `json:"label"`
	Confidence float64     `json:"confidence"`
	Scores     ClassScores `json:"scores"`
}

// Estimated is implemented by anything that can describe its output as an
// Estimate: the heuristic pipeline's predictions and external estimators alike.
type Estimated interface {
	Estimate() Estimate
}

// Estimate returns e itself so plain estimates satisfy Estimated.
func (e Estimate) Estimate() Estimate {
	return e
}

// EstimateFromScores normalizes scores and takes the argmax as the dominant
// label, with its probability as confidence.
func EstimateFromScores(scores ClassScores) Estimate {
	n := scores.Normalize()
	label, conf := n.Argmax()
	return Estimate{Label: label, Confidence: conf, Scores: n}
}
