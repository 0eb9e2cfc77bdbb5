// Package fusion reconciles the heuristic pipeline's prediction with the
// distribution produced by an external estimator.
package fusion

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/floats"

	"github.com/ayusman/bhava/internal/emotion"
)

// ErrDistributionLength is returned when a secondary distribution does not
// have exactly one entry per label.
var ErrDistributionLength = errors.New("secondary distribution must have 7 entries")

// Reliability is a coarse bucket for a fused confidence.
type Reliability string

const (
	ReliabilityHigh   Reliability = "high"
	ReliabilityMedium Reliability = "medium"
	ReliabilityLow    Reliability = "low"
)

// Sources records which inputs shaped a Result and how.
type Sources uint8

const (
	SourceHeuristic Sources = 1 << iota
	SourceEstimator
	SourceAgreement
	SourceDisagreement
	// SourceSanitized is set when invalid secondary entries were zeroed.
	SourceSanitized
	// SourceFallback is set when the secondary was unusable and ignored.
	SourceFallback
)

var sourceNames = []struct {
	source Sources
	name   string
}{
	{SourceHeuristic, "heuristic"},
	{SourceEstimator, "estimator"},
	{SourceAgreement, "agreement"},
	{SourceDisagreement, "disagreement"},
	{SourceSanitized, "sanitized"},
	{SourceFallback, "fallback"},
}

// Has reports whether all bits of s2 are set.
func (s Sources) Has(s2 Sources) bool {
	return s&s2 == s2
}

// Names returns the set source names.
func (s Sources) Names() []string {
	names := []string{}
	for _, sn := range sourceNames {
		if s.Has(sn.source) {
			names = append(names, sn.name)
		}
	}
	return names
}

func (s Sources) String() string {
	return strings.Join(s.Names(), "|")
}

// MarshalText encodes the sources as a "|" separated list.
func (s Sources) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Result is the outcome of one fusion.
type Result struct {
	Primary     emotion.Prediction  `json:"primary"`
	Secondary   *emotion.Prediction `json:"secondary,omitempty"`
	Confidence  float64             `json:"confidence"`
	Reliability Reliability         `json:"reliability"`
	Sources     Sources             `json:"sources"`
	Scores      emotion.ClassScores `json:"scores"`
}

// Config holds the fusion weights and the secondary estimator's label space.
type Config struct {
	PrimaryWeight       float64 `json:"primaryWeight"`
	SecondaryWeight     float64 `json:"secondaryWeight"`
	AgreementBonus      float64 `json:"agreementBonus"`
	GapThreshold        float64 `json:"gapThreshold"`
	DisagreementPenalty float64 `json:"disagreementPenalty"`
	HighTier            float64 `json:"highTier"`
	MediumTier          float64 `json:"mediumTier"`

	// SecondaryClasses names the secondary distribution's entries in order.
	SecondaryClasses []string `json:"secondaryClasses"`
	// Aliases maps secondary class names onto label names where they differ.
	Aliases map[string]string `json:"aliases"`
}

// DefaultSecondaryClasses is the class order of FER-2013 trained models.
var DefaultSecondaryClasses = []string{"angry", "disgust", "fear", "happy", "sad", "surprise", "neutral"}

// DefaultConfig returns the stock fusion configuration.
func DefaultConfig() Config {
	return Config{
		PrimaryWeight:       0.6,
		SecondaryWeight:     0.4,
		AgreementBonus:      0.15,
		GapThreshold:        0.3,
		DisagreementPenalty: 0.8,
		HighTier:            0.8,
		MediumTier:          0.6,
		SecondaryClasses:    append([]string(nil), DefaultSecondaryClasses...),
		Aliases: map[string]string{
			"disgust":  "disgusted",
			"fear":     "fearful",
			"surprise": "surprised",
		},
	}
}

// Engine fuses predictions. It holds no mutable state and is safe for
// concurrent use.
type Engine struct {
	config Config
	// mapping[i] is the label of secondary entry i.
	mapping [emotion.NumLabels]emotion.Label
}

// NewEngine validates config and builds the secondary label mapping, which
// must be one-to-one onto the seven labels.
func NewEngine(config Config) (*Engine, error) {
	if len(config.SecondaryClasses) != emotion.NumLabels {
		return nil, fmt.Errorf("new fusion engine: %w: got %d classes", ErrDistributionLength, len(config.SecondaryClasses))
	}
	for name, v := range map[string]float64{
		"primary weight":       config.PrimaryWeight,
		"secondary weight":     config.SecondaryWeight,
		"agreement bonus":      config.AgreementBonus,
		"gap threshold":        config.GapThreshold,
		"disagreement penalty": config.DisagreementPenalty,
	} {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("new fusion engine: invalid %s %v", name, v)
		}
	}
	if config.PrimaryWeight+config.SecondaryWeight <= 0 {
		return nil, errors.New("new fusion engine: weights must not both be zero")
	}

	e := &Engine{config: config}
	var seen [emotion.NumLabels]bool
	for i, class := range config.SecondaryClasses {
		name := strings.ToLower(strings.TrimSpace(class))
		if alias, ok := config.Aliases[name]; ok {
			name = alias
		}
		label, err := emotion.ParseLabel(name)
		if err != nil {
			return nil, fmt.Errorf("new fusion engine: secondary class %q: %w", class, err)
		}
		if seen[label] {
			return nil, fmt.Errorf("new fusion engine: label %s mapped twice", label)
		}
		seen[label] = true
		e.mapping[i] = label
	}
	return e, nil
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.config
}

// Tier buckets a confidence into a Reliability.
func (e *Engine) Tier(confidence float64) Reliability {
	switch {
	case confidence >= e.config.HighTier:
		return ReliabilityHigh
	case confidence >= e.config.MediumTier:
		return ReliabilityMedium
	default:
		return ReliabilityLow
	}
}

// MapDistribution converts a raw secondary distribution into label space.
// Entries that are non-finite or outside [0,1] become 0; sanitized reports
// whether any were. The returned scores are not normalized.
func (e *Engine) MapDistribution(secondary []float64) (scores emotion.ClassScores, sanitized bool, err error) {
	if len(secondary) != emotion.NumLabels {
		return scores, false, fmt.Errorf("%w: got %d", ErrDistributionLength, len(secondary))
	}
	for i, v := range secondary {
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > 1 {
			sanitized = true
			continue
		}
		scores[e.mapping[i]] = v
	}
	return scores, sanitized, nil
}

// Fuse combines primary with a raw secondary distribution ordered as
// Config.SecondaryClasses. A nil secondary, or one with no valid mass,
// yields a primary-only result.
func (e *Engine) Fuse(primary emotion.Prediction, secondary []float64) (Result, error) {
	if secondary == nil {
		return e.primaryOnly(primary, 0), nil
	}
	mapped, sanitized, err := e.MapDistribution(secondary)
	if err != nil {
		return Result{}, err
	}

	var extra Sources
	if sanitized {
		extra = SourceSanitized
	}
	if !(mapped.Sum() > 0) {
		return e.primaryOnly(primary, extra|SourceFallback), nil
	}

	r := e.FuseEstimate(primary, emotion.EstimateFromScores(mapped))
	r.Sources |= extra
	return r, nil
}

// FuseEstimate combines primary with an estimate already in label space.
func (e *Engine) FuseEstimate(primary emotion.Prediction, est emotion.Estimate) Result {
	secondary := emotion.Prediction{
		Label:      est.Label,
		Confidence: est.Confidence,
		Scores:     est.Scores,
		Timestamp:  primary.Timestamp,
	}
	sources := SourceHeuristic | SourceEstimator

	if primary.Label == secondary.Label {
		conf := math.Min((primary.Confidence+secondary.Confidence)/2+e.config.AgreementBonus, 1)
		return Result{
			Primary:     primary,
			Secondary:   &secondary,
			Confidence:  conf,
			Reliability: e.Tier(conf),
			Sources:     sources | SourceAgreement,
			Scores:      e.blend(primary.Scores, secondary.Scores),
		}
	}

	sources |= SourceDisagreement
	if math.Abs(primary.Confidence-secondary.Confidence) > e.config.GapThreshold {
		winner, loser := primary, secondary
		if secondary.Confidence > primary.Confidence {
			winner, loser = secondary, primary
		}
		conf := clamp01(winner.Confidence)
		return Result{
			Primary:     winner,
			Secondary:   &loser,
			Confidence:  conf,
			Reliability: e.Tier(conf * e.config.DisagreementPenalty),
			Sources:     sources,
			Scores:      winner.Scores,
		}
	}

	conf := clamp01(primary.Confidence*e.config.PrimaryWeight + secondary.Confidence*e.config.SecondaryWeight)
	blended := e.blend(primary.Scores, secondary.Scores)
	label, _ := blended.Argmax()
	return Result{
		Primary: emotion.Prediction{
			Label:      label,
			Confidence: conf,
			Scores:     blended,
			Timestamp:  primary.Timestamp,
			Features:   primary.Features,
			Flags:      primary.Flags,
		},
		Secondary:   &secondary,
		Confidence:  conf,
		Reliability: e.Tier(conf * e.config.DisagreementPenalty),
		Sources:     sources,
		Scores:      blended,
	}
}

// PrimaryOnly returns the result for a prediction with no secondary input.
func (e *Engine) PrimaryOnly(primary emotion.Prediction) Result {
	return e.primaryOnly(primary, 0)
}

func (e *Engine) primaryOnly(primary emotion.Prediction, extra Sources) Result {
	conf := clamp01(primary.Confidence)
	return Result{
		Primary:     primary,
		Confidence:  conf,
		Reliability: e.Tier(conf),
		Sources:     SourceHeuristic | extra,
		Scores:      primary.Scores,
	}
}

func (e *Engine) blend(a, b emotion.ClassScores) emotion.ClassScores {
	var out emotion.ClassScores
	floats.AddScaled(out[:], e.config.PrimaryWeight, a[:])
	floats.AddScaled(out[:], e.config.SecondaryWeight, b[:])
	return out.Normalize()
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}
