// Package scoring turns feature vectors into label distributions using a
// data-driven rule table.
package scoring

import (
	"errors"
	"fmt"
	"math"

	"github.com/ayusman/bhava/internal/emotion"
	"github.com/ayusman/bhava/internal/vision"
)

// DefaultBase is the score every label starts from before additive rules.
const DefaultBase = 0.1

// Op is a comparison operator used by a Condition.
type Op string

const (
	OpGreater Op = "gt"
	OpLess    Op = "lt"
)

// ErrInvalidTable is returned when a rule table fails validation.
var ErrInvalidTable = errors.New("invalid rule table")

// Condition compares one feature against a threshold. Comparisons are strict.
type Condition struct {
	Feature   vision.Feature `json:"feature"`
	Op        Op             `json:"op"`
	Threshold float64        `json:"threshold"`
}

// Holds reports whether fv satisfies the condition.
func (c Condition) Holds(fv vision.FeatureVector) bool {
	v, err := fv.Value(c.Feature)
	if err != nil {
		return false
	}
	switch c.Op {
	case OpGreater:
		return v > c.Threshold
	case OpLess:
		return v < c.Threshold
	}
	return false
}

// Effect is the adjustment a rule applies to one label: a delta for additive
// rules, a factor for multiplicative ones.
type Effect struct {
	Label emotion.Label `json:"label"`
	Value float64       `json:"value"`
}

// Rule applies its effects when every condition holds. A rule without
// conditions always matches.
//
// Rules that share a non-empty Group are exclusive: only the first matching
// rule of the group, in table order, applies.
type Rule struct {
	Name    string      `json:"name"`
	Group   string      `json:"group,omitempty"`
	When    []Condition `json:"when,omitempty"`
	Effects []Effect    `json:"effects"`
}

// Matches reports whether every condition of r holds for fv.
func (r Rule) Matches(fv vision.FeatureVector) bool {
	for _, c := range r.When {
		if !c.Holds(fv) {
			return false
		}
	}
	return true
}

// RuleTable holds the scoring configuration.
type RuleTable struct {
	Base           float64 `json:"base"`
	Additive       []Rule  `json:"additive"`
	Multiplicative []Rule  `json:"multiplicative"`
}

// DefaultTable returns the stock rule table.
func DefaultTable() RuleTable {
	return RuleTable{
		Base: DefaultBase,
		Additive: []Rule{
			{
				Name:    "bright-face",
				Group:   "face-brightness",
				When:    []Condition{{vision.FeatureFaceBrightness, OpGreater, 0.6}},
				Effects: []Effect{{emotion.Happy, 0.3}, {emotion.Neutral, 0.2}},
			},
			{
				Name:    "dark-face",
				Group:   "face-brightness",
				When:    []Condition{{vision.FeatureFaceBrightness, OpLess, 0.4}},
				Effects: []Effect{{emotion.Sad, 0.25}, {emotion.Neutral, 0.15}},
			},
			{
				Name:    "mid-face",
				Group:   "face-brightness",
				Effects: []Effect{{emotion.Neutral, 0.4}},
			},
			{
				Name:    "high-face-contrast",
				When:    []Condition{{vision.FeatureFaceContrast, OpGreater, 0.5}},
				Effects: []Effect{{emotion.Surprised, 0.2}, {emotion.Angry, 0.15}},
			},
			{
				Name:    "dense-edges",
				When:    []Condition{{vision.FeatureEdgeDensity, OpGreater, 0.4}},
				Effects: []Effect{{emotion.Fearful, 0.2}, {emotion.Surprised, 0.15}},
			},
			{
				Name: "red-tense-face",
				When: []Condition{
					{vision.FeatureDominantRed, OpGreater, 0.5},
					{vision.FeatureFaceContrast, OpGreater, 0.3},
				},
				Effects: []Effect{{emotion.Angry, 0.2}},
			},
			{
				Name:    "strong-gradients",
				When:    []Condition{{vision.FeatureGradientMagnitude, OpGreater, 0.3}},
				Effects: []Effect{{emotion.Disgusted, 0.15}, {emotion.Fearful, 0.1}},
			},
		},
		Multiplicative: []Rule{
			{
				Name: "warm-bright-face",
				When: []Condition{
					{vision.FeatureFaceBrightness, OpGreater, 0.7},
					{vision.FeatureDominantRed, OpGreater, 0.4},
				},
				Effects: []Effect{{emotion.Happy, 1.3}, {emotion.Angry, 1.2}},
			},
			{
				Name: "startled",
				When: []Condition{
					{vision.FeatureFaceContrast, OpGreater, 0.5},
					{vision.FeatureEdgeDensity, OpGreater, 0.3},
				},
				Effects: []Effect{{emotion.Surprised, 1.4}, {emotion.Fearful, 1.2}},
			},
			{
				Name:    "dim-scene",
				When:    []Condition{{vision.FeatureBrightness, OpLess, 0.3}},
				Effects: []Effect{{emotion.Sad, 1.3}, {emotion.Neutral, 1.1}},
			},
		},
	}
}

// Validate checks that every rule references known features, operators and
// labels, and that every value is finite. Base must be positive and
// multiplicative factors non-negative.
func (t RuleTable) Validate() error {
	if !(t.Base > 0) || math.IsInf(t.Base, 0) {
		return fmt.Errorf("%w: base %v must be positive and finite", ErrInvalidTable, t.Base)
	}
	for i, r := range t.Additive {
		if err := validateRule(r, false); err != nil {
			return fmt.Errorf("%w: additive rule %d (%s): %v", ErrInvalidTable, i, r.Name, err)
		}
	}
	for i, r := range t.Multiplicative {
		if err := validateRule(r, true); err != nil {
			return fmt.Errorf("%w: multiplicative rule %d (%s): %v", ErrInvalidTable, i, r.Name, err)
		}
	}
	return nil
}

func validateRule(r Rule, multiplicative bool) error {
	if len(r.Effects) == 0 {
		return errors.New("no effects")
	}
	for _, c := range r.When {
		if !c.Feature.Valid() {
			return fmt.Errorf("unknown feature %q", c.Feature)
		}
		if c.Op != OpGreater && c.Op != OpLess {
			return fmt.Errorf("unknown operator %q", c.Op)
		}
		if math.IsNaN(c.Threshold) || math.IsInf(c.Threshold, 0) {
			return fmt.Errorf("non-finite threshold on %s", c.Feature)
		}
	}
	for _, e := range r.Effects {
		if !e.Label.Valid() {
			return fmt.Errorf("unknown label %d", e.Label)
		}
		if math.IsNaN(e.Value) || math.IsInf(e.Value, 0) {
			return fmt.Errorf("non-finite value for %s", e.Label)
		}
		if multiplicative && e.Value < 0 {
			return fmt.Errorf("negative factor %v for %s", e.Value, e.Label)
		}
	}
	return nil
}

// matching returns the rules of rules that apply to fv, honoring groups.
func matching(rules []Rule, fv vision.FeatureVector) []Rule {
	var out []Rule
	fired := make(map[string]bool)
	for _, r := range rules {
		if r.Group != "" && fired[r.Group] {
			continue
		}
		if !r.Matches(fv) {
			continue
		}
		if r.Group != "" {
			fired[r.Group] = true
		}
		out = append(out, r)
	}
	return out
}
