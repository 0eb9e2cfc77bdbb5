package scoring

import (
	"fmt"

	"github.com/ayusman/bhava/internal/emotion"
	"github.com/ayusman/bhava/internal/vision"
)

// Scorer maps a feature vector to a base distribution using the additive
// rules of a table.
type Scorer struct {
	base  float64
	rules []Rule
}

// NewScorer returns a Scorer for table. The table is validated.
func NewScorer(table RuleTable) (*Scorer, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("new scorer: %w", err)
	}
	return &Scorer{
		base:  table.Base,
		rules: append([]Rule(nil), table.Additive...),
	}, nil
}

// Score starts every label at the base value, adds the deltas of every
// matching rule and normalizes.
func (s *Scorer) Score(fv vision.FeatureVector) emotion.ClassScores {
	var raw emotion.ClassScores
	for i := range raw {
		raw[i] = s.base
	}
	for _, r := range matching(s.rules, fv) {
		for _, e := range r.Effects {
			raw[e.Label] += e.Value
		}
	}
	return raw.Normalize()
}

// Adjuster reweights a distribution with the multiplicative rules of a table.
type Adjuster struct {
	rules []Rule
}

// NewAdjuster returns an Adjuster for table. The table is validated.
func NewAdjuster(table RuleTable) (*Adjuster, error) {
	if err := table.Validate(); err != nil {
		return nil, fmt.Errorf("new adjuster: %w", err)
	}
	return &Adjuster{rules: append([]Rule(nil), table.Multiplicative...)}, nil
}

// Adjust multiplies scores by the factors of every matching rule and
// renormalizes. Matching rules compound.
func (a *Adjuster) Adjust(scores emotion.ClassScores, fv vision.FeatureVector) emotion.ClassScores {
	out := scores
	for _, r := range matching(a.rules, fv) {
		for _, e := range r.Effects {
			out[e.Label] *= e.Value
		}
	}
	return out.Normalize()
}

// Pipeline chains a Scorer and an Adjuster built from the same table.
type Pipeline struct {
	scorer   *Scorer
	adjuster *Adjuster
}

// NewPipeline returns a Pipeline for table.
func NewPipeline(table RuleTable) (*Pipeline, error) {
	scorer, err := NewScorer(table)
	if err != nil {
		return nil, err
	}
	adjuster, err := NewAdjuster(table)
	if err != nil {
		return nil, err
	}
	return &Pipeline{scorer: scorer, adjuster: adjuster}, nil
}

// Run scores fv and applies the contextual adjustments.
func (p *Pipeline) Run(fv vision.FeatureVector) emotion.ClassScores {
	return p.adjuster.Adjust(p.scorer.Score(fv), fv)
}
