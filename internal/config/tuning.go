// Package config loads tuning documents that override the detector defaults.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/scoring"
)

// MaxTuningSize is the largest tuning file LoadTuning accepts.
const MaxTuningSize = 1 * 1024 * 1024 // 1MB

// Tuning overrides detector settings. Nil fields keep the default.
type Tuning struct {
	Rules *scoring.RuleTable `json:"rules,omitempty"`

	Equalize *bool `json:"equalize,omitempty"`
	Denoise  *bool `json:"denoise,omitempty"`

	SmoothingWindow *int `json:"smoothing_window,omitempty"`
	HistoryCapacity *int `json:"history_capacity,omitempty"`

	GapWeight           *float64 `json:"gap_weight,omitempty"`
	StabilityWindow     *int     `json:"stability_window,omitempty"`
	StabilityWeight     *float64 `json:"stability_weight,omitempty"`
	ConfidenceThreshold *float64 `json:"confidence_threshold,omitempty"`
	LowConfidenceScale  *float64 `json:"low_confidence_scale,omitempty"`
	LowConfidenceFloor  *float64 `json:"low_confidence_floor,omitempty"`
	MinConfidence       *float64 `json:"min_confidence,omitempty"`
	MaxConfidence       *float64 `json:"max_confidence,omitempty"`

	PrimaryWeight       *float64          `json:"primary_weight,omitempty"`
	SecondaryWeight     *float64          `json:"secondary_weight,omitempty"`
	AgreementBonus      *float64          `json:"agreement_bonus,omitempty"`
	GapThreshold        *float64          `json:"gap_threshold,omitempty"`
	DisagreementPenalty *float64          `json:"disagreement_penalty,omitempty"`
	HighTier            *float64          `json:"high_tier,omitempty"`
	MediumTier          *float64          `json:"medium_tier,omitempty"`
	SecondaryClasses    []string          `json:"secondary_classes,omitempty"`
	Aliases             map[string]string `json:"aliases,omitempty"`

	MotionThreshold *float64 `json:"motion_threshold,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }

// LoadTuning reads and validates a JSON tuning file.
func LoadTuning(path string) (*Tuning, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("tuning file must have .json extension, got %q", ext)
	}

	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("stat tuning file: %w", err)
	}
	if info.Size() > MaxTuningSize {
		return nil, fmt.Errorf("tuning file too large: %d bytes (max %d)", info.Size(), MaxTuningSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("read tuning file: %w", err)
	}
	return ParseTuning(data)
}

// ParseTuning decodes and validates a JSON tuning document.
func ParseTuning(data []byte) (*Tuning, error) {
	t := &Tuning{}
	if err := json.Unmarshal(data, t); err != nil {
		return nil, fmt.Errorf("parse tuning JSON: %w", err)
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tuning: %w", err)
	}
	return t, nil
}

// Marshal encodes t as JSON.
func (t *Tuning) Marshal() ([]byte, error) {
	return json.Marshal(t)
}

// Validate checks the ranges of every set field.
func (t *Tuning) Validate() error {
	if t.Rules != nil {
		if err := t.Rules.Validate(); err != nil {
			return err
		}
	}

	for name, v := range map[string]*int{
		"smoothing_window": t.SmoothingWindow,
		"history_capacity": t.HistoryCapacity,
		"stability_window": t.StabilityWindow,
	} {
		if v != nil && *v < 1 {
			return fmt.Errorf("%s must be at least 1, got %d", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"gap_weight":           t.GapWeight,
		"stability_weight":     t.StabilityWeight,
		"confidence_threshold": t.ConfidenceThreshold,
		"low_confidence_scale": t.LowConfidenceScale,
		"low_confidence_floor": t.LowConfidenceFloor,
		"min_confidence":       t.MinConfidence,
		"max_confidence":       t.MaxConfidence,
		"primary_weight":       t.PrimaryWeight,
		"secondary_weight":     t.SecondaryWeight,
		"agreement_bonus":      t.AgreementBonus,
		"gap_threshold":        t.GapThreshold,
		"disagreement_penalty": t.DisagreementPenalty,
		"high_tier":            t.HighTier,
		"medium_tier":          t.MediumTier,
		"motion_threshold":     t.MotionThreshold,
	} {
		if v == nil {
			continue
		}
		if math.IsNaN(*v) || math.IsInf(*v, 0) || *v < 0 {
			return fmt.Errorf("%s must be a non-negative number, got %v", name, *v)
		}
	}

	for name, v := range map[string]*float64{
		"min_confidence": t.MinConfidence,
		"max_confidence": t.MaxConfidence,
		"high_tier":      t.HighTier,
		"medium_tier":    t.MediumTier,
	} {
		if v != nil && *v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, *v)
		}
	}

	if t.MinConfidence != nil && t.MaxConfidence != nil && *t.MinConfidence > *t.MaxConfidence {
		return fmt.Errorf("min_confidence %v exceeds max_confidence %v", *t.MinConfidence, *t.MaxConfidence)
	}
	if t.MotionThreshold != nil && *t.MotionThreshold > 100 {
		return fmt.Errorf("motion_threshold is a percentage, got %v", *t.MotionThreshold)
	}
	return nil
}

// Apply overlays the set fields of t onto cfg.
func (t *Tuning) Apply(cfg *detector.Config) {
	if t.Rules != nil {
		cfg.Rules = *t.Rules
	}
	setBool(&cfg.Conditioner.Equalize, t.Equalize)
	setBool(&cfg.Conditioner.Denoise, t.Denoise)
	setInt(&cfg.Window, t.SmoothingWindow)
	setInt(&cfg.HistoryCapacity, t.HistoryCapacity)

	c := &cfg.Calibration
	setFloat(&c.GapWeight, t.GapWeight)
	setInt(&c.StabilityWindow, t.StabilityWindow)
	setFloat(&c.StabilityWeight, t.StabilityWeight)
	setFloat(&c.Threshold, t.ConfidenceThreshold)
	setFloat(&c.LowScale, t.LowConfidenceScale)
	setFloat(&c.LowFloor, t.LowConfidenceFloor)
	setFloat(&c.Min, t.MinConfidence)
	setFloat(&c.Max, t.MaxConfidence)

	f := &cfg.Fusion
	setFloat(&f.PrimaryWeight, t.PrimaryWeight)
	setFloat(&f.SecondaryWeight, t.SecondaryWeight)
	setFloat(&f.AgreementBonus, t.AgreementBonus)
	setFloat(&f.GapThreshold, t.GapThreshold)
	setFloat(&f.DisagreementPenalty, t.DisagreementPenalty)
	setFloat(&f.HighTier, t.HighTier)
	setFloat(&f.MediumTier, t.MediumTier)
	if len(t.SecondaryClasses) > 0 {
		f.SecondaryClasses = append([]string(nil), t.SecondaryClasses...)
	}
	if t.Aliases != nil {
		f.Aliases = make(map[string]string, len(t.Aliases))
		for k, v := range t.Aliases {
			f.Aliases[k] = v
		}
	}
}

// DetectorConfig returns the default detector configuration with t applied.
// A nil Tuning yields the defaults.
func (t *Tuning) DetectorConfig() detector.Config {
	cfg := detector.DefaultConfig()
	if t != nil {
		t.Apply(&cfg)
	}
	return cfg
}

// GetMotionThreshold returns the motion threshold, or def when unset.
func (t *Tuning) GetMotionThreshold(def float64) float64 {
	if t == nil || t.MotionThreshold == nil {
		return def
	}
	return *t.MotionThreshold
}

func setFloat(dst *float64, v *float64) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
