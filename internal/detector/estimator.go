package detector

import (
	"context"

	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/raster"
	"github.com/ayusman/bhava/internal/scoring"
	"github.com/ayusman/bhava/internal/temporal"
	"github.com/ayusman/bhava/internal/vision"
)

// Estimator is an external classifier whose output is fused with the
// heuristic pipeline.
type Estimator interface {
	// Estimate returns one probability per class of the estimator's label
	// space, ordered as fusion.Config.SecondaryClasses.
	Estimate(ctx context.Context, frame *raster.Frame) ([]float64, error)

	// Close releases any resources held by the estimator.
	Close() error
}

// Initializer is implemented by estimators that need an explicit warm-up
// before the first Estimate call.
type Initializer interface {
	Init(ctx context.Context) error
}

// Config holds configuration for a Detector.
type Config struct {
	// Conditioner controls histogram equalization and denoising.
	Conditioner vision.ConditionerConfig

	// Rules is the scoring rule table.
	Rules scoring.RuleTable

	// Window is the number of frames the smoother averages (default: 5).
	Window int

	// HistoryCapacity is the number of predictions kept (default: 100).
	HistoryCapacity int

	// Calibration holds the confidence calibration constants.
	Calibration temporal.CalibrationConfig

	// Fusion configures how estimator output is merged.
	Fusion fusion.Config
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Conditioner:     vision.DefaultConditionerConfig(),
		Rules:           scoring.DefaultTable(),
		Window:          temporal.DefaultWindow,
		HistoryCapacity: temporal.DefaultHistoryCapacity,
		Calibration:     temporal.DefaultCalibrationConfig(),
		Fusion:          fusion.DefaultConfig(),
	}
}
