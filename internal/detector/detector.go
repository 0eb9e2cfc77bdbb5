// Package detector runs the affect classification pipeline for one frame
// stream and owns the stateful buffers behind it.
package detector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/bhava/internal/emotion"
	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/raster"
	"github.com/ayusman/bhava/internal/scoring"
	"github.com/ayusman/bhava/internal/temporal"
	"github.com/ayusman/bhava/internal/vision"
)

var (
	// ErrNotReady is returned by classify calls made before Init succeeded.
	ErrNotReady = errors.New("detector not ready")
	// ErrDisposed is returned by any call made after Dispose.
	ErrDisposed = errors.New("detector disposed")
)

// State is the lifecycle state of a Detector.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Detector classifies frames. Classification calls mutate the smoothing
// window and history and must be serialized by the caller; lifecycle
// transitions are safe to call concurrently.
type Detector struct {
	config    Config
	estimator Estimator

	mu       sync.Mutex
	state    State
	initErr  error
	initDone chan struct{}
	disposed bool

	conditioner *vision.Conditioner
	pipeline    *scoring.Pipeline
	smoother    *temporal.Smoother
	calibrator  *temporal.Calibrator
	history     *temporal.History
	engine      *fusion.Engine
	last        emotion.ClassScores

	extract func(*raster.Frame, *raster.Region) (vision.FeatureVector, error)
	now     func() time.Time
}

// New builds a Detector from config. estimator may be nil. The rule table
// and fusion configuration are validated here; the estimator is not started
// until Init.
func New(config Config, estimator Estimator) (*Detector, error) {
	pipeline, err := scoring.NewPipeline(config.Rules)
	if err != nil {
		return nil, fmt.Errorf("new detector: %w", err)
	}
	engine, err := fusion.NewEngine(config.Fusion)
	if err != nil {
		return nil, fmt.Errorf("new detector: %w", err)
	}

	return &Detector{
		config:      config,
		estimator:   estimator,
		conditioner: vision.NewConditioner(config.Conditioner),
		pipeline:    pipeline,
		smoother:    temporal.NewSmoother(config.Window),
		calibrator:  temporal.NewCalibrator(config.Calibration),
		history:     temporal.NewHistory(config.HistoryCapacity),
		engine:      engine,
		last:        emotion.Uniform(),
		extract:     vision.Extract,
		now:         time.Now,
	}, nil
}

// Init prepares the detector for classification, initializing the estimator
// when it implements Initializer. It blocks until done. Calling Init on a
// ready detector is a no-op; a failed detector may be retried. A call made
// while another Init is in progress waits for it and returns its outcome.
func (d *Detector) Init(ctx context.Context) error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return ErrDisposed
	}
	switch d.state {
	case StateReady:
		d.mu.Unlock()
		return nil
	case StateInitializing:
		done := d.initDone
		d.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		return d.initOutcome()
	}
	d.state = StateInitializing
	done := make(chan struct{})
	d.initDone = done
	d.mu.Unlock()

	var err error
	if initer, ok := d.estimator.(Initializer); ok {
		err = initer.Init(ctx)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	defer close(done)
	if d.disposed {
		return ErrDisposed
	}
	if err != nil {
		d.state = StateFailed
		d.initErr = err
		return fmt.Errorf("init estimator: %w", err)
	}
	d.state = StateReady
	d.initErr = nil
	return nil
}

// initOutcome reports the result of the Init that just finished.
func (d *Detector) initOutcome() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch {
	case d.disposed:
		return ErrDisposed
	case d.state == StateReady:
		return nil
	case d.state == StateFailed:
		return fmt.Errorf("init estimator: %w", d.initErr)
	}
	return fmt.Errorf("%w: state %s", ErrNotReady, d.state)
}

// State returns the current lifecycle state.
func (d *Detector) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// InitError returns the error of the last failed Init, if any.
func (d *Detector) InitError() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initErr
}

// HasEstimator reports whether an external estimator is attached.
func (d *Detector) HasEstimator() bool {
	return d.estimator != nil
}

func (d *Detector) ready() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.disposed {
		return ErrDisposed
	}
	if d.state != StateReady {
		return fmt.Errorf("%w: state %s", ErrNotReady, d.state)
	}
	return nil
}

// Classify runs the heuristic pipeline on frame. roi may be nil to use the
// default center crop. Malformed frames return a *raster.InvalidFrameError;
// any other fault yields a neutral fallback prediction instead of an error.
func (d *Detector) Classify(frame *raster.Frame, roi *raster.Region) (emotion.Prediction, error) {
	if err := d.ready(); err != nil {
		return emotion.Prediction{}, err
	}
	if err := frame.Validate(); err != nil {
		return emotion.Prediction{}, err
	}
	return d.classify(frame, roi), nil
}

func (d *Detector) classify(frame *raster.Frame, roi *raster.Region) (p emotion.Prediction) {
	ts := frame.Timestamp
	if ts.IsZero() {
		ts = d.now()
	}

	defer func() {
		if r := recover(); r != nil {
			Logf("detector: classification fault at %s: %v", ts.Format(time.RFC3339Nano), r)
			p = emotion.NeutralFallback(ts, 0)
		}
	}()

	conditioned, err := d.conditioner.Condition(frame)
	if err != nil {
		Logf("detector: condition frame at %s: %v", ts.Format(time.RFC3339Nano), err)
		return emotion.NeutralFallback(ts, 0)
	}
	fv, err := d.extract(conditioned, roi)
	if err != nil {
		Logf("detector: extract features at %s: %v", ts.Format(time.RFC3339Nano), err)
		return emotion.NeutralFallback(ts, 0)
	}

	smoothed := d.smoother.Smooth(d.pipeline.Run(fv))
	label, _ := smoothed.Argmax()
	conf := d.calibrator.Calibrate(smoothed, d.history.RecentLabels(d.config.Calibration.StabilityWindow))

	var flags emotion.Flags
	if fv.Degraded {
		flags |= emotion.FlagDegradedFeatures
	}

	snapshot := fv
	p = emotion.Prediction{
		Label:      label,
		Confidence: conf,
		Scores:     smoothed,
		Timestamp:  ts,
		Features:   &snapshot,
		Flags:      flags,
	}
	d.history.Append(p, fv)
	d.last = smoothed
	return p
}

// ClassifyFused classifies frame and fuses the result with the estimator's
// output. Without an estimator, or when the estimator call fails, the result
// is primary-only and the primary prediction carries FlagNoEstimator or
// FlagEstimatorFailed. A distribution of the wrong length is returned as an
// error wrapping fusion.ErrDistributionLength.
func (d *Detector) ClassifyFused(ctx context.Context, frame *raster.Frame, roi *raster.Region) (fusion.Result, error) {
	p, err := d.Classify(frame, roi)
	if err != nil {
		return fusion.Result{}, err
	}

	if d.estimator == nil {
		p.Flags |= emotion.FlagNoEstimator
		return d.engine.PrimaryOnly(p), nil
	}
	if p.Flags.Has(emotion.FlagFault) {
		return d.engine.PrimaryOnly(p), nil
	}

	raw, err := d.estimate(ctx, frame)
	if err != nil {
		Logf("detector: estimator failed at %s: %v", p.Timestamp.Format(time.RFC3339Nano), err)
		p.Flags |= emotion.FlagEstimatorFailed
		return d.engine.PrimaryOnly(p), nil
	}

	r, err := d.engine.Fuse(p, raw)
	if err != nil {
		return fusion.Result{}, fmt.Errorf("fuse: %w", err)
	}
	if r.Sources.Has(fusion.SourceFallback) {
		Logf("detector: estimator output unusable at %s, using heuristic only", p.Timestamp.Format(time.RFC3339Nano))
	}
	return r, nil
}

func (d *Detector) estimate(ctx context.Context, frame *raster.Frame) (raw []float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("estimator panic: %v", r)
		}
	}()
	return d.estimator.Estimate(ctx, frame)
}

// Scores returns the most recent smoothed distribution, or the uniform
// distribution before the first frame.
func (d *Detector) Scores() emotion.ClassScores {
	return d.last
}

// History returns a copy of the recorded predictions, oldest first.
func (d *Detector) History() []temporal.Entry {
	return d.history.Snapshot()
}

// Analytics summarizes the recorded predictions.
func (d *Detector) Analytics() temporal.Analytics {
	return d.history.Analytics()
}

// Engine returns the fusion engine used by ClassifyFused.
func (d *Detector) Engine() *fusion.Engine {
	return d.engine
}

// Reset clears the smoothing window and history without changing state.
func (d *Detector) Reset() {
	d.smoother.Reset()
	d.history.Clear()
	d.last = emotion.Uniform()
}

// Dispose clears all buffers, closes the estimator and leaves the detector
// uninitialized. Any later call returns ErrDisposed. Dispose is idempotent.
func (d *Detector) Dispose() error {
	d.mu.Lock()
	if d.disposed {
		d.mu.Unlock()
		return nil
	}
	d.disposed = true
	d.state = StateUninitialized
	d.mu.Unlock()

	d.Reset()
	if d.estimator != nil {
		if err := d.estimator.Close(); err != nil {
			return fmt.Errorf("close estimator: %w", err)
		}
	}
	return nil
}
