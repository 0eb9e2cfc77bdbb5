// Package app runs the capture loop: camera frames pass through the motion
// gate into one detector instance, and each fused result is handed to the
// registered listeners.
package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/ayusman/bhava/internal/capture"
	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/raster"
	"github.com/ayusman/bhava/internal/temporal"
)

// Pipeline timing constants.
const (
	// IdleFPS is the frame rate when no motion is detected.
	IdleFPS = 5
	// ActiveFPS is the frame rate while the scene is moving.
	ActiveFPS = 15
	// IdleTimeoutMs is the time in milliseconds to wait before switching back to idle mode.
	IdleTimeoutMs = 2000
	// DefaultMotionThreshold is the percentage of changed pixels that counts as motion.
	DefaultMotionThreshold = 1.0
)

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("app closed")

// Config holds configuration options for the application.
type Config struct {
	// Camera is the frame source. When nil, the device CameraID is opened.
	Camera   capture.Camera
	CameraID int

	// MotionThresh is the motion gate threshold in percent (default: 1).
	MotionThresh float64

	// Detector configures the classification pipeline.
	Detector detector.Config

	// Estimator is an optional external estimator fused with the pipeline.
	Estimator detector.Estimator

	// ROI is the face region passed to the detector; nil uses the default crop.
	ROI *raster.Region
}

// Listener receives every fused result produced by the capture loop.
type Listener = func(fusion.Result)

// App is the main application that owns the camera and the detector.
type App struct {
	config   Config
	camera   capture.Camera
	motion   *capture.MotionDetector
	detector *detector.Detector

	enabled bool
	closed  bool
	mu      sync.RWMutex
	stopCh  chan struct{}
	doneCh  chan struct{}

	// detMu serializes detector access between the loop and readers.
	detMu sync.Mutex

	listenerMu sync.RWMutex
	listeners  map[int]Listener
	nextID     int

	latestMu    sync.RWMutex
	latest      fusion.Result
	hasLatest   bool
	latestFrame *raster.Frame
}

// New creates a new App instance with the given configuration.
func New(config Config) (*App, error) {
	motionThreshold := config.MotionThresh
	if motionThreshold <= 0 {
		motionThreshold = DefaultMotionThreshold
	}

	d, err := detector.New(config.Detector, config.Estimator)
	if err != nil {
		return nil, err
	}

	camera := config.Camera
	if camera == nil {
		camera = capture.NewCamera(config.CameraID)
	}

	if config.Estimator != nil {
		log.Println("Using external estimator for fusion")
	} else {
		log.Println("No external estimator configured, using heuristic pipeline only")
	}

	return &App{
		config:    config,
		camera:    camera,
		motion:    capture.NewMotionDetector(motionThreshold),
		detector:  d,
		enabled:   true,
		listeners: make(map[int]Listener),
	}, nil
}

// SetEnabled enables or disables classification. The camera keeps running.
func (a *App) SetEnabled(enabled bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.enabled = enabled
}

// IsEnabled returns whether classification is currently enabled.
func (a *App) IsEnabled() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.enabled
}

// IsRunning reports whether the capture loop is running.
func (a *App) IsRunning() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.stopCh != nil
}

// Subscribe registers fn for every fused result. The returned function
// removes the subscription. Listeners run on the capture goroutine and must
// not block.
func (a *App) Subscribe(fn Listener) func() {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()

	id := a.nextID
	a.nextID++
	a.listeners[id] = fn

	return func() {
		a.listenerMu.Lock()
		defer a.listenerMu.Unlock()
		delete(a.listeners, id)
	}
}

func (a *App) publish(r fusion.Result, frame *raster.Frame) {
	a.latestMu.Lock()
	a.latest = r
	a.hasLatest = true
	a.latestFrame = frame
	a.latestMu.Unlock()

	a.listenerMu.RLock()
	defer a.listenerMu.RUnlock()
	for _, fn := range a.listeners {
		fn(r)
	}
}

// Init readies the detector without starting the capture loop, so frames
// can be fed with ProcessFrame.
func (a *App) Init(ctx context.Context) error {
	a.mu.RLock()
	closed := a.closed
	a.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if err := a.detector.Init(ctx); err != nil {
		return fmt.Errorf("init detector: %w", err)
	}
	return nil
}

// Start initializes the detector, opens the camera and begins the capture loop.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return ErrClosed
	}
	// Don't start if already running
	if a.stopCh != nil {
		return nil
	}

	if err := a.detector.Init(ctx); err != nil {
		return fmt.Errorf("init detector: %w", err)
	}

	if err := a.camera.Open(); err != nil {
		return err
	}

	// Set initial FPS to idle mode
	a.camera.SetFPS(IdleFPS)

	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.runPipeline(a.stopCh, a.doneCh)

	log.Println("Capture pipeline started")
	return nil
}

// Stop halts the capture loop and closes the camera. The detector keeps its
// history, and Start may be called again.
func (a *App) Stop() {
	a.mu.Lock()
	stopCh, doneCh := a.stopCh, a.doneCh
	a.stopCh, a.doneCh = nil, nil
	a.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)
	<-doneCh

	if err := a.camera.Close(); err != nil {
		log.Printf("Error closing camera: %v", err)
	}
	a.motion.Reset()

	log.Println("Capture pipeline stopped")
}

// Close stops the loop, disposes the detector and releases the motion gate.
func (a *App) Close() error {
	a.Stop()

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return nil
	}
	a.closed = true
	a.mu.Unlock()

	a.motion.Close()

	a.detMu.Lock()
	defer a.detMu.Unlock()
	return a.detector.Dispose()
}

// Camera returns the camera instance.
func (a *App) Camera() capture.Camera {
	return a.camera
}

// MotionDetector returns the motion detector instance.
func (a *App) MotionDetector() *capture.MotionDetector {
	return a.motion
}

// Latest returns the most recent fused result.
func (a *App) Latest() (fusion.Result, bool) {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	return a.latest, a.hasLatest
}

// LatestFrame returns the frame behind the most recent result, or nil.
func (a *App) LatestFrame() *raster.Frame {
	a.latestMu.RLock()
	defer a.latestMu.RUnlock()
	return a.latestFrame
}

// Analytics returns the detector's history summary.
func (a *App) Analytics() temporal.Analytics {
	a.detMu.Lock()
	defer a.detMu.Unlock()
	return a.detector.Analytics()
}

// History returns a copy of the detector's recorded predictions.
func (a *App) History() []temporal.Entry {
	a.detMu.Lock()
	defer a.detMu.Unlock()
	return a.detector.History()
}

// State returns the detector lifecycle state.
func (a *App) State() detector.State {
	return a.detector.State()
}

// ResetHistory clears the detector's smoothing window and history.
func (a *App) ResetHistory() {
	a.detMu.Lock()
	defer a.detMu.Unlock()
	a.detector.Reset()
}
