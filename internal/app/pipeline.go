package app

import (
	"context"
	"log"
	"time"

	"github.com/ayusman/bhava/internal/fusion"
	"github.com/ayusman/bhava/internal/raster"
)

// runPipeline is the main classification loop that processes frames from the camera.
// It manages the state transitions between idle and active modes based on motion detection.
//
// Pipeline logic:
// 1. Start in idle mode (IdleFPS=5)
// 2. On motion detected, switch to active mode (ActiveFPS=15)
// 3. Classify the frame and fuse it with the external estimator
// 4. Publish the result to listeners
// 5. After 2s no motion, switch back to idle mode
func (a *App) runPipeline(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	// Track whether we're in active mode
	activeMode := false

	// Track the last motion detection time
	lastMotionTime := time.Now()

	// Frame interval based on current FPS
	frameInterval := time.Second / time.Duration(IdleFPS)

	ticker := time.NewTicker(frameInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			// Skip processing if classification is disabled
			if !a.IsEnabled() {
				continue
			}

			// Read a frame from the camera
			frame, err := a.camera.ReadFrame()
			if err != nil {
				log.Printf("Error reading frame: %v", err)
				continue
			}

			// Step 1: Motion detection
			motionDetected, _ := a.motion.Detect(frame)

			if motionDetected {
				lastMotionTime = time.Now()

				// Switch to active mode if not already
				if !activeMode {
					activeMode = true
					a.camera.SetFPS(ActiveFPS)
					frameInterval = time.Second / time.Duration(ActiveFPS)
					ticker.Reset(frameInterval)
					log.Println("Switched to active mode")
				}
			} else if activeMode {
				// Check if we should switch back to idle mode
				if time.Since(lastMotionTime) > time.Duration(IdleTimeoutMs)*time.Millisecond {
					activeMode = false
					a.camera.SetFPS(IdleFPS)
					frameInterval = time.Second / time.Duration(IdleFPS)
					ticker.Reset(frameInterval)
					log.Println("Switched to idle mode")
				}
			}

			// Step 2: Classification. Idle mode still classifies, just less often.
			if _, err := a.ProcessFrame(ctx, frame); err != nil {
				log.Printf("Error classifying frame: %v", err)
			}
		}
	}
}

// ProcessFrame runs one frame through the detector and publishes the result.
// The loop calls it for every captured frame; tests may call it directly.
func (a *App) ProcessFrame(ctx context.Context, frame *raster.Frame) (fusion.Result, error) {
	// Keep the pre-conditioning pixels for the preview stream
	preview := frame.Clone()

	a.detMu.Lock()
	result, err := a.detector.ClassifyFused(ctx, frame, a.config.ROI)
	a.detMu.Unlock()
	if err != nil {
		return fusion.Result{}, err
	}

	a.publish(result, preview)
	return result, nil
}
