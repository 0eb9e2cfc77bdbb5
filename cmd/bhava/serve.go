package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/ayusman/bhava/internal/app"
	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/server"
	"github.com/spf13/cobra"
)

type serveOptions struct {
	Addr            string
	CameraID        int
	MotionThreshold float64
	StaticDir       string
	NoCapture       bool
}

var serveOpts serveOptions

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture loop and the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd, serveOpts)
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveOpts.Addr, "addr", "a", ":8080", "HTTP listen address")
	serveCmd.Flags().IntVarP(&serveOpts.CameraID, "camera", "c", 0, "Camera device ID")
	serveCmd.Flags().Float64VarP(&serveOpts.MotionThreshold, "motion-threshold", "m", 0, "Percentage of changed pixels that switches to active mode (default: tuning or 1.0)")
	serveCmd.Flags().StringVar(&serveOpts.StaticDir, "static", "", "Directory of static web files (default: search for web/)")
	serveCmd.Flags().BoolVar(&serveOpts.NoCapture, "no-capture", false, "Serve the API without opening the camera")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, so serveOptions) error {
	ctx := cmd.Context()
	fmt.Println("Bhava - Affect Classification")

	cfg, tuning, err := loadTuning(db, opts)
	if err != nil {
		return err
	}

	// Uploaded stills get their own detector so they never mix with the
	// camera's smoothing window.
	classifierEstimator, err := newEstimator(opts.EstimatorScript)
	if err != nil {
		return err
	}
	classifier, err := detector.New(cfg, classifierEstimator)
	if err != nil {
		return err
	}
	defer classifier.Dispose()
	if err := classifier.Init(ctx); err != nil {
		return err
	}

	srvConfig := server.Config{
		StaticDir:  so.StaticDir,
		Store:      db,
		Classifier: classifier,
	}
	if srvConfig.StaticDir == "" {
		srvConfig.StaticDir = findWebDir()
	}
	if srvConfig.StaticDir != "" {
		fmt.Printf("Serving static files from: %s\n", srvConfig.StaticDir)
	}

	if !so.NoCapture {
		estimator, err := newEstimator(opts.EstimatorScript)
		if err != nil {
			return err
		}
		motion := so.MotionThreshold
		if motion <= 0 {
			motion = tuning.GetMotionThreshold(app.DefaultMotionThreshold)
		}

		a, err := app.New(app.Config{
			CameraID:     so.CameraID,
			MotionThresh: motion,
			Detector:     cfg,
			Estimator:    estimator,
		})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Start(ctx); err != nil {
			return fmt.Errorf("failed to start capture: %w", err)
		}
		srvConfig.App = a
	}

	srv := server.New(srvConfig)

	fmt.Printf("Starting server on %s\n", so.Addr)
	if err := srv.ListenAndServe(ctx, so.Addr); err != nil {
		return fmt.Errorf("server failed: %w", err)
	}
	log.Println("Server stopped")
	return nil
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and ~/.bhava/web.
// Returns the first existing directory or empty string if none found.
func findWebDir() string {
	// Check relative paths from current working directory
	relativePaths := []string{"web", "../web", "../../web"}
	for _, p := range relativePaths {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}

	// Check home directory
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	homeWebDir := filepath.Join(homeDir, ".bhava", "web")
	if info, err := os.Stat(homeWebDir); err == nil && info.IsDir() {
		return homeWebDir
	}

	return ""
}
