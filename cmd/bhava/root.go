package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/ayusman/bhava/internal/config"
	"github.com/ayusman/bhava/internal/detector"
	"github.com/ayusman/bhava/internal/store"
	"github.com/spf13/cobra"
)

// Version is the application version.
const Version = "0.1.0"

// Options holds the flags shared by serve and classify.
type Options struct {
	DBPath          string
	TuningPath      string
	Profile         string
	EstimatorScript string
}

var (
	// db is the store shared by subcommands
	db   *store.Store
	opts Options
)

var rootCmd = &cobra.Command{
	Use:          "bhava",
	Short:        "Affect classification for camera frames and stills",
	Version:      Version,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if opts.DBPath == "" {
			path, err := defaultDBPath()
			if err != nil {
				return err
			}
			opts.DBPath = path
		}

		var err error
		db, err = store.New(opts.DBPath)
		if err != nil {
			return fmt.Errorf("failed to initialize store: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if db != nil {
			db.Close()
		}
	},
}

// Execute runs the root command with a context canceled on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&opts.DBPath, "db", "", "SQLite database path (default: ~/.bhava/bhava.db)")
	rootCmd.PersistentFlags().StringVar(&opts.TuningPath, "tuning", "", "JSON tuning file applied on top of the profile")
	rootCmd.PersistentFlags().StringVar(&opts.Profile, "profile", "", "Tuning profile name (default: the active profile)")
	rootCmd.PersistentFlags().StringVar(&opts.EstimatorScript, "estimator-script", "", `External estimator script, or "auto" to search the usual locations`)
}

// defaultDBPath returns ~/.bhava/bhava.db, creating the directory.
func defaultDBPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}

	dbDir := filepath.Join(homeDir, ".bhava")
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return filepath.Join(dbDir, "bhava.db"), nil
}

// loadTuning resolves the detector configuration from the selected profile
// and the tuning file, in that order. The merged tuning is returned for
// settings outside the detector.
func loadTuning(s *store.Store, o Options) (detector.Config, *config.Tuning, error) {
	cfg := detector.DefaultConfig()
	merged := &config.Tuning{}

	name := o.Profile
	if name == "" {
		active, err := s.Settings().Get(store.SettingActiveProfile)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return cfg, nil, err
		}
		name = active
	}

	if name != "" {
		profile, err := s.Profiles().GetByName(name)
		if err != nil {
			return cfg, nil, fmt.Errorf("profile %q: %w", name, err)
		}
		t, err := config.ParseTuning(profile.Tuning)
		if err != nil {
			return cfg, nil, fmt.Errorf("profile %q: %w", name, err)
		}
		t.Apply(&cfg)
		merged = t
		log.Printf("Using tuning profile %q", name)
	}

	if o.TuningPath != "" {
		t, err := config.LoadTuning(o.TuningPath)
		if err != nil {
			return cfg, nil, err
		}
		t.Apply(&cfg)
		if t.MotionThreshold != nil {
			merged.MotionThreshold = t.MotionThreshold
		}
		log.Printf("Using tuning file %s", o.TuningPath)
	}

	return cfg, merged, nil
}

// newEstimator builds the external estimator selected by --estimator-script,
// or returns nil when none is configured.
func newEstimator(script string) (detector.Estimator, error) {
	switch script {
	case "":
		return nil, nil
	case "auto":
		script = ""
	}

	est, err := detector.NewSubprocessEstimator(detector.SubprocessConfig{Script: script})
	if err != nil {
		return nil, fmt.Errorf("external estimator: %w", err)
	}
	return est, nil
}
