package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database/postgres"
	"github.com/kozaktomas/face-finder/internal/inference"
	"github.com/kozaktomas/face-finder/internal/logging"
)

// addModelFlag registers --model on commands that run the recognizer.
func addModelFlag(cmd *cobra.Command) {
	cmd.Flags().String("model", "", "Recognition model (default $FACE_RECOGNITION_MODEL or MOBILE_FACE_NET)")
}

// addScanFlags registers the scan tuning flags. Negative values keep the environment defaults.
func addScanFlags(cmd *cobra.Command) {
	addModelFlag(cmd)
	cmd.Flags().Float64("threshold", -1, "Similarity threshold 0-1 (default $FACE_THRESHOLD or 0.60)")
	cmd.Flags().Int("delay", -1, "Pause before each photo in milliseconds (default $FACE_PROCESS_DELAY_MS or 0)")
}

// loadConfig reads the environment and applies the per-command overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Load()

	if f := cmd.Flags().Lookup("model"); f != nil && f.Value.String() != "" {
		cfg.Scan.RecognitionModel = f.Value.String()
	}
	if cmd.Flags().Lookup("threshold") != nil {
		if threshold := mustGetFloat64(cmd, "threshold"); threshold >= 0 {
			cfg.Scan.Threshold = threshold
		}
	}
	if cmd.Flags().Lookup("delay") != nil {
		if delay := mustGetInt(cmd, "delay"); delay >= 0 {
			cfg.Scan.ProcessDelay = time.Duration(delay) * time.Millisecond
		}
	}

	if err := cfg.Scan.Validate(cfg.Models); err != nil {
		return nil, err
	}
	return cfg, nil
}

// openPipeline loads the detector and the configured recognizer.
// The returned cleanup closes the sessions and releases the runtime.
func openPipeline(cfg *config.Config) (*inference.Pipeline, func(), error) {
	log := logging.Logger()
	log.WithFields(logging.Fields{
		"model":      cfg.Scan.RecognitionModel,
		"models_dir": cfg.Inference.ModelsDir,
	}).Debug("loading models")

	engine, err := inference.Open(cfg, cfg.Scan.RecognitionModel)
	if err != nil {
		return nil, nil, fmt.Errorf("loading models: %w", err)
	}
	cleanup := func() {
		if err := engine.Close(); err != nil {
			log.WithError(err).Warn("closing inference engine")
		}
		if err := inference.DestroyRuntime(); err != nil {
			log.WithError(err).Warn("releasing onnxruntime")
		}
	}

	pipeline, err := inference.NewPipeline(engine, inference.Options{
		ScoreThreshold: cfg.Scan.ScoreThreshold,
		SharpenAmount:  &cfg.Scan.SharpenAmount,
		Logger:         log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return pipeline, cleanup, nil
}

// connectDatabase initializes PostgreSQL storage. DATABASE_URL is required.
func connectDatabase(ctx context.Context, cfg *config.Config) (*postgres.ScanRepository, error) {
	scans, err := postgres.Initialize(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	return scans, nil
}

// closeDatabase closes the global pool if one was opened.
func closeDatabase() {
	if err := postgres.CloseGlobalPool(); err != nil {
		logging.Logger().WithError(err).Warn("closing database pool")
	}
}
