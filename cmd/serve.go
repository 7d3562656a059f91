package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/inference"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/scanner"
	"github.com/kozaktomas/face-finder/internal/web"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the Face Finder HTTP API.

The API manages targets, runs one scan at a time over photo paths readable by
the server and streams scan progress as server-sent events. Finished scans are
stored in PostgreSQL.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addModelFlag(serveCmd)
	serveCmd.Flags().Int("port", 0, "Port to listen on (default $WEB_PORT or 8085)")
	serveCmd.Flags().String("host", "", "Host to bind to (default $WEB_HOST or 0.0.0.0)")
}

// saveIndexes persists the per-model HNSW indexes during shutdown.
func saveIndexes(rebuilder database.IndexRebuilder) {
	log := logging.Logger()
	if err := rebuilder.SaveIndex(); err != nil {
		log.WithError(err).Warn("failed to save HNSW index")
		return
	}
	log.WithField("faces", rebuilder.IndexCount()).Info("HNSW index saved")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required")
	}

	log := logging.Logger()
	log.Info("connecting to PostgreSQL database")
	scans, err := connectDatabase(context.Background(), cfg)
	if err != nil {
		return err
	}
	defer closeDatabase()

	targets, err := database.GetTargetWriter(context.Background())
	if err != nil {
		return err
	}

	pipeline, cleanup, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	source := inference.FileSource{}
	orch := scanner.New(&inference.PhotoAnalyzer{Pipeline: pipeline, Source: source}, scanner.WithLogger(log))

	server := web.NewServer(cfg, web.Deps{
		Orchestrator: orch,
		Embedder:     pipeline,
		Source:       source,
		Targets:      targets,
		Scans:        scans,
		Logger:       log,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("error during shutdown")
		}
		saveIndexes(scans)
	}()

	fmt.Printf("Starting Face Finder API on http://%s:%d (model %s)\n", cfg.Web.Host, cfg.Web.Port, pipeline.Model())
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	<-shutdownDone
	return nil
}
