package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "face-finder",
	Short: "Find photos of a person using on-device face matching",
	Long: `Face Finder scans photo folders for a given person. Faces are detected,
aligned and embedded locally with ONNX models, then compared against the
reference embeddings of a target profile.`,
	SilenceUsage: true,
	PersistentPreRunE: setupLogging,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().String("log-level", "", "Log level: debug, info, warn, error (default $LOG_LEVEL or info)")
	rootCmd.PersistentFlags().String("log-file", "", "Also write logs to this rotating file (default $LOG_FILE)")
	rootCmd.PersistentFlags().Bool("log-caller", false, "Include file:line of the log call site")
}

func initConfig() {
	// .env file is optional, don't fail if not found
	_ = godotenv.Load()
}

// setupLogging applies the logging flags on top of LOG_LEVEL and LOG_FILE.
func setupLogging(cmd *cobra.Command, args []string) error {
	opts := config.Load().Log
	if level := mustGetString(cmd, "log-level"); level != "" {
		opts.Level = level
	}
	if file := mustGetString(cmd, "log-file"); file != "" {
		opts.File = file
	}
	return logging.Setup(logging.Options{
		Level:  opts.Level,
		File:   opts.File,
		Caller: mustGetBool(cmd, "log-caller"),
	})
}
