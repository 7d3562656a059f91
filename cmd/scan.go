package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/inference"
	"github.com/kozaktomas/face-finder/internal/logging"
	"github.com/kozaktomas/face-finder/internal/scanner"
)

var scanCmd = &cobra.Command{
	Use:   "scan <dir|file>...",
	Short: "Scan photos for a person",
	Long: `Scan photo files and directories for faces matching a target person.

The target is either a stored target (--target, requires DATABASE_URL) or one or
more reference images (--target-image), or both. Each photo is analyzed for its
best face, which is compared against every reference embedding of the active
recognition model. The match threshold is raised for low quality faces.

Examples:
  # Scan a folder using a stored target
  face-finder scan ~/Pictures --target "Jan Novak"

  # Use reference images directly
  face-finder scan ~/Pictures --target-image jan1.jpg --target-image jan2.jpg

  # Stricter threshold, only matches, save face previews
  face-finder scan ~/Pictures --target jan --threshold 0.7 --matches-only --save-crops ./matches

  # Persist the results for later 'similar' lookups
  face-finder scan ~/Pictures --target jan --save`,
	Args: cobra.MinimumNArgs(1),
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)

	addScanFlags(scanCmd)
	scanCmd.Flags().String("target", "", "Stored target name or ID")
	scanCmd.Flags().StringSlice("target-image", nil, "Reference image of the person (can be specified multiple times)")
	scanCmd.Flags().Bool("save", false, "Store the scan and its candidate embeddings in PostgreSQL")
	scanCmd.Flags().String("save-crops", "", "Write a face preview of every match into this directory")
	scanCmd.Flags().Bool("matches-only", false, "Only list matching photos")
	scanCmd.Flags().Bool("json", false, "Output as JSON")
}

// ScanOutput represents the JSON output of a scan.
type ScanOutput struct {
	ScanID   string                    `json:"scan_id,omitempty"`
	Target   string                    `json:"target"`
	State    scanner.State             `json:"state"`
	Settings scanner.Settings          `json:"settings"`
	Stats    scanner.Stats             `json:"stats"`
	Results  []scanner.CandidateResult `json:"results"`
}

func runScan(cmd *cobra.Command, args []string) error {
	targetRef := mustGetString(cmd, "target")
	targetImages := mustGetStringSlice(cmd, "target-image")
	save := mustGetBool(cmd, "save")
	cropsDir := mustGetString(cmd, "save-crops")
	matchesOnly := mustGetBool(cmd, "matches-only")
	jsonOutput := mustGetBool(cmd, "json")

	if targetRef == "" && len(targetImages) == 0 {
		return errors.New("either --target or --target-image is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	paths, err := inference.CollectPhotos(args)
	if err != nil {
		return err
	}
	if len(paths) == 0 {
		return errors.New("no photos found")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var scans database.ScanWriter
	if targetRef != "" || save {
		repo, err := connectDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeDatabase()
		scans = repo
	}

	pipeline, cleanup, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	profile, err := buildProfile(ctx, pipeline, targetRef, targetImages)
	if err != nil {
		return err
	}

	log := logging.Logger()
	source := inference.FileSource{}
	orch := scanner.New(&inference.PhotoAnalyzer{Pipeline: pipeline, Source: source}, scanner.WithLogger(log))
	settings := scanner.SettingsFromConfig(cfg.Scan)

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "Scanning %d photos for %s (model %s, threshold %.2f %s)\n",
			len(paths), profile.Name, settings.RecognitionModel, settings.Threshold,
			facematch.ThresholdLabel(settings.Threshold))
	}

	done := trackProgress(orch, len(paths))
	err = orch.Start(ctx, scanner.PhotosFromPaths(paths), profile, settings)
	done()
	if err != nil {
		return err
	}

	stats := orch.Stats()
	if orch.State() == scanner.StateCancelled {
		fmt.Fprintf(os.Stderr, "Scan cancelled after %d of %d photos\n", stats.Processed, stats.Total)
	}

	// the scan context is cancelled on Ctrl+C, persisting still has to happen
	persistCtx := context.WithoutCancel(ctx)

	var scanID string
	if save {
		scanID = uuid.NewString()
		scan, results := orch.Export(scanID)
		if err := scans.SaveScan(persistCtx, scan, results); err != nil {
			return fmt.Errorf("saving scan: %w", err)
		}
		log.WithFields(logging.Fields{"scan_id": scanID, "results": len(results)}).Info("scan saved")
	}

	results := orch.Results(matchesOnly)
	if cropsDir != "" {
		if err := saveCrops(persistCtx, source, cropsDir, orch.Results(true)); err != nil {
			return err
		}
	}

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(ScanOutput{
			ScanID:   scanID,
			Target:   profile.Name,
			State:    orch.State(),
			Settings: settings,
			Stats:    stats,
			Results:  results,
		})
	}
	printScanResults(results, stats)
	return nil
}

// buildProfile combines the stored target and the reference images into one profile.
func buildProfile(ctx context.Context, pipeline *inference.Pipeline, targetRef string, images []string) (facematch.TargetProfile, error) {
	var profile facematch.TargetProfile
	model := pipeline.Model()

	if targetRef != "" {
		reader, err := database.GetTargetReader(ctx)
		if err != nil {
			return profile, err
		}
		target, err := database.ResolveTarget(ctx, reader, targetRef)
		if err != nil {
			return profile, err
		}
		profile = target.Profile()
		if len(profile.ForModel(model)) == 0 && len(images) == 0 {
			return profile, fmt.Errorf("target %q has no %s embeddings (stored: %v), run 'face-finder target rebuild %s --model %s'",
				target.Name, model, target.ModelCounts(), target.ID, model)
		}
	}

	source := inference.FileSource{}
	for _, path := range images {
		img, err := source.Load(ctx, path)
		if err != nil {
			return profile, err
		}
		emb, quality, err := pipeline.ComputeTargetEmbedding(ctx, img)
		if err != nil {
			return profile, fmt.Errorf("%s: %w", path, err)
		}
		logging.Logger().WithFields(logging.Fields{
			"image":   path,
			"quality": fmt.Sprintf("%.2f", quality),
		}).Debug("reference embedding computed")
		profile.Embeddings = append(profile.Embeddings, emb)
	}

	if profile.Name == "" {
		base := filepath.Base(images[0])
		profile.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}
	return profile, nil
}

// trackProgress drives a progress bar from orchestrator events. Call the returned
// func once the scan has returned.
func trackProgress(orch *scanner.Orchestrator, total int) func() {
	bar := progressbar.NewOptions(total,
		progressbar.OptionSetWriter(os.Stderr),
		progressbar.OptionSetDescription("Scanning"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("photos"),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
	)

	events := orch.AddListener()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for event := range events {
			if event.Type == scanner.EventProgress {
				_ = bar.Add(1)
			}
		}
	}()

	return func() {
		orch.RemoveListener(events)
		<-finished
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
}

// saveCrops writes a face preview for every matched photo.
func saveCrops(ctx context.Context, source inference.ImageSource, dir string, matches []scanner.CandidateResult) error {
	if len(matches) == 0 {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating crops directory: %w", err)
	}

	log := logging.Logger()
	for i, m := range matches {
		if m.Box == nil {
			continue
		}
		img, err := source.Load(ctx, m.PhotoRef)
		if err != nil {
			log.WithError(err).WithField("photo", m.PhotoRef).Warn("crop skipped")
			continue
		}
		crop, err := facematch.CropFace(img, *m.Box, facematch.CropPadding, facematch.CropSize)
		if err != nil {
			log.WithError(err).WithField("photo", m.PhotoRef).Warn("crop skipped")
			continue
		}
		base := strings.TrimSuffix(filepath.Base(m.PhotoRef), filepath.Ext(m.PhotoRef))
		out := filepath.Join(dir, fmt.Sprintf("%03d_%s.jpg", i+1, base))
		if err := imaging.Save(crop, out, imaging.JPEGQuality(90)); err != nil {
			return fmt.Errorf("saving crop %s: %w", out, err)
		}
	}
	return nil
}

func printScanResults(results []scanner.CandidateResult, stats scanner.Stats) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHOTO\tMATCH\tSIMILARITY\tTHRESHOLD\tQUALITY\tERROR")
	fmt.Fprintln(w, "-----\t-----\t----------\t---------\t-------\t-----")
	for _, r := range results {
		match := "no"
		if r.HasMatch {
			match = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f%%\t%.2f\t%.2f\t%s\n",
			r.PhotoRef, match, r.SimilarityScore*100, r.Threshold, r.QualityScore, r.Error)
	}
	w.Flush()

	fmt.Printf("\n%d photos processed, %d matches, %d failed\n", stats.Processed, stats.MatchesFound, stats.Failed)
}
