package cmd

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/inference"
	"github.com/kozaktomas/face-finder/internal/logging"
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Manage stored target profiles",
	Long: `Manage the people you search for. A target holds reference photos and the
embeddings computed from them, one set per recognition model.

Requires DATABASE_URL.`,
}

var targetAddCmd = &cobra.Command{
	Use:   "add NAME IMAGE...",
	Short: "Add reference images to a target, creating it when needed",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runTargetAdd,
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored targets",
	Args:  cobra.NoArgs,
	RunE:  runTargetList,
}

var targetRemoveCmd = &cobra.Command{
	Use:   "remove NAME|ID",
	Short: "Delete a target and its reference photos",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetRemove,
}

var targetRemovePhotoCmd = &cobra.Command{
	Use:   "remove-photo PHOTO_ID",
	Short: "Delete a single reference photo",
	Args:  cobra.ExactArgs(1),
	RunE:  runTargetRemovePhoto,
}

var targetRebuildCmd = &cobra.Command{
	Use:   "rebuild NAME|ID",
	Short: "Recompute reference embeddings for the active model",
	Long: `Recompute the reference embeddings of a target with the active recognition
model. Embeddings of different models are not comparable, so after switching
models every target must be rebuilt from its stored source images.

Photos that already have an embedding for the model are skipped unless --force is set.`,
	Args: cobra.ExactArgs(1),
	RunE: runTargetRebuild,
}

func init() {
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetAddCmd, targetListCmd, targetRemoveCmd, targetRemovePhotoCmd, targetRebuildCmd)

	addModelFlag(targetAddCmd)
	addModelFlag(targetRebuildCmd)
	targetRebuildCmd.Flags().Bool("force", false, "Recompute embeddings that already use the active model")
	targetListCmd.Flags().Bool("photos", false, "Also list reference photos")
}

// targetWriter connects to the database and returns the target repository.
func targetWriter(cmd *cobra.Command) (context.Context, *config.Config, database.TargetWriter, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}
	ctx := cmd.Context()
	if _, err := connectDatabase(ctx, cfg); err != nil {
		return nil, nil, nil, err
	}
	writer, err := database.GetTargetWriter(ctx)
	if err != nil {
		closeDatabase()
		return nil, nil, nil, err
	}
	return ctx, cfg, writer, nil
}

func runTargetAdd(cmd *cobra.Command, args []string) error {
	name, images := args[0], args[1:]

	ctx, cfg, targets, err := targetWriter(cmd)
	if err != nil {
		return err
	}
	defer closeDatabase()

	pipeline, cleanup, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	target, err := targets.FindTargetByName(ctx, name)
	if err != nil {
		return err
	}
	if target == nil {
		if target, err = targets.CreateTarget(ctx, name); err != nil {
			return fmt.Errorf("creating target: %w", err)
		}
		fmt.Printf("Created target %s (%s)\n", target.Name, target.ID)
	}

	source := inference.FileSource{}
	added := 0
	for _, path := range images {
		abs, err := filepath.Abs(path)
		if err != nil {
			return err
		}
		img, err := source.Load(ctx, abs)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", path, err)
			continue
		}
		emb, quality, err := pipeline.ComputeTargetEmbedding(ctx, img)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Skipping %s: %v\n", path, err)
			continue
		}
		photo := &database.StoredTargetPhoto{
			TargetID:   target.ID,
			SourcePath: abs,
			Model:      emb.Model,
			Embedding:  emb.Embedding,
			Quality:    quality,
		}
		if err := targets.AddTargetPhoto(ctx, photo); err != nil {
			return fmt.Errorf("storing %s: %w", path, err)
		}
		added++
		fmt.Printf("Added %s (quality %.2f, photo %s)\n", path, quality, photo.ID)
	}

	if added == 0 {
		return errors.New("no reference photo could be added")
	}
	fmt.Printf("Target %s now has %d new reference photos for %s\n", target.Name, added, pipeline.Model())
	return nil
}

func runTargetList(cmd *cobra.Command, args []string) error {
	ctx, _, targets, err := targetWriter(cmd)
	if err != nil {
		return err
	}
	defer closeDatabase()

	list, err := targets.ListTargets(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No targets stored")
		return nil
	}

	showPhotos := mustGetBool(cmd, "photos")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHOTOS\tMODELS")
	fmt.Fprintln(w, "--\t----\t------\t------")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", t.ID, t.Name, len(t.Photos), formatModelCounts(t.ModelCounts()))
		if !showPhotos {
			continue
		}
		for _, p := range t.Photos {
			fmt.Fprintf(w, "  %s\t%s\t%s\tq=%.2f\n", p.ID, p.SourcePath, p.Model, p.Quality)
		}
	}
	return w.Flush()
}

func runTargetRemove(cmd *cobra.Command, args []string) error {
	ctx, _, targets, err := targetWriter(cmd)
	if err != nil {
		return err
	}
	defer closeDatabase()

	target, err := database.ResolveTarget(ctx, targets, args[0])
	if err != nil {
		return err
	}
	if err := targets.DeleteTarget(ctx, target.ID); err != nil {
		return err
	}
	fmt.Printf("Removed target %s with %d reference photos\n", target.Name, len(target.Photos))
	return nil
}

func runTargetRemovePhoto(cmd *cobra.Command, args []string) error {
	ctx, _, targets, err := targetWriter(cmd)
	if err != nil {
		return err
	}
	defer closeDatabase()

	if err := targets.DeleteTargetPhoto(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Removed reference photo %s\n", args[0])
	return nil
}

func runTargetRebuild(cmd *cobra.Command, args []string) error {
	ctx, cfg, targets, err := targetWriter(cmd)
	if err != nil {
		return err
	}
	defer closeDatabase()

	target, err := database.ResolveTarget(ctx, targets, args[0])
	if err != nil {
		return err
	}

	pipeline, cleanup, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := rebuildTarget(ctx, pipeline, inference.FileSource{}, targets, target, mustGetBool(cmd, "force"))
	if err != nil {
		return err
	}
	fmt.Printf("Rebuilt %d of %d reference photos of %s for %s\n", n, len(target.Photos), target.Name, pipeline.Model())
	return nil
}

// referenceEmbedder computes reference embeddings for one model.
type referenceEmbedder interface {
	Model() string
	ComputeTargetEmbedding(ctx context.Context, img image.Image) (facematch.TargetEmbedding, float64, error)
}

// rebuildTarget recomputes the embeddings of target's photos from their source images.
// Photos whose source can no longer be read or has no face are kept unchanged.
func rebuildTarget(
	ctx context.Context, embedder referenceEmbedder, source inference.ImageSource,
	targets database.TargetWriter, target *database.StoredTarget, force bool,
) (int, error) {
	log := logging.Logger()
	rebuilt := 0
	for _, photo := range target.Photos {
		if photo.Model == embedder.Model() && !force {
			continue
		}
		entry := log.WithFields(logging.Fields{"photo": photo.ID, "source": photo.SourcePath})
		if photo.SourcePath == "" {
			entry.Warn("reference photo has no source path, skipped")
			continue
		}
		img, err := source.Load(ctx, photo.SourcePath)
		if err != nil {
			entry.WithError(err).Warn("reference photo skipped")
			continue
		}
		emb, quality, err := embedder.ComputeTargetEmbedding(ctx, img)
		if err != nil {
			entry.WithError(err).Warn("reference photo skipped")
			continue
		}
		if err := targets.UpdateTargetPhotoEmbedding(ctx, photo.ID, emb.Model, emb.Embedding, quality); err != nil {
			return rebuilt, fmt.Errorf("updating photo %s: %w", photo.ID, err)
		}
		rebuilt++
	}
	return rebuilt, nil
}

func formatModelCounts(counts map[string]int) string {
	if len(counts) == 0 {
		return "-"
	}
	models := make([]string, 0, len(counts))
	for m := range counts {
		models = append(models, m)
	}
	sort.Strings(models)
	parts := make([]string, len(models))
	for i, m := range models {
		parts[i] = fmt.Sprintf("%s:%d", m, counts[m])
	}
	return strings.Join(parts, ", ")
}
