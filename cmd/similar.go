package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/inference"
)

var similarCmd = &cobra.Command{
	Use:   "similar IMAGE",
	Short: "Find stored candidate faces similar to the face in an image",
	Long: `Find faces from saved scans that look like the best face in IMAGE.

Only scans stored with 'scan --save' are searched, and only faces embedded with
the active recognition model. Lower distance values indicate more similar faces.

Requires DATABASE_URL.

Examples:
  face-finder similar portrait.jpg
  face-finder similar portrait.jpg --limit 50 --json`,
	Args: cobra.ExactArgs(1),
	RunE: runSimilar,
}

func init() {
	rootCmd.AddCommand(similarCmd)

	addModelFlag(similarCmd)
	similarCmd.Flags().Int("limit", constants.DefaultSimilarLimit, "Maximum number of results")
	similarCmd.Flags().Float64("min-similarity", 0, "Hide results below this cosine similarity")
	similarCmd.Flags().Bool("json", false, "Output as JSON")
}

// SimilarFace is one nearest stored face.
type SimilarFace struct {
	ScanID     string    `json:"scan_id"`
	ResultID   int64     `json:"result_id"`
	PhotoRef   string    `json:"photo_ref"`
	Distance   float64   `json:"distance"`
	Similarity float64   `json:"similarity"` // 1 - distance
	BBox       []float64 `json:"bbox,omitempty"`
}

func runSimilar(cmd *cobra.Command, args []string) error {
	limit := mustGetInt(cmd, "limit")
	minSimilarity := mustGetFloat64(cmd, "min-similarity")
	jsonOutput := mustGetBool(cmd, "json")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", limit)
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	scans, err := connectDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDatabase()

	pipeline, cleanup, err := openPipeline(cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	img, err := inference.FileSource{}.Load(ctx, args[0])
	if err != nil {
		return err
	}
	analysis, err := pipeline.Analyze(ctx, img)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], err)
	}

	neighbors, err := scans.FindSimilar(ctx, pipeline.Model(), analysis.Embedding, limit)
	if err != nil {
		return fmt.Errorf("searching similar faces: %w", err)
	}
	faces := similarFaces(neighbors, minSimilarity)

	if jsonOutput {
		return json.NewEncoder(os.Stdout).Encode(faces)
	}
	if len(faces) == 0 {
		fmt.Println("No similar faces found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PHOTO\tDISTANCE\tSIMILARITY\tSCAN")
	fmt.Fprintln(w, "-----\t--------\t----------\t----")
	for _, f := range faces {
		fmt.Fprintf(w, "%s\t%.4f\t%.2f%%\t%s\n", f.PhotoRef, f.Distance, f.Similarity*100, f.ScanID)
	}
	return w.Flush()
}

// similarFaces converts index neighbors, dropping those below minSimilarity.
func similarFaces(neighbors []database.Neighbor, minSimilarity float64) []SimilarFace {
	faces := make([]SimilarFace, 0, len(neighbors))
	for _, n := range neighbors {
		if n.Result == nil {
			continue
		}
		similarity := 1 - n.Distance
		if similarity < minSimilarity {
			continue
		}
		faces = append(faces, SimilarFace{
			ScanID:     n.Result.ScanID,
			ResultID:   n.Result.ID,
			PhotoRef:   n.Result.PhotoRef,
			Distance:   n.Distance,
			Similarity: similarity,
			BBox:       n.Result.BBox,
		})
	}
	return faces
}
