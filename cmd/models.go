package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/inference"
	"github.com/kozaktomas/face-finder/internal/logging"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List the model catalog and the shapes declared by the model files",
	Long: `List the detector and the selectable recognition models.

With onnxruntime available, the declared input and output tensors are read
from each model file in MODELS_DIR. The declared shapes take precedence over
the catalog hints when the models are loaded.`,
	Args: cobra.NoArgs,
	RunE: runModels,
}

func init() {
	rootCmd.AddCommand(modelsCmd)

	modelsCmd.Flags().Bool("no-inspect", false, "Only print the catalog, do not open the model files")
	modelsCmd.Flags().Bool("json", false, "Output as JSON")
}

// ModelOutput describes one catalog entry.
type ModelOutput struct {
	Role      string                 `json:"role"`
	ID        string                 `json:"id"`
	File      string                 `json:"file"`
	InputSize int                    `json:"input_size"`
	OutputDim int                    `json:"output_dim,omitempty"`
	Layout    string                 `json:"layout"`
	Active    bool                   `json:"active"`
	Inputs    []inference.TensorInfo `json:"inputs,omitempty"`
	Outputs   []inference.TensorInfo `json:"outputs,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

func runModels(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	inspect := !mustGetBool(cmd, "no-inspect")

	entries := catalogEntries(cfg)
	if inspect {
		if err := inference.InitRuntime(cfg.Inference.LibraryPath); err != nil {
			logging.Logger().WithError(err).Warn("onnxruntime unavailable, showing catalog only")
			inspect = false
		} else {
			defer inference.DestroyRuntime()
		}
	}
	if inspect {
		for i := range entries {
			inputs, outputs, err := inference.InspectModel(entries[i].File)
			if err != nil {
				entries[i].Error = err.Error()
				continue
			}
			entries[i].Inputs = inputs
			entries[i].Outputs = outputs
		}
	}

	if mustGetBool(cmd, "json") {
		return json.NewEncoder(os.Stdout).Encode(entries)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROLE\tID\tINPUT\tDIM\tLAYOUT\tFILE")
	fmt.Fprintln(w, "----\t--\t-----\t---\t------\t----")
	for _, e := range entries {
		id := e.ID
		if e.Active {
			id += " *"
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%s\n", e.Role, id, e.InputSize, e.OutputDim, e.Layout, e.File)
		for _, t := range e.Inputs {
			fmt.Fprintf(w, "\t  in\t%s\t%s\t\t\n", t.Name, formatDims(t.Dimensions))
		}
		for _, t := range e.Outputs {
			fmt.Fprintf(w, "\t  out\t%s\t%s\t\t\n", t.Name, formatDims(t.Dimensions))
		}
		if e.Error != "" {
			fmt.Fprintf(w, "\t  error\t%s\t\t\t\n", e.Error)
		}
	}
	return w.Flush()
}

// catalogEntries lists the detector first, then the recognizers in id order.
func catalogEntries(cfg *config.Config) []ModelOutput {
	det := cfg.Models.Detector
	entries := []ModelOutput{{
		Role:      "detector",
		ID:        det.ID,
		File:      det.Path(cfg.Inference.ModelsDir),
		InputSize: det.InputSize,
		Layout:    det.Layout,
		Active:    true,
	}}
	for _, id := range cfg.Models.RecognizerIDs() {
		spec := cfg.Models.Recognizers[id]
		entries = append(entries, ModelOutput{
			Role:      "recognizer",
			ID:        id,
			File:      spec.Path(cfg.Inference.ModelsDir),
			InputSize: spec.InputSize,
			OutputDim: spec.OutputDim,
			Layout:    spec.Layout,
			Active:    id == cfg.Scan.RecognitionModel,
		})
	}
	return entries
}

func formatDims(dims []int64) string {
	parts := make([]string, len(dims))
	for i, d := range dims {
		parts[i] = fmt.Sprint(d)
	}
	return "[" + strings.Join(parts, " ") + "]"
}
