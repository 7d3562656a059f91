// Package inference runs the face models and turns an image into a FaceAnalysis.
//
// The Engine interface is the boundary to the model runtime: it accepts images and
// returns raw tensors. Everything after the tensors is done by the facematch package.
package inference

import (
	"context"
	"image"
)

// ModelInfo describes a loaded model as declared by the model file itself.
type ModelInfo struct {
	ID         string `json:"id"`
	InputSize  int    `json:"input_size"`
	BatchSize  int    `json:"batch_size"`
	OutputRows int    `json:"output_rows,omitempty"` // detector: rows per output (one per anchor)
	OutputDim  int    `json:"output_dim,omitempty"`  // recognizer: embedding length
}

// DetectorOutput holds the two detector outputs, bound by name rather than position.
// Regressions has 16 values per anchor, Scores one probability per anchor.
type DetectorOutput struct {
	Regressions []float32
	Scores      []float32
}

// Engine runs the detector and recognizer. Implementations are not required to be
// reentrant; the pipeline never calls them concurrently.
type Engine interface {
	Detector() ModelInfo
	Recognizer() ModelInfo
	Detect(ctx context.Context, img image.Image) (*DetectorOutput, error)
	Embed(ctx context.Context, face image.Image) ([]float32, error)
	Close() error
}
