package inference

import (
	"context"
	"fmt"
	"image"

	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/logging"
)

// Options tune the post-processing stages of a Pipeline.
type Options struct {
	ScoreThreshold float64 // detector confidence floor, default 0.70
	SharpenAmount  *float64 // small-face sharpening blend, default 0.5; zero or less disables sharpening
	Logger         logrus.FieldLogger
}

// Pipeline binds an engine to the anchor grid generated for its detector.
// Swapping models means building a new Pipeline; nothing is shared globally.
type Pipeline struct {
	engine     Engine
	grid       *facematch.AnchorGrid
	detector   ModelInfo
	recognizer ModelInfo
	opts       Options
	sharpen    float64
	log        logrus.FieldLogger
}

// NewPipeline validates the engine's declared shapes and prepares the anchor grid.
// A mismatch between anchors and detector rows is a *facematch.ConfigurationError.
func NewPipeline(engine Engine, opts Options) (*Pipeline, error) {
	det := engine.Detector()
	rec := engine.Recognizer()

	if det.InputSize <= 0 {
		return nil, &facematch.ConfigurationError{Component: "detector", Reason: fmt.Sprintf("invalid input size %d", det.InputSize)}
	}
	grid := facematch.NewAnchorGrid(det.InputSize)
	if err := grid.Validate(det.OutputRows); err != nil {
		return nil, err
	}
	if rec.InputSize <= 0 || rec.OutputDim <= 0 {
		return nil, &facematch.ConfigurationError{Component: "recognizer", Reason: fmt.Sprintf("invalid input size %d or output dim %d", rec.InputSize, rec.OutputDim)}
	}

	if opts.ScoreThreshold == 0 {
		opts.ScoreThreshold = facematch.DefaultScoreThreshold
	}
	sharpen := facematch.DefaultSharpenAmount
	if opts.SharpenAmount != nil {
		sharpen = *opts.SharpenAmount
	}
	log := opts.Logger
	if log == nil {
		log = logging.Logger()
	}

	return &Pipeline{
		engine:     engine,
		grid:       grid,
		detector:   det,
		recognizer: rec,
		opts:       opts,
		sharpen:    sharpen,
		log:        log,
	}, nil
}

// Model returns the recognition model identifier embeddings are produced with.
func (p *Pipeline) Model() string {
	return p.recognizer.ID
}

// Detector returns the loaded detector description.
func (p *Pipeline) Detector() ModelInfo {
	return p.detector
}

// Recognizer returns the loaded recognizer description.
func (p *Pipeline) Recognizer() ModelInfo {
	return p.recognizer
}

// DetectFaces runs the detector and decodes every face above the score threshold.
func (p *Pipeline) DetectFaces(ctx context.Context, img image.Image) ([]facematch.Detection, error) {
	out, err := p.engine.Detect(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("%w: detector: %w", facematch.ErrInferenceFailure, err)
	}
	b := img.Bounds()
	return facematch.Decode(out.Regressions, out.Scores, p.grid, b.Dx(), b.Dy(), facematch.DecodeOptions{
		InputSize:      p.detector.InputSize,
		ScoreThreshold: p.opts.ScoreThreshold,
	})
}

// Analyze detects the best face in img, aligns it, sharpens small faces and
// returns its normalized embedding along with the face quality.
func (p *Pipeline) Analyze(ctx context.Context, img image.Image) (*facematch.FaceAnalysis, error) {
	detections, err := p.DetectFaces(ctx, img)
	if err != nil {
		return nil, err
	}
	best, ok := facematch.SelectBest(detections)
	if !ok {
		return nil, facematch.ErrNoFaceDetected
	}

	minDim := best.Box.MinDimension()
	if !facematch.PassesSizeFloor(minDim) {
		return nil, fmt.Errorf("%w: face is %.0fpx, minimum is %dpx", facematch.ErrNoFaceDetected, minDim, facematch.MinFaceSize)
	}
	quality := facematch.QualityScore(minDim, best.Score)

	aligned, tr, err := facematch.Align(img, best.Landmarks, p.recognizer.InputSize)
	if err != nil {
		return nil, err
	}
	if tr.Degenerate {
		p.log.WithFields(logrus.Fields{"box": best.Box}).Debug("eye landmarks coincide, aligning at unit scale")
	}

	var face image.Image = aligned.Image
	sharpened := p.sharpen > 0 && facematch.NeedsSharpening(minDim)
	if sharpened {
		face = facematch.Sharpen(aligned.Image, p.sharpen)
	}

	raw, err := p.engine.Embed(ctx, face)
	if err != nil {
		return nil, fmt.Errorf("%w: recognizer: %w", facematch.ErrInferenceFailure, err)
	}
	if len(raw) != p.recognizer.OutputDim {
		return nil, fmt.Errorf("%w: recognizer returned %d values, declared %d", facematch.ErrDimensionMismatch, len(raw), p.recognizer.OutputDim)
	}
	emb, err := facematch.Normalize(raw)
	if err != nil {
		return nil, err
	}

	return &facematch.FaceAnalysis{
		Detection: best,
		Embedding: emb,
		Quality:   quality,
		Sharpened: sharpened,
	}, nil
}

// ComputeTargetEmbedding turns a reference photo of the target into an embedding
// tagged with the model that produced it. Uses the same path as scanning.
func (p *Pipeline) ComputeTargetEmbedding(ctx context.Context, img image.Image) (facematch.TargetEmbedding, float64, error) {
	analysis, err := p.Analyze(ctx, img)
	if err != nil {
		return facematch.TargetEmbedding{}, 0, fmt.Errorf("reference photo: %w", err)
	}
	return facematch.TargetEmbedding{Model: p.Model(), Embedding: analysis.Embedding}, analysis.Quality, nil
}

// PhotoAnalyzer resolves photo references through an ImageSource before analysis.
type PhotoAnalyzer struct {
	Pipeline *Pipeline
	Source   ImageSource
}

// AnalyzePhoto loads ref and analyzes it.
func (a *PhotoAnalyzer) AnalyzePhoto(ctx context.Context, ref string) (*facematch.FaceAnalysis, error) {
	img, err := a.Source.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	return a.Pipeline.Analyze(ctx, img)
}

// Model returns the recognition model of the underlying pipeline.
func (a *PhotoAnalyzer) Model() string {
	return a.Pipeline.Model()
}
