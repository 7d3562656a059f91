package inference

import (
	"context"
	"fmt"
	"image"
	"slices"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// InitRuntime loads the onnxruntime shared library. Safe to call more than once.
func InitRuntime(libraryPath string) error {
	if ort.IsInitialized() {
		return nil
	}
	if libraryPath != "" {
		ort.SetSharedLibraryPath(libraryPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// DestroyRuntime releases the onnxruntime environment.
func DestroyRuntime() error {
	if !ort.IsInitialized() {
		return nil
	}
	return ort.DestroyEnvironment()
}

// TensorInfo is a declared model input or output.
type TensorInfo struct {
	Name       string  `json:"name"`
	Dimensions []int64 `json:"dimensions"`
}

// InspectModel reads the declared inputs and outputs of a model file.
func InspectModel(path string) (inputs, outputs []TensorInfo, err error) {
	in, out, err := ort.GetInputOutputInfo(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read model info %s: %w", path, err)
	}
	for _, i := range in {
		inputs = append(inputs, TensorInfo{Name: i.Name, Dimensions: i.Dimensions})
	}
	for _, o := range out {
		outputs = append(outputs, TensorInfo{Name: o.Name, Dimensions: o.Dimensions})
	}
	return inputs, outputs, nil
}

type modelSession struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	outputs []*ort.Tensor[float32]
}

func newModelSession(path string, threads int, input TensorInfo, outputs []TensorInfo) (*modelSession, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("error creating session options: %w", err)
	}
	defer options.Destroy()

	if threads > 0 {
		if err := options.SetIntraOpNumThreads(threads); err != nil {
			return nil, fmt.Errorf("error setting intra-op threads: %w", err)
		}
	}

	m := &modelSession{}
	m.input, err = ort.NewEmptyTensor[float32](ort.NewShape(input.Dimensions...))
	if err != nil {
		return nil, fmt.Errorf("error creating input tensor: %w", err)
	}

	outputNames := make([]string, len(outputs))
	outputValues := make([]ort.ArbitraryTensor, len(outputs))
	for i, o := range outputs {
		t, err := ort.NewEmptyTensor[float32](ort.NewShape(o.Dimensions...))
		if err != nil {
			m.Destroy()
			return nil, fmt.Errorf("error creating output tensor %s: %w", o.Name, err)
		}
		m.outputs = append(m.outputs, t)
		outputNames[i] = o.Name
		outputValues[i] = t
	}

	m.session, err = ort.NewAdvancedSession(
		path,
		[]string{input.Name},
		outputNames,
		[]ort.ArbitraryTensor{m.input},
		outputValues,
		options,
	)
	if err != nil {
		m.Destroy()
		return nil, fmt.Errorf("error creating session: %w", err)
	}
	return m, nil
}

func (m *modelSession) Destroy() {
	if m.session != nil {
		m.session.Destroy()
	}
	if m.input != nil {
		m.input.Destroy()
	}
	for _, o := range m.outputs {
		o.Destroy()
	}
}

// ONNXEngine runs the detector and one recognizer through onnxruntime.
// Tensors are allocated once from the shapes the model files declare.
type ONNXEngine struct {
	mu sync.Mutex

	detector   *modelSession
	recognizer *modelSession

	detectorInfo   ModelInfo
	recognizerInfo ModelInfo
	detectorFmt    TensorFormat
	recognizerFmt  TensorFormat
	sigmoidScores  bool
}

// Open initializes the runtime and loads the detector plus the given recognizer from the catalog.
func Open(cfg *config.Config, recognizerID string) (*ONNXEngine, error) {
	recognizer, err := cfg.Models.Recognizer(recognizerID)
	if err != nil {
		return nil, err
	}
	if err := InitRuntime(cfg.Inference.LibraryPath); err != nil {
		return nil, err
	}
	return NewONNXEngine(cfg.Inference, cfg.Models.Detector, recognizer)
}

// NewONNXEngine loads both models. The runtime must already be initialized.
func NewONNXEngine(cfg config.InferenceConfig, detector, recognizer config.ModelSpec) (*ONNXEngine, error) {
	e := &ONNXEngine{sigmoidScores: detector.ScoreActivation == "sigmoid"}

	if err := e.loadDetector(cfg, detector); err != nil {
		return nil, err
	}
	if err := e.loadRecognizer(cfg, recognizer); err != nil {
		e.detector.Destroy()
		return nil, err
	}
	return e, nil
}

func (e *ONNXEngine) loadDetector(cfg config.InferenceConfig, spec config.ModelSpec) error {
	path := spec.Path(cfg.ModelsDir)
	inputs, outputs, err := InspectModel(path)
	if err != nil {
		return err
	}
	if len(inputs) != 1 {
		return &facematch.ConfigurationError{Component: "detector", Reason: fmt.Sprintf("expected 1 input, model declares %d", len(inputs))}
	}
	if spec.RegressionOutput == "" || spec.ScoreOutput == "" {
		return &facematch.ConfigurationError{Component: "detector", Reason: "regression and score outputs must be named in the catalog"}
	}

	input, size, batch, err := resolveImageInput(inputs[0], spec)
	if err != nil {
		return err
	}
	regression, err := findOutput(outputs, spec.RegressionOutput)
	if err != nil {
		return err
	}
	score, err := findOutput(outputs, spec.ScoreOutput)
	if err != nil {
		return err
	}
	if len(regression.Dimensions) < 2 {
		return &facematch.ConfigurationError{Component: "detector", Reason: fmt.Sprintf("regression output %v has no row dimension", regression.Dimensions)}
	}
	rows := int(regression.Dimensions[1])
	if got := volume(regression.Dimensions); got != int64(batch*rows*facematch.RegressionStride) {
		return &facematch.ConfigurationError{Component: "detector", Reason: fmt.Sprintf("regression output %v is not %d rows of %d", regression.Dimensions, rows, facematch.RegressionStride)}
	}
	if got := volume(score.Dimensions); got != int64(batch*rows) {
		return &facematch.ConfigurationError{Component: "detector", Reason: fmt.Sprintf("score output %v does not match %d rows", score.Dimensions, rows)}
	}

	e.detector, err = newModelSession(path, cfg.Threads, input, []TensorInfo{regression, score})
	if err != nil {
		return fmt.Errorf("load detector %s: %w", path, err)
	}
	e.detectorInfo = ModelInfo{ID: spec.ID, InputSize: size, BatchSize: batch, OutputRows: rows}
	e.detectorFmt = TensorFormat{Size: size, NCHW: spec.NCHW(), Mean: spec.Mean, Std: spec.Std}
	return nil
}

func (e *ONNXEngine) loadRecognizer(cfg config.InferenceConfig, spec config.ModelSpec) error {
	path := spec.Path(cfg.ModelsDir)
	inputs, outputs, err := InspectModel(path)
	if err != nil {
		return err
	}
	if len(inputs) != 1 || len(outputs) == 0 {
		return &facematch.ConfigurationError{Component: "recognizer", Reason: fmt.Sprintf("expected 1 input and an output, model declares %d/%d", len(inputs), len(outputs))}
	}

	input, size, batch, err := resolveImageInput(inputs[0], spec)
	if err != nil {
		return err
	}
	output := TensorInfo{Name: outputs[0].Name, Dimensions: concrete(outputs[0].Dimensions, int64(batch))}
	if len(output.Dimensions) == 0 {
		return &facematch.ConfigurationError{Component: "recognizer", Reason: "output has no dimensions"}
	}
	dim := int(output.Dimensions[len(output.Dimensions)-1])
	if int64(batch*dim) != volume(output.Dimensions) {
		return &facematch.ConfigurationError{Component: "recognizer", Reason: fmt.Sprintf("output %v is not %d embeddings", output.Dimensions, batch)}
	}

	e.recognizer, err = newModelSession(path, cfg.Threads, input, []TensorInfo{output})
	if err != nil {
		return fmt.Errorf("load recognizer %s: %w", path, err)
	}
	e.recognizerInfo = ModelInfo{ID: spec.ID, InputSize: size, BatchSize: batch, OutputDim: dim}
	e.recognizerFmt = TensorFormat{Size: size, NCHW: spec.NCHW(), Mean: spec.Mean, Std: spec.Std}
	return nil
}

func (e *ONNXEngine) Detector() ModelInfo   { return e.detectorInfo }
func (e *ONNXEngine) Recognizer() ModelInfo { return e.recognizerInfo }

// Detect runs the detector on img. A running inference is never interrupted;
// ctx is only checked before starting.
func (e *ONNXEngine) Detect(ctx context.Context, img image.Image) (*DetectorOutput, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := Preprocess(img, e.detectorFmt, e.detector.input.GetData()); err != nil {
		return nil, fmt.Errorf("prepare detector input: %w", err)
	}
	if err := e.detector.session.Run(); err != nil {
		return nil, fmt.Errorf("run detector: %w", err)
	}

	out := &DetectorOutput{
		Regressions: slices.Clone(e.detector.outputs[0].GetData()),
		Scores:      slices.Clone(e.detector.outputs[1].GetData()),
	}
	if e.sigmoidScores {
		Sigmoid(out.Scores)
	}
	return out, nil
}

// Embed runs the recognizer on an aligned face and returns the raw embedding.
// Batched recognizers get the face in every slot; only the first row is returned.
func (e *ONNXEngine) Embed(ctx context.Context, face image.Image) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := Preprocess(face, e.recognizerFmt, e.recognizer.input.GetData()); err != nil {
		return nil, fmt.Errorf("prepare recognizer input: %w", err)
	}
	if err := e.recognizer.session.Run(); err != nil {
		return nil, fmt.Errorf("run recognizer: %w", err)
	}
	return slices.Clone(e.recognizer.outputs[0].GetData()[:e.recognizerInfo.OutputDim]), nil
}

func (e *ONNXEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.detector != nil {
		e.detector.Destroy()
		e.detector = nil
	}
	if e.recognizer != nil {
		e.recognizer.Destroy()
		e.recognizer = nil
	}
	return nil
}

// resolveImageInput fixes dynamic dimensions of an image input and returns the
// concrete shape, the square side and the batch size.
func resolveImageInput(info TensorInfo, spec config.ModelSpec) (TensorInfo, int, int, error) {
	dims := info.Dimensions
	if len(dims) != 4 {
		return TensorInfo{}, 0, 0, &facematch.ConfigurationError{Component: spec.File, Reason: fmt.Sprintf("expected 4-D image input, got %v", dims)}
	}

	hIdx, wIdx, cIdx := 1, 2, 3
	if spec.NCHW() {
		cIdx, hIdx, wIdx = 1, 2, 3
	}

	shape := slices.Clone(dims)
	if shape[0] <= 0 {
		shape[0] = 1
	}
	for _, i := range []int{hIdx, wIdx} {
		if shape[i] <= 0 {
			shape[i] = int64(spec.InputSize)
		}
	}
	if shape[cIdx] <= 0 {
		shape[cIdx] = 3
	}

	if shape[hIdx] != shape[wIdx] || shape[hIdx] <= 0 {
		return TensorInfo{}, 0, 0, &facematch.ConfigurationError{Component: spec.File, Reason: fmt.Sprintf("expected square input, got %v", dims)}
	}
	if shape[cIdx] != 3 {
		return TensorInfo{}, 0, 0, &facematch.ConfigurationError{Component: spec.File, Reason: fmt.Sprintf("expected 3 channels, got %v (layout %s)", dims, spec.Layout)}
	}
	return TensorInfo{Name: info.Name, Dimensions: shape}, int(shape[hIdx]), int(shape[0]), nil
}

func findOutput(outputs []TensorInfo, name string) (TensorInfo, error) {
	for _, o := range outputs {
		if o.Name == name {
			return TensorInfo{Name: o.Name, Dimensions: concrete(o.Dimensions, 1)}, nil
		}
	}
	names := make([]string, len(outputs))
	for i, o := range outputs {
		names[i] = o.Name
	}
	return TensorInfo{}, &facematch.ConfigurationError{Component: "detector", Reason: fmt.Sprintf("output %q not found (model declares %v)", name, names)}
}

// concrete replaces a dynamic leading batch dimension.
func concrete(dims []int64, batch int64) []int64 {
	out := slices.Clone(dims)
	if len(out) > 0 && out[0] <= 0 {
		out[0] = batch
	}
	return out
}

func volume(dims []int64) int64 {
	if len(dims) == 0 {
		return 0
	}
	v := int64(1)
	for _, d := range dims {
		v *= d
	}
	return v
}
