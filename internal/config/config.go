package config

import (
	_ "embed"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed models.yaml
var modelsYAML []byte

// Recognition model identifiers.
const (
	ModelMobileFaceNet = "MOBILE_FACE_NET"
	ModelFaceNet       = "FACENET"
)

type Config struct {
	Scan      ScanConfig
	Inference InferenceConfig
	Database  DatabaseConfig
	Web       WebConfig
	Log       LogConfig
	Models    ModelCatalog
}

// ScanConfig holds the user-tunable scan settings.
type ScanConfig struct {
	Threshold        float64       // base similarity threshold (default 0.60)
	ProcessDelay     time.Duration // pause before each photo (default 0)
	RecognitionModel string        // MOBILE_FACE_NET or FACENET
	ScoreThreshold   float64       // detector confidence floor (default 0.70)
	SharpenAmount    float64       // small-face sharpening blend (default 0.5, 0 disables)
}

type InferenceConfig struct {
	ModelsDir   string // directory holding the .onnx files (default ./models)
	LibraryPath string // path to the onnxruntime shared library (optional)
	Threads     int    // intra-op threads per session (default 1)
}

type DatabaseConfig struct {
	URL           string // PostgreSQL connection URL
	MaxOpenConns  int    // Maximum open connections (default 25)
	MaxIdleConns  int    // Maximum idle connections (default 5)
	HNSWIndexPath string // Path to persist the candidate face HNSW index (optional)
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins string
}

type LogConfig struct {
	Level string // debug, info, warn, error (default info)
	File  string // optional rotating log file
}

// ModelCatalog lists the detector and the selectable recognizers.
type ModelCatalog struct {
	Detector    ModelSpec            `yaml:"detector"`
	Recognizers map[string]ModelSpec `yaml:"recognizers"`
}

// ModelSpec describes one model file and how to feed it.
type ModelSpec struct {
	ID               string  `yaml:"id"`
	File             string  `yaml:"file"`
	SourceURL        string  `yaml:"source_url"`
	InputSize        int     `yaml:"input_size"` // hint, the declared shape wins
	OutputDim        int     `yaml:"output_dim"` // hint, the declared shape wins
	Layout           string  `yaml:"layout"`     // nhwc or nchw
	Mean             float32 `yaml:"mean"`
	Std              float32 `yaml:"std"`
	RegressionOutput string  `yaml:"regression_output"`
	ScoreOutput      string  `yaml:"score_output"`
	ScoreActivation  string  `yaml:"score_activation"` // sigmoid or none
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envNonNegInt is envInt that also accepts zero.
func envNonNegInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in [0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// LoadCatalog parses the embedded model catalog.
func LoadCatalog() ModelCatalog {
	var catalog ModelCatalog
	if err := yaml.Unmarshal(modelsYAML, &catalog); err != nil {
		// embedded file, can only fail on a broken build
		panic("failed to unmarshal embedded models.yaml: " + err.Error())
	}
	for id, spec := range catalog.Recognizers {
		spec.ID = id
		catalog.Recognizers[id] = spec
	}
	return catalog
}

func Load() *Config {
	return &Config{
		Scan: ScanConfig{
			Threshold:        envFloat("FACE_THRESHOLD", 0.60),
			ProcessDelay:     time.Duration(envNonNegInt("FACE_PROCESS_DELAY_MS", 0)) * time.Millisecond,
			RecognitionModel: envString("FACE_RECOGNITION_MODEL", ModelMobileFaceNet),
			ScoreThreshold:   envFloat("FACE_SCORE_THRESHOLD", 0.70),
			SharpenAmount:    envFloat("FACE_SHARPEN_AMOUNT", 0.5),
		},
		Inference: InferenceConfig{
			ModelsDir:   envString("MODELS_DIR", "./models"),
			LibraryPath: os.Getenv("ONNXRUNTIME_LIB"),
			Threads:     envInt("ONNX_THREADS", 1),
		},
		Database: DatabaseConfig{
			URL:           os.Getenv("DATABASE_URL"),
			MaxOpenConns:  envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  envInt("DATABASE_MAX_IDLE_CONNS", 5),
			HNSWIndexPath: os.Getenv("HNSW_INDEX_PATH"),
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8085),
			AllowedOrigins: os.Getenv("WEB_ALLOWED_ORIGINS"),
		},
		Log: LogConfig{
			Level: envString("LOG_LEVEL", "info"),
			File:  os.Getenv("LOG_FILE"),
		},
		Models: LoadCatalog(),
	}
}

// Validate checks the scan settings against the catalog.
func (s ScanConfig) Validate(catalog ModelCatalog) error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", s.Threshold)
	}
	if s.ProcessDelay < 0 {
		return fmt.Errorf("process delay must not be negative, got %v", s.ProcessDelay)
	}
	if _, ok := catalog.Recognizers[s.RecognitionModel]; !ok {
		return fmt.Errorf("unknown recognition model %q (available: %v)", s.RecognitionModel, catalog.RecognizerIDs())
	}
	return nil
}

// Recognizer returns the spec of a recognition model.
func (c ModelCatalog) Recognizer(id string) (ModelSpec, error) {
	spec, ok := c.Recognizers[id]
	if !ok {
		return ModelSpec{}, fmt.Errorf("unknown recognition model %q (available: %v)", id, c.RecognizerIDs())
	}
	return spec, nil
}

// RecognizerIDs returns the recognizer identifiers in sorted order.
func (c ModelCatalog) RecognizerIDs() []string {
	ids := make([]string, 0, len(c.Recognizers))
	for id := range c.Recognizers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Path resolves the model file inside dir.
func (m ModelSpec) Path(dir string) string {
	if filepath.IsAbs(m.File) {
		return m.File
	}
	return filepath.Join(dir, m.File)
}

// NCHW reports whether the model expects channels-first input.
func (m ModelSpec) NCHW() bool {
	return m.Layout == "nchw"
}
