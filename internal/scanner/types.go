package scanner

import (
	"errors"
	"fmt"
	"time"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// State is the lifecycle state of the orchestrator.
type State string

const (
	StateIdle      State = "idle"
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether the scan has finished one way or another.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

var (
	ErrScanRunning  = errors.New("a scan is already running")
	ErrInvalidState = errors.New("operation not allowed in the current scan state")
	ErrEmptyProfile = errors.New("target profile has no embeddings for the selected model")
)

// Settings are the user-tunable parameters of one scan.
type Settings struct {
	Threshold        float64       `json:"threshold"`
	ProcessDelay     time.Duration `json:"process_delay"`
	RecognitionModel string        `json:"recognition_model"`
}

// SettingsFromConfig copies the scan section of the application config.
func SettingsFromConfig(cfg config.ScanConfig) Settings {
	return Settings{
		Threshold:        cfg.Threshold,
		ProcessDelay:     cfg.ProcessDelay,
		RecognitionModel: cfg.RecognitionModel,
	}
}

// Validate checks value ranges. The model id is checked against the analyzer at start.
func (s Settings) Validate() error {
	if s.Threshold < 0 || s.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %v", s.Threshold)
	}
	if s.ProcessDelay < 0 {
		return fmt.Errorf("process delay must not be negative, got %v", s.ProcessDelay)
	}
	return nil
}

// Photo is one item of the scan input.
type Photo struct {
	Ref   string `json:"ref"`
	Label string `json:"label,omitempty"`
}

// PhotosFromPaths wraps plain references.
func PhotosFromPaths(paths []string) []Photo {
	photos := make([]Photo, len(paths))
	for i, p := range paths {
		photos[i] = Photo{Ref: p}
	}
	return photos
}

// CandidateResult is the per-photo scan outcome. Failed items are processed
// non-matches with zero scores and the failure in Error.
type CandidateResult struct {
	PhotoRef        string             `json:"photo_ref"`
	Label           string             `json:"label,omitempty"`
	Processed       bool               `json:"processed"`
	HasMatch        bool               `json:"has_match"`
	SimilarityScore float64            `json:"similarity_score"`
	QualityScore    float64            `json:"quality_score"`
	Threshold       float64            `json:"threshold,omitempty"`
	Box             *facematch.FaceBox `json:"box,omitempty"`
	Error           string             `json:"error,omitempty"`

	Embedding facematch.Embedding `json:"-"`
}

// Stats are the running counters of a scan.
type Stats struct {
	Total        int        `json:"total"`
	Processed    int        `json:"processed"`
	MatchesFound int        `json:"matches_found"`
	Failed       int        `json:"failed"`
	CurrentItem  string     `json:"current_item,omitempty"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
}

// Progress returns the processed percentage (0-100).
func (s Stats) Progress() int {
	if s.Total == 0 {
		return 0
	}
	return s.Processed * 100 / s.Total
}
