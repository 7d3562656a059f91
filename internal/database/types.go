package database

import (
	"time"

	"github.com/kozaktomas/face-finder/internal/facematch"
)

// StoredTarget is a person being searched for, with their reference photos.
type StoredTarget struct {
	ID             string
	Name           string
	NameNormalized string
	CreatedAt      time.Time
	Photos         []StoredTargetPhoto
}

// StoredTargetPhoto is one reference photo and the embedding computed from it.
type StoredTargetPhoto struct {
	ID         string
	TargetID   string
	SourcePath string // where the reference image came from; used to recompute embeddings
	Model      string
	Dim        int
	Embedding  []float32
	Quality    float64
	CreatedAt  time.Time
}

// Profile converts the stored target into the matching profile.
func (t *StoredTarget) Profile() facematch.TargetProfile {
	p := facematch.TargetProfile{ID: t.ID, Name: t.Name}
	for _, photo := range t.Photos {
		if len(photo.Embedding) == 0 {
			continue
		}
		p.Embeddings = append(p.Embeddings, facematch.TargetEmbedding{
			Model:     photo.Model,
			Embedding: facematch.Embedding(photo.Embedding),
		})
	}
	return p
}

// ModelCounts returns the number of reference embeddings per model.
func (t *StoredTarget) ModelCounts() map[string]int {
	counts := make(map[string]int)
	for _, photo := range t.Photos {
		counts[photo.Model]++
	}
	return counts
}

// StoredScan is a persisted scan run.
type StoredScan struct {
	ID         string     `json:"id"`
	TargetID   string     `json:"target_id"`
	TargetName string     `json:"target_name"`
	Model      string     `json:"model"`
	Threshold  float64    `json:"threshold"`
	Status     string     `json:"status"`
	Total      int        `json:"total"`
	Processed  int        `json:"processed"`
	Matches    int        `json:"matches"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// StoredScanResult is a persisted per-photo scan outcome. Embedding is kept for
// processed photos with a face so later lookups can search past scans.
type StoredScanResult struct {
	ID         int64
	ScanID     string
	Index      int
	PhotoRef   string
	Processed  bool
	HasMatch   bool
	Similarity float64
	Quality    float64
	BBox       []float64 // [x1, y1, x2, y2] in source pixels, empty when no face
	Error      string
	Model      string
	Embedding  []float32
}
