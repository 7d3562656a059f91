package scanner

import (
	"time"

	"github.com/kozaktomas/face-finder/internal/database"
)

// Export converts the current or last scan into its stored form.
// Embeddings are kept only for photos where a face was analyzed.
func (o *Orchestrator) Export(scanID string) (*database.StoredScan, []database.StoredScanResult) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	scan := &database.StoredScan{
		ID:         scanID,
		TargetID:   o.target.ID,
		TargetName: o.target.Name,
		Model:      o.settings.RecognitionModel,
		Threshold:  o.settings.Threshold,
		Status:     string(o.state),
		Total:      o.stats.Total,
		Processed:  o.stats.Processed,
		Matches:    o.stats.MatchesFound,
		FinishedAt: o.stats.FinishedAt,
	}
	if o.stats.StartedAt != nil {
		scan.StartedAt = *o.stats.StartedAt
	} else {
		scan.StartedAt = time.Now()
	}

	results := make([]database.StoredScanResult, 0, len(o.results))
	for i, r := range o.results {
		stored := database.StoredScanResult{
			ScanID:     scanID,
			Index:      i,
			PhotoRef:   r.PhotoRef,
			Processed:  r.Processed,
			HasMatch:   r.HasMatch,
			Similarity: r.SimilarityScore,
			Quality:    r.QualityScore,
			Error:      r.Error,
		}
		if r.Box != nil {
			stored.BBox = r.Box.Corners()
		}
		if len(r.Embedding) > 0 {
			stored.Model = o.settings.RecognitionModel
			stored.Embedding = append([]float32(nil), r.Embedding...)
		}
		results = append(results, stored)
	}
	return scan, results
}
