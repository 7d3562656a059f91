package database

import (
	"context"
)

// TargetReader provides read-only access to target profiles.
type TargetReader interface {
	// GetTarget retrieves a target with its photos by ID, returns nil if not found
	GetTarget(ctx context.Context, id string) (*StoredTarget, error)
	// FindTargetByName looks a target up by normalized name, returns nil if not found
	FindTargetByName(ctx context.Context, name string) (*StoredTarget, error)
	// ListTargets returns all targets with their photos, ordered by name
	ListTargets(ctx context.Context) ([]StoredTarget, error)
}

// TargetWriter provides write access to target profiles.
type TargetWriter interface {
	TargetReader
	// CreateTarget creates an empty target
	CreateTarget(ctx context.Context, name string) (*StoredTarget, error)
	// DeleteTarget removes a target and its photos
	DeleteTarget(ctx context.Context, id string) error
	// AddTargetPhoto stores a reference photo; ID and CreatedAt are filled in
	AddTargetPhoto(ctx context.Context, photo *StoredTargetPhoto) error
	// UpdateTargetPhotoEmbedding replaces the embedding of a reference photo (after a model switch)
	UpdateTargetPhotoEmbedding(ctx context.Context, photoID, model string, embedding []float32, quality float64) error
	// DeleteTargetPhoto removes a single reference photo
	DeleteTargetPhoto(ctx context.Context, photoID string) error
}

// ScanReader provides read-only access to persisted scans.
type ScanReader interface {
	// GetScan retrieves a scan by ID, returns nil if not found
	GetScan(ctx context.Context, id string) (*StoredScan, error)
	// ListScans returns the most recent scans first
	ListScans(ctx context.Context, limit int) ([]StoredScan, error)
	// GetScanResults returns the results of a scan in input order
	GetScanResults(ctx context.Context, scanID string, matchedOnly bool) ([]StoredScanResult, error)
	// GetScanResult retrieves one result by ID, returns nil if not found
	GetScanResult(ctx context.Context, id int64) (*StoredScanResult, error)
	// GetResultsWithEmbeddings returns every stored face embedding produced by model
	GetResultsWithEmbeddings(ctx context.Context, model string) ([]StoredScanResult, error)
	// FindSimilar returns up to limit stored faces of model closest to embedding, closest first
	FindSimilar(ctx context.Context, model string, embedding []float32, limit int) ([]Neighbor, error)
}

// ScanWriter provides write access to persisted scans.
type ScanWriter interface {
	ScanReader
	// SaveScan stores a scan and its results atomically; scan.ID is filled in when empty
	SaveScan(ctx context.Context, scan *StoredScan, results []StoredScanResult) error
	// DeleteScan removes a scan and its results
	DeleteScan(ctx context.Context, id string) error
}
