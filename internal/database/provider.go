package database

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotInitialized is returned when no storage backend has been registered.
var ErrNotInitialized = errors.New("PostgreSQL backend not initialized: DATABASE_URL is required")

// IndexRebuilder is implemented by repositories that keep an in-memory ANN index.
type IndexRebuilder interface {
	// RebuildIndex rebuilds the in-memory HNSW index
	RebuildIndex(ctx context.Context) error
	// IndexCount returns the number of items in the HNSW index
	IndexCount() int
	// SaveIndex saves the current index to disk (if path configured)
	SaveIndex() error
}

var (
	postgresTargetWriter func() TargetWriter
	postgresScanWriter   func() ScanWriter
	postgresInitialized  bool
)

// RegisterPostgresBackend registers PostgreSQL repository constructors.
// This is called by the postgres package to avoid import cycles.
func RegisterPostgresBackend(targets func() TargetWriter, scans func() ScanWriter) {
	postgresTargetWriter = targets
	postgresScanWriter = scans
	postgresInitialized = true
}

// IsInitialized returns whether the PostgreSQL backend has been initialized.
func IsInitialized() bool {
	return postgresInitialized
}

// GetTargetReader returns a TargetReader from the PostgreSQL backend
func GetTargetReader(ctx context.Context) (TargetReader, error) {
	return GetTargetWriter(ctx)
}

// GetTargetWriter returns a TargetWriter from the PostgreSQL backend
func GetTargetWriter(ctx context.Context) (TargetWriter, error) {
	if !postgresInitialized {
		return nil, ErrNotInitialized
	}
	if postgresTargetWriter == nil {
		return nil, fmt.Errorf("PostgreSQL target repository not registered")
	}
	return postgresTargetWriter(), nil
}

// GetScanReader returns a ScanReader from the PostgreSQL backend
func GetScanReader(ctx context.Context) (ScanReader, error) {
	return GetScanWriter(ctx)
}

// GetScanWriter returns a ScanWriter from the PostgreSQL backend
func GetScanWriter(ctx context.Context) (ScanWriter, error) {
	if !postgresInitialized {
		return nil, ErrNotInitialized
	}
	if postgresScanWriter == nil {
		return nil, fmt.Errorf("PostgreSQL scan repository not registered")
	}
	return postgresScanWriter(), nil
}

// ResolveTarget finds a target by ID first, then by name.
func ResolveTarget(ctx context.Context, r TargetReader, idOrName string) (*StoredTarget, error) {
	t, err := r.GetTarget(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if t != nil {
		return t, nil
	}
	t, err = r.FindTargetByName(ctx, idOrName)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, fmt.Errorf("target %q not found", idOrName)
	}
	return t, nil
}
