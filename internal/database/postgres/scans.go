package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/logging"
)

// ScanRepository provides PostgreSQL-backed scan storage with optional in-memory
// HNSW indexes over stored face embeddings, one per recognition model.
type ScanRepository struct {
	pool          *Pool
	hnswEnabled   bool
	hnswIndexPath string // base path to persist HNSW indexes (optional)
	indexes       map[string]*database.HNSWIndex
	hnswMu        sync.RWMutex
}

// NewScanRepository creates a new PostgreSQL scan repository
func NewScanRepository(pool *Pool) *ScanRepository {
	return &ScanRepository{pool: pool, indexes: make(map[string]*database.HNSWIndex)}
}

const scanColumns = `id, target_id, target_name, model, threshold, status, total, processed, matches, started_at, finished_at`

const resultColumns = `id, scan_id, item_index, photo_ref, processed, has_match, similarity, quality, bbox, error, model, embedding`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanScan(row rowScanner) (*database.StoredScan, error) {
	var s database.StoredScan
	var finished sql.NullTime
	if err := row.Scan(&s.ID, &s.TargetID, &s.TargetName, &s.Model, &s.Threshold, &s.Status,
		&s.Total, &s.Processed, &s.Matches, &s.StartedAt, &finished); err != nil {
		return nil, err //nolint:wrapcheck // callers wrap
	}
	if finished.Valid {
		t := finished.Time
		s.FinishedAt = &t
	}
	return &s, nil
}

func scanResults(rows *sql.Rows) ([]database.StoredScanResult, error) {
	var results []database.StoredScanResult
	for rows.Next() {
		var r database.StoredScanResult
		var bbox pq.Float64Array
		var vec *pgvector.Vector
		if err := rows.Scan(&r.ID, &r.ScanID, &r.Index, &r.PhotoRef, &r.Processed, &r.HasMatch,
			&r.Similarity, &r.Quality, &bbox, &r.Error, &r.Model, &vec); err != nil {
			return nil, fmt.Errorf("scan result row: %w", err)
		}
		r.BBox = bbox
		if vec != nil {
			r.Embedding = vec.Slice()
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate results: %w", err)
	}
	return results, nil
}

// GetScan retrieves a scan by ID, returns nil if not found
func (r *ScanRepository) GetScan(ctx context.Context, id string) (*database.StoredScan, error) {
	s, err := scanScan(r.pool.QueryRow(ctx, "SELECT "+scanColumns+" FROM scans WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query scan: %w", err)
	}
	return s, nil
}

// ListScans returns the most recent scans first
func (r *ScanRepository) ListScans(ctx context.Context, limit int) ([]database.StoredScan, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+scanColumns+" FROM scans ORDER BY started_at DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []database.StoredScan
	for rows.Next() {
		s, err := scanScan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		scans = append(scans, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scans: %w", err)
	}
	return scans, nil
}

// GetScanResults returns the results of a scan in input order
func (r *ScanRepository) GetScanResults(
	ctx context.Context, scanID string, matchedOnly bool,
) ([]database.StoredScanResult, error) {
	query := "SELECT " + resultColumns + " FROM scan_results WHERE scan_id = $1"
	if matchedOnly {
		query += " AND has_match"
	}
	query += " ORDER BY item_index"

	rows, err := r.pool.Query(ctx, query, scanID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// GetScanResult retrieves one result by ID, returns nil if not found
func (r *ScanRepository) GetScanResult(ctx context.Context, id int64) (*database.StoredScanResult, error) {
	rows, err := r.pool.Query(ctx, "SELECT "+resultColumns+" FROM scan_results WHERE id = $1", id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	results, err := scanResults(rows)
	if err != nil || len(results) == 0 {
		return nil, err
	}
	return &results[0], nil
}

// GetResultsWithEmbeddings returns every stored face embedding produced by model
func (r *ScanRepository) GetResultsWithEmbeddings(ctx context.Context, model string) ([]database.StoredScanResult, error) {
	rows, err := r.pool.Query(ctx,
		"SELECT "+resultColumns+" FROM scan_results WHERE model = $1 AND embedding IS NOT NULL ORDER BY id", model)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanResults(rows)
}

// SaveScan stores a scan and its results atomically; scan.ID is filled in when empty
func (r *ScanRepository) SaveScan(
	ctx context.Context, scan *database.StoredScan, results []database.StoredScanResult,
) error {
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.StartedAt.IsZero() {
		scan.StartedAt = time.Now()
	}

	err := r.pool.InTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scans (`+scanColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, scan.ID, scan.TargetID, scan.TargetName, scan.Model, scan.Threshold, scan.Status,
			scan.Total, scan.Processed, scan.Matches, scan.StartedAt, scan.FinishedAt)
		if err != nil {
			return fmt.Errorf("insert scan: %w", err)
		}

		for i := range results {
			res := &results[i]
			res.ScanID = scan.ID

			var vec any
			if len(res.Embedding) > 0 {
				vec = pgvector.NewVector(res.Embedding)
			}
			err := tx.QueryRowContext(ctx, `
				INSERT INTO scan_results (scan_id, item_index, photo_ref, processed, has_match, similarity,
				                          quality, bbox, error, model, dim, embedding)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12::vector)
				RETURNING id
			`, res.ScanID, res.Index, res.PhotoRef, res.Processed, res.HasMatch, res.Similarity,
				res.Quality, pq.Array(res.BBox), res.Error, res.Model, len(res.Embedding), vec,
			).Scan(&res.ID)
			if err != nil {
				return fmt.Errorf("insert result %d: %w", res.Index, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	r.addToIndexes(results)
	return nil
}

// DeleteScan removes a scan and its results
func (r *ScanRepository) DeleteScan(ctx context.Context, id string) error {
	rows, err := r.pool.Query(ctx, "SELECT id, model FROM scan_results WHERE scan_id = $1", id)
	if err != nil {
		return err
	}
	type ref struct {
		id    int64
		model string
	}
	var refs []ref
	for rows.Next() {
		var x ref
		if err := rows.Scan(&x.id, &x.model); err != nil {
			rows.Close()
			return fmt.Errorf("scan result id: %w", err)
		}
		refs = append(refs, x)
	}
	rows.Close()

	if _, err := r.pool.Exec(ctx, "DELETE FROM scans WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete scan: %w", err)
	}

	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	for _, x := range refs {
		if idx, ok := r.indexes[x.model]; ok {
			idx.Delete(x.id)
		}
	}
	return nil
}

// FindSimilar returns stored faces of model closest to embedding.
// Uses the in-memory HNSW index when enabled, otherwise falls back to PostgreSQL.
func (r *ScanRepository) FindSimilar(
	ctx context.Context, model string, embedding []float32, limit int,
) ([]database.Neighbor, error) {
	r.hnswMu.RLock()
	enabled := r.hnswEnabled
	r.hnswMu.RUnlock()

	if enabled {
		idx, err := r.index(ctx, model)
		if err != nil {
			return nil, err
		}
		if idx.IsEmpty() {
			return nil, nil
		}
		hits, err := idx.Search(embedding, limit)
		if err != nil {
			return nil, fmt.Errorf("HNSW search: %w", err)
		}
		return hits, nil
	}
	return r.findSimilarPostgres(ctx, model, embedding, limit)
}

// findSimilarPostgres runs an exact cosine distance scan restricted to one model and dimension.
func (r *ScanRepository) findSimilarPostgres(
	ctx context.Context, model string, embedding []float32, limit int,
) ([]database.Neighbor, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+resultColumns+`, embedding <=> $3::vector AS distance
		FROM scan_results
		WHERE model = $1 AND dim = $2 AND embedding IS NOT NULL
		ORDER BY distance
		LIMIT $4
	`, model, len(embedding), pgvector.NewVector(embedding), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []database.Neighbor
	for rows.Next() {
		var res database.StoredScanResult
		var bbox pq.Float64Array
		var vec pgvector.Vector
		var dist float64
		if err := rows.Scan(&res.ID, &res.ScanID, &res.Index, &res.PhotoRef, &res.Processed, &res.HasMatch,
			&res.Similarity, &res.Quality, &bbox, &res.Error, &res.Model, &vec, &dist); err != nil {
			return nil, fmt.Errorf("scan similar row: %w", err)
		}
		res.BBox = bbox
		res.Embedding = vec.Slice()
		out = append(out, database.Neighbor{Result: &res, Distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate similar rows: %w", err)
	}
	return out, nil
}

// EnableHNSW switches similarity search to in-memory indexes, built lazily per model.
// With a non-empty indexPath each model index is persisted next to it.
func (r *ScanRepository) EnableHNSW(indexPath string) {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	r.hnswEnabled = true
	r.hnswIndexPath = indexPath
}

func (r *ScanRepository) modelIndexPath(model string) string {
	if r.hnswIndexPath == "" {
		return ""
	}
	ext := filepath.Ext(r.hnswIndexPath)
	base := strings.TrimSuffix(r.hnswIndexPath, ext)
	return base + "." + strings.ToLower(model) + ext
}

// index returns the model index, loading it from disk when fresh or building it from the database.
func (r *ScanRepository) index(ctx context.Context, model string) (*database.HNSWIndex, error) {
	r.hnswMu.RLock()
	idx, ok := r.indexes[model]
	r.hnswMu.RUnlock()
	if ok {
		return idx, nil
	}

	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	if idx, ok := r.indexes[model]; ok {
		return idx, nil
	}
	idx, err := r.loadOrBuild(ctx, model)
	if err != nil {
		return nil, err
	}
	r.indexes[model] = idx
	return idx, nil
}

func (r *ScanRepository) loadOrBuild(ctx context.Context, model string) (*database.HNSWIndex, error) {
	log := logging.Logger().WithField("model", model)
	path := r.modelIndexPath(model)

	var count, maxID int64
	err := r.pool.QueryRow(ctx,
		"SELECT COUNT(*), COALESCE(MAX(id), 0) FROM scan_results WHERE model = $1 AND embedding IS NOT NULL", model,
	).Scan(&count, &maxID)
	if err != nil {
		return nil, fmt.Errorf("failed to get result stats: %w", err)
	}

	idx := database.NewHNSWIndex(model)
	if path != "" {
		if meta, err := database.LoadHNSWMetadata(path); err == nil && meta.ResultCount == count && meta.MaxResultID == maxID {
			err := idx.Load(path)
			if err == nil {
				log.WithField("count", idx.Count()).Debug("loaded HNSW index from disk")
				return idx, nil
			}
			log.WithError(err).Warn("cached HNSW index unusable, rebuilding")
		}
		idx.SetPath(path)
	}

	results, err := r.GetResultsWithEmbeddings(ctx, model)
	if err != nil {
		return nil, fmt.Errorf("failed to load results: %w", err)
	}
	if err := idx.Build(results); err != nil {
		return nil, fmt.Errorf("failed to build HNSW index: %w", err)
	}
	if err := idx.Save(); err != nil {
		log.WithError(err).Warn("failed to save HNSW index to disk")
	}
	log.WithField("count", idx.Count()).Info("built HNSW index")
	return idx, nil
}

func (r *ScanRepository) addToIndexes(results []database.StoredScanResult) {
	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()
	for i := range results {
		idx, ok := r.indexes[results[i].Model]
		if !ok {
			continue
		}
		if err := idx.Add(&results[i]); err != nil {
			// a stale index loaded from disk is rebuilt on next access
			logging.Logger().WithError(err).Debug("dropping HNSW index")
			delete(r.indexes, results[i].Model)
		}
	}
}

// RebuildIndex drops all in-memory indexes; they are rebuilt on next search.
func (r *ScanRepository) RebuildIndex(ctx context.Context) error {
	r.hnswMu.Lock()
	models := make([]string, 0, len(r.indexes))
	for m := range r.indexes {
		models = append(models, m)
	}
	r.indexes = make(map[string]*database.HNSWIndex)
	r.hnswMu.Unlock()

	for _, m := range models {
		if _, err := r.index(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

// IndexCount returns the number of results across all loaded indexes.
func (r *ScanRepository) IndexCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	n := 0
	for _, idx := range r.indexes {
		n += idx.Count()
	}
	return n
}

// SaveIndex saves all loaded indexes to disk (if path configured).
func (r *ScanRepository) SaveIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	for model, idx := range r.indexes {
		if err := idx.Save(); err != nil {
			return fmt.Errorf("saving HNSW index for %s: %w", model, err)
		}
	}
	return nil
}
