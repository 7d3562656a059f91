package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// TargetRepository provides PostgreSQL-backed target profile storage.
type TargetRepository struct {
	pool *Pool
}

// NewTargetRepository creates a new PostgreSQL target repository
func NewTargetRepository(pool *Pool) *TargetRepository {
	return &TargetRepository{pool: pool}
}

// GetTarget retrieves a target with its photos by ID, returns nil if not found
func (r *TargetRepository) GetTarget(ctx context.Context, id string) (*database.StoredTarget, error) {
	return r.getTargetWhere(ctx, "id = $1", id)
}

// FindTargetByName looks a target up by normalized name, returns nil if not found
func (r *TargetRepository) FindTargetByName(ctx context.Context, name string) (*database.StoredTarget, error) {
	return r.getTargetWhere(ctx, "name_normalized = $1", facematch.NormalizePersonName(name))
}

func (r *TargetRepository) getTargetWhere(ctx context.Context, where string, arg any) (*database.StoredTarget, error) {
	var t database.StoredTarget
	err := r.pool.QueryRow(ctx,
		"SELECT id, name, name_normalized, created_at FROM targets WHERE "+where, arg,
	).Scan(&t.ID, &t.Name, &t.NameNormalized, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query target: %w", err)
	}

	photos, err := r.getPhotos(ctx, []string{t.ID})
	if err != nil {
		return nil, err
	}
	t.Photos = photos[t.ID]
	return &t, nil
}

// ListTargets returns all targets with their photos, ordered by name
func (r *TargetRepository) ListTargets(ctx context.Context) ([]database.StoredTarget, error) {
	rows, err := r.pool.Query(ctx, "SELECT id, name, name_normalized, created_at FROM targets ORDER BY name_normalized")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []database.StoredTarget
	var ids []string
	for rows.Next() {
		var t database.StoredTarget
		if err := rows.Scan(&t.ID, &t.Name, &t.NameNormalized, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		targets = append(targets, t)
		ids = append(ids, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate targets: %w", err)
	}
	if len(targets) == 0 {
		return targets, nil
	}

	photos, err := r.getPhotos(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range targets {
		targets[i].Photos = photos[targets[i].ID]
	}
	return targets, nil
}

func (r *TargetRepository) getPhotos(ctx context.Context, targetIDs []string) (map[string][]database.StoredTargetPhoto, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, target_id, source_path, model, dim, embedding, quality, created_at
		FROM target_photos
		WHERE target_id = ANY($1)
		ORDER BY created_at, id
	`, pq.Array(targetIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]database.StoredTargetPhoto)
	for rows.Next() {
		var p database.StoredTargetPhoto
		var vec pgvector.Vector
		if err := rows.Scan(&p.ID, &p.TargetID, &p.SourcePath, &p.Model, &p.Dim, &vec, &p.Quality, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan target photo: %w", err)
		}
		p.Embedding = vec.Slice()
		out[p.TargetID] = append(out[p.TargetID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate target photos: %w", err)
	}
	return out, nil
}

// CreateTarget creates an empty target
func (r *TargetRepository) CreateTarget(ctx context.Context, name string) (*database.StoredTarget, error) {
	t := database.StoredTarget{
		ID:             uuid.NewString(),
		Name:           name,
		NameNormalized: facematch.NormalizePersonName(name),
	}
	if t.NameNormalized == "" {
		return nil, errors.New("target name is required")
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO targets (id, name, name_normalized)
		VALUES ($1, $2, $3)
		RETURNING created_at
	`, t.ID, t.Name, t.NameNormalized).Scan(&t.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert target: %w", err)
	}
	return &t, nil
}

// DeleteTarget removes a target and its photos
func (r *TargetRepository) DeleteTarget(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM targets WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete target: %w", err)
	}
	return nil
}

// AddTargetPhoto stores a reference photo; ID and CreatedAt are filled in
func (r *TargetRepository) AddTargetPhoto(ctx context.Context, photo *database.StoredTargetPhoto) error {
	if len(photo.Embedding) == 0 {
		return errors.New("target photo has no embedding")
	}
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	photo.Dim = len(photo.Embedding)

	err := r.pool.QueryRow(ctx, `
		INSERT INTO target_photos (id, target_id, source_path, model, dim, embedding, quality)
		VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
		RETURNING created_at
	`, photo.ID, photo.TargetID, photo.SourcePath, photo.Model, photo.Dim,
		pgvector.NewVector(photo.Embedding), photo.Quality,
	).Scan(&photo.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert target photo: %w", err)
	}
	return nil
}

// UpdateTargetPhotoEmbedding replaces the embedding of a reference photo
func (r *TargetRepository) UpdateTargetPhotoEmbedding(
	ctx context.Context, photoID, model string, embedding []float32, quality float64,
) error {
	res, err := r.pool.Exec(ctx, `
		UPDATE target_photos SET model = $2, dim = $3, embedding = $4::vector, quality = $5
		WHERE id = $1
	`, photoID, model, len(embedding), pgvector.NewVector(embedding), quality)
	if err != nil {
		return fmt.Errorf("update target photo: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("target photo %s not found", photoID)
	}
	return nil
}

// DeleteTargetPhoto removes a single reference photo
func (r *TargetRepository) DeleteTargetPhoto(ctx context.Context, photoID string) error {
	if _, err := r.pool.Exec(ctx, "DELETE FROM target_photos WHERE id = $1", photoID); err != nil {
		return fmt.Errorf("delete target photo: %w", err)
	}
	return nil
}
