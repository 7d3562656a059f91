// Package mock provides in-memory implementations of database interfaces for testing.
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// MockTargetRepository is a mock implementation of database.TargetWriter
type MockTargetRepository struct {
	mu      sync.RWMutex
	targets map[string]*database.StoredTarget

	// Error injection
	GetError    error
	ListError   error
	CreateError error
	DeleteError error
	AddError    error
	UpdateError error
}

// NewMockTargetRepository creates a new mock target repository
func NewMockTargetRepository() *MockTargetRepository {
	return &MockTargetRepository{targets: make(map[string]*database.StoredTarget)}
}

func copyTarget(t *database.StoredTarget) *database.StoredTarget {
	c := *t
	c.Photos = make([]database.StoredTargetPhoto, len(t.Photos))
	for i, p := range t.Photos {
		p.Embedding = append([]float32(nil), p.Embedding...)
		c.Photos[i] = p
	}
	return &c
}

// AddTarget adds a target to the mock store
func (m *MockTargetRepository) AddTarget(t database.StoredTarget) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.NameNormalized == "" {
		t.NameNormalized = facematch.NormalizePersonName(t.Name)
	}
	m.targets[t.ID] = copyTarget(&t)
}

// GetTarget returns a target by ID, nil if not found
func (m *MockTargetRepository) GetTarget(_ context.Context, id string) (*database.StoredTarget, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.targets[id]
	if !ok {
		return nil, nil
	}
	return copyTarget(t), nil
}

// FindTargetByName returns a target by normalized name, nil if not found
func (m *MockTargetRepository) FindTargetByName(_ context.Context, name string) (*database.StoredTarget, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	norm := facematch.NormalizePersonName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.targets {
		if t.NameNormalized == norm {
			return copyTarget(t), nil
		}
	}
	return nil, nil
}

// ListTargets returns all targets ordered by name
func (m *MockTargetRepository) ListTargets(_ context.Context) ([]database.StoredTarget, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.StoredTarget, 0, len(m.targets))
	for _, t := range m.targets {
		out = append(out, *copyTarget(t))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NameNormalized < out[j].NameNormalized })
	return out, nil
}

// CreateTarget creates an empty target
func (m *MockTargetRepository) CreateTarget(_ context.Context, name string) (*database.StoredTarget, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	norm := facematch.NormalizePersonName(name)
	if norm == "" {
		return nil, fmt.Errorf("target name is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		if t.NameNormalized == norm {
			return nil, fmt.Errorf("target %q already exists", name)
		}
	}
	t := &database.StoredTarget{ID: uuid.NewString(), Name: name, NameNormalized: norm, CreatedAt: time.Now()}
	m.targets[t.ID] = t
	return copyTarget(t), nil
}

// DeleteTarget removes a target
func (m *MockTargetRepository) DeleteTarget(_ context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.targets, id)
	return nil
}

// AddTargetPhoto appends a reference photo to its target
func (m *MockTargetRepository) AddTargetPhoto(_ context.Context, photo *database.StoredTargetPhoto) error {
	if m.AddError != nil {
		return m.AddError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.targets[photo.TargetID]
	if !ok {
		return fmt.Errorf("target %s not found", photo.TargetID)
	}
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	photo.Dim = len(photo.Embedding)
	photo.CreatedAt = time.Now()
	p := *photo
	p.Embedding = append([]float32(nil), photo.Embedding...)
	t.Photos = append(t.Photos, p)
	return nil
}

// UpdateTargetPhotoEmbedding replaces a photo embedding
func (m *MockTargetRepository) UpdateTargetPhotoEmbedding(
	_ context.Context, photoID, model string, embedding []float32, quality float64,
) error {
	if m.UpdateError != nil {
		return m.UpdateError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		for i := range t.Photos {
			if t.Photos[i].ID == photoID {
				t.Photos[i].Model = model
				t.Photos[i].Embedding = append([]float32(nil), embedding...)
				t.Photos[i].Dim = len(embedding)
				t.Photos[i].Quality = quality
				return nil
			}
		}
	}
	return fmt.Errorf("target photo %s not found", photoID)
}

// DeleteTargetPhoto removes a reference photo
func (m *MockTargetRepository) DeleteTargetPhoto(_ context.Context, photoID string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.targets {
		for i := range t.Photos {
			if t.Photos[i].ID == photoID {
				t.Photos = append(t.Photos[:i], t.Photos[i+1:]...)
				return nil
			}
		}
	}
	return nil
}

// MockScanRepository is a mock implementation of database.ScanWriter
type MockScanRepository struct {
	mu      sync.RWMutex
	scans   map[string]*database.StoredScan
	results map[string][]database.StoredScanResult
	nextID  int64

	// Error injection
	GetError         error
	SaveError        error
	DeleteError      error
	FindSimilarError error
}

// NewMockScanRepository creates a new mock scan repository
func NewMockScanRepository() *MockScanRepository {
	return &MockScanRepository{
		scans:   make(map[string]*database.StoredScan),
		results: make(map[string][]database.StoredScanResult),
	}
}

// GetScan returns a scan by ID, nil if not found
func (m *MockScanRepository) GetScan(_ context.Context, id string) (*database.StoredScan, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.scans[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

// ListScans returns scans newest first
func (m *MockScanRepository) ListScans(_ context.Context, limit int) ([]database.StoredScan, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]database.StoredScan, 0, len(m.scans))
	for _, s := range m.scans {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// GetScanResults returns a scan's results in input order
func (m *MockScanRepository) GetScanResults(
	_ context.Context, scanID string, matchedOnly bool,
) ([]database.StoredScanResult, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredScanResult
	for _, r := range m.results[scanID] {
		if matchedOnly && !r.HasMatch {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetScanResult returns a result by ID, nil if not found
func (m *MockScanRepository) GetScanResult(_ context.Context, id int64) (*database.StoredScanResult, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, rs := range m.results {
		for i := range rs {
			if rs[i].ID == id {
				r := rs[i]
				return &r, nil
			}
		}
	}
	return nil, nil
}

// GetResultsWithEmbeddings returns results of model that carry an embedding
func (m *MockScanRepository) GetResultsWithEmbeddings(_ context.Context, model string) ([]database.StoredScanResult, error) {
	if m.GetError != nil {
		return nil, m.GetError
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []database.StoredScanResult
	for _, rs := range m.results {
		for _, r := range rs {
			if r.Model == model && len(r.Embedding) > 0 {
				out = append(out, r)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// FindSimilar does an exact cosine distance search
func (m *MockScanRepository) FindSimilar(
	ctx context.Context, model string, embedding []float32, limit int,
) ([]database.Neighbor, error) {
	if m.FindSimilarError != nil {
		return nil, m.FindSimilarError
	}
	candidates, err := m.GetResultsWithEmbeddings(ctx, model)
	if err != nil {
		return nil, err
	}
	var out []database.Neighbor
	for i := range candidates {
		if len(candidates[i].Embedding) != len(embedding) {
			continue
		}
		out = append(out, database.Neighbor{
			Result:   &candidates[i],
			Distance: facematch.CosineDistance(embedding, candidates[i].Embedding),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SaveScan stores a scan and assigns result IDs
func (m *MockScanRepository) SaveScan(
	_ context.Context, scan *database.StoredScan, results []database.StoredScanResult,
) error {
	if m.SaveError != nil {
		return m.SaveError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if scan.ID == "" {
		scan.ID = uuid.NewString()
	}
	if scan.StartedAt.IsZero() {
		scan.StartedAt = time.Now()
	}
	for i := range results {
		m.nextID++
		results[i].ID = m.nextID
		results[i].ScanID = scan.ID
	}
	s := *scan
	m.scans[scan.ID] = &s
	m.results[scan.ID] = append([]database.StoredScanResult(nil), results...)
	return nil
}

// DeleteScan removes a scan and its results
func (m *MockScanRepository) DeleteScan(_ context.Context, id string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.scans, id)
	delete(m.results, id)
	return nil
}
