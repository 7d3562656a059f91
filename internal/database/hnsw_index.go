package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"

	"github.com/kozaktomas/face-finder/internal/facematch"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	Model       string    `json:"model"`
	Dim         int       `json:"dim"`
	ResultCount int64     `json:"result_count"`
	MaxResultID int64     `json:"max_result_id"`
	BuildTime   time.Time `json:"build_time"`
	Version     int       `json:"version"`
}

const hnswMetadataVersion = 2

// Graph tuning for 128 and 192 dimensional face embeddings.
const (
	hnswM          = 16  // neighbors per node
	hnswEfSearch   = 100 // search candidate pool
	hnswOversample = 3   // Search asks the graph for k*hnswOversample nodes, stale keys are dropped
)

// ErrIndexNotInitialized is returned by Search on an empty index.
var ErrIndexNotInitialized = errors.New("index not initialized")

// Neighbor is one search hit.
type Neighbor struct {
	Result   *StoredScanResult
	Distance float64
}

// HNSWIndex wraps an HNSW graph over the face embeddings of past scan results.
// A graph holds a single model: embeddings of other models or dimensions are skipped.
type HNSWIndex struct {
	model      string
	dim        int
	graph      *hnsw.Graph[int64]
	savedGraph *hnsw.SavedGraph[int64]
	idToResult map[int64]*StoredScanResult
	mu         sync.RWMutex
	path       string
}

// NewHNSWIndex creates a new empty index for one recognition model.
func NewHNSWIndex(model string) *HNSWIndex {
	return &HNSWIndex{
		model:      model,
		idToResult: make(map[int64]*StoredScanResult),
	}
}

// Model returns the recognition model of the indexed embeddings.
func (h *HNSWIndex) Model() string {
	return h.model
}

func newGraph() *hnsw.Graph[int64] {
	g := hnsw.NewGraph[int64]()
	g.M = hnswM
	g.Ml = 1.0 / float64(hnswM)
	g.EfSearch = hnswEfSearch
	g.Distance = hnsw.CosineDistance
	return g
}

// accepts reports whether r can live in this graph; the first accepted result fixes the dimension.
func (h *HNSWIndex) accepts(r *StoredScanResult) bool {
	if len(r.Embedding) == 0 || r.Model != h.model {
		return false
	}
	if h.dim == 0 {
		h.dim = len(r.Embedding)
	}
	return len(r.Embedding) == h.dim
}

// Build builds the index from scan results. Results without a usable embedding are skipped.
func (h *HNSWIndex) Build(results []StoredScanResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.graph = nil
	h.savedGraph = nil
	h.dim = 0
	h.idToResult = make(map[int64]*StoredScanResult, len(results))

	var g *hnsw.Graph[int64]
	for i := range results {
		r := &results[i]
		if !h.accepts(r) {
			continue
		}
		if g == nil {
			g = newGraph()
		}
		g.Add(hnsw.MakeNode(r.ID, r.Embedding))
		h.idToResult[r.ID] = r
	}
	h.graph = g
	return nil
}

// Add adds a single result to the index.
func (h *HNSWIndex) Add(r *StoredScanResult) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(r.Embedding) == 0 {
		return nil
	}
	if r.Model != h.model {
		return fmt.Errorf("result %d uses model %s, index holds %s", r.ID, r.Model, h.model)
	}
	if !h.accepts(r) {
		return fmt.Errorf("result %d: %w (%d vs %d)", r.ID, facematch.ErrDimensionMismatch, len(r.Embedding), h.dim)
	}
	if h.savedGraph != nil {
		return errors.New("cannot add to an index loaded from disk, rebuild it first")
	}
	if h.graph == nil {
		h.graph = newGraph()
	}
	h.graph.Add(hnsw.MakeNode(r.ID, r.Embedding))
	h.idToResult[r.ID] = r
	return nil
}

// Delete removes a result from search results. The graph node stays until the next rebuild.
func (h *HNSWIndex) Delete(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.idToResult, id)
}

// Search finds up to k nearest results to the query, closest first.
// Deleted results are filtered out, so more candidates are requested from the graph.
func (h *HNSWIndex) Search(query []float32, k int) ([]Neighbor, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil && h.savedGraph == nil {
		return nil, ErrIndexNotInitialized
	}
	if h.dim != 0 && len(query) != h.dim {
		return nil, fmt.Errorf("query: %w (%d vs %d)", facematch.ErrDimensionMismatch, len(query), h.dim)
	}
	if k <= 0 {
		return nil, nil
	}

	var nodes []hnsw.Node[int64]
	if h.savedGraph != nil {
		nodes = h.savedGraph.Search(query, k*hnswOversample)
	} else {
		nodes = h.graph.Search(query, k*hnswOversample)
	}

	out := make([]Neighbor, 0, k)
	for _, n := range nodes {
		r, ok := h.idToResult[n.Key]
		if !ok {
			continue
		}
		out = append(out, Neighbor{Result: r, Distance: facematch.CosineDistance(query, n.Value)})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Distance < out[j].Distance })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Get returns the indexed result for an ID, nil if absent.
func (h *HNSWIndex) Get(id int64) *StoredScanResult {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.idToResult[id]
}

// Count returns the number of indexed results.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToResult)
}

// IsEmpty returns true if the index has no graph data loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil && h.savedGraph == nil
}

// SetPath sets the path for saving/loading the index.
func (h *HNSWIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// Metadata describes the current index content.
func (h *HNSWIndex) Metadata() HNSWIndexMetadata {
	h.mu.RLock()
	defer h.mu.RUnlock()
	meta := HNSWIndexMetadata{Model: h.model, Dim: h.dim, ResultCount: int64(len(h.idToResult)), BuildTime: time.Now()}
	for id := range h.idToResult {
		if id > meta.MaxResultID {
			meta.MaxResultID = id
		}
	}
	return meta
}

// Save persists the graph, its metadata and the indexed results next to each other.
// An empty index removes the files.
func (h *HNSWIndex) Save() error {
	if h.path == "" {
		return nil
	}
	meta := h.Metadata()

	h.mu.RLock()
	defer h.mu.RUnlock()

	path := h.path
	if h.graph == nil && h.savedGraph == nil {
		_ = os.Remove(path)
		_ = os.Remove(path + ".meta")
		_ = os.Remove(path + ".results")
		return nil
	}

	if err := h.exportGraph(path); err != nil {
		return err
	}

	meta.Version = hnswMetadataVersion
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path+".meta", data, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	results := make([]StoredScanResult, 0, len(h.idToResult))
	for _, r := range h.idToResult {
		results = append(results, *r)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].ID < results[j].ID })
	if err := saveResults(path, results); err != nil {
		return fmt.Errorf("failed to save result metadata: %w", err)
	}
	return nil
}

func (h *HNSWIndex) exportGraph(path string) error {
	f, err := os.Create(path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	defer f.Close()

	if h.savedGraph != nil {
		err = h.savedGraph.Export(f)
	} else {
		err = h.graph.Export(f)
	}
	if err != nil {
		return fmt.Errorf("failed to export HNSW graph: %w", err)
	}
	return nil
}

// Load restores an index saved by Save. The stored model must match the index model.
func (h *HNSWIndex) Load(path string) error {
	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		return err
	}
	if meta.Version != hnswMetadataVersion {
		return fmt.Errorf("HNSW index version %d, expected %d", meta.Version, hnswMetadataVersion)
	}
	if meta.Model != h.model {
		return fmt.Errorf("HNSW index at %s holds model %s, expected %s", path, meta.Model, h.model)
	}

	saved, err := hnsw.LoadSavedGraph[int64](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}
	results, err := loadResults(path)
	if err != nil {
		return fmt.Errorf("failed to load result metadata: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
	h.graph = nil
	h.savedGraph = saved
	h.dim = meta.Dim
	h.idToResult = make(map[int64]*StoredScanResult, len(results))
	for i := range results {
		h.idToResult[results[i].ID] = &results[i]
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

func saveResults(path string, results []StoredScanResult) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(results); err != nil {
		return fmt.Errorf("failed to encode results: %w", err)
	}
	return os.WriteFile(path+".results", buf.Bytes(), 0600)
}

func loadResults(path string) ([]StoredScanResult, error) {
	data, err := os.ReadFile(path + ".results") //nolint:gosec // path is from trusted config
	if err != nil {
		return nil, fmt.Errorf("failed to read results file: %w", err)
	}
	var results []StoredScanResult
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&results); err != nil {
		return nil, fmt.Errorf("failed to decode results: %w", err)
	}
	return results, nil
}
