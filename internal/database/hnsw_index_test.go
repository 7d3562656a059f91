package database

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"github.com/kozaktomas/face-finder/internal/facematch"
)

func unit(angle float64) []float32 {
	return []float32{float32(math.Cos(angle)), float32(math.Sin(angle)), 0}
}

func sampleResults() []StoredScanResult {
	return []StoredScanResult{
		{ID: 1, ScanID: "s1", PhotoRef: "a.jpg", Model: "M", Embedding: unit(0)},
		{ID: 2, ScanID: "s1", PhotoRef: "b.jpg", Model: "M", Embedding: unit(0.3)},
		{ID: 3, ScanID: "s1", PhotoRef: "c.jpg", Model: "M", Embedding: unit(1.5)},
		{ID: 4, ScanID: "s1", PhotoRef: "d.jpg", Model: "OTHER", Embedding: unit(0)},
		{ID: 5, ScanID: "s1", PhotoRef: "e.jpg", Model: "M"},
	}
}

func TestHNSWIndex_BuildAndSearch(t *testing.T) {
	idx := NewHNSWIndex("M")
	if err := idx.Build(sampleResults()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if idx.Count() != 3 {
		t.Fatalf("Count = %d, want 3 (other model and empty embedding skipped)", idx.Count())
	}

	hits, err := idx.Search(unit(0.05), 2)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("got %d hits, want 2", len(hits))
	}
	if hits[0].Result.ID != 1 || hits[1].Result.ID != 2 {
		t.Errorf("hits = %d, %d; want 1, 2", hits[0].Result.ID, hits[1].Result.ID)
	}
	if hits[0].Distance > hits[1].Distance {
		t.Errorf("hits not sorted by distance: %v > %v", hits[0].Distance, hits[1].Distance)
	}
}

func TestHNSWIndex_SearchEmpty(t *testing.T) {
	idx := NewHNSWIndex("M")
	if !idx.IsEmpty() {
		t.Fatal("new index should be empty")
	}
	if _, err := idx.Search(unit(0), 1); !errors.Is(err, ErrIndexNotInitialized) {
		t.Errorf("err = %v, want ErrIndexNotInitialized", err)
	}
}

func TestHNSWIndex_SearchDimensionMismatch(t *testing.T) {
	idx := NewHNSWIndex("M")
	_ = idx.Build(sampleResults())
	if _, err := idx.Search([]float32{1, 0}, 1); !errors.Is(err, facematch.ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestHNSWIndex_AddAndDelete(t *testing.T) {
	idx := NewHNSWIndex("M")
	if err := idx.Add(&StoredScanResult{ID: 7, Model: "M", Embedding: unit(0)}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := idx.Add(&StoredScanResult{ID: 8, Model: "M", Embedding: []float32{1, 0}}); !errors.Is(err, facematch.ErrDimensionMismatch) {
		t.Errorf("Add wrong dim err = %v", err)
	}
	if err := idx.Add(&StoredScanResult{ID: 9, Model: "X", Embedding: unit(0)}); err == nil {
		t.Error("Add with another model should fail")
	}
	if idx.Get(7) == nil {
		t.Fatal("Get(7) = nil")
	}

	idx.Delete(7)
	hits, err := idx.Search(unit(0), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("deleted result still returned: %+v", hits)
	}
}

func TestHNSWIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.hnsw")

	idx := NewHNSWIndex("M")
	idx.SetPath(path)
	if err := idx.Build(sampleResults()); err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		t.Fatalf("LoadHNSWMetadata: %v", err)
	}
	if meta.ResultCount != 3 || meta.MaxResultID != 3 || meta.Dim != 3 || meta.Model != "M" {
		t.Errorf("metadata = %+v", meta)
	}

	loaded := NewHNSWIndex("M")
	if err := loaded.Load(path); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Count() != 3 {
		t.Errorf("loaded Count = %d, want 3", loaded.Count())
	}
	hits, err := loaded.Search(unit(1.5), 1)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 1 || hits[0].Result.PhotoRef != "c.jpg" {
		t.Errorf("hits = %+v, want c.jpg", hits)
	}

	if err := NewHNSWIndex("OTHER").Load(path); err == nil {
		t.Error("loading an index of another model should fail")
	}
}

func TestHNSWIndex_SaveEmptyRemovesFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "results.hnsw")
	idx := NewHNSWIndex("M")
	idx.SetPath(path)
	_ = idx.Build(sampleResults())
	if err := idx.Save(); err != nil {
		t.Fatalf("Save: %v", err)
	}

	_ = idx.Build(nil)
	if err := idx.Save(); err != nil {
		t.Fatalf("Save empty: %v", err)
	}
	if _, err := LoadHNSWMetadata(path); err == nil {
		t.Error("metadata file should be removed for an empty index")
	}
}
