package inference

import (
	"context"
	"errors"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"

	"github.com/kozaktomas/face-finder/internal/facematch"
)

func TestCollectPhotos(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		"b.jpg",
		"a.PNG",
		"notes.txt",
		"nested/c.webp",
		".hidden/d.jpg",
	}
	for _, f := range files {
		path := filepath.Join(dir, f)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	photos, err := CollectPhotos([]string{dir, filepath.Join(dir, "b.jpg")})
	if err != nil {
		t.Fatalf("CollectPhotos returned error: %v", err)
	}

	expected := []string{
		filepath.Join(dir, "a.PNG"),
		filepath.Join(dir, "b.jpg"),
		filepath.Join(dir, "nested", "c.webp"),
	}
	if len(photos) != len(expected) {
		t.Fatalf("got %v, want %v", photos, expected)
	}
	for i := range expected {
		if photos[i] != expected[i] {
			t.Errorf("photos[%d] = %s, want %s", i, photos[i], expected[i])
		}
	}
}

func TestCollectPhotos_MissingPath(t *testing.T) {
	if _, err := CollectPhotos([]string{filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Error("expected error for missing path")
	}
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "face.png")
	if err := imaging.Save(solid(30, 20, color.NRGBA{R: 1, A: 255}), path); err != nil {
		t.Fatal(err)
	}

	img, err := FileSource{}.Load(context.Background(), path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 30 || b.Dy() != 20 {
		t.Errorf("loaded %dx%d, want 30x20", b.Dx(), b.Dy())
	}

	_, err = FileSource{}.Load(context.Background(), filepath.Join(t.TempDir(), "missing.jpg"))
	if !errors.Is(err, facematch.ErrImageSource) {
		t.Errorf("expected ErrImageSource, got %v", err)
	}
}

func TestIsPhoto(t *testing.T) {
	tests := []struct {
		path     string
		expected bool
	}{
		{"a.jpg", true},
		{"A.JPEG", true},
		{"x.webp", true},
		{"x.heic", false},
		{"README", false},
	}
	for _, tt := range tests {
		if got := IsPhoto(tt.path); got != tt.expected {
			t.Errorf("IsPhoto(%q) = %v, want %v", tt.path, got, tt.expected)
		}
	}
}
