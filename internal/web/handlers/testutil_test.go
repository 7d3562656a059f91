package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/logging"
)

const testModel = config.ModelMobileFaceNet

// testConfig creates a minimal config for testing
func testConfig() *config.Config {
	return &config.Config{
		Scan:   config.ScanConfig{Threshold: 0.60, RecognitionModel: testModel},
		Models: config.LoadCatalog(),
	}
}

// requestWithChiParams creates a request with chi URL parameters
func requestWithChiParams(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func decodeResponse(t *testing.T, body *bytes.Buffer, v any) {
	t.Helper()
	if err := json.Unmarshal(body.Bytes(), v); err != nil {
		t.Fatalf("failed to unmarshal response %q: %v", body.String(), err)
	}
}

// unitEmbedding returns a 192-d vector whose cosine with e0 equals similarity.
func unitEmbedding(similarity float64) facematch.Embedding {
	e := make(facematch.Embedding, 192)
	e[0] = float32(similarity)
	e[1] = float32(1 - similarity*similarity)
	n, _ := facematch.Normalize(e)
	return n
}

// fakeEmbedder treats uniformly black images as faceless.
type fakeEmbedder struct{}

func (fakeEmbedder) Model() string { return testModel }

func (fakeEmbedder) ComputeTargetEmbedding(_ context.Context, img image.Image) (facematch.TargetEmbedding, float64, error) {
	r, g, b, _ := img.At(0, 0).RGBA()
	if r == 0 && g == 0 && b == 0 {
		return facematch.TargetEmbedding{}, 0, facematch.ErrNoFaceDetected
	}
	return facematch.TargetEmbedding{Model: testModel, Embedding: unitEmbedding(1)}, 0.9, nil
}

// memorySource serves in-memory images by reference.
type memorySource map[string]image.Image

func (m memorySource) Load(_ context.Context, ref string) (image.Image, error) {
	img, ok := m[ref]
	if !ok {
		return nil, facematch.ErrImageSource
	}
	return img, nil
}

func solidImage(c color.Color) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// fakeAnalyzer scores photos by file name: names starting with "match" are
// matches, "noface" fails, anything else is a non-match. block, when set,
// is waited on before each answer.
type fakeAnalyzer struct {
	mu    sync.Mutex
	block chan struct{}
	calls int
}

func (f *fakeAnalyzer) Model() string { return testModel }

func (f *fakeAnalyzer) AnalyzePhoto(_ context.Context, ref string) (*facematch.FaceAnalysis, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()
	if block != nil {
		<-block
	}

	name := filepath.Base(ref)
	if strings.HasPrefix(name, "noface") {
		return nil, facematch.ErrNoFaceDetected
	}
	similarity := 0.2
	if strings.HasPrefix(name, "match") {
		similarity = 0.9
	}
	return &facematch.FaceAnalysis{
		Detection: facematch.Detection{Box: facematch.FaceBox{XMin: 10, YMin: 10, Width: 120, Height: 120}, Score: 0.95},
		Embedding: unitEmbedding(similarity),
		Quality:   1,
	}, nil
}

var testLogger = logging.Discard()
