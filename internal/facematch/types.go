// Package facematch implements the post-processing half of the face matching pipeline:
// detector anchor decoding, face alignment, embedding comparison and quality gating.
// Inference itself lives behind the inference package; everything here is pure math.
package facematch

import "image"

// Point is a 2-D coordinate in the pixel space of the image it was decoded for.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FaceBox is an axis-aligned face rectangle in source pixels.
// Width and Height are always positive.
type FaceBox struct {
	XMin   float64 `json:"x_min"`
	YMin   float64 `json:"y_min"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Detection is a decoded face: box, detector confidence and six keypoints.
// Landmarks follow the detector's output order and are named from the subject's
// perspective: the subject's right eye comes first and lies on the image-left side
// of an upright frontal face, then left eye, nose tip, mouth, right ear, left ear.
type Detection struct {
	Box       FaceBox `json:"box"`
	Score     float64 `json:"score"`
	Landmarks []Point `json:"landmarks"`
}

// Landmark indexes within Detection.Landmarks.
const (
	LandmarkRightEye = iota
	LandmarkLeftEye
	LandmarkNose
	LandmarkMouth
	LandmarkRightEar
	LandmarkLeftEar

	LandmarkCount
)

// Embedding is an L2-normalized feature vector produced by a recognition model.
type Embedding []float32

// AlignedFace is a square face crop in canonical pose, ready for the recognizer.
type AlignedFace struct {
	Image *image.NRGBA
	Size  int
}

// TargetEmbedding is one reference embedding with the model that produced it.
type TargetEmbedding struct {
	Model     string    `json:"model"`
	Embedding Embedding `json:"-"`
}

// TargetProfile is the set of reference embeddings representing the person being searched for.
type TargetProfile struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Embeddings []TargetEmbedding `json:"embeddings"`
}

// ForModel returns the embeddings produced by model. An empty model returns all of them.
func (p TargetProfile) ForModel(model string) []Embedding {
	var out []Embedding
	for _, te := range p.Embeddings {
		if model != "" && te.Model != model {
			continue
		}
		out = append(out, te.Embedding)
	}
	return out
}

// Snapshot returns a deep copy of the profile so later edits never leak into a running scan.
func (p TargetProfile) Snapshot() TargetProfile {
	cp := TargetProfile{ID: p.ID, Name: p.Name, Embeddings: make([]TargetEmbedding, len(p.Embeddings))}
	for i, te := range p.Embeddings {
		emb := make(Embedding, len(te.Embedding))
		copy(emb, te.Embedding)
		cp.Embeddings[i] = TargetEmbedding{Model: te.Model, Embedding: emb}
	}
	return cp
}

// FaceAnalysis is the outcome of running a single image through the pipeline.
type FaceAnalysis struct {
	Detection Detection
	Embedding Embedding
	Quality   float64
	Sharpened bool
}
