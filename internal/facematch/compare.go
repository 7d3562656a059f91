package facematch

import (
	"fmt"
	"math"
)

// NoComparison is returned by BestMatch when no candidate/target pair had equal dimensions.
const NoComparison = -1.0

// Normalize scales raw to unit L2 norm. A zero or empty vector cannot be normalized.
func Normalize(raw []float32) (Embedding, error) {
	var sum float64
	for _, v := range raw {
		sum += float64(v) * float64(v)
	}
	norm := math.Sqrt(sum)
	if norm == 0 || math.IsNaN(norm) || math.IsInf(norm, 0) {
		return nil, ErrZeroNorm
	}

	out := make(Embedding, len(raw))
	for i, v := range raw {
		out[i] = float32(float64(v) / norm)
	}
	return out, nil
}

// CosineSimilarity returns the dot product of two normalized embeddings.
func CosineSimilarity(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrDimensionMismatch, len(a), len(b))
	}
	return dot(a, b), nil
}

// BestMatch returns the highest similarity over every candidate/target pair.
// Pairs with different lengths are skipped; NoComparison means nothing was comparable.
func BestMatch(candidates, targets []Embedding) float64 {
	best := NoComparison
	for _, c := range candidates {
		for _, t := range targets {
			if len(c) != len(t) {
				continue
			}
			if s := dot(c, t); s > best {
				best = s
			}
		}
	}
	return best
}

// CosineDistance converts similarity to distance (1 - similarity), as used by the ANN index.
func CosineDistance(a, b Embedding) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2.0
	}
	return 1 - dot(a, b)
}

func dot(a, b Embedding) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}
