package facematch

import "fmt"

// RegressionStride is the number of regression values per anchor:
// dx, dy, dw, dh followed by six (x, y) landmark offsets.
const RegressionStride = 4 + 2*LandmarkCount

// DefaultScoreThreshold is the minimum detector confidence for a detection to be kept.
const DefaultScoreThreshold = 0.70

// DecodeOptions control detector output decoding.
type DecodeOptions struct {
	// InputSize is the detector's square input size (S). Offsets are divided by it.
	InputSize int
	// ScoreThreshold discards anchors scoring below it. Zero means DefaultScoreThreshold.
	ScoreThreshold float64
}

// Decode turns raw detector output into detections in source-image pixels.
// regressions holds RegressionStride values per anchor and scores one value per anchor,
// both in anchor order. Anchors scoring below the threshold are skipped.
func Decode(regressions, scores []float32, grid *AnchorGrid, imageW, imageH int, opts DecodeOptions) ([]Detection, error) {
	n := grid.Len()
	if len(scores) < n {
		return nil, &ConfigurationError{Component: "detection decoder", Reason: fmt.Sprintf("score output has %d values, need %d", len(scores), n)}
	}
	if len(regressions) < n*RegressionStride {
		return nil, &ConfigurationError{Component: "detection decoder", Reason: fmt.Sprintf("regression output has %d values, need %d", len(regressions), n*RegressionStride)}
	}

	threshold := opts.ScoreThreshold
	if threshold == 0 {
		threshold = DefaultScoreThreshold
	}
	size := float64(opts.InputSize)
	if size <= 0 {
		size = float64(grid.InputSize())
	}
	w := float64(imageW)
	h := float64(imageH)

	var detections []Detection
	for i := range n {
		score := float64(scores[i])
		if !(score >= threshold) { // also drops NaN
			continue
		}

		anchor := grid.At(i)
		row := regressions[i*RegressionStride : (i+1)*RegressionStride]

		cx := float64(row[0])/size + anchor.X
		cy := float64(row[1])/size + anchor.Y
		bw := float64(row[2]) / size
		bh := float64(row[3]) / size

		box := FaceBox{
			XMin:   (cx - bw/2) * w,
			YMin:   (cy - bh/2) * h,
			Width:  bw * w,
			Height: bh * h,
		}
		if box.Width <= 0 || box.Height <= 0 {
			continue
		}

		landmarks := make([]Point, LandmarkCount)
		for j := range LandmarkCount {
			landmarks[j] = Point{
				X: (float64(row[4+2*j])/size + anchor.X) * w,
				Y: (float64(row[5+2*j])/size + anchor.Y) * h,
			}
		}

		detections = append(detections, Detection{Box: box, Score: score, Landmarks: landmarks})
	}
	return detections, nil
}

// SelectBest returns the highest-scoring detection. Ties go to the earliest one.
// The second result is false when there are no detections.
func SelectBest(detections []Detection) (Detection, bool) {
	if len(detections) == 0 {
		return Detection{}, false
	}
	best := 0
	for i := 1; i < len(detections); i++ {
		if detections[i].Score > detections[best].Score {
			best = i
		}
	}
	return detections[best], true
}
