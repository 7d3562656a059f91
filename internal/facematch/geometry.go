package facematch

import (
	"image"
	"math"
)

// MinDimension returns the shorter side of the box.
func (b FaceBox) MinDimension() float64 {
	return math.Min(b.Width, b.Height)
}

// Center returns the centre point of the box.
func (b FaceBox) Center() Point {
	return Point{X: b.XMin + b.Width/2, Y: b.YMin + b.Height/2}
}

// Corners returns the box as [x1, y1, x2, y2].
func (b FaceBox) Corners() []float64 {
	return []float64{b.XMin, b.YMin, b.XMin + b.Width, b.YMin + b.Height}
}

// ComputeIoU calculates Intersection over Union between two bounding boxes.
// bbox1 and bbox2 are [x1, y1, x2, y2] in the same coordinate system.
func ComputeIoU(bbox1, bbox2 []float64) float64 {
	if len(bbox1) != 4 || len(bbox2) != 4 {
		return 0
	}

	x1 := max(bbox1[0], bbox2[0])
	y1 := max(bbox1[1], bbox2[1])
	x2 := min(bbox1[2], bbox2[2])
	y2 := min(bbox1[3], bbox2[3])

	if x2 <= x1 || y2 <= y1 {
		return 0
	}

	intersection := (x2 - x1) * (y2 - y1)
	area1 := (bbox1[2] - bbox1[0]) * (bbox1[3] - bbox1[1])
	area2 := (bbox2[2] - bbox2[0]) * (bbox2[3] - bbox2[1])
	union := area1 + area2 - intersection

	if union <= 0 {
		return 0
	}

	return intersection / union
}

// PaddedRect expands the box by padding (fraction of each side) and clips it to bounds.
// Returns an empty rectangle when the box lies entirely outside bounds.
func (b FaceBox) PaddedRect(padding float64, bounds image.Rectangle) image.Rectangle {
	padX := b.Width * padding
	padY := b.Height * padding
	r := image.Rect(
		int(math.Floor(b.XMin-padX)),
		int(math.Floor(b.YMin-padY)),
		int(math.Ceil(b.XMin+b.Width+padX)),
		int(math.Ceil(b.YMin+b.Height+padY)),
	)
	return r.Intersect(bounds)
}

func distance(a, b Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

func midpoint(a, b Point) Point {
	return Point{X: (a.X + b.X) / 2, Y: (a.Y + b.Y) / 2}
}
