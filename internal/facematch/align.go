package facematch

import (
	"image"
	"math"

	"golang.org/x/image/draw"
	"golang.org/x/image/math/f64"
)

// Canonical face geometry for a 112 px recognizer input. Other sizes scale proportionally.
const (
	ReferenceFaceSize  = 112
	DesiredEyeDistance = 40.0
	TargetEyeX         = 0.5
	TargetEyeY         = 0.38
)

// Transform is the similarity transform mapping source pixels into the canonical face crop.
type Transform struct {
	Angle      float64 // eye line angle in the source, radians
	Scale      float64
	EyeCenter  Point // midpoint between the eyes in the source
	Target     Point // where EyeCenter lands in the output
	Degenerate bool  // eyes coincide; Scale fell back to 1
}

// AlignmentTransform computes the transform that levels the eye line, scales the
// inter-eye distance to the canonical one and centres the eyes at the target point.
func AlignmentTransform(first, second Point, targetSize int) Transform {
	dist := distance(first, second)
	t := Transform{
		Angle:     math.Atan2(second.Y-first.Y, second.X-first.X),
		EyeCenter: midpoint(first, second),
		Target:    Point{X: TargetEyeX * float64(targetSize), Y: TargetEyeY * float64(targetSize)},
	}
	if dist == 0 {
		t.Scale = 1
		t.Degenerate = true
	} else {
		t.Scale = DesiredEyeDistance * float64(targetSize) / ReferenceFaceSize / dist
	}
	return t
}

// Aff3 returns the source-to-destination matrix:
// translate(target) * rotate(-angle) * scale * translate(-eyeCenter).
func (t Transform) Aff3() f64.Aff3 {
	cos := math.Cos(t.Angle) * t.Scale
	sin := math.Sin(t.Angle) * t.Scale
	a, b := cos, sin
	d, e := -sin, cos
	return f64.Aff3{
		a, b, t.Target.X - (a*t.EyeCenter.X + b*t.EyeCenter.Y),
		d, e, t.Target.Y - (d*t.EyeCenter.X + e*t.EyeCenter.Y),
	}
}

// Apply maps a source point into output coordinates.
func (t Transform) Apply(p Point) Point {
	m := t.Aff3()
	return Point{
		X: m[0]*p.X + m[1]*p.Y + m[2],
		Y: m[3]*p.X + m[4]*p.Y + m[5],
	}
}

// Align warps img so the face described by landmarks sits in canonical pose inside a
// targetSize x targetSize crop. Only the two eye landmarks are used.
func Align(img image.Image, landmarks []Point, targetSize int) (*AlignedFace, Transform, error) {
	if len(landmarks) < 2 {
		return nil, Transform{}, ErrInsufficientLandmarks
	}

	origin := img.Bounds().Min
	right, left := landmarks[LandmarkRightEye], landmarks[LandmarkLeftEye]
	first := Point{X: right.X + float64(origin.X), Y: right.Y + float64(origin.Y)}
	second := Point{X: left.X + float64(origin.X), Y: left.Y + float64(origin.Y)}
	t := AlignmentTransform(first, second, targetSize)

	dst := image.NewNRGBA(image.Rect(0, 0, targetSize, targetSize))
	draw.CatmullRom.Transform(dst, t.Aff3(), img, img.Bounds(), draw.Src, nil)

	return &AlignedFace{Image: dst, Size: targetSize}, t, nil
}
