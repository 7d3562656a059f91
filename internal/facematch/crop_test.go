package facematch

import (
	"image/color"
	"testing"
)

func TestCropFace(t *testing.T) {
	img := uniformImage(400, 300, color.NRGBA{R: 50, G: 60, B: 70, A: 255})

	face, err := CropFace(img, FaceBox{XMin: 100, YMin: 80, Width: 120, Height: 100}, CropPadding, CropSize)
	if err != nil {
		t.Fatalf("CropFace returned error: %v", err)
	}
	b := face.Bounds()
	if b.Dx() != CropSize || b.Dy() != CropSize {
		t.Errorf("crop is %dx%d, want %dx%d", b.Dx(), b.Dy(), CropSize, CropSize)
	}
}

func TestCropFace_OutsideImage(t *testing.T) {
	img := uniformImage(100, 100, color.NRGBA{A: 255})

	if _, err := CropFace(img, FaceBox{XMin: 500, YMin: 500, Width: 20, Height: 20}, CropPadding, CropSize); err == nil {
		t.Error("expected error for box outside the image")
	}
}
