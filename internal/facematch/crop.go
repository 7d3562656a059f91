package facematch

import (
	"fmt"
	"image"

	"github.com/disintegration/imaging"
)

// Face preview defaults.
const (
	CropPadding = 0.25
	CropSize    = 224
)

// CropFace cuts the detected face out of img with padding around the box and
// fills a size x size square. Used for match previews, not for recognition.
func CropFace(img image.Image, box FaceBox, padding float64, size int) (*image.NRGBA, error) {
	rect := box.PaddedRect(padding, img.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("face box %+v lies outside image bounds %v", box, img.Bounds())
	}
	face := imaging.Crop(img, rect)
	return imaging.Fill(face, size, size, imaging.Center, imaging.Lanczos), nil
}
