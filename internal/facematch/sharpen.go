package facematch

import (
	"image"

	"github.com/disintegration/imaging"
)

const (
	// SmallFaceCutoff is the minimal box side (px) below which aligned faces get sharpened.
	SmallFaceCutoff = 64
	// DefaultSharpenAmount blends the sharpened image with the original.
	DefaultSharpenAmount = 0.5
)

var sharpenKernel = [9]float64{
	0, -1, 0,
	-1, 5, -1,
	0, -1, 0,
}

// Sharpen applies a 3x3 unsharp kernel with edge clamping and blends the result
// with the original: out = orig*(1-amount) + sharpened*amount, clamped to 0..255.
func Sharpen(img image.Image, amount float64) *image.NRGBA {
	if amount <= 0 {
		return imaging.Clone(img)
	}
	amount = min(amount, 1)
	sharpened := imaging.Convolve3x3(img, sharpenKernel, nil)
	return imaging.Overlay(img, sharpened, img.Bounds().Min, amount)
}

// NeedsSharpening reports whether a face of the given minimal side is small enough to sharpen.
func NeedsSharpening(minDimPx float64) bool {
	return minDimPx < SmallFaceCutoff
}
