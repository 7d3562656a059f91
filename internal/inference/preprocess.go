package inference

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
)

// TensorFormat describes how an image is written into a model input tensor.
type TensorFormat struct {
	Size int     // square input side
	NCHW bool    // channels-first instead of channels-last
	Mean float32 // subtracted from each 0..255 channel value
	Std  float32 // divisor after subtracting the mean
}

// Len returns the number of floats for one image.
func (f TensorFormat) Len() int {
	return f.Size * f.Size * 3
}

// Preprocess resizes img to the tensor size with bilinear filtering and writes
// normalized RGB values into dst. When dst holds more than one image (a batch),
// the first slot is tiled into the others.
func Preprocess(img image.Image, f TensorFormat, dst []float32) error {
	n := f.Len()
	if n == 0 || len(dst) < n || len(dst)%n != 0 {
		return fmt.Errorf("tensor of %d values cannot hold %dx%d RGB images", len(dst), f.Size, f.Size)
	}
	std := f.Std
	if std == 0 {
		std = 1
	}

	var src *image.NRGBA
	if b := img.Bounds(); b.Dx() == f.Size && b.Dy() == f.Size {
		src = imaging.Clone(img)
	} else {
		src = imaging.Resize(img, f.Size, f.Size, imaging.Linear)
	}

	plane := f.Size * f.Size
	for y := range f.Size {
		row := src.Pix[y*src.Stride : y*src.Stride+f.Size*4]
		for x := range f.Size {
			r := (float32(row[x*4]) - f.Mean) / std
			g := (float32(row[x*4+1]) - f.Mean) / std
			b := (float32(row[x*4+2]) - f.Mean) / std
			i := y*f.Size + x
			if f.NCHW {
				dst[i] = r
				dst[plane+i] = g
				dst[2*plane+i] = b
			} else {
				dst[i*3] = r
				dst[i*3+1] = g
				dst[i*3+2] = b
			}
		}
	}

	for off := n; off < len(dst); off += n {
		copy(dst[off:off+n], dst[:n])
	}
	return nil
}

// Sigmoid maps detector logits to probabilities in place.
func Sigmoid(values []float32) {
	for i, v := range values {
		values[i] = float32(1 / (1 + math.Exp(-float64(v))))
	}
}
