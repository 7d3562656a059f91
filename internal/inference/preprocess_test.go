package inference

import (
	"image"
	"image/color"
	"math"
	"testing"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func TestPreprocess_Normalization(t *testing.T) {
	tests := []struct {
		name   string
		format TensorFormat
		pixel  uint8
		want   float32
	}{
		{"detector white", TensorFormat{Size: 4, Mean: 127.5, Std: 127.5}, 255, 1},
		{"detector black", TensorFormat{Size: 4, Mean: 127.5, Std: 127.5}, 0, -1},
		{"recognizer white", TensorFormat{Size: 4, Mean: 127.5, Std: 128}, 255, 127.5 / 128},
		{"recognizer black", TensorFormat{Size: 4, Mean: 127.5, Std: 128}, 0, -127.5 / 128},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			img := solid(4, 4, color.NRGBA{R: tt.pixel, G: tt.pixel, B: tt.pixel, A: 255})
			dst := make([]float32, tt.format.Len())
			if err := Preprocess(img, tt.format, dst); err != nil {
				t.Fatalf("Preprocess returned error: %v", err)
			}
			for i, v := range dst {
				if math.Abs(float64(v-tt.want)) > 1e-5 {
					t.Fatalf("dst[%d] = %v, want %v", i, v, tt.want)
				}
			}
		})
	}
}

func TestPreprocess_Layout(t *testing.T) {
	img := solid(2, 2, color.NRGBA{R: 255, G: 0, B: 255, A: 255})
	f := TensorFormat{Size: 2, Mean: 0, Std: 255}

	nhwc := make([]float32, f.Len())
	if err := Preprocess(img, f, nhwc); err != nil {
		t.Fatal(err)
	}
	if nhwc[0] != 1 || nhwc[1] != 0 || nhwc[2] != 1 {
		t.Errorf("NHWC first pixel = %v, want [1 0 1]", nhwc[:3])
	}

	f.NCHW = true
	nchw := make([]float32, f.Len())
	if err := Preprocess(img, f, nchw); err != nil {
		t.Fatal(err)
	}
	for i := range 4 {
		if nchw[i] != 1 || nchw[4+i] != 0 || nchw[8+i] != 1 {
			t.Fatalf("NCHW planes = %v, want R=1 G=0 B=1", nchw)
		}
	}
}

func TestPreprocess_ResizesInput(t *testing.T) {
	img := solid(300, 200, color.NRGBA{R: 255, G: 255, B: 255, A: 255})
	f := TensorFormat{Size: 8, Mean: 127.5, Std: 127.5}
	dst := make([]float32, f.Len())

	if err := Preprocess(img, f, dst); err != nil {
		t.Fatalf("Preprocess returned error: %v", err)
	}
	if math.Abs(float64(dst[len(dst)-1]-1)) > 1e-5 {
		t.Errorf("last value = %v, want 1", dst[len(dst)-1])
	}
}

func TestPreprocess_TilesBatch(t *testing.T) {
	img := solid(2, 2, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	f := TensorFormat{Size: 2, Std: 1}
	dst := make([]float32, 3*f.Len())

	if err := Preprocess(img, f, dst); err != nil {
		t.Fatalf("Preprocess returned error: %v", err)
	}
	for slot := 1; slot < 3; slot++ {
		for i := range f.Len() {
			if dst[slot*f.Len()+i] != dst[i] {
				t.Fatalf("batch slot %d differs from slot 0 at %d", slot, i)
			}
		}
	}
}

func TestPreprocess_BadTensor(t *testing.T) {
	img := solid(2, 2, color.NRGBA{A: 255})
	f := TensorFormat{Size: 2}

	if err := Preprocess(img, f, make([]float32, 5)); err == nil {
		t.Error("expected error for undersized tensor")
	}
	if err := Preprocess(img, f, make([]float32, 13)); err == nil {
		t.Error("expected error for tensor that is not a whole batch")
	}
}

func TestSigmoid(t *testing.T) {
	values := []float32{0, 100, -100}
	Sigmoid(values)

	if math.Abs(float64(values[0])-0.5) > 1e-6 {
		t.Errorf("sigmoid(0) = %v, want 0.5", values[0])
	}
	if values[1] < 0.999 || values[2] > 0.001 {
		t.Errorf("sigmoid saturation wrong: %v", values)
	}
}
