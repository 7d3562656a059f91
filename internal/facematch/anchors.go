package facematch

import "fmt"

// Short-range detector anchor layout: two feature layers.
var (
	anchorStrides        = []int{8, 16}
	anchorsPerCellLayers = []int{2, 6}
)

// AnchorGrid holds the normalized anchor centres of the detector, in output row order.
type AnchorGrid struct {
	inputSize int
	anchors   []Point
}

// NewAnchorGrid generates the anchor grid for a detector with the given square input size.
func NewAnchorGrid(inputSize int) *AnchorGrid {
	return &AnchorGrid{inputSize: inputSize, anchors: GenerateAnchors(inputSize)}
}

// GenerateAnchors returns anchor centres in [0, 1] for each layer, row-major (y outer, x inner),
// with anchorsPerCell copies per cell. For an input size of 128 this yields 896 anchors.
func GenerateAnchors(inputSize int) []Point {
	if inputSize <= 0 {
		return nil
	}

	total := 0
	for i, stride := range anchorStrides {
		n := ceilDiv(inputSize, stride)
		total += n * n * anchorsPerCellLayers[i]
	}

	anchors := make([]Point, 0, total)
	for i, stride := range anchorStrides {
		rows := ceilDiv(inputSize, stride)
		cols := rows
		for y := range rows {
			for x := range cols {
				p := Point{
					X: (float64(x) + 0.5) / float64(cols),
					Y: (float64(y) + 0.5) / float64(rows),
				}
				for range anchorsPerCellLayers[i] {
					anchors = append(anchors, p)
				}
			}
		}
	}
	return anchors
}

// InputSize returns the detector input size the grid was generated for.
func (g *AnchorGrid) InputSize() int {
	return g.inputSize
}

// Len returns the number of anchors.
func (g *AnchorGrid) Len() int {
	return len(g.anchors)
}

// At returns anchor i.
func (g *AnchorGrid) At(i int) Point {
	return g.anchors[i]
}

// Validate checks the grid against the number of rows the detector declares per output.
func (g *AnchorGrid) Validate(rows int) error {
	if rows != len(g.anchors) {
		return &ConfigurationError{
			Component: "anchor grid",
			Reason:    fmt.Sprintf("detector declares %d output rows, grid for input %d has %d anchors", rows, g.inputSize, len(g.anchors)),
		}
	}
	return nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}
