package facematch

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestGenerateAnchors_Count(t *testing.T) {
	tests := []struct {
		inputSize int
		expected  int
	}{
		{128, 896},
		{100, 13*13*2 + 7*7*6},
		{16, 2*2*2 + 1*1*6},
		{0, 0},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("size_%d", tt.inputSize), func(t *testing.T) {
			anchors := GenerateAnchors(tt.inputSize)
			if len(anchors) != tt.expected {
				t.Errorf("GenerateAnchors(%d) returned %d anchors, want %d", tt.inputSize, len(anchors), tt.expected)
			}
		})
	}
}

func TestGenerateAnchors_Layout(t *testing.T) {
	anchors := GenerateAnchors(128)

	tests := []struct {
		name  string
		index int
		x, y  float64
	}{
		{"first anchor", 0, 0.5 / 16, 0.5 / 16},
		{"second copy of first cell", 1, 0.5 / 16, 0.5 / 16},
		{"second cell in row", 2, 1.5 / 16, 0.5 / 16},
		{"second row", 32, 0.5 / 16, 1.5 / 16},
		{"last of first layer", 511, 15.5 / 16, 15.5 / 16},
		{"first of second layer", 512, 0.5 / 8, 0.5 / 8},
		{"sixth copy of first cell", 517, 0.5 / 8, 0.5 / 8},
		{"second cell of second layer", 518, 1.5 / 8, 0.5 / 8},
		{"last anchor", 895, 7.5 / 8, 7.5 / 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := anchors[tt.index]
			if math.Abs(a.X-tt.x) > 1e-9 || math.Abs(a.Y-tt.y) > 1e-9 {
				t.Errorf("anchor %d = (%v, %v), want (%v, %v)", tt.index, a.X, a.Y, tt.x, tt.y)
			}
		})
	}
}

func TestGenerateAnchors_InUnitSquare(t *testing.T) {
	for i, a := range GenerateAnchors(128) {
		if a.X <= 0 || a.X >= 1 || a.Y <= 0 || a.Y >= 1 {
			t.Fatalf("anchor %d = %+v outside (0, 1)", i, a)
		}
	}
}

func TestAnchorGrid_Validate(t *testing.T) {
	grid := NewAnchorGrid(128)

	if err := grid.Validate(896); err != nil {
		t.Errorf("Validate(896) returned error: %v", err)
	}

	err := grid.Validate(2304)
	if err == nil {
		t.Fatal("expected error for mismatched row count")
	}
	var ce *ConfigurationError
	if !errors.As(err, &ce) {
		t.Errorf("expected *ConfigurationError, got %T", err)
	}
	if !IsConfigurationError(err) {
		t.Error("IsConfigurationError returned false")
	}
}
