package facematch

import (
	"errors"
	"fmt"
)

// Per-item failures. A scan records these as a non-match and moves on.
var (
	ErrNoFaceDetected        = errors.New("no face detected")
	ErrDimensionMismatch     = errors.New("embedding dimension mismatch")
	ErrInferenceFailure      = errors.New("inference failure")
	ErrZeroNorm              = errors.New("embedding has zero norm")
	ErrInsufficientLandmarks = errors.New("at least two landmarks are required for alignment")
	ErrImageSource           = errors.New("image source failure")
)

// ErrDegenerateGeometry describes coincident eye landmarks. It is never returned:
// alignment falls back to unit scale and reports it through Transform.Degenerate.
var ErrDegenerateGeometry = errors.New("degenerate eye geometry")

// ConfigurationError is raised when the loaded models disagree with the pipeline's
// expectations (anchor count vs output rows, unexpected tensor shapes).
// It is the only error that stops a scan before it begins.
type ConfigurationError struct {
	Component string
	Reason    string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Reason)
}

// IsConfigurationError reports whether err wraps a *ConfigurationError.
func IsConfigurationError(err error) bool {
	var ce *ConfigurationError
	return errors.As(err, &ce)
}
