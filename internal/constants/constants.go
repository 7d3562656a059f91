// Package constants holds limits shared by the CLI, the scanner and the HTTP API.
package constants

// Scan constants
const (
	// MaxProcessDelayMs caps the per-photo pause a caller may request
	MaxProcessDelayMs = 5000

	// MaxImageSize is the maximum dimension (width or height) of saved face previews
	MaxImageSize = 1920
)

// Similarity search constants
const (
	// DefaultSimilarLimit is the default number of stored faces returned by a similarity search
	DefaultSimilarLimit = 20

	// DefaultSimilarityThreshold is the minimum similarity for a stored face to be listed
	DefaultSimilarityThreshold = 0.3
)

// HTTP API limits
const (
	// MaxUploadSize bounds a multipart reference photo upload
	MaxUploadSize = 100 << 20

	// DefaultResultsPageSize is also the largest page a scan result listing returns
	DefaultResultsPageSize = 500

	// EventChannelBuffer is the per-listener backlog of scan events before they are dropped
	EventChannelBuffer = 100
)

// Supported photo file extensions (lowercase, with dot)
var PhotoExtensions = []string{".jpg", ".jpeg", ".png", ".gif", ".bmp", ".tif", ".tiff", ".webp"}
