package handlers

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"strings"

	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/logging"
)

const (
	errInvalidRequestBody = "invalid request body"

	// maxJSONBody bounds request bodies that carry JSON rather than images.
	maxJSONBody = 1 << 20
)

// TargetEmbedder computes a reference embedding from a target photo.
type TargetEmbedder interface {
	Model() string
	ComputeTargetEmbedding(ctx context.Context, img image.Image) (facematch.TargetEmbedding, float64, error)
}

var logLineBreaks = strings.NewReplacer("\n", "", "\r", "")

// sanitizeForLog strips line breaks from client supplied values before they are logged.
func sanitizeForLog(s string) string {
	return logLineBreaks.Replace(s)
}

// decodeJSON reads a size-limited JSON body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody)).Decode(dst)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logging.Logger().WithError(err).Debug("writing JSON response")
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// HealthCheck reports that the API is up. It does not touch the database or the models.
func HealthCheck(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
