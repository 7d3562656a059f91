package handlers

import (
	"net/http"

	"github.com/kozaktomas/face-finder/internal/config"
	"github.com/kozaktomas/face-finder/internal/facematch"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
	model  string
}

// NewConfigHandler creates a new config handler. model is the recognizer the server runs.
func NewConfigHandler(cfg *config.Config, model string) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
		model:  model,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Threshold        float64     `json:"threshold"`
	ThresholdLabel   string      `json:"threshold_label"`
	ProcessDelayMs   int64       `json:"process_delay_ms"`
	RecognitionModel string      `json:"recognition_model"`
	Models           []ModelInfo `json:"models"`
	StorageEnabled   bool        `json:"storage_enabled"`
}

// ModelInfo describes a selectable recognition model
type ModelInfo struct {
	ID        string `json:"id"`
	InputSize int    `json:"input_size"`
	OutputDim int    `json:"output_dim"`
	Active    bool   `json:"active"`
}

// Get returns the effective scan configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	scan := h.config.Scan

	models := []ModelInfo{}
	for _, id := range h.config.Models.RecognizerIDs() {
		spec := h.config.Models.Recognizers[id]
		models = append(models, ModelInfo{
			ID:        id,
			InputSize: spec.InputSize,
			OutputDim: spec.OutputDim,
			Active:    id == h.model,
		})
	}

	respondJSON(w, http.StatusOK, ConfigResponse{
		Threshold:        scan.Threshold,
		ThresholdLabel:   facematch.ThresholdLabel(scan.Threshold),
		ProcessDelayMs:   scan.ProcessDelay.Milliseconds(),
		RecognitionModel: h.model,
		Models:           models,
		StorageEnabled:   h.config.Database.URL != "",
	})
}
