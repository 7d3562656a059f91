package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/inference"
	"github.com/kozaktomas/face-finder/internal/scanner"
)

// ScansHandler exposes the scan orchestrator. At most one scan runs at a time.
type ScansHandler struct {
	orchestrator *scanner.Orchestrator
	targets      database.TargetReader
	scans        database.ScanWriter // optional, nil disables persistence
	defaults     scanner.Settings
	log          logrus.FieldLogger

	mu     sync.Mutex
	scanID string
	active bool // a background scan goroutine exists
	wg     sync.WaitGroup
}

// NewScansHandler creates a new scans handler
func NewScansHandler(
	orchestrator *scanner.Orchestrator, targets database.TargetReader, scans database.ScanWriter,
	defaults scanner.Settings, log logrus.FieldLogger,
) *ScansHandler {
	return &ScansHandler{
		orchestrator: orchestrator,
		targets:      targets,
		scans:        scans,
		defaults:     defaults,
		log:          log,
	}
}

// StartScanRequest is the body of POST /scans
type StartScanRequest struct {
	TargetID       string   `json:"target_id"`
	Paths          []string `json:"paths"`
	Threshold      *float64 `json:"threshold,omitempty"`
	ProcessDelayMs *int     `json:"process_delay_ms,omitempty"`
}

// StartScanResponse is returned when a scan is accepted
type StartScanResponse struct {
	ScanID string `json:"scan_id"`
	Total  int    `json:"total"`
}

// ScanStatusResponse describes the current or last scan
type ScanStatusResponse struct {
	ScanID         string           `json:"scan_id,omitempty"`
	State          scanner.State    `json:"state"`
	Stats          scanner.Stats    `json:"stats"`
	Progress       int              `json:"progress"`
	Settings       scanner.Settings `json:"settings"`
	ThresholdLabel string           `json:"threshold_label,omitempty"`
	TargetID       string           `json:"target_id,omitempty"`
	TargetName     string           `json:"target_name,omitempty"`
}

// Start validates the request and runs the scan in the background.
func (h *ScansHandler) Start(w http.ResponseWriter, r *http.Request) {
	var req StartScanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	if req.TargetID == "" || len(req.Paths) == 0 {
		respondError(w, http.StatusBadRequest, "target_id and paths are required")
		return
	}

	settings := h.defaults
	if req.Threshold != nil {
		settings.Threshold = *req.Threshold
	}
	if req.ProcessDelayMs != nil {
		if *req.ProcessDelayMs > constants.MaxProcessDelayMs {
			respondError(w, http.StatusBadRequest, "process_delay_ms too large")
			return
		}
		settings.ProcessDelay = time.Duration(*req.ProcessDelayMs) * time.Millisecond
	}
	if err := settings.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if h.busy() {
		respondError(w, http.StatusConflict, scanner.ErrScanRunning.Error())
		return
	}

	target, err := database.ResolveTarget(r.Context(), h.targets, req.TargetID)
	if err != nil {
		respondError(w, http.StatusNotFound, err.Error())
		return
	}
	profile := target.Profile()
	if len(profile.ForModel(settings.RecognitionModel)) == 0 {
		respondError(w, http.StatusUnprocessableEntity, scanner.ErrEmptyProfile.Error())
		return
	}

	paths, err := inference.CollectPhotos(req.Paths)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	scanID := uuid.NewString()
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		respondError(w, http.StatusConflict, scanner.ErrScanRunning.Error())
		return
	}
	h.active = true
	h.scanID = scanID
	h.mu.Unlock()

	h.wg.Add(1)
	go h.run(scanID, scanner.PhotosFromPaths(paths), profile, settings)

	respondJSON(w, http.StatusAccepted, StartScanResponse{ScanID: scanID, Total: len(paths)})
}

// run owns the scan lifetime; it is not tied to the request that started it.
func (h *ScansHandler) run(scanID string, photos []scanner.Photo, profile facematch.TargetProfile, settings scanner.Settings) {
	defer h.wg.Done()
	defer func() {
		h.mu.Lock()
		h.active = false
		h.mu.Unlock()
	}()
	log := h.log.WithField("scan", scanID)

	if err := h.orchestrator.Start(context.Background(), photos, profile, settings); err != nil {
		log.WithError(err).Error("scan did not start")
		return
	}
	if h.scans == nil {
		return
	}

	scan, results := h.orchestrator.Export(scanID)
	if err := h.scans.SaveScan(context.Background(), scan, results); err != nil {
		log.WithError(err).Error("failed to persist scan")
		return
	}
	log.WithField("results", len(results)).Debug("scan persisted")
}

func (h *ScansHandler) busy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.active || h.orchestrator.State() == scanner.StateRunning
}

// Wait blocks until a background scan, including persistence, has finished.
func (h *ScansHandler) Wait() {
	h.wg.Wait()
}

func (h *ScansHandler) status() ScanStatusResponse {
	h.mu.Lock()
	scanID := h.scanID
	h.mu.Unlock()

	state := h.orchestrator.State()
	stats := h.orchestrator.Stats()
	resp := ScanStatusResponse{
		State:    state,
		Stats:    stats,
		Progress: stats.Progress(),
	}
	if state == scanner.StateIdle {
		return resp
	}
	settings := h.orchestrator.Settings()
	target := h.orchestrator.Target()
	resp.ScanID = scanID
	resp.Settings = settings
	resp.ThresholdLabel = facematch.ThresholdLabel(settings.Threshold)
	resp.TargetID = target.ID
	resp.TargetName = target.Name
	return resp
}

// Current returns the state of the current or last scan
func (h *ScansHandler) Current(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.status())
}

// ResultsResponse is a page of scan results
type ResultsResponse struct {
	Results []scanner.CandidateResult `json:"results"`
	Count   int                       `json:"count"`
	Offset  int                       `json:"offset"`
	Limit   int                       `json:"limit"`
}

// Results returns per-photo results in input order.
// Query: matched=true, offset, limit.
func (h *ScansHandler) Results(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	matched, _ := strconv.ParseBool(q.Get("matched"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	if offset < 0 {
		offset = 0
	}
	if limit <= 0 || limit > constants.DefaultResultsPageSize {
		limit = constants.DefaultResultsPageSize
	}

	all := h.orchestrator.Results(matched)
	page := []scanner.CandidateResult{}
	if offset < len(all) {
		page = all[offset:min(offset+limit, len(all))]
	}
	respondJSON(w, http.StatusOK, ResultsResponse{Results: page, Count: len(all), Offset: offset, Limit: limit})
}

// Events streams orchestrator events until the scan finishes or the client disconnects.
func (h *ScansHandler) Events(w http.ResponseWriter, r *http.Request) {
	flusher, ok := setupSSEConnection(w)
	if !ok {
		return
	}

	eventCh := h.orchestrator.AddListener()
	defer h.orchestrator.RemoveListener(eventCh)

	status := h.status()
	sendSSEEvent(w, flusher, "status", status)
	if status.State != scanner.StateRunning {
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case event, ok := <-eventCh:
			if !ok {
				return
			}
			sendSSEEvent(w, flusher, event.Type, event)
			if event.Type == scanner.EventCompleted || event.Type == scanner.EventCancelled {
				return
			}
		}
	}
}

// Cancel requests cancellation of the running scan
func (h *ScansHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if h.orchestrator.State() != scanner.StateRunning {
		respondError(w, http.StatusConflict, "no scan is running")
		return
	}
	h.orchestrator.Cancel()
	respondJSON(w, http.StatusAccepted, map[string]string{"status": "cancelling"})
}

// Reset discards a finished scan
func (h *ScansHandler) Reset(w http.ResponseWriter, r *http.Request) {
	// A finished scan stays active until it is exported and persisted.
	h.mu.Lock()
	if h.active {
		h.mu.Unlock()
		respondError(w, http.StatusConflict, scanner.ErrScanRunning.Error())
		return
	}
	err := h.orchestrator.Reset()
	if err == nil {
		h.scanID = ""
	}
	h.mu.Unlock()

	if err != nil {
		if errors.Is(err, scanner.ErrInvalidState) {
			respondError(w, http.StatusConflict, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, h.status())
}

// History lists persisted scans, newest first
func (h *ScansHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.scans == nil {
		respondError(w, http.StatusServiceUnavailable, database.ErrNotInitialized.Error())
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 50
	}
	scans, err := h.scans.ListScans(r.Context(), limit)
	if err != nil {
		h.log.WithError(err).Error("list scans")
		respondError(w, http.StatusInternalServerError, "failed to list scans")
		return
	}
	if scans == nil {
		scans = []database.StoredScan{}
	}
	respondJSON(w, http.StatusOK, scans)
}
