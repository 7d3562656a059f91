package handlers

import (
	"errors"
	"fmt"
	"image"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"github.com/kozaktomas/face-finder/internal/constants"
	"github.com/kozaktomas/face-finder/internal/database"
	"github.com/kozaktomas/face-finder/internal/facematch"
	"github.com/kozaktomas/face-finder/internal/inference"
)

// TargetsHandler manages target profiles and their reference photos
type TargetsHandler struct {
	targets  database.TargetWriter
	embedder TargetEmbedder
	source   inference.ImageSource
	log      logrus.FieldLogger
}

// NewTargetsHandler creates a new targets handler
func NewTargetsHandler(
	targets database.TargetWriter, embedder TargetEmbedder, source inference.ImageSource, log logrus.FieldLogger,
) *TargetsHandler {
	return &TargetsHandler{targets: targets, embedder: embedder, source: source, log: log}
}

// TargetPhotoResponse is a reference photo without its embedding
type TargetPhotoResponse struct {
	ID         string    `json:"id"`
	SourcePath string    `json:"source_path,omitempty"`
	Model      string    `json:"model"`
	Dim        int       `json:"dim"`
	Quality    float64   `json:"quality"`
	CreatedAt  time.Time `json:"created_at"`
}

// TargetResponse represents a target profile
type TargetResponse struct {
	ID          string                `json:"id"`
	Name        string                `json:"name"`
	CreatedAt   time.Time             `json:"created_at"`
	Photos      []TargetPhotoResponse `json:"photos"`
	ModelCounts map[string]int        `json:"model_counts"`
	Usable      bool                  `json:"usable"` // has embeddings for the active model
}

func (h *TargetsHandler) toResponse(t *database.StoredTarget) TargetResponse {
	resp := TargetResponse{
		ID:          t.ID,
		Name:        t.Name,
		CreatedAt:   t.CreatedAt,
		Photos:      make([]TargetPhotoResponse, 0, len(t.Photos)),
		ModelCounts: t.ModelCounts(),
	}
	for _, p := range t.Photos {
		resp.Photos = append(resp.Photos, TargetPhotoResponse{
			ID: p.ID, SourcePath: p.SourcePath, Model: p.Model, Dim: p.Dim, Quality: p.Quality, CreatedAt: p.CreatedAt,
		})
	}
	resp.Usable = resp.ModelCounts[h.embedder.Model()] > 0
	return resp
}

// List returns all targets
func (h *TargetsHandler) List(w http.ResponseWriter, r *http.Request) {
	targets, err := h.targets.ListTargets(r.Context())
	if err != nil {
		h.log.WithError(err).Error("list targets")
		respondError(w, http.StatusInternalServerError, "failed to list targets")
		return
	}
	out := make([]TargetResponse, 0, len(targets))
	for i := range targets {
		out = append(out, h.toResponse(&targets[i]))
	}
	respondJSON(w, http.StatusOK, out)
}

// Get returns one target
func (h *TargetsHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookup(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.toResponse(t))
}

// CreateTargetRequest is the body of POST /targets
type CreateTargetRequest struct {
	Name string `json:"name"`
}

// Create creates an empty target
func (h *TargetsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateTargetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, errInvalidRequestBody)
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}

	existing, err := h.targets.FindTargetByName(r.Context(), req.Name)
	if err != nil {
		h.log.WithError(err).Error("find target")
		respondError(w, http.StatusInternalServerError, "failed to create target")
		return
	}
	if existing != nil {
		respondError(w, http.StatusConflict, "target already exists")
		return
	}

	t, err := h.targets.CreateTarget(r.Context(), req.Name)
	if err != nil {
		h.log.WithError(err).WithField("name", sanitizeForLog(req.Name)).Error("create target")
		respondError(w, http.StatusInternalServerError, "failed to create target")
		return
	}
	respondJSON(w, http.StatusCreated, h.toResponse(t))
}

// Delete removes a target
func (h *TargetsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.targets.DeleteTarget(r.Context(), t.ID); err != nil {
		h.log.WithError(err).Error("delete target")
		respondError(w, http.StatusInternalServerError, "failed to delete target")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AddPhotoRequest is the JSON form of POST /targets/{id}/photos
type AddPhotoRequest struct {
	Path string `json:"path"`
}

// AddPhoto computes an embedding from a reference photo and stores it.
// Accepts a multipart "file" upload or a JSON body with a server-side path.
func (h *TargetsHandler) AddPhoto(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookup(w, r)
	if !ok {
		return
	}

	img, sourcePath, err := h.readImage(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	emb, quality, err := h.embedder.ComputeTargetEmbedding(r.Context(), img)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, facematch.ErrNoFaceDetected) {
			status = http.StatusUnprocessableEntity
		}
		h.log.WithError(err).WithField("target", t.ID).Warn("reference photo rejected")
		respondError(w, status, err.Error())
		return
	}

	photo := &database.StoredTargetPhoto{
		TargetID:   t.ID,
		SourcePath: sourcePath,
		Model:      emb.Model,
		Embedding:  emb.Embedding,
		Quality:    quality,
	}
	if err := h.targets.AddTargetPhoto(r.Context(), photo); err != nil {
		h.log.WithError(err).Error("store target photo")
		respondError(w, http.StatusInternalServerError, "failed to store photo")
		return
	}

	respondJSON(w, http.StatusCreated, TargetPhotoResponse{
		ID: photo.ID, SourcePath: photo.SourcePath, Model: photo.Model, Dim: photo.Dim,
		Quality: photo.Quality, CreatedAt: photo.CreatedAt,
	})
}

func (h *TargetsHandler) readImage(w http.ResponseWriter, r *http.Request) (image.Image, string, error) {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		r.Body = http.MaxBytesReader(w, r.Body, constants.MaxUploadSize)
		if err := r.ParseMultipartForm(constants.MaxUploadSize); err != nil {
			return nil, "", fmt.Errorf("failed to parse form: %w", err)
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			return nil, "", errors.New("file is required")
		}
		defer file.Close()
		img, err := inference.DecodeImage(file)
		if err != nil {
			return nil, "", err
		}
		return img, header.Filename, nil
	}

	var req AddPhotoRequest
	if err := decodeJSON(w, r, &req); err != nil || req.Path == "" {
		return nil, "", errors.New("path is required")
	}
	img, err := h.source.Load(r.Context(), req.Path)
	if err != nil {
		return nil, "", err
	}
	return img, req.Path, nil
}

// DeletePhoto removes one reference photo of a target
func (h *TargetsHandler) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookup(w, r)
	if !ok {
		return
	}
	photoID := chi.URLParam(r, "photoId")
	found := false
	for _, p := range t.Photos {
		if p.ID == photoID {
			found = true
			break
		}
	}
	if !found {
		respondError(w, http.StatusNotFound, "photo not found")
		return
	}
	if err := h.targets.DeleteTargetPhoto(r.Context(), photoID); err != nil {
		h.log.WithError(err).Error("delete target photo")
		respondError(w, http.StatusInternalServerError, "failed to delete photo")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *TargetsHandler) lookup(w http.ResponseWriter, r *http.Request) (*database.StoredTarget, bool) {
	id := chi.URLParam(r, "id")
	if id == "" {
		respondError(w, http.StatusBadRequest, "missing target ID")
		return nil, false
	}
	t, err := h.targets.GetTarget(r.Context(), id)
	if err != nil {
		h.log.WithError(err).Error("get target")
		respondError(w, http.StatusInternalServerError, "failed to get target")
		return nil, false
	}
	if t == nil {
		respondError(w, http.StatusNotFound, "target not found")
		return nil, false
	}
	return t, true
}
