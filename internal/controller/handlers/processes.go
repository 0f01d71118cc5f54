package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"docplane/internal/extraction"
	"docplane/internal/logger"
	"docplane/internal/processing"
	"docplane/internal/store"
	"docplane/pkg/api"

	"github.com/google/uuid"
)

// CreateProcess handles POST /projects/{id}/processes.
// It creates the process with one step per project asset and submits it.
func (h *Handlers) CreateProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	projectID, ok := h.pathID(w, r, "project")
	if !ok {
		return
	}

	var req api.CreateProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.httpError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	typ := store.ProcessType(req.Type)
	if typ != store.ProcessTypeExtract && typ != store.ProcessTypeExtractiveSummary {
		h.httpError(w, "Type must be extract or extractive_summary", http.StatusBadRequest)
		return
	}

	process, err := h.engine.Start(ctx, processing.StartRequest{
		ProjectID: projectID,
		Name:      req.Name,
		Type:      typ,
		Details:   req.Details,
	})
	if err != nil {
		h.engineError(w, r, err, "Failed to create process")
		return
	}

	h.respondJson(w, http.StatusAccepted, api.CreateProcessResponse{
		ProcessID: process.ID.String(),
		Status:    string(process.Status),
	})
}

// GetProcess handles GET /processes/{id}.
func (h *Handlers) GetProcess(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.pathID(w, r, "process")
	if !ok {
		return
	}

	process, err := h.store.GetProcess(ctx, nil, id)
	if err != nil {
		h.engineError(w, r, err, "Failed to load process")
		return
	}

	steps, err := h.store.ListProcessSteps(ctx, id)
	if err != nil {
		h.httpError(w, "Failed to load process steps", http.StatusInternalServerError)
		return
	}

	h.respondJson(w, http.StatusOK, api.ProcessResponse{
		ID:          process.ID.String(),
		ProjectID:   process.ProjectID.String(),
		Name:        process.Name,
		Type:        string(process.Type),
		Status:      string(process.Status),
		Message:     process.Message,
		Output:      process.Output,
		Steps:       countSteps(steps),
		CreatedAt:   process.CreatedAt,
		StartedAt:   process.StartedAt,
		CompletedAt: process.CompletedAt,
	})
}

// ListProcessSteps handles GET /processes/{id}/steps.
func (h *Handlers) ListProcessSteps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := h.pathID(w, r, "process")
	if !ok {
		return
	}

	if _, err := h.store.GetProcess(ctx, nil, id); err != nil {
		h.engineError(w, r, err, "Failed to load process")
		return
	}

	steps, err := h.store.ListProcessSteps(ctx, id)
	if err != nil {
		h.httpError(w, "Failed to load process steps", http.StatusInternalServerError)
		return
	}

	resp := make([]api.StepResponse, len(steps))
	for i, s := range steps {
		resp[i] = api.StepResponse{
			ID:         s.ID.String(),
			AssetID:    s.AssetID.String(),
			Status:     string(s.Status),
			Output:     s.Output,
			References: s.OutputReferences,
			UpdatedAt:  s.UpdatedAt,
		}
	}
	h.respondJson(w, http.StatusOK, resp)
}

// StopProcess handles POST /processes/{id}/stop.
func (h *Handlers) StopProcess(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.Stop, "Failed to stop process")
}

// ResumeProcess handles POST /processes/{id}/resume.
func (h *Handlers) ResumeProcess(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, h.engine.Resume, "Failed to resume process")
}

func (h *Handlers) lifecycle(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, id uuid.UUID) error, failure string) {
	ctx := r.Context()

	id, ok := h.pathID(w, r, "process")
	if !ok {
		return
	}
	if err := op(ctx, id); err != nil {
		h.engineError(w, r, err, failure)
		return
	}

	process, err := h.store.GetProcess(ctx, nil, id)
	if err != nil {
		h.engineError(w, r, err, "Failed to load process")
		return
	}
	h.respondJson(w, http.StatusOK, api.CreateProcessResponse{
		ProcessID: id.String(),
		Status:    string(process.Status),
	})
}

// engineError maps domain errors onto HTTP status codes.
func (h *Handlers) engineError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		h.httpError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, processing.ErrInvalidDetails):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, processing.ErrNoAssets):
		h.httpError(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, processing.ErrIllegalTransition):
		h.httpError(w, err.Error(), http.StatusConflict)
	case extraction.IsCreditLimit(err):
		h.httpError(w, "Credit limit exceeded", http.StatusPaymentRequired)
	default:
		logger.FromContext(r.Context(), h.logger).Error(fallback, "error", err)
		h.httpError(w, fallback, http.StatusInternalServerError)
	}
}

func countSteps(steps []store.ProcessStep) api.StepCounts {
	c := api.StepCounts{Total: len(steps)}
	for _, s := range steps {
		switch s.Status {
		case store.StepStatusPending:
			c.Pending++
		case store.StepStatusInProgress:
			c.InProgress++
		case store.StepStatusCompleted:
			c.Completed++
		case store.StepStatusFailed:
			c.Failed++
		}
	}
	return c
}
