// Package handlers contains HTTP handlers for the controller API.
package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"docplane/internal/processing"
	"docplane/internal/store"
	"docplane/pkg/api"

	"github.com/google/uuid"
)

// StoreFactory combines the read paths the controller serves directly.
type StoreFactory interface {
	Ping(ctx context.Context) error
	GetProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Process, error)
	ListProcessSteps(ctx context.Context, processID uuid.UUID) ([]store.ProcessStep, error)
	GetAsset(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Asset, error)
}

// Engine is the part of the processing engine the API drives.
type Engine interface {
	Start(ctx context.Context, req processing.StartRequest) (*store.Process, error)
	Stop(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
	SubmitPreprocess(assetID uuid.UUID)
	// QueueDepth is the number of processes waiting for assets to finish
	// preprocessing.
	QueueDepth() int
}

// Handlers holds all HTTP handlers and their dependencies.
type Handlers struct {
	store  StoreFactory
	engine Engine
	logger *slog.Logger
}

// New creates a new Handlers instance with the given dependencies.
func New(s StoreFactory, e Engine, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: s, engine: e, logger: logger}
}

// A helper function to write standard JSON responses.
func (h *Handlers) respondJson(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		json.NewEncoder(w).Encode(payload)
	}
}

// A helper function to return consistent error messages.
func (h *Handlers) httpError(w http.ResponseWriter, message string, code int) {
	h.respondJson(w, code, api.ErrorResponse{
		Error: message,
		Code:  strconv.Itoa(code),
	})
}

// pathID parses the {id} path value, writing a 400 on failure.
func (h *Handlers) pathID(w http.ResponseWriter, r *http.Request, what string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		h.httpError(w, "Invalid "+what+" ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}
