// Package api contains shared JSON request/response structs.
// This package is shared between the CLI and Controller.
package api

import (
	"encoding/json"
	"time"
)

// CreateProcessRequest is the request body for starting a process over a project.
type CreateProcessRequest struct {
	Name string `json:"name"`
	// Type is "extract" or "extractive_summary".
	Type    string          `json:"type"`
	Details json.RawMessage `json:"details,omitempty"`
}

// CreateProcessResponse is the response body after starting a process.
type CreateProcessResponse struct {
	ProcessID string `json:"process_id"`
	Status    string `json:"status"`
}

// StepCounts tallies the steps of a process by status.
type StepCounts struct {
	Total      int `json:"total"`
	Pending    int `json:"pending"`
	InProgress int `json:"in_progress"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// Done is the number of steps that reached a terminal status.
func (c StepCounts) Done() int {
	return c.Completed + c.Failed
}

// ProcessResponse is the response body for process status queries.
type ProcessResponse struct {
	ID          string          `json:"id"`
	ProjectID   string          `json:"project_id"`
	Name        string          `json:"name"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Message     string          `json:"message,omitempty"`
	Output      json.RawMessage `json:"output,omitempty"`
	Steps       StepCounts      `json:"steps"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// StepResponse represents a process step in API responses.
type StepResponse struct {
	ID         string          `json:"id"`
	AssetID    string          `json:"asset_id"`
	Status     string          `json:"status"`
	Output     json.RawMessage `json:"output,omitempty"`
	References json.RawMessage `json:"references,omitempty"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// PreprocessResponse acknowledges a queued asset preprocessing run.
type PreprocessResponse struct {
	AssetID string `json:"asset_id"`
	Status  string `json:"status"`
}

// ReadinessResponse is returned by the readiness probe.
type ReadinessResponse struct {
	Status string `json:"status"`
	// RequeuedProcesses counts processes waiting on asset preprocessing.
	RequeuedProcesses int `json:"requeued_processes"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}
