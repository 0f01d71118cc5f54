// Package store contains the database layer for docplane.
package store

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Project groups assets and the processes that run over them.
type Project struct {
	ID        uuid.UUID
	Name      string
	CreatedAt time.Time
}

// Asset is an uploaded file or fetched web page belonging to a project.
type Asset struct {
	ID        uuid.UUID
	ProjectID uuid.UUID
	Filename  string
	Path      string // Location of the raw upload on disk
	Type      AssetType
	CreatedAt time.Time
}

// AssetType distinguishes uploaded files from fetched URLs.
type AssetType string

const (
	AssetTypePDF AssetType = "pdf"
	AssetTypeURL AssetType = "url"
)

// AssetContent is the parsed, searchable representation of an asset.
// Its Processing status gates whether process steps over the asset may run.
type AssetContent struct {
	AssetID    uuid.UUID
	Content    *ParsedContent
	Language   string
	Processing AssetProcessingStatus
	UpdatedAt  time.Time
}

// ParsedContent is the text returned by the parsing service.
type ParsedContent struct {
	WordCount int       `json:"word_count"`
	Segments  []Segment `json:"content"`
	Language  string    `json:"lang,omitempty"`
}

// Segment is one parsed text span with its metadata (page number, etc).
type Segment struct {
	Text     string         `json:"text"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Text joins all segments with newlines.
func (c *ParsedContent) Text() string {
	if c == nil {
		return ""
	}
	texts := make([]string, len(c.Segments))
	for i, s := range c.Segments {
		texts[i] = s.Text
	}
	return strings.Join(texts, "\n")
}

// AssetProcessingStatus tracks asset preprocessing.
type AssetProcessingStatus string

const (
	AssetProcessingPending    AssetProcessingStatus = "PENDING"
	AssetProcessingInProgress AssetProcessingStatus = "IN_PROGRESS"
	AssetProcessingCompleted  AssetProcessingStatus = "COMPLETED"
	AssetProcessingFailed     AssetProcessingStatus = "FAILED"
)

// ProcessType tags which operation a process applies to its assets.
type ProcessType string

const (
	ProcessTypeExtract           ProcessType = "extract"
	ProcessTypeExtractiveSummary ProcessType = "extractive_summary"
)

// Process is one extraction or summarization job over a project.
type Process struct {
	ID          uuid.UUID
	ProjectID   uuid.UUID
	Name        string
	Type        ProcessType
	Status      ProcessStatus
	Details     json.RawMessage
	Output      json.RawMessage
	Message     string
	StartedAt   *time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// ProcessStatus represents the state of a process.
type ProcessStatus string

const (
	ProcessStatusPending    ProcessStatus = "PENDING"
	ProcessStatusInProgress ProcessStatus = "IN_PROGRESS"
	ProcessStatusCompleted  ProcessStatus = "COMPLETED"
	ProcessStatusFailed     ProcessStatus = "FAILED"
	ProcessStatusStopped    ProcessStatus = "STOPPED"
)

// ProcessStep is the unit of work for one asset within one process.
type ProcessStep struct {
	ID               uuid.UUID
	ProcessID        uuid.UUID
	AssetID          uuid.UUID
	Status           StepStatus
	Output           json.RawMessage
	OutputReferences json.RawMessage
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// StepStatus represents the state of a process step.
type StepStatus string

const (
	StepStatusPending    StepStatus = "PENDING"
	StepStatusInProgress StepStatus = "IN_PROGRESS"
	StepStatusCompleted  StepStatus = "COMPLETED"
	StepStatusFailed     StepStatus = "FAILED"
)

// StepWithAsset is a process step joined with its asset and the asset's
// preprocessing status. ContentStatus is PENDING when no content row exists.
type StepWithAsset struct {
	Step          ProcessStep
	Asset         Asset
	ContentStatus AssetProcessingStatus
}

// Ready reports whether the asset behind this step finished preprocessing.
func (s StepWithAsset) Ready() bool {
	return s.ContentStatus == AssetProcessingCompleted
}
