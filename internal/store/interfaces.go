package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// DBTransaction defines the methods shared by *sql.DB and *sql.Tx
// This allows us to pass either a connection pool or an active transaction to the repository methods.
type DBTransaction interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type Tx interface {
	DBTransaction
	Commit() error
	Rollback() error
}

// ProjectStore handles projects and their assets.
type ProjectStore interface {
	// GetProject returns a project by its ID.
	GetProject(ctx context.Context, id uuid.UUID) (*Project, error)

	// ListProjectAssets returns every non-deleted asset of a project.
	ListProjectAssets(ctx context.Context, tx DBTransaction, projectID uuid.UUID) ([]Asset, error)

	// GetAsset returns an asset by its ID.
	GetAsset(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Asset, error)
}

// AssetContentStore persists parsed asset content and its preprocessing status.
type AssetContentStore interface {
	// GetAssetContent returns the content row of an asset.
	GetAssetContent(ctx context.Context, tx DBTransaction, assetID uuid.UUID) (*AssetContent, error)

	// UpsertAssetContent creates or replaces the content row of an asset.
	UpsertAssetContent(ctx context.Context, tx DBTransaction, content *AssetContent) error

	// UpdateAssetContentStatus flips only the processing status.
	UpdateAssetContentStatus(ctx context.Context, tx DBTransaction, assetID uuid.UUID, status AssetProcessingStatus) error

	// ListIncompleteAssetIDs returns assets whose content never reached COMPLETED.
	ListIncompleteAssetIDs(ctx context.Context) ([]uuid.UUID, error)
}

// ProcessStore handles processes and their steps.
type ProcessStore interface {
	// CreateProcess inserts a new process.
	CreateProcess(ctx context.Context, tx DBTransaction, process *Process) error

	// GetProcess returns a process by its ID.
	GetProcess(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Process, error)

	// LockProcess returns a process and holds its row lock until tx ends.
	// Every read-decide-write on the process status goes through it.
	LockProcess(ctx context.Context, tx DBTransaction, id uuid.UUID) (*Process, error)

	// UpdateProcessStatus sets the status of a process.
	UpdateProcessStatus(ctx context.Context, tx DBTransaction, id uuid.UUID, status ProcessStatus) error

	// StartProcess moves a process to IN_PROGRESS and stamps started_at.
	StartProcess(ctx context.Context, tx DBTransaction, id uuid.UUID, startedAt time.Time) error

	// FinishProcess sets a terminal status and stamps completed_at.
	FinishProcess(ctx context.Context, tx DBTransaction, id uuid.UUID, status ProcessStatus, completedAt time.Time) error

	// FailProcess sets FAILED and records the failure message.
	FailProcess(ctx context.Context, tx DBTransaction, id uuid.UUID, message string) error

	// SetProcessOutput stores the aggregate output of a process.
	SetProcessOutput(ctx context.Context, tx DBTransaction, id uuid.UUID, output json.RawMessage) error

	// ListProcessIDsByStatus returns non-deleted processes in any of the given states.
	ListProcessIDsByStatus(ctx context.Context, statuses []ProcessStatus) ([]uuid.UUID, error)

	// CreateProcessSteps inserts steps in bulk.
	CreateProcessSteps(ctx context.Context, tx DBTransaction, steps []ProcessStep) error

	// GetProcessStep returns a process step by its ID.
	GetProcessStep(ctx context.Context, tx DBTransaction, id uuid.UUID) (*ProcessStep, error)

	// GetProcessStepsWithAssetContent returns the steps of a process in any of the
	// given states, joined with their asset and content processing status.
	GetProcessStepsWithAssetContent(ctx context.Context, tx DBTransaction, processID uuid.UUID, statuses []StepStatus) ([]StepWithAsset, error)

	// UpdateProcessStepStatus sets the step status. Nil output or references
	// leave the stored values untouched.
	UpdateProcessStepStatus(ctx context.Context, tx DBTransaction, id uuid.UUID, status StepStatus, output, references json.RawMessage) error

	// ListProcessSteps returns every step of a process.
	ListProcessSteps(ctx context.Context, processID uuid.UUID) ([]ProcessStep, error)
}
