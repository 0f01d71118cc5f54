package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"docplane/internal/extraction"
	"docplane/internal/observability"
	"docplane/internal/store"
	"docplane/internal/vectorstore"

	"github.com/google/uuid"
)

var (
	// ErrIllegalTransition is returned when a lifecycle operation does not
	// apply to the current process status.
	ErrIllegalTransition = errors.New("illegal process status transition")

	// ErrNoAssets is returned when starting a process over an empty project.
	ErrNoAssets = errors.New("project has no assets")
)

// transitions lists the statuses each lifecycle operation may leave from.
var transitions = map[store.ProcessStatus][]store.ProcessStatus{
	store.ProcessStatusStopped: {store.ProcessStatusPending, store.ProcessStatusInProgress},
	store.ProcessStatusPending: {store.ProcessStatusStopped, store.ProcessStatusFailed},
}

func canTransition(from, to store.ProcessStatus) bool {
	for _, s := range transitions[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Config sizes the engine's pools.
type Config struct {
	MaxRetries         int
	ProcessConcurrency int
	StepConcurrency    int
	SchedulerInterval  time.Duration
	UploadDir          string
}

// Engine owns the submission pool, the readiness scheduler and the
// components they run. It is the entry point of the HTTP API.
type Engine struct {
	repo         Repository
	submitter    *Submitter
	scheduler    *Scheduler
	orchestrator *Orchestrator
	preprocessor *Preprocessor
	logger       *slog.Logger
}

func NewEngine(repo Repository, extractor extraction.Service, vectors vectorstore.Store, metrics *observability.PipelineMetrics, logger *slog.Logger, cfg Config) *Engine {
	e := &Engine{
		repo:      repo,
		submitter: NewSubmitter(cfg.ProcessConcurrency, logger),
		logger:    logger,
	}
	e.scheduler = NewScheduler(cfg.SchedulerInterval, e.SubmitProcess, logger)

	runner := NewStepRunner(repo, extractor, vectors, metrics, logger, cfg.MaxRetries, cfg.UploadDir)
	e.orchestrator = NewOrchestrator(repo, runner, extractor, e.scheduler, metrics, logger, cfg.StepConcurrency, cfg.MaxRetries)
	e.preprocessor = NewPreprocessor(repo, extractor, vectors, metrics, logger, cfg.MaxRetries)
	return e
}

// SubmitProcess runs a process in the background.
func (e *Engine) SubmitProcess(id uuid.UUID) {
	err := e.submitter.Submit("run_process", func(ctx context.Context) {
		_ = e.orchestrator.RunProcess(ctx, id)
	})
	if err != nil {
		e.logger.Error("Failed to submit process", "process_id", id, "error", err)
	}
}

// SubmitPreprocess runs asset preprocessing in the background.
func (e *Engine) SubmitPreprocess(assetID uuid.UUID) {
	err := e.submitter.Submit("preprocess", func(ctx context.Context) {
		_ = e.preprocessor.Preprocess(ctx, assetID)
	})
	if err != nil {
		e.logger.Error("Failed to submit preprocessing", "asset_id", assetID, "error", err)
	}
}

// StartRequest describes a new process.
type StartRequest struct {
	ProjectID uuid.UUID
	Name      string
	Type      store.ProcessType
	Details   json.RawMessage
}

// Start creates a PENDING process with one step per project asset and
// submits it.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*store.Process, error) {
	details, err := ParseDetails(req.Type, req.Details)
	if err != nil {
		return nil, err
	}
	if _, err := e.repo.GetProject(ctx, req.ProjectID); err != nil {
		return nil, err
	}

	process := &store.Process{
		ID:        uuid.New(),
		ProjectID: req.ProjectID,
		Name:      req.Name,
		Type:      req.Type,
		Status:    store.ProcessStatusPending,
		Details:   details.Raw,
	}

	err = withTx(ctx, e.repo, func(tx store.Tx) error {
		assets, err := e.repo.ListProjectAssets(ctx, tx, req.ProjectID)
		if err != nil {
			return err
		}
		if len(assets) == 0 {
			return ErrNoAssets
		}
		if err := e.repo.CreateProcess(ctx, tx, process); err != nil {
			return err
		}

		steps := make([]store.ProcessStep, len(assets))
		for i, a := range assets {
			steps[i] = store.ProcessStep{
				ID:        uuid.New(),
				ProcessID: process.ID,
				AssetID:   a.ID,
				Status:    store.StepStatusPending,
			}
		}
		return e.repo.CreateProcessSteps(ctx, tx, steps)
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("Process created", "process_id", process.ID, "type", process.Type)
	e.SubmitProcess(process.ID)
	return process, nil
}

// Stop marks a pending or running process STOPPED. Steps in flight finish
// their current external call but do not commit.
func (e *Engine) Stop(ctx context.Context, id uuid.UUID) error {
	if err := e.transition(ctx, id, store.ProcessStatusStopped); err != nil {
		return err
	}
	e.logger.Info("Process stopped", "process_id", id)
	return nil
}

// Resume puts a stopped or failed process back to PENDING and submits it.
func (e *Engine) Resume(ctx context.Context, id uuid.UUID) error {
	if err := e.transition(ctx, id, store.ProcessStatusPending); err != nil {
		return err
	}
	e.logger.Info("Process resumed", "process_id", id)
	e.SubmitProcess(id)
	return nil
}

func (e *Engine) transition(ctx context.Context, id uuid.UUID, to store.ProcessStatus) error {
	return transitionProcess(ctx, e.repo, id, to)
}

// transitionProcess checks and writes the new status under the process row
// lock, so a concurrent finalize or stop sees either the old or the new state.
func transitionProcess(ctx context.Context, repo Repository, id uuid.UUID, to store.ProcessStatus) error {
	return withTx(ctx, repo, func(tx store.Tx) error {
		p, err := repo.LockProcess(ctx, tx, id)
		if err != nil {
			return err
		}
		if !canTransition(p.Status, to) {
			return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, p.Status, to)
		}
		return repo.UpdateProcessStatus(ctx, tx, id, to)
	})
}

// stopOnCreditLimit stops a running process. A process that already reached
// a terminal status or was stopped meanwhile is left untouched.
func stopOnCreditLimit(ctx context.Context, repo Repository, logger *slog.Logger, id uuid.UUID) error {
	logger.Warn("Credit limit exceeded, stopping process", "process_id", id)
	err := transitionProcess(ctx, repo, id, store.ProcessStatusStopped)
	if errors.Is(err, ErrIllegalTransition) {
		logger.Info("Process no longer running, status left untouched", "process_id", id, "reason", err)
		return nil
	}
	return err
}

// Recover resubmits work interrupted by a restart: assets whose content never
// completed and processes that were pending or running.
func (e *Engine) Recover(ctx context.Context) error {
	assets, err := e.repo.ListIncompleteAssetIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list incomplete assets: %w", err)
	}
	for _, id := range assets {
		e.SubmitPreprocess(id)
	}

	processes, err := e.repo.ListProcessIDsByStatus(ctx, []store.ProcessStatus{
		store.ProcessStatusPending,
		store.ProcessStatusInProgress,
	})
	if err != nil {
		return fmt.Errorf("failed to list unfinished processes: %w", err)
	}
	for _, id := range processes {
		e.SubmitProcess(id)
	}

	e.logger.Info("Recovered unfinished work", "assets", len(assets), "processes", len(processes))
	return nil
}

// QueueDepth returns the number of processes waiting on preprocessing.
func (e *Engine) QueueDepth() int {
	return e.scheduler.Len()
}

// Shutdown stops the scheduler and drains the submission pool.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.scheduler.Stop()
	return e.submitter.Shutdown(ctx)
}
