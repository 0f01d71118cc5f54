package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"docplane/internal/extraction"
	"docplane/internal/observability"
	"docplane/internal/store"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrNoSteps is returned when a process has no steps left to run.
var ErrNoSteps = errors.New("process has no steps")

// DefaultStepConcurrency bounds the steps of one process running at once.
const DefaultStepConcurrency = 3

type stepExecutor interface {
	RunStep(ctx context.Context, processID, stepID uuid.UUID, agg *Aggregate) (bool, error)
}

type requeuer interface {
	Enqueue(id uuid.UUID)
}

// ProcessOutput is the stored aggregate output of a process.
type ProcessOutput struct {
	Summary string `json:"summary,omitempty"`
}

// Orchestrator drives one process run: it starts the process, runs its ready
// steps in parallel, then either finalizes the process or re-queues it until
// every asset finished preprocessing.
type Orchestrator struct {
	repo        Repository
	steps       stepExecutor
	extractor   extraction.Service
	requeue     requeuer
	metrics     *observability.PipelineMetrics
	logger      *slog.Logger
	concurrency int
	maxRetries  int
	now         func() time.Time
}

func NewOrchestrator(repo Repository, steps stepExecutor, extractor extraction.Service, requeue requeuer, metrics *observability.PipelineMetrics, logger *slog.Logger, concurrency, maxRetries int) *Orchestrator {
	if concurrency <= 0 {
		concurrency = DefaultStepConcurrency
	}
	return &Orchestrator{
		repo:        repo,
		steps:       steps,
		extractor:   extractor,
		requeue:     requeue,
		metrics:     metrics,
		logger:      logger,
		concurrency: concurrency,
		maxRetries:  maxRetries,
		now:         time.Now,
	}
}

// RunProcess runs a process to completion or to its next re-queue. Any
// unexpected error marks the process FAILED with the error as its message.
func (o *Orchestrator) RunProcess(ctx context.Context, processID uuid.UUID) error {
	tracer := observability.Tracer()
	ctx, span := tracer.Start(ctx, "run_process",
		trace.WithAttributes(attribute.String("process.id", processID.String())),
	)
	defer span.End()

	logger := o.logger.With("process_id", processID)

	if err := o.run(ctx, logger, processID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("Process failed", "error", err)

		if ctx.Err() != nil {
			return err
		}
		failed := false
		failErr := withTx(ctx, o.repo, func(tx store.Tx) error {
			p, lockErr := o.repo.LockProcess(ctx, tx, processID)
			if lockErr != nil {
				return lockErr
			}
			if p.Status == store.ProcessStatusStopped {
				return nil
			}
			failed = true
			return o.repo.FailProcess(ctx, tx, processID, err.Error())
		})
		switch {
		case failErr != nil:
			logger.Error("Failed to mark process failed", "error", failErr)
		case failed:
			o.metrics.ProcessFinished(ctx, string(store.ProcessStatusFailed))
		default:
			logger.Info("Process stopped, leaving status untouched")
		}
		return err
	}
	return nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, processID uuid.UUID) error {
	var process *store.Process
	err := withTx(ctx, o.repo, func(tx store.Tx) error {
		p, err := o.repo.LockProcess(ctx, tx, processID)
		if err != nil {
			return err
		}
		// Unlike PENDING and FAILED, a STOPPED process is not picked up here:
		// it restarts only through Resume, which moves it back to PENDING.
		// Otherwise a late scheduler tick would undo a stop.
		if p.Status == store.ProcessStatusCompleted || p.Status == store.ProcessStatusStopped {
			return nil
		}
		if err := o.repo.StartProcess(ctx, tx, processID, o.now()); err != nil {
			return err
		}
		process = p
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to start process: %w", err)
	}
	if process == nil {
		logger.Info("Process not runnable, skipping")
		return nil
	}
	logger.Info("Process started", "type", process.Type)

	details, err := ParseDetails(process.Type, process.Details)
	if err != nil {
		return err
	}

	statuses := []store.StepStatus{store.StepStatusPending, store.StepStatusFailed, store.StepStatusInProgress}
	if process.Type != store.ProcessTypeExtract {
		// Completed summaries are folded into the final summary.
		statuses = append(statuses, store.StepStatusCompleted)
	}
	steps, err := o.repo.GetProcessStepsWithAssetContent(ctx, nil, processID, statuses)
	if err != nil {
		return fmt.Errorf("failed to load steps: %w", err)
	}
	if len(steps) == 0 {
		return ErrNoSteps
	}

	var (
		runnable   []store.StepWithAsset
		waiting    []uuid.UUID
		prepFailed []uuid.UUID
	)
	for _, s := range steps {
		if s.Step.Status == store.StepStatusCompleted || s.Ready() {
			runnable = append(runnable, s)
			continue
		}
		waiting = append(waiting, s.Asset.ID)
		if s.ContentStatus == store.AssetProcessingFailed {
			prepFailed = append(prepFailed, s.Asset.ID)
		}
	}
	allReady := len(waiting) == 0
	logger.Info("Running steps", "ready", len(runnable), "total", len(steps), "all_ready", allReady)
	if len(prepFailed) > 0 {
		// These never become ready on their own; the process keeps being
		// re-queued until their preprocessing is run again.
		logger.Warn("Assets failed preprocessing, process cannot complete", "asset_ids", prepFailed)
	}

	agg := &Aggregate{}
	o.runSteps(ctx, logger, processID, runnable, agg)

	if details.ShowFinalSummary() && allReady {
		if err := o.finalSummary(ctx, logger, process, agg); err != nil {
			if extraction.IsCreditLimit(err) {
				return o.stop(ctx, logger, processID)
			}
			return err
		}
	}

	return o.finalize(ctx, logger, processID, waiting, agg)
}

// runSteps executes steps on a bounded pool and waits for all of them.
func (o *Orchestrator) runSteps(ctx context.Context, logger *slog.Logger, processID uuid.UUID, steps []store.StepWithAsset, agg *Aggregate) {
	sem := make(chan struct{}, o.concurrency)
	var wg sync.WaitGroup

	for _, s := range steps {
		sem <- struct{}{}
		wg.Add(1)
		go func(stepID uuid.UUID) {
			defer wg.Done()
			defer func() { <-sem }()

			if _, err := o.steps.RunStep(ctx, processID, stepID, agg); err != nil {
				logger.Warn("Step returned error", "step_id", stepID, "error", err)
			}
		}(s.Step.ID)
	}
	wg.Wait()
}

func (o *Orchestrator) finalSummary(ctx context.Context, logger *slog.Logger, process *store.Process, agg *Aggregate) error {
	current, err := o.repo.GetProcess(ctx, nil, process.ID)
	if err != nil {
		return fmt.Errorf("failed to reload process: %w", err)
	}
	if current.Status == store.ProcessStatusStopped {
		return nil
	}
	var existing ProcessOutput
	if len(current.Output) > 0 && json.Unmarshal(current.Output, &existing) == nil && existing.Summary != "" {
		return nil
	}

	summaries := agg.Summaries()
	if len(summaries) == 0 {
		return nil
	}

	details, _ := ParseDetails(process.Type, process.Details)
	prompt := ""
	if details != nil && details.Summary != nil {
		prompt = details.Summary.TransformationPrompt
	}

	summary, err := extraction.Retry(ctx, extraction.Policy{
		MaxRetries: o.maxRetries,
		Logger:     logger,
		OnFailure:  func(int, error) { o.metrics.Retry(ctx, "summarize_summaries") },
	}, "summarize_summaries", func(ctx context.Context) (string, error) {
		return o.extractor.SummarizeSummaries(ctx, summaries, prompt)
	})
	if err != nil {
		return err
	}

	out, err := json.Marshal(ProcessOutput{Summary: summary})
	if err != nil {
		return fmt.Errorf("failed to encode process output: %w", err)
	}
	return withTx(ctx, o.repo, func(tx store.Tx) error {
		return o.repo.SetProcessOutput(ctx, tx, process.ID, out)
	})
}

// finalize re-reads the process under its row lock and settles its status
// in the same transaction, so a concurrent Stop is never overwritten.
func (o *Orchestrator) finalize(ctx context.Context, logger *slog.Logger, processID uuid.UUID, waiting []uuid.UUID, agg *Aggregate) error {
	allReady := len(waiting) == 0
	var finished store.ProcessStatus
	err := withTx(ctx, o.repo, func(tx store.Tx) error {
		p, err := o.repo.LockProcess(ctx, tx, processID)
		if err != nil {
			return err
		}
		if p.Status == store.ProcessStatusStopped {
			logger.Info("Process stopped, leaving status untouched")
			return nil
		}
		if !allReady {
			return nil
		}

		finished = store.ProcessStatusCompleted
		if failed := agg.FailedAssets(); len(failed) > 0 {
			finished = store.ProcessStatusFailed
			logger.Warn("Process finished with failed assets", "failed_assets", failed)
		}
		return o.repo.FinishProcess(ctx, tx, processID, finished, o.now())
	})
	if err != nil {
		return fmt.Errorf("failed to finalize process: %w", err)
	}

	if finished != "" {
		logger.Info("Process finished", "status", finished)
		o.metrics.ProcessFinished(ctx, string(finished))
		return nil
	}
	if !allReady && !o.isStopped(ctx, processID) {
		logger.Info("Assets not ready, re-queueing process", "waiting_assets", waiting)
		o.requeue.Enqueue(processID)
	}
	return nil
}

func (o *Orchestrator) isStopped(ctx context.Context, processID uuid.UUID) bool {
	p, err := o.repo.GetProcess(ctx, nil, processID)
	return err == nil && p.Status == store.ProcessStatusStopped
}

func (o *Orchestrator) stop(ctx context.Context, logger *slog.Logger, processID uuid.UUID) error {
	return stopOnCreditLimit(ctx, o.repo, logger, processID)
}
