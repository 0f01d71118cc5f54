package processing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"docplane/internal/extraction"
	"docplane/internal/observability"
	"docplane/internal/store"
	"docplane/internal/vectorstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	// Documents longer than this are sent as the passages most similar to
	// each field instead of in full.
	chunkWordThreshold = 500
	fieldSearchK       = 5
)

// errProcessStopped aborts a retry loop once the process was stopped.
var errProcessStopped = errors.New("process stopped")

// StepOutput is the stored output of an extractive_summary step.
type StepOutput struct {
	Summary        string `json:"summary"`
	HighlightedPDF string `json:"highlighted_pdf,omitempty"`
}

// StepRunner executes one process step against the extraction service.
type StepRunner struct {
	repo       Repository
	extractor  extraction.Service
	vectors    vectorstore.Store
	resolver   *ReferenceResolver
	metrics    *observability.PipelineMetrics
	logger     *slog.Logger
	maxRetries int
	uploadDir  string
}

func NewStepRunner(repo Repository, extractor extraction.Service, vectors vectorstore.Store, metrics *observability.PipelineMetrics, logger *slog.Logger, maxRetries int, uploadDir string) *StepRunner {
	return &StepRunner{
		repo:       repo,
		extractor:  extractor,
		vectors:    vectors,
		resolver:   NewReferenceResolver(vectors, logger),
		metrics:    metrics,
		logger:     logger,
		maxRetries: maxRetries,
		uploadDir:  uploadDir,
	}
}

// stepResult is what a successful attempt produced.
type stepResult struct {
	output     json.RawMessage
	references json.RawMessage
	summary    string
	extracted  *extraction.ExtractResult
}

// RunStep executes a step and reports whether it completed. A step whose
// process is stopped is left untouched. A step that exhausts its retries is
// marked FAILED and its asset recorded in agg. A credit limit error stops the
// whole process and is returned.
func (r *StepRunner) RunStep(ctx context.Context, processID, stepID uuid.UUID, agg *Aggregate) (bool, error) {
	tracer := observability.Tracer()
	ctx, span := tracer.Start(ctx, "run_step",
		trace.WithAttributes(
			attribute.String("process.id", processID.String()),
			attribute.String("step.id", stepID.String()),
		),
	)
	defer span.End()

	logger := r.logger.With("process_id", processID, "step_id", stepID)

	process, err := r.repo.GetProcess(ctx, nil, processID)
	if err != nil {
		return false, fmt.Errorf("failed to load process: %w", err)
	}
	if process.Status == store.ProcessStatusStopped {
		logger.Info("Process stopped, skipping step")
		return false, nil
	}

	step, err := r.repo.GetProcessStep(ctx, nil, stepID)
	if err != nil {
		return false, fmt.Errorf("failed to load step: %w", err)
	}
	if step.Status == store.StepStatusCompleted {
		if process.Type != store.ProcessTypeExtract {
			agg.AddSummary(summaryOf(step.Output))
		}
		logger.Debug("Step already completed")
		return true, nil
	}

	logger = logger.With("asset_id", step.AssetID)
	span.SetAttributes(attribute.String("asset.id", step.AssetID.String()))

	details, err := ParseDetails(process.Type, process.Details)
	if err != nil {
		return false, r.failStep(ctx, logger, process, step, agg, err)
	}

	asset, err := r.repo.GetAsset(ctx, nil, step.AssetID)
	if err != nil {
		return false, fmt.Errorf("failed to load asset: %w", err)
	}
	content, err := r.repo.GetAssetContent(ctx, nil, step.AssetID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return false, fmt.Errorf("failed to load asset content: %w", err)
	}

	err = withTx(ctx, r.repo, func(tx store.Tx) error {
		return r.repo.UpdateProcessStepStatus(ctx, tx, step.ID, store.StepStatusInProgress, nil, nil)
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark step in progress: %w", err)
	}

	policy := extraction.Policy{
		MaxRetries: r.maxRetries,
		Logger:     logger,
		BeforeAttempt: func(ctx context.Context, attempt int) error {
			if r.processStopped(ctx, processID) {
				return errProcessStopped
			}
			return nil
		},
		OnFailure: func(attempt int, err error) {
			r.metrics.Retry(ctx, string(process.Type))
		},
	}

	result, err := extraction.Retry(ctx, policy, string(process.Type), func(ctx context.Context) (*stepResult, error) {
		switch process.Type {
		case store.ProcessTypeExtract:
			return r.extract(ctx, process, details, asset, content)
		default:
			return r.summarize(ctx, process, details, asset, content)
		}
	})

	switch {
	case errors.Is(err, errProcessStopped):
		logger.Info("Process stopped during step")
		return false, nil
	case err != nil && ctx.Err() != nil:
		// Shutdown; the step stays IN_PROGRESS and is picked up on recovery.
		return false, ctx.Err()
	case extraction.IsCreditLimit(err):
		span.RecordError(err)
		span.SetStatus(codes.Error, "credit limit exceeded")
		if stopErr := r.stopProcess(ctx, processID); stopErr != nil {
			logger.Error("Failed to stop process", "error", stopErr)
		}
		return false, err
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, r.failStep(ctx, logger, process, step, agg, err)
	}

	// A stop that landed during the external call discards the result.
	if r.processStopped(ctx, processID) {
		logger.Info("Process stopped, discarding step result")
		return false, nil
	}

	err = withTx(ctx, r.repo, func(tx store.Tx) error {
		return r.repo.UpdateProcessStepStatus(ctx, tx, step.ID, store.StepStatusCompleted, result.output, result.references)
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark step completed: %w", err)
	}

	if process.Type != store.ProcessTypeExtract {
		agg.AddSummary(result.summary)
	}
	if result.extracted != nil {
		if err := r.indexReferences(ctx, process, step, asset, result.extracted.References); err != nil {
			logger.Warn("Failed to index extraction references", "error", err)
		}
	}

	r.metrics.StepCompleted(ctx, string(process.Type))
	logger.Info("Step completed")
	return true, nil
}

func (r *StepRunner) failStep(ctx context.Context, logger *slog.Logger, process *store.Process, step *store.ProcessStep, agg *Aggregate, cause error) error {
	logger.Error("Step failed", "error", cause)
	agg.AddFailedAsset(step.AssetID)
	r.metrics.StepFailed(ctx, string(process.Type))

	err := withTx(ctx, r.repo, func(tx store.Tx) error {
		return r.repo.UpdateProcessStepStatus(ctx, tx, step.ID, store.StepStatusFailed, nil, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to mark step failed: %w", err)
	}
	return nil
}

// processStopped re-reads the parent process. Read errors count as running.
func (r *StepRunner) processStopped(ctx context.Context, processID uuid.UUID) bool {
	p, err := r.repo.GetProcess(ctx, nil, processID)
	if err != nil {
		r.logger.Warn("Failed to re-read process status", "process_id", processID, "error", err)
		return false
	}
	return p.Status == store.ProcessStatusStopped
}

func (r *StepRunner) stopProcess(ctx context.Context, processID uuid.UUID) error {
	return stopOnCreditLimit(ctx, r.repo, r.logger, processID)
}

func (r *StepRunner) extract(ctx context.Context, process *store.Process, details *Details, asset *store.Asset, content *store.AssetContent) (*stepResult, error) {
	scope := Scope{
		Collection: vectorstore.DocsCollection(process.ProjectID),
		Filter:     vectorstore.ScopeFilter(asset.ID, process.ProjectID),
	}

	var (
		input      string
		candidates []vectorstore.Match
	)
	if !details.Extract.MultipleFields && wordCount(content) > chunkWordThreshold {
		var err error
		input, candidates, err = r.relevantPassages(ctx, scope, details.Extract.Fields)
		if err != nil {
			return nil, err
		}
	}
	if input == "" && content != nil {
		input = content.Content.Text()
	}

	req := extraction.ExtractRequest{Fields: details.Raw, Content: input}
	if input == "" {
		req.FilePath = asset.Path
	}

	res, err := r.extractor.Extract(ctx, req)
	if err != nil {
		return nil, err
	}
	if err := r.resolver.ResolveAll(ctx, res.References, candidates, scope); err != nil {
		return nil, err
	}

	refs, err := json.Marshal(res.References)
	if err != nil {
		return nil, fmt.Errorf("failed to encode references: %w", err)
	}
	output := res.Fields
	if len(output) == 0 {
		output = json.RawMessage(`{}`)
	}
	return &stepResult{output: output, references: refs, extracted: res}, nil
}

// relevantPassages searches the asset's segments once per field and joins
// every hit with its neighbouring segments.
func (r *StepRunner) relevantPassages(ctx context.Context, scope Scope, fields []Field) (string, []vectorstore.Match, error) {
	var (
		sb         strings.Builder
		candidates []vectorstore.Match
	)
	for _, f := range fields {
		hits, err := r.vectors.Query(ctx, scope.Collection, f.Key, scope.Filter, fieldSearchK)
		if err != nil {
			return "", nil, fmt.Errorf("failed to search passages for %q: %w", f.Key, err)
		}
		candidates = append(candidates, hits...)

		for _, h := range hits {
			passage, err := r.withNeighbors(ctx, scope.Collection, h.Document)
			if err != nil {
				return "", nil, err
			}
			sb.WriteString("\n")
			sb.WriteString(passage)
		}
	}
	return strings.TrimPrefix(sb.String(), "\n"), candidates, nil
}

func (r *StepRunner) withNeighbors(ctx context.Context, collection string, d vectorstore.Document) (string, error) {
	parts := []string{d.Text}

	if id := d.Metadata.PreviousID(); id != "" {
		prev, err := r.vectors.Get(ctx, collection, []string{id})
		if err != nil {
			return "", fmt.Errorf("failed to fetch previous segment: %w", err)
		}
		if len(prev) > 0 {
			parts = append([]string{prev[0].Text}, parts...)
		}
	}
	if id := d.Metadata.NextID(); id != "" {
		next, err := r.vectors.Get(ctx, collection, []string{id})
		if err != nil {
			return "", fmt.Errorf("failed to fetch next segment: %w", err)
		}
		if len(next) > 0 {
			parts = append(parts, next[0].Text)
		}
	}
	return strings.Join(parts, " "), nil
}

func (r *StepRunner) summarize(ctx context.Context, process *store.Process, details *Details, asset *store.Asset, content *store.AssetContent) (*stepResult, error) {
	req := extraction.SummaryRequest{Config: details.Raw}
	if content != nil {
		req.Content = content.Content.Text()
	}
	if req.Content == "" {
		req.FilePath = asset.Path
	}

	res, err := r.extractor.Summarize(ctx, req)
	if err != nil {
		return nil, err
	}

	out := StepOutput{Summary: res.Summary}
	if asset.Type == store.AssetTypePDF && asset.Path != "" && len(res.SummarySentences) > 0 {
		target := filepath.Join(r.uploadDir, process.ProjectID.String(), asset.ID.String()+"-highlighted.pdf")
		if err := r.extractor.HighlightPDF(ctx, res.SummarySentences, asset.Path, target); err != nil {
			return nil, err
		}
		out.HighlightedPDF = target
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("failed to encode summary output: %w", err)
	}
	return &stepResult{output: raw, summary: res.Summary}, nil
}

// indexReferences makes extracted citations searchable per project: one
// document per field name holding every source cited for it.
func (r *StepRunner) indexReferences(ctx context.Context, process *store.Process, step *store.ProcessStep, asset *store.Asset, refs [][]extraction.Reference) error {
	var (
		order   []string
		sources = map[string][]string{}
	)
	for _, group := range refs {
		for _, ref := range group {
			if len(ref.Sources) == 0 {
				continue
			}
			if _, seen := sources[ref.Name]; !seen {
				order = append(order, ref.Name)
			}
			sources[ref.Name] = append(sources[ref.Name], ref.Sources...)
		}
	}
	if len(order) == 0 {
		return nil
	}

	docs := make([]vectorstore.Document, 0, len(order))
	for _, name := range order {
		docs = append(docs, vectorstore.Document{
			ID:   uuid.NewString(),
			Text: asset.Filename + " " + name,
			Metadata: vectorstore.Metadata{
				vectorstore.KeyProjectID: process.ProjectID.String(),
				vectorstore.KeyStepID:    step.ID.String(),
				vectorstore.KeyFilename:  asset.Filename,
				vectorstore.KeyReference: strings.Join(sources[name], "\n"),
			},
		})
	}
	_, err := r.vectors.Add(ctx, vectorstore.ProcessesCollection(process.ProjectID), docs)
	return err
}

func wordCount(c *store.AssetContent) int {
	if c == nil || c.Content == nil {
		return 0
	}
	return c.Content.WordCount
}

// summaryOf reads the summary back out of a stored step output.
func summaryOf(raw json.RawMessage) string {
	var out StepOutput
	if len(raw) == 0 || json.Unmarshal(raw, &out) != nil {
		return ""
	}
	return out.Summary
}
