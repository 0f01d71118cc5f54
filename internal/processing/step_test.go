package processing

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"docplane/internal/extraction"
	"docplane/internal/store"
	"docplane/internal/vectorstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const extractDetails = `{"fields":[{"key":"total","type":"number"}]}`

var (
	errTransient   = &extraction.Error{Kind: extraction.KindTransient, Op: "extract", StatusCode: 500, Message: "upstream failure"}
	errCreditLimit = &extraction.Error{Kind: extraction.KindCreditLimit, Op: "extract", StatusCode: 402, Message: "Credit limit exceeded!"}
)

type stepFixture struct {
	repo    *fakeRepo
	ext     *fakeExtractor
	vectors *fakeVectors
	runner  *StepRunner
	process *store.Process
	asset   *store.Asset
	step    *store.ProcessStep
}

func newStepFixture(t *testing.T, typ store.ProcessType, details string, content *store.ParsedContent) *stepFixture {
	t.Helper()

	repo := newFakeRepo()
	projectID := repo.addProject()
	if content == nil {
		content = &store.ParsedContent{WordCount: 3, Segments: []store.Segment{{Text: "Total: 100 USD"}}}
	}
	asset := repo.addAsset(projectID, "invoice.pdf", store.AssetProcessingCompleted, content)
	process := repo.addProcess(projectID, typ, details, store.ProcessStatusInProgress)
	step := repo.addStep(process.ID, asset.ID, store.StepStatusPending, "")

	ext := &fakeExtractor{
		extract: func(context.Context, extraction.ExtractRequest) (*extraction.ExtractResult, error) {
			return &extraction.ExtractResult{Fields: json.RawMessage(`{"total":100}`)}, nil
		},
		summarize: func(context.Context, extraction.SummaryRequest) (*extraction.SummaryResult, error) {
			return &extraction.SummaryResult{Summary: "short", SummarySentences: []string{"Total: 100 USD"}}, nil
		},
	}
	vectors := newFakeVectors()

	return &stepFixture{
		repo:    repo,
		ext:     ext,
		vectors: vectors,
		runner:  NewStepRunner(repo, ext, vectors, nil, discardLogger(), 3, t.TempDir()),
		process: process,
		asset:   asset,
		step:    step,
	}
}

func (f *stepFixture) run(t *testing.T, agg *Aggregate) (bool, error) {
	t.Helper()
	return f.runner.RunStep(context.Background(), f.process.ID, f.step.ID, agg)
}

func TestRunStep_SucceedsOnLastAttempt(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, nil)
	f.ext.extract = func(context.Context, extraction.ExtractRequest) (*extraction.ExtractResult, error) {
		if f.ext.extractCalls.Load() < 3 {
			return nil, errTransient
		}
		return &extraction.ExtractResult{Fields: json.RawMessage(`{"total":100}`)}, nil
	}

	agg := &Aggregate{}
	ok, err := f.run(t, agg)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, int32(3), f.ext.extractCalls.Load())
	step := f.repo.step(f.step.ID)
	assert.Equal(t, store.StepStatusCompleted, step.Status)
	assert.JSONEq(t, `{"total":100}`, string(step.Output))
	assert.Empty(t, agg.FailedAssets())
}

func TestRunStep_FailsAfterMaxRetries(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, nil)
	f.ext.extract = func(context.Context, extraction.ExtractRequest) (*extraction.ExtractResult, error) {
		return nil, errTransient
	}

	agg := &Aggregate{}
	ok, err := f.run(t, agg)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.Equal(t, int32(3), f.ext.extractCalls.Load())
	assert.Equal(t, store.StepStatusFailed, f.repo.step(f.step.ID).Status)
	assert.Equal(t, []uuid.UUID{f.asset.ID}, agg.FailedAssets())
	assert.Equal(t, store.ProcessStatusInProgress, f.repo.process(f.process.ID).Status)
}

func TestRunStep_CreditLimitStopsProcess(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, nil)
	f.ext.extract = func(context.Context, extraction.ExtractRequest) (*extraction.ExtractResult, error) {
		return nil, errCreditLimit
	}

	agg := &Aggregate{}
	ok, err := f.run(t, agg)
	require.Error(t, err)
	assert.True(t, extraction.IsCreditLimit(err))
	assert.False(t, ok)

	assert.Equal(t, int32(1), f.ext.extractCalls.Load(), "credit limit is never retried")
	assert.Equal(t, store.ProcessStatusStopped, f.repo.process(f.process.ID).Status)
	assert.NotEqual(t, store.StepStatusCompleted, f.repo.step(f.step.ID).Status)
	assert.Empty(t, agg.FailedAssets())
}

func TestRunStep_StoppedProcessIsUntouched(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, nil)
	f.repo.setProcessStatus(f.process.ID, store.ProcessStatusStopped)

	ok, err := f.run(t, &Aggregate{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(0), f.ext.extractCalls.Load())
	assert.Equal(t, store.StepStatusPending, f.repo.step(f.step.ID).Status)
}

func TestRunStep_StopBetweenAttempts(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, nil)
	f.ext.extract = func(context.Context, extraction.ExtractRequest) (*extraction.ExtractResult, error) {
		f.repo.setProcessStatus(f.process.ID, store.ProcessStatusStopped)
		return nil, errTransient
	}

	agg := &Aggregate{}
	ok, err := f.run(t, agg)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(1), f.ext.extractCalls.Load())
	assert.Equal(t, store.StepStatusInProgress, f.repo.step(f.step.ID).Status)
	assert.Empty(t, agg.FailedAssets())
}

func TestRunStep_StopDuringCallDiscardsResult(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, nil)
	f.ext.extract = func(context.Context, extraction.ExtractRequest) (*extraction.ExtractResult, error) {
		f.repo.setProcessStatus(f.process.ID, store.ProcessStatusStopped)
		return &extraction.ExtractResult{Fields: json.RawMessage(`{}`)}, nil
	}

	ok, err := f.run(t, &Aggregate{})
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NotEqual(t, store.StepStatusCompleted, f.repo.step(f.step.ID).Status)
}

func TestRunStep_CompletedSummaryIsFolded(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtractiveSummary, `{}`, nil)
	require.NoError(t, f.repo.UpdateProcessStepStatus(context.Background(), nil, f.step.ID, store.StepStatusCompleted, json.RawMessage(`{"summary":"done before"}`), nil))

	agg := &Aggregate{}
	ok, err := f.run(t, agg)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"done before"}, agg.Summaries())
	assert.Equal(t, int32(0), f.ext.summarizeCalls.Load())
}

func TestRunStep_SummaryHighlightsPDF(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtractiveSummary, `{"show_final_summary":true}`, nil)

	agg := &Aggregate{}
	ok, err := f.run(t, agg)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, int32(1), f.ext.highlightCalls.Load())
	assert.Equal(t, []string{"short"}, agg.Summaries())

	var out StepOutput
	require.NoError(t, json.Unmarshal(f.repo.step(f.step.ID).Output, &out))
	assert.Equal(t, "short", out.Summary)
	assert.True(t, strings.HasSuffix(out.HighlightedPDF, f.asset.ID.String()+"-highlighted.pdf"))
	assert.Contains(t, out.HighlightedPDF, f.process.ProjectID.String())
}

func TestRunStep_LongDocumentUsesRelevantPassages(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, &store.ParsedContent{WordCount: 600})

	docs := []vectorstore.Document{
		{Text: "Header text"},
		{Text: "Total 100 USD", Metadata: vectorstore.Metadata{vectorstore.KeyPageNumber: 2}},
		{Text: "Footer text"},
	}
	vectorstore.LinkNeighbors(docs)
	_, _ = f.vectors.Add(context.Background(), vectorstore.DocsCollection(f.process.ProjectID), docs)

	f.ext.extract = func(_ context.Context, req extraction.ExtractRequest) (*extraction.ExtractResult, error) {
		return &extraction.ExtractResult{
			Fields:     json.RawMessage(`{"total":100}`),
			References: [][]extraction.Reference{{{Name: "total", Sources: []string{"100 USD"}}}},
		}, nil
	}

	ok, err := f.run(t, &Aggregate{})
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, f.ext.requests, 1)
	assert.Equal(t, "Header text Total 100 USD Footer text", f.ext.requests[0].Content)
	assert.Empty(t, f.ext.requests[0].FilePath)

	var refs [][]extraction.Reference
	require.NoError(t, json.Unmarshal(f.repo.step(f.step.ID).OutputReferences, &refs))
	assert.Equal(t, []int{2}, refs[0][0].PageNumbers)

	indexed := f.vectors.collection(vectorstore.ProcessesCollection(f.process.ProjectID))
	require.Len(t, indexed, 1)
	assert.Equal(t, "invoice.pdf total", indexed[0].Text)
	assert.Equal(t, "100 USD", indexed[0].Metadata[vectorstore.KeyReference])
}

func TestRunStep_FallsBackToFilePath(t *testing.T) {
	f := newStepFixture(t, store.ProcessTypeExtract, extractDetails, &store.ParsedContent{})

	ok, err := f.run(t, &Aggregate{})
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, f.ext.requests, 1)
	assert.Equal(t, "", f.ext.requests[0].Content)
	assert.Equal(t, f.asset.Path, f.ext.requests[0].FilePath)
}
