package processing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"docplane/internal/extraction"
	"docplane/internal/store"
	"docplane/internal/vectorstore"

	"github.com/google/uuid"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeTx satisfies store.Tx. It releases the row locks taken through
// LockProcess when it commits or rolls back.
type fakeTx struct {
	mu   sync.Mutex
	held []*sync.Mutex
}

func (*fakeTx) ExecContext(context.Context, string, ...interface{}) (sql.Result, error) {
	return nil, nil
}
func (*fakeTx) QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error) {
	return nil, nil
}
func (*fakeTx) QueryRowContext(context.Context, string, ...interface{}) *sql.Row { return nil }
func (tx *fakeTx) Commit() error                                                 { tx.release(); return nil }
func (tx *fakeTx) Rollback() error                                               { tx.release(); return nil }

func (tx *fakeTx) release() {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	for _, l := range tx.held {
		l.Unlock()
	}
	tx.held = nil
}

// fakeRepo is an in-memory Repository.
type fakeRepo struct {
	mu        sync.Mutex
	projects  map[uuid.UUID]*store.Project
	assets    map[uuid.UUID]*store.Asset
	contents  map[uuid.UUID]*store.AssetContent
	processes map[uuid.UUID]*store.Process
	steps     map[uuid.UUID]*store.ProcessStep
	stepOrder []uuid.UUID

	rowLocks sync.Map // process id -> *sync.Mutex
	lockMu   sync.Mutex
	lockLog  []uuid.UUID
	// onLocked runs once the row lock of LockProcess is held.
	onLocked func(id uuid.UUID, n int)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		projects:  map[uuid.UUID]*store.Project{},
		assets:    map[uuid.UUID]*store.Asset{},
		contents:  map[uuid.UUID]*store.AssetContent{},
		processes: map[uuid.UUID]*store.Process{},
		steps:     map[uuid.UUID]*store.ProcessStep{},
	}
}

func (r *fakeRepo) BeginTx(context.Context) (store.Tx, error) { return &fakeTx{}, nil }

func (r *fakeRepo) addProject() uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.New()
	r.projects[id] = &store.Project{ID: id, Name: "project"}
	return id
}

func (r *fakeRepo) addAsset(projectID uuid.UUID, filename string, status store.AssetProcessingStatus, content *store.ParsedContent) *store.Asset {
	r.mu.Lock()
	defer r.mu.Unlock()
	a := &store.Asset{ID: uuid.New(), ProjectID: projectID, Filename: filename, Path: "/uploads/" + filename, Type: store.AssetTypePDF}
	r.assets[a.ID] = a
	if status != "" {
		r.contents[a.ID] = &store.AssetContent{AssetID: a.ID, Content: content, Processing: status}
	}
	return a
}

func (r *fakeRepo) addProcess(projectID uuid.UUID, t store.ProcessType, details string, status store.ProcessStatus) *store.Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := &store.Process{ID: uuid.New(), ProjectID: projectID, Type: t, Status: status, Details: json.RawMessage(details)}
	r.processes[p.ID] = p
	return p
}

func (r *fakeRepo) addStep(processID, assetID uuid.UUID, status store.StepStatus, output string) *store.ProcessStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &store.ProcessStep{ID: uuid.New(), ProcessID: processID, AssetID: assetID, Status: status}
	if output != "" {
		s.Output = json.RawMessage(output)
	}
	r.steps[s.ID] = s
	r.stepOrder = append(r.stepOrder, s.ID)
	return s
}

func (r *fakeRepo) process(id uuid.UUID) store.Process {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.processes[id]
}

func (r *fakeRepo) step(id uuid.UUID) store.ProcessStep {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.steps[id]
}

func (r *fakeRepo) setProcessStatus(id uuid.UUID, status store.ProcessStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.processes[id].Status = status
}

func (r *fakeRepo) GetProject(_ context.Context, id uuid.UUID) (*store.Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) ListProjectAssets(_ context.Context, _ store.DBTransaction, projectID uuid.UUID) ([]store.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.Asset
	for _, a := range r.assets {
		if a.ProjectID == projectID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (r *fakeRepo) GetAsset(_ context.Context, _ store.DBTransaction, id uuid.UUID) (*store.Asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (r *fakeRepo) GetAssetContent(_ context.Context, _ store.DBTransaction, assetID uuid.UUID) (*store.AssetContent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[assetID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeRepo) UpsertAssetContent(_ context.Context, _ store.DBTransaction, content *store.AssetContent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *content
	r.contents[content.AssetID] = &cp
	return nil
}

func (r *fakeRepo) UpdateAssetContentStatus(_ context.Context, _ store.DBTransaction, assetID uuid.UUID, status store.AssetProcessingStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contents[assetID]
	if !ok {
		return store.ErrNotFound
	}
	c.Processing = status
	return nil
}

func (r *fakeRepo) ListIncompleteAssetIDs(context.Context) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id := range r.assets {
		if c, ok := r.contents[id]; !ok || c.Processing != store.AssetProcessingCompleted {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateProcess(_ context.Context, _ store.DBTransaction, p *store.Process) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *p
	r.processes[p.ID] = &cp
	return nil
}

func (r *fakeRepo) LockProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Process, error) {
	ftx, ok := tx.(*fakeTx)
	if !ok {
		return nil, errors.New("LockProcess needs a transaction")
	}
	l, _ := r.rowLocks.LoadOrStore(id, &sync.Mutex{})
	row := l.(*sync.Mutex)
	row.Lock()
	ftx.mu.Lock()
	ftx.held = append(ftx.held, row)
	ftx.mu.Unlock()

	r.lockMu.Lock()
	r.lockLog = append(r.lockLog, id)
	n := len(r.lockLog)
	r.lockMu.Unlock()
	if r.onLocked != nil {
		r.onLocked(id, n)
	}
	return r.GetProcess(ctx, tx, id)
}

func (r *fakeRepo) locks() int {
	r.lockMu.Lock()
	defer r.lockMu.Unlock()
	return len(r.lockLog)
}

func (r *fakeRepo) GetProcess(_ context.Context, _ store.DBTransaction, id uuid.UUID) (*store.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *fakeRepo) UpdateProcessStatus(_ context.Context, _ store.DBTransaction, id uuid.UUID, status store.ProcessStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

func (r *fakeRepo) StartProcess(_ context.Context, _ store.DBTransaction, id uuid.UUID, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = store.ProcessStatusInProgress
	p.StartedAt = &startedAt
	return nil
}

func (r *fakeRepo) FinishProcess(_ context.Context, _ store.DBTransaction, id uuid.UUID, status store.ProcessStatus, completedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	p.CompletedAt = &completedAt
	return nil
}

func (r *fakeRepo) FailProcess(_ context.Context, _ store.DBTransaction, id uuid.UUID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = store.ProcessStatusFailed
	p.Message = message
	return nil
}

func (r *fakeRepo) SetProcessOutput(_ context.Context, _ store.DBTransaction, id uuid.UUID, output json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.processes[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Output = output
	return nil
}

func (r *fakeRepo) ListProcessIDsByStatus(_ context.Context, statuses []store.ProcessStatus) ([]uuid.UUID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []uuid.UUID
	for id, p := range r.processes {
		if slices.Contains(statuses, p.Status) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *fakeRepo) CreateProcessSteps(_ context.Context, _ store.DBTransaction, steps []store.ProcessStep) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range steps {
		cp := s
		r.steps[s.ID] = &cp
		r.stepOrder = append(r.stepOrder, s.ID)
	}
	return nil
}

func (r *fakeRepo) GetProcessStep(_ context.Context, _ store.DBTransaction, id uuid.UUID) (*store.ProcessStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.steps[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (r *fakeRepo) GetProcessStepsWithAssetContent(_ context.Context, _ store.DBTransaction, processID uuid.UUID, statuses []store.StepStatus) ([]store.StepWithAsset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.StepWithAsset
	for _, id := range r.stepOrder {
		s := r.steps[id]
		if s.ProcessID != processID || !slices.Contains(statuses, s.Status) {
			continue
		}
		sw := store.StepWithAsset{Step: *s, Asset: *r.assets[s.AssetID], ContentStatus: store.AssetProcessingPending}
		if c, ok := r.contents[s.AssetID]; ok {
			sw.ContentStatus = c.Processing
		}
		out = append(out, sw)
	}
	return out, nil
}

func (r *fakeRepo) UpdateProcessStepStatus(_ context.Context, _ store.DBTransaction, id uuid.UUID, status store.StepStatus, output, references json.RawMessage) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.steps[id]
	if !ok {
		return store.ErrNotFound
	}
	s.Status = status
	if output != nil {
		s.Output = output
	}
	if references != nil {
		s.OutputReferences = references
	}
	return nil
}

func (r *fakeRepo) ListProcessSteps(_ context.Context, processID uuid.UUID) ([]store.ProcessStep, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []store.ProcessStep
	for _, id := range r.stepOrder {
		if s := r.steps[id]; s.ProcessID == processID {
			out = append(out, *s)
		}
	}
	return out, nil
}

// fakeExtractor is a scripted extraction.Service.
type fakeExtractor struct {
	extract            func(ctx context.Context, req extraction.ExtractRequest) (*extraction.ExtractResult, error)
	summarize          func(ctx context.Context, req extraction.SummaryRequest) (*extraction.SummaryResult, error)
	summarizeSummaries func(ctx context.Context, summaries []string, prompt string) (string, error)
	parse              func(ctx context.Context, path string) (*extraction.ParseResult, error)

	extractCalls   atomic.Int32
	summarizeCalls atomic.Int32
	highlightCalls atomic.Int32
	parseCalls     atomic.Int32

	mu       sync.Mutex
	requests []extraction.ExtractRequest
}

func (f *fakeExtractor) Parse(ctx context.Context, path string) (*extraction.ParseResult, error) {
	f.parseCalls.Add(1)
	return f.parse(ctx, path)
}

func (f *fakeExtractor) Extract(ctx context.Context, req extraction.ExtractRequest) (*extraction.ExtractResult, error) {
	f.extractCalls.Add(1)
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()
	return f.extract(ctx, req)
}

func (f *fakeExtractor) Summarize(ctx context.Context, req extraction.SummaryRequest) (*extraction.SummaryResult, error) {
	f.summarizeCalls.Add(1)
	return f.summarize(ctx, req)
}

func (f *fakeExtractor) SummarizeSummaries(ctx context.Context, summaries []string, prompt string) (string, error) {
	return f.summarizeSummaries(ctx, summaries, prompt)
}

func (f *fakeExtractor) HighlightPDF(context.Context, []string, string, string) error {
	f.highlightCalls.Add(1)
	return nil
}

// fakeVectors is an in-memory vectorstore.Store. Query returns every document
// of the collection containing any query word, in insertion order.
type fakeVectors struct {
	mu      sync.Mutex
	docs    map[string][]vectorstore.Document
	queries []string
	deletes int
}

func newFakeVectors() *fakeVectors {
	return &fakeVectors{docs: map[string][]vectorstore.Document{}}
}

func (v *fakeVectors) Query(_ context.Context, collection, text string, _ vectorstore.Filter, k int) ([]vectorstore.Match, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.queries = append(v.queries, text)

	words := strings.Fields(strings.ToLower(text))
	var out []vectorstore.Match
	for _, d := range v.docs[collection] {
		lower := strings.ToLower(d.Text)
		for _, w := range words {
			if strings.Contains(lower, w) {
				out = append(out, vectorstore.Match{Document: d})
				break
			}
		}
		if len(out) == k {
			break
		}
	}
	return out, nil
}

func (v *fakeVectors) Get(_ context.Context, collection string, ids []string) ([]vectorstore.Document, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	var out []vectorstore.Document
	for _, d := range v.docs[collection] {
		if slices.Contains(ids, d.ID) {
			out = append(out, d)
		}
	}
	return out, nil
}

func (v *fakeVectors) Add(_ context.Context, collection string, docs []vectorstore.Document) ([]string, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]string, len(docs))
	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		ids[i] = d.ID
		v.docs[collection] = append(v.docs[collection], d)
	}
	return ids, nil
}

func (v *fakeVectors) Delete(_ context.Context, collection string, where vectorstore.Filter) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.deletes++
	assetID, _ := where[vectorstore.KeyAssetID].(string)
	kept := v.docs[collection][:0]
	for _, d := range v.docs[collection] {
		if d.Metadata[vectorstore.KeyAssetID] != assetID {
			kept = append(kept, d)
		}
	}
	v.docs[collection] = kept
	return nil
}

func (v *fakeVectors) collection(name string) []vectorstore.Document {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]vectorstore.Document(nil), v.docs[name]...)
}

// requeueRecorder records processes handed back to the scheduler.
type requeueRecorder struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (q *requeueRecorder) Enqueue(id uuid.UUID) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
}

func (q *requeueRecorder) queued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}
