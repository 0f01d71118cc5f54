package handlers

import (
	"context"

	"docplane/internal/processing"
	"docplane/internal/store"

	"github.com/google/uuid"
)

// Mock Store
type mockStore struct {
	pingErr error

	getProcessResp *store.Process
	getProcessErr  error

	listStepsResp []store.ProcessStep
	listStepsErr  error

	getAssetResp *store.Asset
	getAssetErr  error
}

func (m *mockStore) Ping(ctx context.Context) error {
	return m.pingErr
}

func (m *mockStore) GetProcess(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Process, error) {
	return m.getProcessResp, m.getProcessErr
}

func (m *mockStore) ListProcessSteps(ctx context.Context, processID uuid.UUID) ([]store.ProcessStep, error) {
	return m.listStepsResp, m.listStepsErr
}

func (m *mockStore) GetAsset(ctx context.Context, tx store.DBTransaction, id uuid.UUID) (*store.Asset, error) {
	return m.getAssetResp, m.getAssetErr
}

// Mock Engine
type mockEngine struct {
	startResp *store.Process
	startErr  error
	stopErr   error
	resumeErr error
	depth     int

	// Spies (to verify arguments passed by handlers)
	capturedStart      processing.StartRequest
	capturedLifecycle  uuid.UUID
	capturedPreprocess uuid.UUID
}

func (m *mockEngine) Start(ctx context.Context, req processing.StartRequest) (*store.Process, error) {
	m.capturedStart = req
	return m.startResp, m.startErr
}

func (m *mockEngine) Stop(ctx context.Context, id uuid.UUID) error {
	m.capturedLifecycle = id
	return m.stopErr
}

func (m *mockEngine) Resume(ctx context.Context, id uuid.UUID) error {
	m.capturedLifecycle = id
	return m.resumeErr
}

func (m *mockEngine) SubmitPreprocess(assetID uuid.UUID) {
	m.capturedPreprocess = assetID
}

func (m *mockEngine) QueueDepth() int {
	return m.depth
}
