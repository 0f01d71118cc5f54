package processing

import (
	"sync"

	"github.com/google/uuid"
)

// Aggregate collects per-step results of one process run. Steps running in
// parallel write to it concurrently.
type Aggregate struct {
	mu           sync.Mutex
	summaries    []string
	failedAssets []uuid.UUID
}

func (a *Aggregate) AddSummary(s string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.summaries = append(a.summaries, s)
}

func (a *Aggregate) AddFailedAsset(id uuid.UUID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failedAssets = append(a.failedAssets, id)
}

// Summaries returns a copy of the collected summaries.
func (a *Aggregate) Summaries() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.summaries...)
}

// FailedAssets returns a copy of the assets whose step exhausted its retries.
func (a *Aggregate) FailedAssets() []uuid.UUID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]uuid.UUID(nil), a.failedAssets...)
}
