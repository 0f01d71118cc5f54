package processing

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrPoolClosed is returned by Submit after Shutdown.
var ErrPoolClosed = errors.New("submitter is shut down")

// Submitter runs submitted tasks in the background with at most workers of
// them executing at once. Submit never blocks; excess tasks wait for a slot.
type Submitter struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.Mutex
	closed bool
}

func NewSubmitter(workers int, logger *slog.Logger) *Submitter {
	if workers <= 0 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Submitter{
		sem:    make(chan struct{}, workers),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Submit schedules task. The context passed to task is cancelled when
// Shutdown gives up waiting.
func (s *Submitter) Submit(name string, task func(ctx context.Context)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrPoolClosed
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case s.sem <- struct{}{}:
		case <-s.ctx.Done():
			s.logger.Warn("Task dropped before start", "task", name)
			return
		}
		defer func() { <-s.sem }()

		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Task panicked", "task", name, "panic", r)
			}
		}()
		task(s.ctx)
	}()
	return nil
}

// InFlight returns the number of tasks currently holding a slot.
func (s *Submitter) InFlight() int {
	return len(s.sem)
}

// Shutdown stops accepting tasks and waits for submitted ones to finish.
// If ctx expires first, running tasks are cancelled and ctx.Err is returned.
func (s *Submitter) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-done
		return ctx.Err()
	}
}
