package processing

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Scheduler re-submits processes that were waiting on asset preprocessing.
// Every interval it pops one process ID in FIFO order and hands it to exec.
// The background loop starts on the first Enqueue and exits once the queue
// is drained; the next Enqueue starts it again.
type Scheduler struct {
	interval time.Duration
	exec     func(id uuid.UUID)
	logger   *slog.Logger

	mu      sync.Mutex
	queue   []uuid.UUID
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

func NewScheduler(interval time.Duration, exec func(id uuid.UUID), logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = 60 * time.Second
	}
	return &Scheduler{interval: interval, exec: exec, logger: logger}
}

// Enqueue appends id and starts the loop if it is not running. The running
// check shares the lock with the loop's stop decision, so an ID is never
// left behind by a loop that is exiting.
func (s *Scheduler) Enqueue(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.queue = append(s.queue, id)
	s.logger.Info("Process added to scheduler", "process_id", id, "queue_len", len(s.queue))

	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.loop(s.stop)
	s.logger.Info("Scheduler started", "interval", s.interval)
}

func (s *Scheduler) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			id, ok := s.next()
			if !ok {
				s.logger.Info("Scheduler queue empty, stopping")
				return
			}
			s.logger.Info("Executing scheduled process", "process_id", id)
			s.exec(id)
		}
	}
}

// next pops the head of the queue, or marks the loop stopped when empty.
func (s *Scheduler) next() (uuid.UUID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.queue) == 0 {
		s.running = false
		return uuid.Nil, false
	}
	id := s.queue[0]
	s.queue = s.queue[1:]
	return id, true
}

// Running reports whether the background loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Len returns the number of queued process IDs.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Stop halts the loop and waits for it to exit. Queued IDs are kept.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.running {
		close(s.stop)
		s.running = false
	}
	s.mu.Unlock()
	s.wg.Wait()
}
