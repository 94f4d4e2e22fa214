// Package reconcile owns the time-driven maintenance of persisted state:
// delayed one-shot actions, rental expiry sweeps, and resource
// auto-suspension.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DelayedTask is a one-shot action scheduled for a future instant. The
// task function is responsible for re-checking state when it fires;
// conditions observed at scheduling time may no longer hold.
type DelayedTask struct {
	ID    string
	Name  string
	RunAt time.Time
	Fn    func(ctx context.Context)
}

// Scheduler runs delayed one-shot tasks.
type Scheduler struct {
	mu       sync.Mutex
	tasks    map[string]*DelayedTask
	logger   *slog.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tasks:  make(map[string]*DelayedTask),
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// Schedule queues fn to run after delay and returns the task id.
func (s *Scheduler) Schedule(name string, delay time.Duration, fn func(ctx context.Context)) string {
	task := &DelayedTask{
		ID:    uuid.NewString(),
		Name:  name,
		RunAt: time.Now().Add(delay),
		Fn:    fn,
	}

	s.mu.Lock()
	s.tasks[task.ID] = task
	s.mu.Unlock()

	s.logger.Info("delayed task scheduled", "id", task.ID, "name", name, "run_at", task.RunAt.Format(time.RFC3339))
	return task.ID
}

// Cancel drops a pending task. A no-op for unknown or already-fired ids.
func (s *Scheduler) Cancel(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tasks, id)
}

// Pending returns the number of queued tasks.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Start runs the scheduler until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("delayed-task scheduler started")
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("delayed-task scheduler stopping")
			return
		case <-s.stopCh:
			return
		case now := <-ticker.C:
			s.runDue(ctx, now)
		}
	}
}

// Stop halts the scheduler. Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// runDue fires every task whose deadline has passed. Fire-and-forget:
// each task runs on its own goroutine.
func (s *Scheduler) runDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*DelayedTask
	for id, task := range s.tasks {
		if now.After(task.RunAt) {
			due = append(due, task)
			delete(s.tasks, id)
		}
	}
	s.mu.Unlock()

	for _, task := range due {
		s.logger.Info("running delayed task", "id", task.ID, "name", task.Name)
		go task.Fn(ctx)
	}
}
