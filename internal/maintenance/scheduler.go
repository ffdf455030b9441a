// Package maintenance runs the periodic background jobs: metrics gauge
// sampling, threat intelligence refresh, and expired-state cleanup.
package maintenance

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task is a named periodic job. Run errors are logged, never fatal.
type Task struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context) error
}

// Scheduler owns the background task goroutines. Start launches one loop
// per task; Stop cancels them and waits for in-flight runs to finish.
type Scheduler struct {
	logger *zap.Logger
	tasks  []Task

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// NewScheduler creates a scheduler over the given tasks
func NewScheduler(logger *zap.Logger, tasks ...Task) *Scheduler {
	return &Scheduler{logger: logger, tasks: tasks}
}

// Start launches the task loops. Calling Start twice is an error in the
// caller; the second call is ignored.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.started = true

	for _, task := range s.tasks {
		if task.Interval <= 0 {
			s.logger.Warn("skipping task with non-positive interval", zap.String("task", task.Name))
			continue
		}
		s.wg.Add(1)
		go s.loop(ctx, task)
	}
	s.logger.Info("maintenance scheduler started", zap.Int("tasks", len(s.tasks)))
}

func (s *Scheduler) loop(ctx context.Context, task Task) {
	defer s.wg.Done()
	ticker := time.NewTicker(task.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, task)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, task Task) {
	started := time.Now()
	if err := task.Run(ctx); err != nil {
		s.logger.Error("maintenance task failed",
			zap.String("task", task.Name),
			zap.Duration("elapsed", time.Since(started)),
			zap.Error(err))
		return
	}
	s.logger.Debug("maintenance task completed",
		zap.String("task", task.Name),
		zap.Duration("elapsed", time.Since(started)))
}

// Stop cancels the loops and blocks until all of them exit. Safe to call
// without a prior Start, and safe to call more than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("maintenance scheduler stopped")
}
