// Package scheduler runs named tasks on fixed-delay timers.
//
// Fixed delay means the next run begins interval after the previous run
// completes; runs of the same task never overlap. A CAS reentrancy guard
// backs that up in case a task is also triggered manually.
package scheduler

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

// TaskFunc is one unit of periodic work. Errors are logged, never propagated
// past the scheduler goroutine.
type TaskFunc func(ctx context.Context) error

// Task pairs a task with its cadence.
type Task struct {
	Name     string
	Interval time.Duration
	Fn       TaskFunc

	running atomic.Bool
}

// TryRun executes the task unless a run is already in flight. Returns false
// when skipped.
func (t *Task) TryRun(ctx context.Context) bool {
	if !t.running.CompareAndSwap(false, true) {
		return false
	}
	defer t.running.Store(false)
	if err := t.Fn(ctx); err != nil {
		log.Printf("scheduler: task %q: %v", t.Name, err)
	}
	return true
}

// Scheduler owns a list of fixed-delay tasks.
type Scheduler struct {
	tasks  []*Task
	logger *log.Logger
	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates an empty scheduler. A nil logger falls back to log.Default.
func New(logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{logger: logger}
}

// Add registers a task. Must be called before Start.
func (s *Scheduler) Add(name string, interval time.Duration, fn TaskFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, &Task{Name: name, Interval: interval, Fn: fn})
}

// Start launches one goroutine per task. Each runs immediately, then with a
// fixed delay between completions, until the context is cancelled or Stop is
// called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx, s.cancel = context.WithCancel(ctx)
	for _, t := range s.tasks {
		s.wg.Add(1)
		go s.runTask(ctx, t)
	}
}

// Stop cancels all tasks and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) runTask(ctx context.Context, t *Task) {
	defer s.wg.Done()
	s.logger.Printf("scheduler: task %q starting (interval=%s)", t.Name, t.Interval)

	timer := time.NewTimer(0) // first run immediately
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Printf("scheduler: task %q stopping", t.Name)
			return
		case <-timer.C:
			t.TryRun(ctx)
			timer.Reset(t.Interval)
		}
	}
}
