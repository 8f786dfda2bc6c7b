// Package poll provides a small interval scheduler: a task runs every
// fixed period between an explicit Start and Stop. Recurring work is
// tied to a lifecycle this way instead of ad hoc timers scattered
// through the codebase.
package poll

import (
	"context"
	"sync"
	"time"
)

// Task is the unit of recurring work. The context is cancelled when the
// scheduler stops, so long-running tasks can bail out mid-tick.
type Task func(ctx context.Context)

// Scheduler runs one task on a fixed interval. Start and Stop are safe
// to call repeatedly and from different goroutines; Stop blocks until
// the loop has exited.
type Scheduler struct {
	interval time.Duration
	task     Task

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a stopped scheduler.
func NewScheduler(interval time.Duration, task Task) *Scheduler {
	return &Scheduler{interval: interval, task: task}
}

// Start launches the tick loop. No-op if already running.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx, s.done)
}

// Stop cancels the loop and waits for it to finish. No-op if not running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the tick loop is active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancel != nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.task(ctx)
		}
	}
}
