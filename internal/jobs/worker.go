package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// JobProcessor handles one polling round.
type JobProcessor interface {
	ProcessJobs(ctx context.Context) error
}

// Task is a processor polled every Every. Name shows up in logs only.
type Task struct {
	Name      string
	Processor JobProcessor
	Every     time.Duration
}

// Scheduler polls a fixed set of tasks in the background, one goroutine per
// task. A failed round is logged and retried on the next tick.
type Scheduler struct {
	tasks []Task

	mu     sync.Mutex
	cancel context.CancelFunc
	group  *errgroup.Group
}

func NewScheduler(tasks ...Task) *Scheduler {
	return &Scheduler{tasks: tasks}
}

// Start launches every task and returns. Each task runs a round right away.
// Calling Start on a running scheduler does nothing.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group != nil {
		return
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.group, ctx = errgroup.WithContext(ctx)
	for _, task := range s.tasks {
		s.group.Go(func() error {
			poll(ctx, task)
			return nil
		})
	}
}

// Stop cancels all tasks and waits for in-flight rounds to return. It is a
// no-op unless the scheduler is running.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.group == nil {
		return
	}
	s.cancel()
	_ = s.group.Wait()
	s.group = nil
	log.Printf("[jobs] %d task(s) stopped", len(s.tasks))
}

func poll(ctx context.Context, task Task) {
	ticker := time.NewTicker(task.Every)
	defer ticker.Stop()

	log.Printf("[jobs] %s polling every %v", task.Name, task.Every)
	for {
		if err := task.Processor.ProcessJobs(ctx); err != nil && ctx.Err() == nil {
			log.Printf("[jobs] %s: %v", task.Name, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
