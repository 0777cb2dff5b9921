package workers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"go.uber.org/atomic"

	"RAG-Telebot/server/internal/apperr"
	"RAG-Telebot/server/internal/logging"
)

// ErrPoolStopped is returned by Submit after Stop
var ErrPoolStopped = errors.New("worker pool stopped")

// Task is one unit of work. It runs to completion on a single worker.
type Task func(ctx context.Context)

// Pool runs tasks on a fixed number of workers fed by a bounded queue.
// Tasks are not ordered: two tasks submitted back to back may run concurrently
// or complete in either order.
type Pool struct {
	tasks      chan Task
	maxWorkers int
	logger     *slog.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	cancel  context.CancelFunc
	started atomic.Bool

	submitted *atomic.Int64
	completed *atomic.Int64
	rejected  *atomic.Int64
	panics    *atomic.Int64
	inFlight  *atomic.Int64
}

// PoolStats is a snapshot of pool counters
type PoolStats struct {
	Workers   int   `json:"workers"`
	Queued    int   `json:"queued"`
	Capacity  int   `json:"capacity"`
	InFlight  int64 `json:"in_flight"`
	Submitted int64 `json:"submitted"`
	Completed int64 `json:"completed"`
	Rejected  int64 `json:"rejected"`
	Panics    int64 `json:"panics"`
}

// NewPool creates a pool with maxWorkers workers and room for queueSize waiting tasks
func NewPool(maxWorkers, queueSize int, logger *slog.Logger) *Pool {
	if maxWorkers < 1 {
		maxWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &Pool{
		tasks:      make(chan Task, queueSize),
		maxWorkers: maxWorkers,
		logger:     logging.Component(logger, "WorkerPool"),
		submitted:  atomic.NewInt64(0),
		completed:  atomic.NewInt64(0),
		rejected:   atomic.NewInt64(0),
		panics:     atomic.NewInt64(0),
		inFlight:   atomic.NewInt64(0),
	}
}

// Start launches the workers. Tasks receive a context derived from ctx.
func (p *Pool) Start(ctx context.Context) {
	if !p.started.CompareAndSwap(false, true) {
		return
	}

	ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.maxWorkers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.logger.Info("worker pool started", "workers", p.maxWorkers, "queue", cap(p.tasks))
}

// Submit enqueues a task without blocking
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		p.submitted.Inc()
		return nil
	default:
		p.rejected.Inc()
		return apperr.ErrQueueFull
	}
}

// Stop stops accepting tasks and waits for queued ones to finish, or for ctx to expire
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.tasks)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if p.cancel != nil {
			p.cancel()
		}
		return nil
	case <-ctx.Done():
		if p.cancel != nil {
			p.cancel()
		}
		return fmt.Errorf("worker pool drain interrupted: %w", ctx.Err())
	}
}

// worker processes queued tasks
func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case task, ok := <-p.tasks:
			if !ok {
				return
			}
			p.run(ctx, id, task)
		}
	}
}

func (p *Pool) run(ctx context.Context, id int, task Task) {
	p.inFlight.Inc()
	defer func() {
		p.inFlight.Dec()
		p.completed.Inc()
		if r := recover(); r != nil {
			p.panics.Inc()
			p.logger.Error("task panicked", "worker", id, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	task(ctx)
}

// Stats returns current counters
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Workers:   p.maxWorkers,
		Queued:    len(p.tasks),
		Capacity:  cap(p.tasks),
		InFlight:  p.inFlight.Load(),
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}
