package engine

import (
	"context"
	"errors"
	"log/slog"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/rendis/pineapple/pkg/schema"
)

// PoolMetrics counts pool work by outcome.
type PoolMetrics struct {
	Queued      int64 `json:"queued"`
	Active      int64 `json:"active"`
	Succeeded   int64 `json:"succeeded"`
	Failed      int64 `json:"failed"`
	Errored     int64 `json:"errored"`
	Interrupted int64 `json:"interrupted"`
	Panics      int64 `json:"panics"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// Work runs one operation and returns the state it finished in.
type Work func(ctx context.Context) schema.ExecutionState

// WorkerPool runs operation tasks with bounded concurrency. Submit never
// blocks: work waits in the queue until a slot is free.
type WorkerPool struct {
	size    int
	sem     chan struct{}
	wg      sync.WaitGroup
	metrics PoolMetrics
	logger  *slog.Logger

	mu     sync.Mutex
	closed bool
	active map[string]struct{}
}

// NewWorkerPool creates a pool running at most size operations at once.
func NewWorkerPool(size int, logger *slog.Logger) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WorkerPool{
		size:   size,
		sem:    make(chan struct{}, size),
		logger: logger,
		active: make(map[string]struct{}),
	}
}

// Size returns the max concurrency.
func (p *WorkerPool) Size() int { return p.size }

// Submit queues work for the execution id and returns immediately. Work
// queued before Shutdown still runs. A panic in work counts as ERROR.
func (p *WorkerPool) Submit(ctx context.Context, id string, work Work) error {
	// wg.Add must happen under the lock Shutdown takes before waiting.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.metrics.Queued, 1)
	p.mu.Unlock()

	go func() {
		p.sem <- struct{}{}
		atomic.AddInt64(&p.metrics.Queued, -1)
		p.setActive(id, true)
		atomic.AddInt64(&p.metrics.Active, 1)

		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.metrics.Panics, 1)
				atomic.AddInt64(&p.metrics.Errored, 1)
				p.logger.Error("worker panic",
					slog.String("execution_id", id),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())))
			}
			p.setActive(id, false)
			atomic.AddInt64(&p.metrics.Active, -1)
			<-p.sem
			p.wg.Done()
		}()

		p.record(work(ctx))
	}()
	return nil
}

func (p *WorkerPool) record(state schema.ExecutionState) {
	switch state {
	case schema.StateSuccess:
		atomic.AddInt64(&p.metrics.Succeeded, 1)
	case schema.StateFailure:
		atomic.AddInt64(&p.metrics.Failed, 1)
	case schema.StateInterrupted:
		atomic.AddInt64(&p.metrics.Interrupted, 1)
	default:
		atomic.AddInt64(&p.metrics.Errored, 1)
	}
}

func (p *WorkerPool) setActive(id string, on bool) {
	if id == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if on {
		p.active[id] = struct{}{}
	} else {
		delete(p.active, id)
	}
}

// Running returns the ids of the executions holding a slot, sorted.
func (p *WorkerPool) Running() []string {
	p.mu.Lock()
	ids := make([]string, 0, len(p.active))
	for id := range p.active {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	slices.Sort(ids)
	return ids
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown prevents new submissions and waits for queued and active work to
// complete or for ctx to be done.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the current pool metrics.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Queued:      atomic.LoadInt64(&p.metrics.Queued),
		Active:      atomic.LoadInt64(&p.metrics.Active),
		Succeeded:   atomic.LoadInt64(&p.metrics.Succeeded),
		Failed:      atomic.LoadInt64(&p.metrics.Failed),
		Errored:     atomic.LoadInt64(&p.metrics.Errored),
		Interrupted: atomic.LoadInt64(&p.metrics.Interrupted),
		Panics:      atomic.LoadInt64(&p.metrics.Panics),
	}
}
