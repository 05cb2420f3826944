// Package worker runs telemetry pipeline jobs from the queue on a pool of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/fleetguard/internal/adapters/mq/queue"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/internal/domain/pipeline"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/okian/fleetguard/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultMaxAttempts    = 3
	defaultRetryDelay     = 100 * time.Millisecond
	metricsUpdateInterval = 5 * time.Second
)

// Processor runs the decision pipeline for one reading.
type Processor interface {
	Process(ctx context.Context, r model.Reading) (*pipeline.Result, error)
}

// Worker processes jobs from a queue until stopped.
type Worker interface {
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// Counters accumulates job outcomes across workers.
type Counters struct {
	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	degraded  atomic.Int64
}

// Stats is a snapshot of Counters.
type Stats struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Degraded  int64 `json:"degraded"`
}

// Snapshot returns the current counter values.
func (c *Counters) Snapshot() Stats {
	return Stats{
		Processed: c.processed.Load(),
		Failed:    c.failed.Load(),
		Retried:   c.retried.Load(),
		Degraded:  c.degraded.Load(),
	}
}

// InMemoryWorker implements Worker by pulling jobs from an in-process queue.
type InMemoryWorker struct {
	name        string
	queue       queue.Queue
	processor   Processor
	logger      logger.Logger
	counters    *Counters
	maxAttempts int
	retryDelay  time.Duration
	shutdown    chan struct{}
	done        chan struct{}
	once        sync.Once
}

// NewInMemoryWorker creates a worker reading from q and running jobs through p.
func NewInMemoryWorker(q queue.Queue, p Processor, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		name:        "worker",
		queue:       q,
		processor:   p,
		logger:      logger.Get().Named("worker"),
		counters:    &Counters{},
		maxAttempts: defaultMaxAttempts,
		retryDelay:  defaultRetryDelay,
		shutdown:    make(chan struct{}),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run processes jobs until the context is cancelled, Shutdown is called or the queue closes.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)
	jobs := w.queue.Dequeue(ctx)

	w.logger.Info(ctx, "worker started", logger.String("worker", w.name))
	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "worker stopped", logger.String("worker", w.name), logger.String("reason", "context"))
			return
		case <-w.shutdown:
			w.logger.Info(ctx, "worker stopped", logger.String("worker", w.name), logger.String("reason", "shutdown"))
			return
		case j, ok := <-jobs:
			if !ok {
				w.logger.Info(ctx, "worker stopped", logger.String("worker", w.name), logger.String("reason", "queue closed"))
				return
			}
			w.process(ctx, j)
		}
	}
}

// Shutdown signals the worker to stop and waits for the current job to finish.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	w.once.Do(func() { close(w.shutdown) })
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s shutdown: %w", w.name, ctx.Err())
	}
}

func (w *InMemoryWorker) process(ctx context.Context, j queue.Job) { //nolint:gocritic // hugeParam: jobs arrive by value from the channel
	start := time.Now()
	res, err := w.processor.Process(ctx, j.Reading)
	metrics.RecordWorkerProcessingLatency(float64(time.Since(start).Microseconds()) / 1000.0)

	if err == nil {
		w.counters.processed.Add(1)
		if res != nil && res.Degraded() {
			w.counters.degraded.Add(1)
		}
		w.logger.Debug(ctx, "reading processed",
			logger.String("worker", w.name),
			logger.String("vehicle_id", j.Reading.VehicleID),
			logger.String("run_id", res.RunID),
			logger.Int("attempt", j.Attempt),
		)
		return
	}

	metrics.RecordWorkerError()
	fields := []logger.Field{
		logger.String("worker", w.name),
		logger.String("vehicle_id", j.Reading.VehicleID),
		logger.Int("attempt", j.Attempt),
		logger.Error(err),
	}
	if w.retry(ctx, j, err) {
		w.counters.retried.Add(1)
		w.logger.Warn(ctx, "pipeline run failed, requeued", fields...)
		return
	}
	w.counters.failed.Add(1)
	metrics.RecordErrorByComponent("worker", "pipeline_failed")
	w.logger.Error(ctx, "pipeline run failed", fields...)
}

// retry requeues the job when the failure is transient and attempts remain.
func (w *InMemoryWorker) retry(ctx context.Context, j queue.Job, err error) bool { //nolint:gocritic // hugeParam
	var se *pipeline.StageError
	if !errors.As(err, &se) || !se.Retryable() || j.Attempt+1 >= w.maxAttempts {
		return false
	}
	if w.retryDelay > 0 {
		select {
		case <-time.After(w.retryDelay * time.Duration(j.Attempt+1)):
		case <-ctx.Done():
			return false
		case <-w.shutdown:
			return false
		}
	}
	j.Attempt++
	j.EnqueuedAt = time.Time{}
	return w.queue.Enqueue(ctx, j) == nil
}

// Pool manages a fixed set of workers sharing one queue.
type Pool struct {
	workers  []*InMemoryWorker
	queue    queue.Queue
	counters *Counters
	logger   logger.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
	mu       sync.Mutex
	started  bool
}

// NewPool creates workerCount workers. A count below one yields a single worker.
func NewPool(workerCount int, q queue.Queue, p Processor, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	pool := &Pool{
		queue:    q,
		counters: &Counters{},
		logger:   logger.Get().Named("worker_pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName(fmt.Sprintf("worker-%d", i))}, opts...)
		workerOpts = append(workerOpts, withCounters(pool.counters))
		pool.workers = append(pool.workers, NewInMemoryWorker(q, p, workerOpts...))
	}
	return pool
}

// Size returns the number of workers in the pool.
func (p *Pool) Size() int { return len(p.workers) }

// Stats returns aggregated job counters for all workers.
func (p *Pool) Stats() Stats { return p.counters.Snapshot() }

// Start launches every worker and the throughput reporter. Calling Start twice is a no-op.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true

	ctx, p.cancel = context.WithCancel(ctx)
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *InMemoryWorker) {
			defer p.wg.Done()
			w.Run(ctx)
		}(w)
	}
	metrics.UpdateWorkerCount(len(p.workers))
	go p.reportThroughput(ctx)

	p.logger.Info(ctx, "worker pool started", logger.Int("workers", len(p.workers)))
}

func (p *Pool) reportThroughput(ctx context.Context) {
	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()

	last := p.counters.processed.Load()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur := p.counters.processed.Load()
			metrics.UpdateWorkerMessagesPerSecond(float64(cur-last) / metricsUpdateInterval.Seconds())
			last = cur
		}
	}
}

// Stop cancels all workers without draining the queue.
func (p *Pool) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	metrics.UpdateWorkerCount(0)
}

// Shutdown closes the queue and waits for workers to drain it, or for ctx to expire.
func (p *Pool) Shutdown(ctx context.Context) error {
	if err := p.queue.Close(); err != nil {
		p.logger.Error(ctx, "failed to close queue", logger.Error(err))
	}

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		metrics.UpdateWorkerCount(0)
		p.logger.Info(ctx, "worker pool drained", logger.Int64("processed", p.counters.processed.Load()))
		p.stopReporter()
		return nil
	case <-ctx.Done():
		p.stopReporter()
		return fmt.Errorf("worker pool shutdown: %w", ctx.Err())
	}
}

func (p *Pool) stopReporter() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
}
