// Package queue buffers telemetry readings between ingestion and the pipeline workers.
//
// The in-memory queue is bounded: a full queue rejects new jobs instead of
// blocking the ingestion request.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/pkg/metrics"
)

// Default queue configuration constants.
const (
	defaultQueueCapacity = 10000
)

// Job is one reading waiting for a pipeline run.
type Job struct {
	Reading model.Reading
	// Attempt counts earlier runs of this reading that failed with a retryable error.
	Attempt    int
	EnqueuedAt time.Time
}

// Queue provides non-blocking enqueue and channel-based dequeue semantics.
type Queue interface {
	// Enqueue adds a job. It returns ErrQueueFull or ErrClosed when the job was not accepted.
	Enqueue(ctx context.Context, j Job) error

	// Dequeue returns a channel that receives jobs as they become available.
	// The channel is closed when the queue is closed and drained.
	Dequeue(ctx context.Context) <-chan Job

	// Len returns the current number of queued jobs.
	Len() int

	// Capacity returns the maximum number of queued jobs.
	Capacity() int

	// Reserve claims n slots up front. It returns ErrQueueFull when fewer
	// than n slots are free, counting slots held by other reservations.
	Reserve(n int) (*Reservation, error)

	// Close stops accepting jobs.
	Close() error

	// IsClosed returns true if the queue has been closed.
	IsClosed() bool
}

// InMemoryQueue implements Queue using a buffered channel.
type InMemoryQueue struct {
	jobs     chan Job
	capacity int
	mu       sync.RWMutex
	closed   bool
	reserved int // slots held by reservations, guarded by mu
}

// NewInMemoryQueue creates a new in-memory queue with configuration options.
func NewInMemoryQueue(opts ...Option) *InMemoryQueue {
	q := &InMemoryQueue{capacity: defaultQueueCapacity}
	for _, opt := range opts {
		opt(q)
	}
	q.jobs = make(chan Job, q.capacity)
	metrics.UpdateQueueState(0, q.capacity)
	return q
}

// Enqueue adds a job to the queue without blocking.
func (q *InMemoryQueue) Enqueue(ctx context.Context, j Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	}

	select {
	case <-ctx.Done():
		metrics.RecordQueueRejected("context_cancelled")
		return ctx.Err()
	default:
	}

	if len(q.jobs)+q.reserved >= q.capacity {
		return q.rejectFull()
	}
	return q.pushLocked(j)
}

// pushLocked sends j without blocking. Callers hold mu and have checked space.
func (q *InMemoryQueue) pushLocked(j Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	if j.EnqueuedAt.IsZero() {
		j.EnqueuedAt = time.Now()
	}
	select {
	case q.jobs <- j:
		metrics.RecordQueueEnqueue()
		metrics.UpdateQueueState(len(q.jobs), q.capacity)
		return nil
	default:
		return q.rejectFull()
	}
}

func (q *InMemoryQueue) rejectFull() error {
	metrics.RecordQueueRejected("queue_full")
	metrics.RecordErrorByComponent("queue", "queue_full")
	return ErrQueueFull
}

// Reservation holds queue slots claimed before the jobs exist. Slots are
// consumed by Enqueue and returned by Release.
type Reservation struct {
	q         *InMemoryQueue
	remaining int // guarded by q.mu
}

// Reserve claims n slots atomically. Jobs enqueued without a reservation
// cannot take reserved slots, and consumers only free space, so every held
// slot is still available when the reservation enqueues into it.
func (q *InMemoryQueue) Reserve(n int) (*Reservation, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return nil, ErrClosed
	}
	if n < 0 || len(q.jobs)+q.reserved+n > q.capacity {
		return nil, q.rejectFull()
	}
	q.reserved += n
	return &Reservation{q: q, remaining: n}, nil
}

// Enqueue places j into one of the reserved slots. It returns ErrQueueFull
// once every slot was used and ErrClosed after the queue closed.
func (r *Reservation) Enqueue(j Job) error { //nolint:gocritic // hugeParam: Job is passed by value for channel semantics
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		metrics.RecordQueueRejected("closed")
		return ErrClosed
	}
	if r.remaining == 0 {
		return q.rejectFull()
	}
	r.remaining--
	q.reserved--
	return q.pushLocked(j)
}

// Release returns unused slots. It is safe to call more than once.
func (r *Reservation) Release() {
	if r == nil {
		return
	}
	q := r.q
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.reserved -= r.remaining
	}
	r.remaining = 0
}

// Dequeue returns a channel that receives jobs as they become available.
func (q *InMemoryQueue) Dequeue(ctx context.Context) <-chan Job {
	out := make(chan Job)
	go func() {
		defer close(out)
		for j := range q.jobs {
			select {
			case out <- j:
				metrics.RecordQueueDequeue()
				metrics.UpdateQueueState(len(q.jobs), q.capacity)
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Len returns the current number of queued jobs.
func (q *InMemoryQueue) Len() int {
	return len(q.jobs)
}

// Capacity returns the maximum number of queued jobs.
func (q *InMemoryQueue) Capacity() int {
	return q.capacity
}

// Close stops accepting jobs. Jobs already queued are still delivered.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	close(q.jobs)
	q.closed = true
	q.reserved = 0
	return nil
}

// IsClosed returns true if the queue has been closed.
func (q *InMemoryQueue) IsClosed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}
