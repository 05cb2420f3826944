package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/okian/fleetguard/internal/adapters/mq/queue"
	"github.com/okian/fleetguard/internal/adapters/mq/worker"
	"github.com/okian/fleetguard/internal/adapters/repository"
	"github.com/okian/fleetguard/internal/domain/model"
	"github.com/okian/fleetguard/internal/domain/pipeline"
	"github.com/okian/fleetguard/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// fakeProcessor records readings and fails the first failures[vehicle] runs of a vehicle.
type fakeProcessor struct {
	mu       sync.Mutex
	runs     map[string]int
	failures map[string]int
	err      error
}

func newFakeProcessor() *fakeProcessor {
	return &fakeProcessor{runs: make(map[string]int), failures: make(map[string]int)}
}

func (f *fakeProcessor) Process(_ context.Context, r model.Reading) (*pipeline.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[r.VehicleID]++
	if f.runs[r.VehicleID] <= f.failures[r.VehicleID] {
		return nil, &pipeline.StageError{Stage: pipeline.StageRisk, RunID: "run", Err: f.err}
	}
	return &pipeline.Result{RunID: "run-" + r.VehicleID, VehicleID: r.VehicleID}, nil
}

func (f *fakeProcessor) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.runs[id]
}

func enqueue(q queue.Queue, ids ...string) {
	for _, id := range ids {
		_ = q.Enqueue(context.Background(), queue.Job{Reading: model.Reading{VehicleID: id}})
	}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker on an in-memory queue", t, func() {
		_ = logger.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(16))
		proc := newFakeProcessor()
		w := worker.NewInMemoryWorker(q, proc, worker.WithName("test-worker"), worker.WithRetryDelay(0))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		convey.Convey("When the queue closes it processes every job and stops", func() {
			enqueue(q, "a", "b")
			convey.So(q.Close(), convey.ShouldBeNil)
			w.Run(ctx)
			convey.So(proc.count("a"), convey.ShouldEqual, 1)
			convey.So(proc.count("b"), convey.ShouldEqual, 1)
		})

		convey.Convey("When storage is unavailable the reading is retried", func() {
			proc.err = repository.ErrStorageUnavailable
			proc.failures["a"] = 2
			enqueue(q, "a")

			go w.Run(ctx)
			convey.So(waitFor(func() bool { return proc.count("a") == 3 }), convey.ShouldBeTrue)

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
			defer shutdownCancel()
			convey.So(w.Shutdown(shutdownCtx), convey.ShouldBeNil)
		})

		convey.Convey("When the failure is not transient the reading is not retried", func() {
			proc.err = errors.New("boom")
			proc.failures["a"] = 5
			enqueue(q, "a")
			convey.So(q.Close(), convey.ShouldBeNil)
			w.Run(ctx)
			convey.So(proc.count("a"), convey.ShouldEqual, 1)
		})

		convey.Convey("When the context is cancelled the worker stops", func() {
			done := make(chan struct{})
			go func() {
				w.Run(ctx)
				close(done)
			}()
			cancel()
			select {
			case <-done:
			case <-time.After(time.Second):
				convey.So("worker still running", convey.ShouldBeEmpty)
			}
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logger.Init()
		q := queue.NewInMemoryQueue(queue.WithCapacity(64))
		proc := newFakeProcessor()

		convey.Convey("A count below one yields a single worker", func() {
			convey.So(worker.NewPool(0, q, proc).Size(), convey.ShouldEqual, 1)
			convey.So(worker.NewPool(3, q, proc).Size(), convey.ShouldEqual, 3)
		})

		convey.Convey("Shutdown drains the queue and aggregates counters", func() {
			proc.err = repository.ErrStorageUnavailable
			proc.failures["bad"] = 10

			pool := worker.NewPool(4, q, proc, worker.WithRetryDelay(0), worker.WithMaxAttempts(2))
			pool.Start(context.Background())
			pool.Start(context.Background())

			ids := []string{"v1", "v2", "v3", "v4", "v5", "v6", "v7", "v8"}
			enqueue(q, ids...)
			convey.So(waitFor(func() bool { return pool.Stats().Processed == int64(len(ids)) }), convey.ShouldBeTrue)

			enqueue(q, "bad")
			convey.So(waitFor(func() bool { return pool.Stats().Failed == 1 }), convey.ShouldBeTrue)

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			convey.So(pool.Shutdown(ctx), convey.ShouldBeNil)

			stats := pool.Stats()
			convey.So(stats.Processed, convey.ShouldEqual, int64(len(ids)))
			convey.So(stats.Retried, convey.ShouldEqual, int64(1))
			convey.So(proc.count("bad"), convey.ShouldEqual, 2)
			for _, id := range ids {
				convey.So(proc.count(id), convey.ShouldEqual, 1)
			}
		})
	})
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}
