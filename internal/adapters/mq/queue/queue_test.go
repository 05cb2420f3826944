package queue_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/fleetguard/internal/adapters/mq/queue"
	"github.com/okian/fleetguard/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func job(id string) queue.Job {
	return queue.Job{Reading: model.Reading{VehicleID: id, Timestamp: time.Now().UTC()}}
}

func TestInMemoryQueue(t *testing.T) {
	Convey("Given an in-memory queue with capacity 2", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(2))
		ctx := context.Background()

		Convey("Jobs are accepted until the queue is full", func() {
			So(q.Enqueue(ctx, job("a")), ShouldBeNil)
			So(q.Enqueue(ctx, job("b")), ShouldBeNil)
			So(errors.Is(q.Enqueue(ctx, job("c")), queue.ErrQueueFull), ShouldBeTrue)
			So(q.Len(), ShouldEqual, 2)
			So(q.Capacity(), ShouldEqual, 2)
		})

		Convey("Enqueue stamps the enqueue time", func() {
			So(q.Enqueue(ctx, job("a")), ShouldBeNil)
			j := <-q.Dequeue(ctx)
			So(j.EnqueuedAt.IsZero(), ShouldBeFalse)
			So(j.Reading.VehicleID, ShouldEqual, "a")
		})

		Convey("A cancelled context rejects the job", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			So(errors.Is(q.Enqueue(cctx, job("a")), context.Canceled), ShouldBeTrue)
			So(q.Len(), ShouldEqual, 0)
		})

		Convey("Closing drains queued jobs and rejects new ones", func() {
			So(q.Enqueue(ctx, job("a")), ShouldBeNil)
			So(q.IsClosed(), ShouldBeFalse)
			So(q.Close(), ShouldBeNil)
			So(q.IsClosed(), ShouldBeTrue)
			So(errors.Is(q.Enqueue(ctx, job("b")), queue.ErrClosed), ShouldBeTrue)

			var got []string
			for j := range q.Dequeue(ctx) {
				got = append(got, j.Reading.VehicleID)
			}
			So(got, ShouldResemble, []string{"a"})
			So(q.Close(), ShouldBeNil)
		})
	})
}

func TestInMemoryQueueConcurrentAccess(t *testing.T) {
	Convey("Given concurrent producers and consumers", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(50))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		const producers, perProducer = 8, 50

		var mu sync.Mutex
		seen := make(map[string]bool)
		var consumers sync.WaitGroup
		for i := 0; i < 4; i++ {
			consumers.Add(1)
			go func() {
				defer consumers.Done()
				for j := range q.Dequeue(ctx) {
					mu.Lock()
					seen[j.Reading.VehicleID] = true
					mu.Unlock()
				}
			}()
		}

		var wg sync.WaitGroup
		for p := 0; p < producers; p++ {
			wg.Add(1)
			go func(p int) {
				defer wg.Done()
				for n := 0; n < perProducer; n++ {
					for q.Enqueue(ctx, job(fmt.Sprintf("v%d-%d", p, n))) != nil {
						time.Sleep(time.Millisecond)
					}
				}
			}(p)
		}
		wg.Wait()
		So(q.Close(), ShouldBeNil)
		consumers.Wait()

		So(len(seen), ShouldEqual, producers*perProducer)
		So(q.Len(), ShouldEqual, 0)
	})
}

func TestReservation(t *testing.T) {
	Convey("Given a queue with capacity 3", t, func() {
		q := queue.NewInMemoryQueue(queue.WithCapacity(3))
		ctx := context.Background()

		Convey("Reserved slots are not available to other producers", func() {
			r, err := q.Reserve(2)
			So(err, ShouldBeNil)
			So(q.Enqueue(ctx, job("a")), ShouldBeNil)
			So(errors.Is(q.Enqueue(ctx, job("b")), queue.ErrQueueFull), ShouldBeTrue)
			_, err = q.Reserve(1)
			So(errors.Is(err, queue.ErrQueueFull), ShouldBeTrue)

			So(r.Enqueue(job("r1")), ShouldBeNil)
			So(r.Enqueue(job("r2")), ShouldBeNil)
			So(errors.Is(r.Enqueue(job("r3")), queue.ErrQueueFull), ShouldBeTrue)
			So(q.Len(), ShouldEqual, 3)
		})

		Convey("Released slots become free again", func() {
			r, err := q.Reserve(3)
			So(err, ShouldBeNil)
			So(r.Enqueue(job("r1")), ShouldBeNil)
			r.Release()
			r.Release()
			So(q.Enqueue(ctx, job("a")), ShouldBeNil)
			So(q.Enqueue(ctx, job("b")), ShouldBeNil)
			So(errors.Is(q.Enqueue(ctx, job("c")), queue.ErrQueueFull), ShouldBeTrue)
		})

		Convey("A batch larger than the free space is refused whole", func() {
			So(q.Enqueue(ctx, job("a")), ShouldBeNil)
			_, err := q.Reserve(3)
			So(errors.Is(err, queue.ErrQueueFull), ShouldBeTrue)
			So(q.Len(), ShouldEqual, 1)
		})

		Convey("A closed queue refuses reservations and reserved enqueues", func() {
			r, err := q.Reserve(1)
			So(err, ShouldBeNil)
			So(q.Close(), ShouldBeNil)
			So(errors.Is(r.Enqueue(job("a")), queue.ErrClosed), ShouldBeTrue)
			r.Release()
			_, err = q.Reserve(1)
			So(errors.Is(err, queue.ErrClosed), ShouldBeTrue)
		})

		Convey("Concurrent reservations never oversubscribe the queue", func() {
			var granted atomic.Int64
			var wg sync.WaitGroup
			for i := 0; i < 20; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					if r, err := q.Reserve(1); err == nil {
						granted.Add(1)
						_ = r.Enqueue(job("x"))
					}
				}()
			}
			wg.Wait()
			So(granted.Load(), ShouldEqual, 3)
			So(q.Len(), ShouldEqual, 3)
		})
	})
}
