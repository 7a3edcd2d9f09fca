package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Dan-Hightower/hirebot/internal/adapters/mq/queue"
	"github.com/Dan-Hightower/hirebot/internal/adapters/mq/worker"
	"github.com/Dan-Hightower/hirebot/internal/domain/model"
	logging "github.com/Dan-Hightower/hirebot/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type recordingHandler struct {
	mu      sync.Mutex
	handled []string
	fail    map[string]error
	panicOn string
	blockOn string
}

func (h *recordingHandler) Handle(ctx context.Context, job model.Job) error {
	if job.ID == h.blockOn {
		<-ctx.Done()
		return ctx.Err()
	}
	if job.ID == h.panicOn {
		panic("boom")
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, job.ID)
	return h.fail[job.ID]
}

func (h *recordingHandler) seen() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.handled...)
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a worker reading a queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(10))
		h := &recordingHandler{fail: map[string]error{"bad": errors.New("sheets down")}, panicOn: "panic"}
		w := worker.NewInMemoryWorker(q, h, worker.WithName("test-worker"))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("When jobs are queued", func() {
			for _, id := range []string{"a", "bad", "panic", "b"} {
				convey.So(q.Enqueue(ctx, model.Job{ID: id, Kind: model.KindConfirm}), convey.ShouldBeTrue)
			}

			convey.Convey("Then failures and panics do not stop the worker", func() {
				convey.So(waitFor(func() bool { return len(h.seen()) == 3 }), convey.ShouldBeTrue)
				convey.So(h.seen(), convey.ShouldResemble, []string{"a", "bad", "b"})
			})
		})

		convey.Convey("When shutting down", func() {
			sctx, scancel := context.WithTimeout(context.Background(), time.Second)
			defer scancel()

			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})

	convey.Convey("Given a job that outlives its timeout", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(2))
		h := &recordingHandler{blockOn: "slow"}
		w := worker.NewInMemoryWorker(q, h, worker.WithJobTimeout(20*time.Millisecond))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		q.Enqueue(ctx, model.Job{ID: "slow"})
		q.Enqueue(ctx, model.Job{ID: "next"})

		convey.Convey("Then the worker moves on once it expires", func() {
			convey.So(waitFor(func() bool { return len(h.seen()) == 1 }), convey.ShouldBeTrue)
			convey.So(h.seen(), convey.ShouldResemble, []string{"next"})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		h := &recordingHandler{}
		pool := worker.NewPool(4, q, worker.HandlerFunc(h.Handle))

		convey.So(pool.Size(), convey.ShouldEqual, 4)

		convey.Convey("When the default count is requested", func() {
			convey.So(worker.NewPool(0, q, h).Size(), convey.ShouldBeGreaterThan, 0)
		})

		convey.Convey("When jobs are queued and the pool shuts down", func() {
			pool.Start(context.Background())
			for i := 0; i < 20; i++ {
				q.Enqueue(context.Background(), model.Job{ID: string(rune('a' + i))})
			}

			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err := pool.Shutdown(sctx)

			convey.Convey("Then every queued job is drained first", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(len(h.seen()), convey.ShouldEqual, 20)
				convey.So(pool.Processed(), convey.ShouldEqual, 20)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}
