package worker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	queue "github.com/pmuci/pointage/internal/adapters/mq/queue"
	worker "github.com/pmuci/pointage/internal/adapters/mq/worker"
	model "github.com/pmuci/pointage/internal/domain/model"
	logging "github.com/pmuci/pointage/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

type mockQueue struct {
	items chan queue.Notification
}

func newMockQueue() *mockQueue {
	return &mockQueue{items: make(chan queue.Notification, 10)}
}

func (mq *mockQueue) Dequeue(context.Context) <-chan queue.Notification { return mq.items }

func (mq *mockQueue) Close() error {
	close(mq.items)
	return nil
}

type mockSink struct {
	mu        sync.Mutex
	delivered []queue.Notification
	fail      map[string]error
}

func newMockSink() *mockSink { return &mockSink{fail: map[string]error{}} }

func (ms *mockSink) Deliver(_ context.Context, n queue.Notification) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err, ok := ms.fail[n.Title]; ok {
		return err
	}
	ms.delivered = append(ms.delivered, n)
	return nil
}

func (ms *mockSink) titles() []string {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	out := make([]string, 0, len(ms.delivered))
	for _, n := range ms.delivered {
		out = append(out, n.Title)
	}
	return out
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a running worker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		sink := newMockSink()
		w := worker.NewInMemoryWorker(q, sink, worker.WithName("test-worker"))
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go w.Run(ctx)

		convey.Convey("Notifications reach the sink", func() {
			q.items <- model.Notification{Title: "a", Severity: model.SeveritySuccess}
			convey.So(waitFor(func() bool { return len(sink.titles()) == 1 }), convey.ShouldBeTrue)
		})

		convey.Convey("A failed delivery does not stop the worker", func() {
			sink.mu.Lock()
			sink.fail["bad"] = errors.New("sink down")
			sink.mu.Unlock()

			q.items <- model.Notification{Title: "bad"}
			q.items <- model.Notification{Title: "good"}
			convey.So(waitFor(func() bool { return len(sink.titles()) == 1 }), convey.ShouldBeTrue)
			convey.So(sink.titles(), convey.ShouldResemble, []string{"good"})
		})

		convey.Convey("Shutdown returns once the loop exits", func() {
			sctx, scancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer scancel()
			convey.So(w.Shutdown(sctx), convey.ShouldBeNil)
		})
	})
}

func TestPool(t *testing.T) {
	convey.Convey("Given a pool on a real queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		sink := newMockSink()
		p := worker.NewPool(3, q, sink)
		convey.So(p.Size(), convey.ShouldEqual, 3)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		p.Start(ctx)

		convey.Convey("Shutdown drains what was queued", func() {
			for i := 0; i < 20; i++ {
				q.Enqueue(ctx, model.Notification{Title: "n"})
			}
			convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
			convey.So(len(sink.titles()), convey.ShouldEqual, 20)
			convey.So(q.IsClosed(), convey.ShouldBeTrue)
		})

		convey.Convey("A second Start does not launch the workers again", func() {
			p.Start(ctx)
			q.Enqueue(ctx, model.Notification{Title: "once"})
			convey.So(func() { _ = p.Shutdown(context.Background()) }, convey.ShouldNotPanic)
			convey.So(sink.titles(), convey.ShouldResemble, []string{"once"})
		})
	})

	convey.Convey("A pool that never started shuts down at once", t, func() {
		_ = logging.Init()
		q := queue.NewInMemoryQueue()
		p := worker.NewPool(0, q, newMockSink())
		convey.So(p.Size(), convey.ShouldEqual, 2)
		convey.So(p.Shutdown(context.Background()), convey.ShouldBeNil)
	})
}
