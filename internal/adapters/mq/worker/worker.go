package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/pmuci/pointage/internal/adapters/mq/queue"
	"github.com/pmuci/pointage/pkg/logger"
	"github.com/pmuci/pointage/pkg/metrics"
)

const (
	defaultWorkerCount     = 2
	defaultDeliveryTimeout = 5 * time.Second
	poolShutdownTimeout    = 10 * time.Second
)

// Sink receives delivered notifications.
type Sink interface {
	Deliver(ctx context.Context, n queue.Notification) error
}

// Queue defines how workers receive notifications.
type Queue interface {
	Dequeue(ctx context.Context) <-chan queue.Notification
}

// Worker delivers notifications read from a queue.
type Worker interface {
	// Run delivers until the queue is drained and closed, ctx is canceled
	// or Shutdown is called.
	Run(ctx context.Context)
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker.
type InMemoryWorker struct {
	queue           Queue
	sink            Sink
	name            string
	deliveryTimeout time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a worker delivering from q to sink.
func NewInMemoryWorker(q Queue, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:           q,
		sink:            sink,
		name:            "worker",
		deliveryTimeout: defaultDeliveryTimeout,
		shutdown:        make(chan struct{}),
		done:            make(chan struct{}),
		logger:          logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	items := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case n, ok := <-items:
			if !ok {
				return
			}
			if err := w.deliver(ctx, n); err != nil {
				w.logger.Error(ctx, "error delivering notification", logger.Error(err))
			}
		}
	}
}

// Shutdown stops the worker without waiting for the queue to drain.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) deliver(ctx context.Context, n queue.Notification) error {
	ctx, cancel := context.WithTimeout(ctx, w.deliveryTimeout)
	defer cancel()

	if err := w.sink.Deliver(ctx, n); err != nil {
		metrics.RecordErrorByComponent("worker", "delivery")
		return fmt.Errorf("deliver %q: %w", n.Title, err)
	}
	metrics.RecordNotificationDelivered(string(n.Severity))
	return nil
}

// Pool runs several workers on one queue.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue
	started bool
	logger  logger.Logger
}

// NewPool creates workerCount workers delivering from q to sink.
func NewPool(workerCount int, q Queue, sink Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   q,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		wopts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		p.workers[i] = NewInMemoryWorker(q, sink, wopts...)
	}
	metrics.UpdateWorkerCount(workerCount)
	return p
}

// Start runs every worker in its own goroutine. A pool runs once: a
// second call is ignored.
func (p *Pool) Start(ctx context.Context) {
	if p.started {
		p.logger.Warn(ctx, "pool already started")
		return
	}
	p.started = true
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Shutdown closes the queue, lets the workers drain it and stops whoever
// is still running when ctx or the pool timeout expires.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	if !p.started {
		return nil
	}

	drainCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	for i, w := range p.workers {
		select {
		case <-w.done:
		case <-drainCtx.Done():
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
			close(w.shutdown)
			<-w.done
		}
	}
	metrics.UpdateWorkerCount(0)
	return nil
}
