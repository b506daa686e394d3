package notify

import (
	"context"
	"sync"
	"time"

	"github.com/pmuci/pointage/internal/adapters/mq/queue"
	"github.com/pmuci/pointage/internal/adapters/mq/worker"
	"github.com/pmuci/pointage/internal/domain/model"
	"github.com/pmuci/pointage/pkg/logger"
)

// Dispatcher accepts notifications without blocking and delivers them on
// a worker pool. When the queue is full the notification is dropped.
// A dispatcher may be started again after Shutdown; it then runs on a
// fresh queue and pool.
type Dispatcher struct {
	sink      Sink
	queueSize int
	workers   int
	clock     func() time.Time
	log       logger.Logger

	mu      sync.RWMutex
	queue   *queue.InMemoryQueue
	pool    *worker.Pool
	running bool
}

// NewDispatcher creates a dispatcher with a queue of queueSize and workers
// goroutines delivering to sink.
func NewDispatcher(sink Sink, queueSize, workers int, log logger.Logger) *Dispatcher {
	if log == nil {
		log = logger.Get().Named("dispatcher")
	}
	d := &Dispatcher{
		sink:      sink,
		queueSize: queueSize,
		workers:   workers,
		clock:     time.Now,
		log:       log,
	}
	d.queue, d.pool = d.build()
	return d
}

func (d *Dispatcher) build() (*queue.InMemoryQueue, *worker.Pool) {
	q := queue.NewInMemoryQueue(queue.WithCapacity(d.queueSize))
	return q, worker.NewPool(d.workers, q, d.sink)
}

// Start launches the workers. It is a no-op while running.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.running {
		return
	}
	if d.queue.IsClosed() {
		d.queue, d.pool = d.build()
	}
	d.pool.Start(ctx)
	d.running = true
}

// Notify enqueues n, stamping it when it carries no time.
func (d *Dispatcher) Notify(ctx context.Context, n model.Notification) {
	if n.At.IsZero() {
		n.At = d.clock()
	}
	if n.Severity == "" {
		n.Severity = model.SeverityDefault
	}
	d.mu.RLock()
	q := d.queue
	d.mu.RUnlock()
	if !q.Enqueue(ctx, n) {
		d.log.Warn(ctx, "notification dropped", logger.String("title", n.Title), logger.String("topic", n.Topic))
	}
}

// Pending returns the queue backlog.
func (d *Dispatcher) Pending(ctx context.Context) int {
	d.mu.RLock()
	q := d.queue
	d.mu.RUnlock()
	return q.Len(ctx)
}

// Shutdown stops accepting notifications and drains the backlog.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	pool := d.pool
	d.running = false
	d.mu.Unlock()
	return pool.Shutdown(ctx)
}
