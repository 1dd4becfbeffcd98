package broadcast

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/couchcryptid/hydroalert-service/internal/observability"
)

type task struct {
	name string
	fn   func(ctx context.Context) error
}

// Dispatcher runs fire-and-forget tasks on a bounded worker pool. Submission
// never blocks: when the queue is full the task is dropped and counted. Task
// failures are logged and counted, never returned to the submitter.
type Dispatcher struct {
	publisher Publisher
	notifier  Notifier
	queue     chan task
	workers   int
	timeout   time.Duration
	logger    *slog.Logger
	metrics   *observability.Metrics
	wg        sync.WaitGroup
}

// NewDispatcher creates a dispatcher. Call Run to start its workers.
func NewDispatcher(pub Publisher, notifier Notifier, workers, queueSize int, timeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	return &Dispatcher{
		publisher: pub,
		notifier:  notifier,
		queue:     make(chan task, queueSize),
		workers:   workers,
		timeout:   timeout,
		logger:    logger,
		metrics:   metrics,
	}
}

// Run processes tasks until ctx is cancelled, then drains whatever is still
// queued before returning.
func (d *Dispatcher) Run(ctx context.Context) error {
	for range d.workers {
		d.wg.Add(1)
		go d.work(ctx)
	}
	d.wg.Wait()
	d.drain()
	return nil
}

func (d *Dispatcher) work(ctx context.Context) {
	defer d.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-d.queue:
			d.execute(t)
		}
	}
}

func (d *Dispatcher) drain() {
	for {
		select {
		case t := <-d.queue:
			d.execute(t)
		default:
			return
		}
	}
}

func (d *Dispatcher) execute(t task) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := t.fn(ctx); err != nil {
		d.logger.Warn("dispatch task failed", "task", t.name, "error", err)
		d.metrics.DispatchErrors.WithLabelValues(t.name).Inc()
	}
}

// Submit enqueues fn. It reports false when the task was dropped.
func (d *Dispatcher) Submit(name string, fn func(ctx context.Context) error) bool {
	select {
	case d.queue <- task{name: name, fn: fn}:
		return true
	default:
		d.metrics.DispatchDropped.Inc()
		d.logger.Warn("dispatch queue full, dropping task", "task", name)
		return false
	}
}

// Publish encodes ev and hands it to the publisher asynchronously.
func (d *Dispatcher) Publish(topic string, ev Event) {
	msg, err := Encode(topic, ev)
	if err != nil {
		d.logger.Error("drop unencodable event", "topic", topic, "error", err)
		d.metrics.DispatchErrors.WithLabelValues("encode").Inc()
		return
	}
	d.Submit("publish", func(ctx context.Context) error {
		return d.publisher.Publish(ctx, msg)
	})
}

// Notify hands message to the outbound notifier asynchronously.
func (d *Dispatcher) Notify(message string) {
	d.Submit("notify", func(ctx context.Context) error {
		return d.notifier.Notify(ctx, message)
	})
}
