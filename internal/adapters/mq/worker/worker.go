// Package worker drains the webhook event queue into the incremental
// updater. Many events can be in flight at once; the per-(week, athlete)
// atomic upsert plus the idempotent rescore keep interleavings safe.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/velora/criterium/internal/domain/model"
	"github.com/velora/criterium/pkg/logger"
	"github.com/velora/criterium/pkg/metrics"
)

const (
	defaultWorkerCount    = 4
	workerShutdownTimeout = 10 * time.Second
)

// Event is what workers read off the queue.
type Event = model.WebhookEvent

// Updater applies a single webhook event to the persisted state.
type Updater interface {
	Process(ctx context.Context, ev Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events from the queue until stopped.
type Worker struct {
	queue   Queue
	updater Updater
	name    string

	shutdown chan struct{}
	done     chan struct{}

	log logger.Logger
}

// NewWorker creates a single worker.
func NewWorker(queue Queue, updater Updater, name string) *Worker {
	return &Worker{
		queue:    queue,
		updater:  updater,
		name:     name,
		shutdown: make(chan struct{}),
		done:     make(chan struct{}),
		log:      logger.Named(name),
	}
}

// Run starts the worker loop until ctx is canceled or the queue closes.
func (w *Worker) Run(ctx context.Context) {
	defer close(w.done)

	events := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := w.updater.Process(ctx, ev); err != nil {
				w.log.Error(ctx, "webhook event processing failed",
					logger.Int64("athlete", ev.OwnerAthleteID),
					logger.Int64("activity", ev.ActivityID),
					logger.String("kind", string(ev.Kind)),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown signals the worker and waits for it to finish.
func (w *Worker) Shutdown(ctx context.Context) error {
	close(w.shutdown)
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("worker %s shutdown timed out: %w", w.name, ctx.Err())
	}
}

// Pool manages a fixed set of workers.
type Pool struct {
	workers []*Worker
	log     logger.Logger
}

// NewPool creates a pool of count workers over the queue.
func NewPool(count int, queue Queue, updater Updater) *Pool {
	if count < 1 {
		count = defaultWorkerCount
	}
	p := &Pool{
		workers: make([]*Worker, count),
		log:     logger.Named("worker-pool"),
	}
	for i := range p.workers {
		p.workers[i] = NewWorker(queue, updater, "worker-"+strconv.Itoa(i))
	}
	metrics.UpdateWorkerCount(count)
	return p
}

// Start launches all workers.
func (p *Pool) Start(ctx context.Context) {
	for _, w := range p.workers {
		go w.Run(ctx)
	}
}

// Stop gracefully stops all workers.
func (p *Pool) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), workerShutdownTimeout)
	defer cancel()
	for _, w := range p.workers {
		if err := w.Shutdown(ctx); err != nil {
			p.log.Warn(ctx, "worker did not stop in time", logger.Error(err))
		}
	}
}
