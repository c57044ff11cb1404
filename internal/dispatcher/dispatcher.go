// Package dispatcher fans queued extraction jobs out to a worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/scholar-crawler/internal/crawler"
	"github.com/JakeFAU/scholar-crawler/internal/worker"
)

// Dispatcher owns the queue and the workers draining it.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		logger:  logger.Named("dispatcher"),
	}
}

// NewPool builds n workers over queue and wraps them in a Dispatcher.
func NewPool(
	n int,
	queue crawler.Queue,
	jobStore crawler.JobStore,
	extractor worker.Extractor,
	logger *zap.Logger,
) *Dispatcher {
	if n < 1 {
		n = 1
	}
	workers := make([]*worker.Worker, 0, n)
	for range n {
		workers = append(workers, worker.New(queue, jobStore, extractor, logger))
	}
	return New(queue, workers, logger)
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("starting workers", zap.Int("count", len(d.workers)))
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
	d.logger.Info("workers stopped")
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
