// Package dispatcher bounds concurrent crawls with a queue and a fixed worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/worker"
)

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []*worker.Worker
	clock   crawler.Clock
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers []*worker.Worker, clock crawler.Clock) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
		clock:   clock,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
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
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}

// Submit queues a crawl of seedURL and waits for its outcome. If ctx ends
// first the crawl keeps running and its outcome is discarded.
func (d *Dispatcher) Submit(ctx context.Context, seedURL string) (crawler.Result, error) {
	reply := make(chan crawler.Outcome, 1)
	item := crawler.QueueItem{SeedURL: seedURL, Reply: reply}
	if d.clock != nil {
		item.Submitted = d.clock.Now()
	}
	if err := d.Enqueue(ctx, item); err != nil {
		return crawler.Result{}, err
	}
	select {
	case <-ctx.Done():
		return crawler.Result{}, fmt.Errorf("await crawl: %w", ctx.Err())
	case out := <-reply:
		return out.Result, out.Err
	}
}

// Crawl implements crawler.Crawler by submitting through the queue, so
// callers share the worker pool's concurrency bound.
func (d *Dispatcher) Crawl(ctx context.Context, seedURL string) (crawler.Result, error) {
	return d.Submit(ctx, seedURL)
}

var _ crawler.Crawler = (*Dispatcher)(nil)
