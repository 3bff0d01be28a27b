// Package worker executes queued crawl requests.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/metrics"
	queuememory "github.com/JakeFAU/link-content-scraper/internal/queue/memory"
	"github.com/JakeFAU/link-content-scraper/internal/storage/memory"
)

// DefaultTopic names the notification sent when an archive is ready.
const DefaultTopic = "archive.ready"

// Config controls Worker behavior.
type Config struct {
	// Topic receives archive notifications. Empty uses DefaultTopic.
	Topic string
	// JobTimeout bounds one crawl. Zero means no limit.
	JobTimeout time.Duration
}

// ArchiveIndex records finished archives for download.
type ArchiveIndex interface {
	Put(rec memory.ArchiveRecord)
}

// Notification is published once a crawl produced an archive.
type Notification struct {
	JobID      string    `json:"job_id"`
	SeedURL    string    `json:"seed_url"`
	ArchiveURI string    `json:"archive_uri,omitempty"`
	Confirmed  int       `json:"confirmed"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}

// Worker consumes queue items and runs each crawl to completion.
type Worker struct {
	queue     crawler.Queue
	crawler   crawler.Crawler
	index     ArchiveIndex
	publisher crawler.Publisher
	clock     crawler.Clock
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Worker. index and publisher may be nil.
func New(
	queue crawler.Queue,
	c crawler.Crawler,
	index ArchiveIndex,
	publisher crawler.Publisher,
	clock crawler.Clock,
	cfg Config,
	logger *zap.Logger,
) *Worker {
	if cfg.Topic == "" {
		cfg.Topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		queue:     queue,
		crawler:   c,
		index:     index,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, queuememory.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued crawl", zap.String("url", item.SeedURL))
		w.process(ctx, item)
	}
}

func (w *Worker) process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	outcome := w.crawl(ctx, item.SeedURL)
	if outcome.Err == nil {
		w.record(ctx, outcome.Result)
	}
	if item.Reply != nil {
		select {
		case item.Reply <- outcome:
		default:
			w.logger.Warn("crawl reply dropped", zap.String("url", item.SeedURL))
		}
	}
}

func (w *Worker) crawl(ctx context.Context, seedURL string) (out crawler.Outcome) {
	if w.crawler == nil {
		return crawler.Outcome{Err: errors.New("no crawler configured")}
	}
	if w.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.cfg.JobTimeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("crawl panicked", zap.String("url", seedURL), zap.Any("panic", r))
			out = crawler.Outcome{Err: fmt.Errorf("crawl %s: panic: %v", seedURL, r)}
		}
	}()
	res, err := w.crawler.Crawl(ctx, seedURL)
	return crawler.Outcome{Result: res, Err: err}
}

// record indexes the archive and announces it. Failures here never fail the
// crawl.
func (w *Worker) record(ctx context.Context, res crawler.Result) {
	if res.Archive.Path == "" {
		return
	}
	if w.index != nil {
		w.index.Put(memory.ArchiveRecord{
			JobID:   res.JobID,
			SeedURL: res.SeedURL,
			Path:    res.Archive.Path,
			URI:     res.Archive.URI,
			Entries: res.Archive.Entries,
			Created: res.Finished,
		})
	}
	if w.publisher == nil {
		return
	}
	note := Notification{
		JobID:      res.JobID,
		SeedURL:    res.SeedURL,
		ArchiveURI: res.Archive.URI,
		Confirmed:  res.Counts.Successful,
		Skipped:    res.Counts.Skipped,
		Failed:     res.Counts.Failed,
		Timestamp:  w.now(),
	}
	id, err := w.publisher.Publish(ctx, w.cfg.Topic, note)
	if err != nil {
		w.logger.Warn("archive notification failed", zap.String("job_id", res.JobID), zap.Error(err))
		return
	}
	w.logger.Debug("archive notification published", zap.String("job_id", res.JobID), zap.String("message_id", id))
}

func (w *Worker) now() time.Time {
	if w.clock == nil {
		return time.Now().UTC()
	}
	return w.clock.Now()
}
