package crawler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/link-content-scraper/internal/metrics"
	"github.com/JakeFAU/link-content-scraper/internal/progress"
	"github.com/JakeFAU/link-content-scraper/internal/telemetry"
)

// EngineConfig controls batching.
type EngineConfig struct {
	// BatchSize is the number of links fetched concurrently per batch.
	BatchSize int
	// BatchCooldown is the pause between consecutive batches.
	BatchCooldown time.Duration
}

// Dependencies are the collaborators an Engine needs. Headless and Detector
// are optional; without them the static seed markup is always used.
type Dependencies struct {
	Fetcher    ContentFetcher
	Discoverer LinkDiscoverer
	Headless   LinkDiscoverer
	Detector   HeadlessDetector
	Skip       SkipPolicy
	Archiver   ArchiveBuilder
	Registry   *progress.Registry
	IDs        IDGenerator
	Clock      Clock
}

// Engine runs crawl jobs: seed content, link discovery, batched link
// fetches, then archival.
type Engine struct {
	cfg    EngineConfig
	deps   Dependencies
	logger *zap.Logger
}

// NewEngine validates deps and returns an Engine.
func NewEngine(cfg EngineConfig, deps Dependencies, logger *zap.Logger) (*Engine, error) {
	if cfg.BatchSize <= 0 {
		return nil, errors.New("crawler: batch size must be positive")
	}
	if cfg.BatchCooldown < 0 {
		return nil, errors.New("crawler: batch cooldown must not be negative")
	}
	switch {
	case deps.Fetcher == nil:
		return nil, errors.New("crawler: content fetcher is required")
	case deps.Discoverer == nil:
		return nil, errors.New("crawler: link discoverer is required")
	case deps.Archiver == nil:
		return nil, errors.New("crawler: archive builder is required")
	case deps.Registry == nil:
		return nil, errors.New("crawler: progress registry is required")
	case deps.IDs == nil:
		return nil, errors.New("crawler: id generator is required")
	case deps.Clock == nil:
		return nil, errors.New("crawler: clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{cfg: cfg, deps: deps, logger: logger}, nil
}

// Crawl runs one job for seedURL. Per-URL failures only affect counters; any
// internal fault (cancellation, discovery or archive failure) aborts the job
// and is returned as a *CrawlError. A job whose results all fail validation
// still succeeds, with an empty Archive.
func (e *Engine) Crawl(ctx context.Context, seedURL string) (Result, error) {
	jobID, err := e.deps.IDs.NewID()
	if err != nil {
		return Result{}, &CrawlError{SeedURL: seedURL, Err: fmt.Errorf("generate job id: %w", err)}
	}
	key := TrackerKey(seedURL)
	logger := e.logger.With(zap.String("job_id", jobID), zap.String("tracker_key", key), zap.String("url", seedURL))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	tracker, err := e.deps.Registry.Start(key, jobID, cancel)
	if err != nil {
		return Result{}, &CrawlError{SeedURL: seedURL, JobID: jobID, Err: err}
	}

	ctx, span := telemetry.StartSpan(ctx, "crawler.crawl",
		attribute.String("job_id", jobID),
		attribute.String("seed_url", seedURL),
	)
	defer span.End()

	started := e.deps.Clock.Now()
	logger.Info("crawl started")
	result, err := e.run(ctx, jobID, seedURL, tracker, logger)
	finished := e.deps.Clock.Now()
	e.deps.Registry.Finish(tracker, err)

	if err != nil {
		status := "failed"
		if tracker.Cancelled() {
			status = "cancelled"
		}
		metrics.ObserveJob(status, finished.Sub(started))
		telemetry.RecordError(span, err)
		logger.Warn("crawl aborted", zap.String("status", status), zap.Error(err))
		return Result{}, &CrawlError{SeedURL: seedURL, JobID: jobID, Err: err}
	}

	result.JobID = jobID
	result.TrackerKey = key
	result.SeedURL = seedURL
	result.Started = started
	result.Finished = finished
	metrics.ObserveJob("succeeded", finished.Sub(started))
	logger.Info("crawl finished",
		zap.Int("links", len(result.Links)-1),
		zap.Int("successful", result.Counts.Successful),
		zap.Int("skipped", result.Counts.Skipped),
		zap.Int("failed", result.Counts.Failed),
		zap.Duration("dur", finished.Sub(started)),
	)
	return result, nil
}

func (e *Engine) run(ctx context.Context, jobID, seedURL string, tracker *progress.Tracker, logger *zap.Logger) (Result, error) {
	tracker.SetTotal(1)
	seedResult, err := e.deps.Fetcher.Fetch(ctx, seedURL, tracker)
	if err != nil {
		return Result{}, fmt.Errorf("fetch seed content: %w", err)
	}

	page, err := e.discover(ctx, seedURL, logger)
	if err != nil {
		return Result{}, err
	}
	links := FilterLinks(seedURL, page.Links, e.deps.Skip)
	tracker.SetTotal(len(links) + 1)
	logger.Debug("links discovered", zap.Int("links", len(links)), zap.Bool("headless", page.UsedHeadless))

	results := make([]FetchResult, 0, len(links)+1)
	results = append(results, seedResult)
	for start := 0; start < len(links); start += e.cfg.BatchSize {
		end := min(start+e.cfg.BatchSize, len(links))
		batch, err := e.fetchBatch(ctx, links[start:end], tracker)
		if err != nil {
			return Result{}, err
		}
		results = append(results, batch...)
		if end < len(links) {
			if err := e.deps.Clock.Sleep(ctx, e.cfg.BatchCooldown); err != nil {
				return Result{}, fmt.Errorf("batch cooldown: %w", err)
			}
		}
	}

	archive, err := e.deps.Archiver.Build(ctx, results, jobID, tracker)
	switch {
	case errors.Is(err, ErrNoValidContent):
		logger.Warn("no valid content to archive")
	case err != nil:
		return Result{}, fmt.Errorf("build archive: %w", err)
	}

	snap := tracker.Snapshot()
	return Result{
		Links:   append([]string{seedURL}, links...),
		Archive: archive,
		Counts: Counts{
			Successful: snap.Confirmed,
			Skipped:    snap.Skipped,
			Failed:     snap.Failed,
		},
	}, nil
}

func (e *Engine) discover(ctx context.Context, seedURL string, logger *zap.Logger) (SeedPage, error) {
	page, err := e.deps.Discoverer.Discover(ctx, seedURL)
	if err != nil {
		return SeedPage{}, fmt.Errorf("discover links: %w", err)
	}
	if e.deps.Headless == nil || e.deps.Detector == nil || !e.deps.Detector.ShouldPromote(page) {
		return page, nil
	}
	metrics.ObserveHeadlessPromotion()
	rendered, err := e.deps.Headless.Discover(ctx, seedURL)
	if err != nil {
		if ctx.Err() != nil {
			return SeedPage{}, fmt.Errorf("render seed: %w", err)
		}
		logger.Warn("headless render failed, using static markup", zap.Error(err))
		return page, nil
	}
	return rendered, nil
}

// fetchBatch fetches every link concurrently and returns results in
// completion order. Only internal faults are returned as errors.
func (e *Engine) fetchBatch(ctx context.Context, links []string, tracker *progress.Tracker) ([]FetchResult, error) {
	var (
		mu  sync.Mutex
		out = make([]FetchResult, 0, len(links))
	)
	g, gctx := errgroup.WithContext(ctx)
	for _, link := range links {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("fetch %s: panic: %v", link, r)
				}
			}()
			res, err := e.deps.Fetcher.Fetch(gctx, link, tracker)
			if err != nil {
				return err
			}
			mu.Lock()
			out = append(out, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("fetch batch: %w", err)
	}
	return out, nil
}
