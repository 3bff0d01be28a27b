package crawler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-content-scraper/internal/progress"
)

const goodContent = "Title: Page\n\nMarkdown Content:\nA paragraph of article text long enough to pass.\nMore text.\n"

type fakeFetcher struct {
	failing  map[string]bool
	block    bool
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	mu    sync.Mutex
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string, tracker *progress.Tracker) (FetchResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, rawURL)
	f.mu.Unlock()

	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		prev := f.maxSeen.Load()
		if n <= prev || f.maxSeen.CompareAndSwap(prev, n) {
			break
		}
	}
	tracker.SetCurrentURL(rawURL)
	if f.block {
		<-ctx.Done()
		return FetchResult{URL: rawURL}, ctx.Err()
	}
	time.Sleep(2 * time.Millisecond)
	if f.failing[rawURL] {
		tracker.MarkFailed(rawURL)
		return FetchResult{URL: rawURL}, nil
	}
	tracker.MarkProvisional(rawURL)
	return FetchResult{URL: rawURL, Content: goodContent}, nil
}

func (f *fakeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type fakeDiscoverer struct {
	page SeedPage
	err  error
}

func (d *fakeDiscoverer) Discover(context.Context, string) (SeedPage, error) {
	return d.page, d.err
}

type fakeDetector struct{ promote bool }

func (d fakeDetector) ShouldPromote(SeedPage) bool { return d.promote }

type fakeArchiver struct {
	built []FetchResult
}

func (a *fakeArchiver) Build(_ context.Context, results []FetchResult, jobID string, tracker *progress.Tracker) (Archive, error) {
	a.built = results
	n := 0
	for _, r := range results {
		if r.Usable() {
			n++
		}
	}
	tracker.SetConfirmed(n)
	if n == 0 {
		return Archive{}, ErrNoValidContent
	}
	return Archive{JobID: jobID, Path: "/tmp/" + jobID + ".zip", Entries: n}, nil
}

type fakeClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *fakeClock) Now() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

type fakeIDs struct{ n atomic.Int32 }

func (g *fakeIDs) NewID() (string, error) {
	return fmt.Sprintf("job-%d", g.n.Add(1)), nil
}

func links(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("https://site%d.example.com/post", i)
	}
	return out
}

func newTestEngine(t *testing.T, cfg EngineConfig, deps Dependencies) *Engine {
	t.Helper()
	if deps.Registry == nil {
		deps.Registry = progress.NewRegistry(nil)
	}
	if deps.IDs == nil {
		deps.IDs = &fakeIDs{}
	}
	if deps.Clock == nil {
		deps.Clock = &fakeClock{}
	}
	if deps.Archiver == nil {
		deps.Archiver = &fakeArchiver{}
	}
	e, err := NewEngine(cfg, deps, nil)
	require.NoError(t, err)
	return e
}

func TestEngineCrawlBatchesAndCounts(t *testing.T) {
	t.Parallel()

	seed := "https://blog.example.com/post"
	discovered := append(links(12), "https://twitter.com/someone", "/relative", seed)
	fetcher := &fakeFetcher{failing: map[string]bool{"https://site3.example.com/post": true}}
	clock := &fakeClock{}
	registry := progress.NewRegistry(nil)
	archiver := &fakeArchiver{}

	e := newTestEngine(t, EngineConfig{BatchSize: 5, BatchCooldown: 30 * time.Second}, Dependencies{
		Fetcher:    fetcher,
		Discoverer: &fakeDiscoverer{page: SeedPage{Links: discovered}},
		Skip:       hostSkip{hosts: []string{"twitter.com"}},
		Archiver:   archiver,
		Registry:   registry,
		Clock:      clock,
	})

	res, err := e.Crawl(context.Background(), seed)
	require.NoError(t, err)

	require.Equal(t, "job-1", res.JobID)
	require.Equal(t, TrackerKey(seed), res.TrackerKey)
	require.Equal(t, append([]string{seed}, links(12)...), res.Links)
	require.Equal(t, Counts{Successful: 12, Skipped: 0, Failed: 1}, res.Counts)
	require.Equal(t, 12, res.Archive.Entries)

	calls := fetcher.Calls()
	require.Len(t, calls, 13)
	require.Equal(t, seed, calls[0])
	require.LessOrEqual(t, fetcher.maxSeen.Load(), int32(5))
	require.Equal(t, []time.Duration{30 * time.Second, 30 * time.Second}, clock.sleeps)
	require.Len(t, archiver.built, 13)

	_, ok := registry.Get(res.TrackerKey)
	require.False(t, ok)
}

func TestEngineCrawlWithoutLinks(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{}
	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    &fakeFetcher{},
		Discoverer: &fakeDiscoverer{},
		Clock:      clock,
	})

	res, err := e.Crawl(context.Background(), "https://example.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://example.com"}, res.Links)
	require.Equal(t, 1, res.Counts.Successful)
	require.Empty(t, clock.sleeps)
}

func TestEngineCrawlNoValidContentStillSucceeds(t *testing.T) {
	t.Parallel()

	seed := "https://example.com"
	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    &fakeFetcher{failing: map[string]bool{seed: true}},
		Discoverer: &fakeDiscoverer{},
	})

	res, err := e.Crawl(context.Background(), seed)
	require.NoError(t, err)
	require.Empty(t, res.Archive.Path)
	require.Equal(t, Counts{Failed: 1}, res.Counts)
}

func TestEngineCrawlDiscoveryFailureIsAggregate(t *testing.T) {
	t.Parallel()

	registry := progress.NewRegistry(nil)
	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    &fakeFetcher{},
		Discoverer: &fakeDiscoverer{err: errors.New("dns failure")},
		Registry:   registry,
	})

	_, err := e.Crawl(context.Background(), "https://example.com")
	var crawlErr *CrawlError
	require.ErrorAs(t, err, &crawlErr)
	require.Equal(t, "https://example.com", crawlErr.SeedURL)
	require.Contains(t, err.Error(), "dns failure")
	require.Equal(t, 0, registry.Active())
}

func TestEngineCrawlHeadlessPromotion(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{}
	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    fetcher,
		Discoverer: &fakeDiscoverer{page: SeedPage{}},
		Headless:   &fakeDiscoverer{page: SeedPage{Links: links(2), UsedHeadless: true}},
		Detector:   fakeDetector{promote: true},
	})

	res, err := e.Crawl(context.Background(), "https://app.example.com")
	require.NoError(t, err)
	require.Len(t, res.Links, 3)
}

func TestEngineCrawlHeadlessFailureFallsBack(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    &fakeFetcher{},
		Discoverer: &fakeDiscoverer{page: SeedPage{Links: links(1)}},
		Headless:   &fakeDiscoverer{err: errors.New("chrome missing")},
		Detector:   fakeDetector{promote: true},
	})

	res, err := e.Crawl(context.Background(), "https://app.example.com")
	require.NoError(t, err)
	require.Len(t, res.Links, 2)
}

func TestEngineCrawlCancellation(t *testing.T) {
	t.Parallel()

	seed := "https://example.com"
	registry := progress.NewRegistry(nil)
	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    &fakeFetcher{block: true},
		Discoverer: &fakeDiscoverer{},
		Registry:   registry,
	})

	go func() {
		require.Eventually(t, func() bool {
			return registry.Cancel(TrackerKey(seed)) == nil
		}, time.Second, 5*time.Millisecond)
	}()

	_, err := e.Crawl(context.Background(), seed)
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 0, registry.Active())
}

func TestEngineCrawlRejectsConcurrentSameSeed(t *testing.T) {
	t.Parallel()

	seed := "https://example.com"
	registry := progress.NewRegistry(nil)
	_, err := registry.Start(TrackerKey(seed), "other", nil)
	require.NoError(t, err)

	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    &fakeFetcher{},
		Discoverer: &fakeDiscoverer{},
		Registry:   registry,
	})
	_, err = e.Crawl(context.Background(), seed)
	require.ErrorIs(t, err, progress.ErrJobRunning)
}

func TestEngineRecoversFetcherPanic(t *testing.T) {
	t.Parallel()

	e := newTestEngine(t, EngineConfig{BatchSize: 10}, Dependencies{
		Fetcher:    panicOnLinks{},
		Discoverer: &fakeDiscoverer{page: SeedPage{Links: links(1)}},
	})
	_, err := e.Crawl(context.Background(), "https://example.com")
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "panic"))
}

type panicOnLinks struct{}

func (panicOnLinks) Fetch(_ context.Context, rawURL string, tracker *progress.Tracker) (FetchResult, error) {
	if strings.Contains(rawURL, "site") {
		panic("boom")
	}
	tracker.MarkProvisional(rawURL)
	return FetchResult{URL: rawURL, Content: goodContent}, nil
}

func TestNewEngineValidates(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(EngineConfig{BatchSize: 0}, Dependencies{}, nil)
	require.Error(t, err)
	_, err = NewEngine(EngineConfig{BatchSize: 1}, Dependencies{}, nil)
	require.Error(t, err)
}
