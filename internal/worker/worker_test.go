package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	publishermemory "github.com/JakeFAU/link-content-scraper/internal/publisher/memory"
	queuememory "github.com/JakeFAU/link-content-scraper/internal/queue/memory"
	"github.com/JakeFAU/link-content-scraper/internal/storage/memory"
)

type fakeCrawler struct {
	mu     sync.Mutex
	seeds  []string
	result crawler.Result
	err    error
	panics bool
}

func (f *fakeCrawler) Crawl(ctx context.Context, seedURL string) (crawler.Result, error) {
	f.mu.Lock()
	f.seeds = append(f.seeds, seedURL)
	f.mu.Unlock()
	if f.panics {
		panic("boom")
	}
	if err := ctx.Err(); err != nil {
		return crawler.Result{}, err
	}
	res := f.result
	res.SeedURL = seedURL
	return res, f.err
}

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time                         { return c.now }
func (fakeClock) Sleep(context.Context, time.Duration) error { return nil }

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("broker down")
}

func archivedResult() crawler.Result {
	return crawler.Result{
		JobID:    "job-1",
		Archive:  crawler.Archive{JobID: "job-1", Path: "/tmp/job-1.zip", URI: "memory://job-1.zip", Entries: 2},
		Counts:   crawler.Counts{Successful: 2, Skipped: 1, Failed: 1},
		Finished: time.Unix(200, 0),
	}
}

func runOne(t *testing.T, w *Worker, q *queuememory.Queue, seed string) crawler.Outcome {
	t.Helper()
	reply := make(chan crawler.Outcome, 1)
	require.NoError(t, q.Enqueue(context.Background(), crawler.QueueItem{SeedURL: seed, Reply: reply}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	defer func() {
		cancel()
		<-done
	}()

	select {
	case out := <-reply:
		return out
	case <-time.After(time.Second):
		t.Fatal("worker did not reply")
		return crawler.Outcome{}
	}
}

func TestWorkerIndexesAndPublishes(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	index := memory.NewArchiveIndex(time.Minute, zap.NewNop())
	pub := publishermemory.New()
	w := New(q, &fakeCrawler{result: archivedResult()}, index, pub,
		fakeClock{now: time.Unix(300, 0).UTC()}, Config{}, zap.NewNop())

	out := runOne(t, w, q, "https://example.com")
	require.NoError(t, out.Err)
	require.Equal(t, "job-1", out.Result.JobID)

	rec, err := index.Get("job-1")
	require.NoError(t, err)
	require.Equal(t, "https://example.com", rec.SeedURL)
	require.Equal(t, 2, rec.Entries)

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, DefaultTopic, msgs[0].Topic)
	note, ok := msgs[0].Payload.(Notification)
	require.True(t, ok)
	require.Equal(t, Notification{
		JobID:      "job-1",
		SeedURL:    "https://example.com",
		ArchiveURI: "memory://job-1.zip",
		Confirmed:  2,
		Skipped:    1,
		Failed:     1,
		Timestamp:  time.Unix(300, 0).UTC(),
	}, note)
}

func TestWorkerSkipsRecordingWithoutArchive(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	index := memory.NewArchiveIndex(time.Minute, nil)
	pub := publishermemory.New()
	w := New(q, &fakeCrawler{result: crawler.Result{JobID: "job-empty"}}, index, pub, nil, Config{}, nil)

	out := runOne(t, w, q, "https://example.com")
	require.NoError(t, out.Err)
	require.Zero(t, index.Len())
	require.Empty(t, pub.Messages())
}

func TestWorkerReportsCrawlError(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	pub := publishermemory.New()
	w := New(q, &fakeCrawler{result: archivedResult(), err: errors.New("discover failed")}, nil, pub, nil, Config{}, nil)

	out := runOne(t, w, q, "https://example.com")
	require.EqualError(t, out.Err, "discover failed")
	require.Empty(t, pub.Messages())
}

func TestWorkerPublishFailureDoesNotFailCrawl(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	w := New(q, &fakeCrawler{result: archivedResult()}, nil, failingPublisher{}, nil, Config{Topic: "custom"}, nil)
	out := runOne(t, w, q, "https://example.com")
	require.NoError(t, out.Err)
}

func TestWorkerRecoversPanics(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	w := New(q, &fakeCrawler{panics: true}, nil, nil, nil, Config{}, nil)
	out := runOne(t, w, q, "https://example.com")
	require.ErrorContains(t, out.Err, "panic")
}

func TestWorkerAppliesJobTimeout(t *testing.T) {
	t.Parallel()

	blocking := crawlerFunc(func(ctx context.Context, _ string) (crawler.Result, error) {
		<-ctx.Done()
		return crawler.Result{}, ctx.Err()
	})
	q := queuememory.NewQueue(1)
	w := New(q, blocking, nil, nil, nil, Config{JobTimeout: 10 * time.Millisecond}, nil)
	out := runOne(t, w, q, "https://example.com")
	require.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestWorkerStopsWhenQueueCloses(t *testing.T) {
	t.Parallel()

	q := queuememory.NewQueue(1)
	w := New(q, &fakeCrawler{}, nil, nil, nil, Config{}, nil)
	q.Close()

	done := make(chan struct{})
	go func() {
		w.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after queue close")
	}
}

type crawlerFunc func(ctx context.Context, seedURL string) (crawler.Result, error)

func (f crawlerFunc) Crawl(ctx context.Context, seedURL string) (crawler.Result, error) {
	return f(ctx, seedURL)
}
