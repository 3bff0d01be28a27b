package crawler

import (
	"context"
	"io"
	"time"

	"github.com/JakeFAU/link-content-scraper/internal/progress"
)

// ContentFetcher extracts readable content for one URL and records the
// terminal outcome on tracker. Per-URL failures are reported through the
// result; a non-nil error signals an internal fault such as cancellation.
type ContentFetcher interface {
	Fetch(ctx context.Context, rawURL string, tracker *progress.Tracker) (FetchResult, error)
}

// LinkDiscoverer downloads a seed's markup and lists its hrefs.
type LinkDiscoverer interface {
	Discover(ctx context.Context, seedURL string) (SeedPage, error)
}

// HeadlessDetector decides whether a seed needs a browser render to expose its links.
type HeadlessDetector interface {
	ShouldPromote(page SeedPage) bool
}

// ArchiveBuilder bundles validated results into an archive and writes the
// confirmed success count to tracker.
type ArchiveBuilder interface {
	Build(ctx context.Context, results []FetchResult, jobID string, tracker *progress.Tracker) (Archive, error)
}

// RateLimiter admits calls to the extraction service.
type RateLimiter interface {
	Acquire(ctx context.Context) error
}

// SkipPolicy identifies URLs that are never fetched.
type SkipPolicy interface {
	Skip(rawURL string) bool
}

// BlobStore writes archives and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes completion notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl requests.
type Queue interface {
	Enqueue(ctx context.Context, item QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Crawler runs one crawl job end to end.
type Crawler interface {
	Crawl(ctx context.Context, seedURL string) (Result, error)
}

// Clock returns the current time and sleeps interruptibly (useful for testing).
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
