package extractor

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/link-content-scraper/internal/progress"
)

const article = "Title: Example\n\nURL Source: https://example.com/a\n\nMarkdown Content:\nA real paragraph of article text that is long enough.\n"

type countingLimiter struct{ calls atomic.Int32 }

func (l *countingLimiter) Acquire(ctx context.Context) error {
	l.calls.Add(1)
	return ctx.Err()
}

type recordingClock struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (c *recordingClock) Now() time.Time { return time.Unix(0, 0).UTC() }

func (c *recordingClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return ctx.Err()
}

type hostSkip string

func (h hostSkip) Skip(rawURL string) bool { return strings.Contains(rawURL, string(h)) }

// service replies with the scripted responses in order, repeating the last one.
type service struct {
	mu      sync.Mutex
	replies []reply
	paths   []string
	headers []http.Header
}

type reply struct {
	status int
	body   string
}

func (s *service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.paths = append(s.paths, r.URL.Path)
	s.headers = append(s.headers, r.Header.Clone())
	rep := s.replies[0]
	if len(s.replies) > 1 {
		s.replies = s.replies[1:]
	}
	s.mu.Unlock()
	w.WriteHeader(rep.status)
	_, _ = fmt.Fprint(w, rep.body)
}

func newClient(t *testing.T, endpoint string, opts ...Option) (*Client, *countingLimiter, *recordingClock) {
	t.Helper()
	limiter := &countingLimiter{}
	clock := &recordingClock{}
	c, err := New(Config{
		Endpoint:   endpoint + "/",
		APIKey:     "secret",
		UserAgent:  "scraper-test",
		MaxRetries: 3,
		RetryDelay: 5 * time.Second,
	}, limiter, clock, nil, opts...)
	require.NoError(t, err)
	return c, limiter, clock
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	svc := &service{replies: []reply{{http.StatusOK, "\n" + article + "\n\n"}}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c, limiter, clock := newClient(t, srv.URL)
	tracker := progress.NewTracker("k", "j", nil)
	tracker.SetTotal(1)

	res, err := c.Fetch(context.Background(), "https://example.com/a", tracker)
	require.NoError(t, err)
	require.Equal(t, "https://example.com/a", res.URL)
	require.Equal(t, strings.TrimSpace(article), res.Content)
	require.Equal(t, int32(1), limiter.calls.Load())
	require.Empty(t, clock.sleeps)

	require.Equal(t, []string{"/https://example.com/a"}, svc.paths)
	require.Equal(t, "Bearer secret", svc.headers[0].Get("Authorization"))
	require.Equal(t, "scraper-test", svc.headers[0].Get("User-Agent"))

	snap := tracker.Snapshot()
	require.Equal(t, 1, snap.Processed)
	require.Equal(t, 1, snap.Provisional)
	require.Equal(t, "https://example.com/a", snap.CurrentURL)
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	t.Parallel()

	svc := &service{replies: []reply{
		{http.StatusTooManyRequests, "slow down"},
		{http.StatusOK, "Title: x\n\nURL Source: y\n\nMarkdown Content:\n"},
		{http.StatusOK, article},
	}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c, limiter, clock := newClient(t, srv.URL)
	tracker := progress.NewTracker("k", "j", nil)

	res, err := c.Fetch(context.Background(), "https://example.com/a", tracker)
	require.NoError(t, err)
	require.True(t, res.Usable())
	require.Equal(t, int32(3), limiter.calls.Load())
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second}, clock.sleeps)
	require.Equal(t, 1, tracker.Snapshot().Provisional)
}

func TestFetchExhaustsRetries(t *testing.T) {
	t.Parallel()

	svc := &service{replies: []reply{{http.StatusInternalServerError, "boom"}}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c, limiter, clock := newClient(t, srv.URL)
	tracker := progress.NewTracker("k", "j", nil)

	res, err := c.Fetch(context.Background(), "https://example.com/a", tracker)
	require.NoError(t, err)
	require.False(t, res.Usable())
	require.Equal(t, "https://example.com/a", res.URL)
	require.Equal(t, int32(4), limiter.calls.Load())
	require.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 15 * time.Second}, clock.sleeps)

	snap := tracker.Snapshot()
	require.Equal(t, 1, snap.Processed)
	require.Equal(t, 1, snap.Failed)
	require.Zero(t, snap.Provisional)
}

func TestFetchSkipsWithoutNetwork(t *testing.T) {
	t.Parallel()

	svc := &service{replies: []reply{{http.StatusOK, article}}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c, limiter, _ := newClient(t, srv.URL, WithSkipPolicy(hostSkip("twitter.com")))
	tracker := progress.NewTracker("k", "j", nil)

	res, err := c.Fetch(context.Background(), "https://twitter.com/someone", tracker)
	require.NoError(t, err)
	require.False(t, res.Usable())
	require.Zero(t, limiter.calls.Load())
	require.Empty(t, svc.paths)
	require.Equal(t, 1, tracker.Snapshot().Skipped)
	require.Equal(t, 1, tracker.Snapshot().Processed)
}

func TestFetchNormalisesPaperURLs(t *testing.T) {
	t.Parallel()

	svc := &service{replies: []reply{{http.StatusOK, article}}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c, _, _ := newClient(t, srv.URL)
	res, err := c.Fetch(context.Background(), "https://arxiv.org/abs/2401.12345v2", nil)
	require.NoError(t, err)
	require.Equal(t, "https://arxiv.org/abs/2401.12345v2", res.URL)
	require.Equal(t, []string{"/https://arxiv.org/pdf/2401.12345v2.pdf"}, svc.paths)
}

func TestFetchCancellationIsAnError(t *testing.T) {
	t.Parallel()

	svc := &service{replies: []reply{{http.StatusTooManyRequests, ""}}}
	srv := httptest.NewServer(svc)
	defer srv.Close()

	c, _, _ := newClient(t, srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	tracker := progress.NewTracker("k", "j", nil)

	_, err := c.Fetch(ctx, "https://example.com/a", tracker)
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, tracker.Snapshot().Processed)
}

func TestTimeoutClass(t *testing.T) {
	t.Parallel()

	c, _, _ := newClient(t, "http://extractor.invalid")
	require.Equal(t, 60*time.Second, c.timeoutFor("https://arxiv.org/pdf/2401.12345.pdf"))
	require.Equal(t, 60*time.Second, c.timeoutFor("https://example.com/report.pdf"))
	require.Equal(t, 30*time.Second, c.timeoutFor("https://example.com/post"))
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	_, err := New(Config{}, &countingLimiter{}, &recordingClock{}, nil)
	require.Error(t, err)
	_, err = New(Config{Endpoint: "http://x"}, nil, &recordingClock{}, nil)
	require.Error(t, err)
	_, err = New(Config{Endpoint: "http://x"}, &countingLimiter{}, nil, nil)
	require.Error(t, err)
}
