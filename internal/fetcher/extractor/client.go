// Package extractor implements crawler.ContentFetcher against a content
// extraction service: GET <endpoint>/<target-url> returns the target's
// readable content as markdown-like text.
package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/metrics"
	"github.com/JakeFAU/link-content-scraper/internal/progress"
	"github.com/JakeFAU/link-content-scraper/internal/telemetry"
)

// Config controls the extraction client.
type Config struct {
	Endpoint       string
	APIKey         string
	UserAgent      string
	DefaultTimeout time.Duration
	PDFTimeout     time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	MaxBodyBytes   int64
}

const defaultMaxBodyBytes = 20 << 20

// Client fetches content through the extraction service.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    crawler.RateLimiter
	skip       crawler.SkipPolicy
	retry      *crawler.LinearRetryPolicy
	clock      crawler.Clock
	logger     *zap.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithSkipPolicy installs the skip rules applied before any network call.
func WithSkipPolicy(p crawler.SkipPolicy) Option {
	return func(cl *Client) {
		cl.skip = p
	}
}

// New builds a Client. limiter is shared by every caller of the service.
func New(cfg Config, limiter crawler.RateLimiter, clock crawler.Clock, logger *zap.Logger, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, errors.New("extractor: endpoint is required")
	}
	if limiter == nil {
		return nil, errors.New("extractor: rate limiter is required")
	}
	if clock == nil {
		return nil, errors.New("extractor: clock is required")
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = 30 * time.Second
	}
	if cfg.PDFTimeout <= 0 {
		cfg.PDFTimeout = 60 * time.Second
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{},
		limiter:    limiter,
		retry:      crawler.NewLinearRetryPolicy(cfg.MaxRetries, cfg.RetryDelay),
		clock:      clock,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch returns the extracted content for rawURL and records exactly one
// terminal outcome on tracker. Skipped and failed URLs return an empty
// result and a nil error; only cancellation is returned as an error.
func (c *Client) Fetch(ctx context.Context, rawURL string, tracker *progress.Tracker) (crawler.FetchResult, error) {
	tracker.SetCurrentURL(rawURL)
	if c.skip != nil && c.skip.Skip(rawURL) {
		tracker.MarkSkipped(rawURL)
		metrics.ObserveFetch(rawURL, string(progress.OutcomeSkipped), 0)
		return crawler.FetchResult{URL: rawURL}, nil
	}

	target := crawler.NormalizePaperURL(rawURL)
	timeout := c.timeoutFor(target)
	ctx, span := telemetry.StartSpan(ctx, "extractor.fetch",
		attribute.String("url", rawURL),
		attribute.String("target", target),
	)
	defer span.End()

	logger := c.logger.With(zap.String("url", rawURL))
	for retry := 0; ; retry++ {
		content, err := c.attempt(ctx, target, timeout)
		if err == nil {
			tracker.MarkProvisional(rawURL)
			metrics.ObserveFetch(rawURL, string(progress.OutcomeProvisional), len(content))
			span.SetAttributes(attribute.Int("attempts", retry+1))
			return crawler.FetchResult{URL: rawURL, Content: content}, nil
		}
		if ctx.Err() != nil {
			telemetry.RecordError(span, ctx.Err())
			return crawler.FetchResult{URL: rawURL}, fmt.Errorf("fetch %s: %w", rawURL, ctx.Err())
		}
		next := retry + 1
		if !c.retry.ShouldRetry(err, next) {
			logger.Warn("extraction failed", zap.Int("attempt", next), zap.Error(err))
			telemetry.RecordError(span, err)
			break
		}
		delay := c.retry.Backoff(next)
		metrics.ObserveRetry(retryReason(err))
		logger.Debug("retrying extraction",
			zap.Int("attempt", next),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := c.clock.Sleep(ctx, delay); err != nil {
			return crawler.FetchResult{URL: rawURL}, fmt.Errorf("fetch %s: %w", rawURL, err)
		}
	}

	tracker.MarkFailed(rawURL)
	metrics.ObserveFetch(rawURL, string(progress.OutcomeFailed), 0)
	return crawler.FetchResult{URL: rawURL}, nil
}

// attempt performs one rate-limited request and validates the body.
func (c *Client) attempt(ctx context.Context, target string, timeout time.Duration) (string, error) {
	if err := c.limiter.Acquire(ctx); err != nil {
		return "", err
	}
	reqCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.cfg.Endpoint+"/"+target, nil)
	if err != nil {
		return "", fmt.Errorf("build extraction request: %w", err)
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if c.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", c.cfg.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("extraction request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return "", &crawler.StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read extraction response: %w", err)
	}
	content := strings.TrimSpace(string(body))
	if err := crawler.ValidateContent(content); err != nil {
		return "", err
	}
	return content, nil
}

func (c *Client) timeoutFor(target string) time.Duration {
	if crawler.IsPDFURL(target) {
		return c.cfg.PDFTimeout
	}
	return c.cfg.DefaultTimeout
}

func retryReason(err error) string {
	var statusErr *crawler.StatusError
	switch {
	case errors.As(err, &statusErr) && statusErr.RateLimited():
		return "rate_limited"
	case errors.As(err, &statusErr):
		return "status"
	case errors.Is(err, crawler.ErrContentTooShort), errors.Is(err, crawler.ErrMetadataOnly):
		return "content"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "transport"
	}
}
