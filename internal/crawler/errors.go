package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrContentTooShort rejects content below the minimum length or line count.
	ErrContentTooShort = errors.New("content too short")
	// ErrMetadataOnly rejects content consisting solely of extraction headers.
	ErrMetadataOnly = errors.New("content contains only metadata")
	// ErrNoValidContent is returned when no result qualifies for the archive.
	ErrNoValidContent = errors.New("no valid content to archive")
)

// StatusError reports a non-200 response from the extraction service.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("extraction service returned %d for %s", e.StatusCode, e.URL)
}

// RateLimited reports whether the service asked the caller to slow down.
func (e *StatusError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// CrawlError is the single aggregate failure surfaced when a job aborts.
type CrawlError struct {
	SeedURL string
	JobID   string
	Err     error
}

func (e *CrawlError) Error() string {
	return fmt.Sprintf("crawl %s: %v", e.SeedURL, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}
