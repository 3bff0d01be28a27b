package crawler

import (
	"context"
	"errors"
	"time"
)

// LinearRetryPolicy retries failed extraction attempts with a delay that grows
// linearly: the n-th retry waits n × baseDelay.
type LinearRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
}

// NewLinearRetryPolicy builds a policy allowing maxRetries retries after the
// first attempt.
func NewLinearRetryPolicy(maxRetries int, baseDelay time.Duration) *LinearRetryPolicy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if baseDelay < 0 {
		baseDelay = 0
	}
	return &LinearRetryPolicy{maxRetries: maxRetries, baseDelay: baseDelay}
}

// ShouldRetry decides whether retry number retry (1-based) may be attempted
// after err. Cancellation is never retried; per-attempt timeouts are.
func (p *LinearRetryPolicy) ShouldRetry(err error, retry int) bool {
	if err == nil {
		return false
	}
	if retry > p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Backoff returns the wait before retry number retry (1-based).
func (p *LinearRetryPolicy) Backoff(retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	return p.baseDelay * time.Duration(retry)
}

// MaxRetries returns the retry ceiling.
func (p *LinearRetryPolicy) MaxRetries() int {
	return p.maxRetries
}
