// Package ratelimit implements the process-wide sliding-window limiter that
// guards calls to the content extraction service.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/link-content-scraper/internal/metrics"
)

// Clock supplies time and interruptible sleeps to the limiter.
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Config holds rate limiter configuration.
type Config struct {
	// Requests is the maximum number of admissions inside any Window.
	Requests int
	// Window is the rolling window length.
	Window time.Duration
}

// ErrInvalidConfig is returned by New for non-positive limits.
var ErrInvalidConfig = errors.New("ratelimit: requests and window must be positive")

// Limiter admits at most Requests calls per rolling Window across all callers.
// Admission timestamps are kept in order; entries older than the window are
// trimmed on every check.
type Limiter struct {
	mu       sync.Mutex
	limit    int
	window   time.Duration
	admitted []time.Time
	clock    Clock

	// onAdmit, when set, observes every admission timestamp under the lock.
	onAdmit func(time.Time)
}

// New creates a new Limiter.
func New(cfg Config, clock Clock) (*Limiter, error) {
	if cfg.Requests <= 0 || cfg.Window <= 0 {
		return nil, ErrInvalidConfig
	}
	if clock == nil {
		return nil, errors.New("ratelimit: clock is required")
	}
	return &Limiter{
		limit:    cfg.Requests,
		window:   cfg.Window,
		admitted: make([]time.Time, 0, cfg.Requests),
		clock:    clock,
	}, nil
}

// Acquire blocks until the caller may issue one request. Waiters are not
// queued: after each sleep the caller re-evaluates the window from scratch.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := l.clock.Now()
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
		wait := l.tryAdmit()
		if wait == 0 {
			if waited := l.clock.Now().Sub(start); waited > time.Millisecond {
				metrics.ObserveRateLimitWait(waited)
			}
			return nil
		}
		if err := l.clock.Sleep(ctx, wait); err != nil {
			return fmt.Errorf("rate limit wait: %w", err)
		}
	}
}

// tryAdmit records an admission and returns zero, or returns how long until
// the oldest admission leaves the window.
func (l *Limiter) tryAdmit() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.trim(now)
	if len(l.admitted) < l.limit {
		l.admitted = append(l.admitted, now)
		if l.onAdmit != nil {
			l.onAdmit(now)
		}
		return 0
	}
	wait := l.window - now.Sub(l.admitted[0])
	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

func (l *Limiter) trim(now time.Time) {
	cut := 0
	for cut < len(l.admitted) && now.Sub(l.admitted[cut]) >= l.window {
		cut++
	}
	if cut > 0 {
		l.admitted = append(l.admitted[:0], l.admitted[cut:]...)
	}
}

// InWindow reports how many admissions currently count against the limit.
func (l *Limiter) InWindow() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.trim(l.clock.Now())
	return len(l.admitted)
}
