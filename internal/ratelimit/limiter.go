// Package ratelimit paces requests against the upstream site: a token bucket
// for per-host fetch rate plus a jittered human-like delay for API paging.
package ratelimit

import (
	"context"
	"fmt"
	"math/rand"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter manages per-host token buckets.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
}

// Config holds rate limiter configuration.
type Config struct {
	DefaultRPS   float64
	DefaultBurst int
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.DefaultRPS)
	if cfg.DefaultRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.DefaultBurst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the
// context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := "unknown"
	if u, err := url.Parse(rawURL); err == nil && u.Hostname() != "" {
		host = u.Hostname()
	}
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	return nil
}

// Jitter sleeps for a uniformly random duration in [min, max], or returns
// early with the context's error. Paginated API calls use it to avoid a
// machine-regular request cadence.
func Jitter(ctx context.Context, min, max time.Duration) error {
	if max < min {
		max = min
	}
	d := min
	if span := max - min; span > 0 {
		d += time.Duration(rand.Int63n(int64(span) + 1))
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Backoff returns the jittered exponential delay for the given zero-based
// attempt: base*2^attempt, capped, with up to 50% random extra.
func Backoff(attempt int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			d = cap
			break
		}
	}
	if d > cap {
		d = cap
	}
	return d + time.Duration(rand.Int63n(int64(d)/2+1))
}
