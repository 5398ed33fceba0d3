// Package ratelimit spaces out requests to the same host with a token bucket
// per host.
package ratelimit

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DelayObserver is told how long a request waited for its host's token.
type DelayObserver func(host string, waited time.Duration)

// Config holds rate limiter configuration.
type Config struct {
	// MinDelay is the minimum spacing between requests to one host. Zero
	// disables limiting.
	MinDelay time.Duration
	Burst    int
	// OnDelay, when set, observes waits longer than a millisecond.
	OnDelay DelayObserver
}

// Limiter manages per-host rate limits.
type Limiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	limit    rate.Limit
	burst    int
	onDelay  DelayObserver
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters: make(map[string]*rate.Limiter),
		limit:    limit,
		burst:    burst,
		onDelay:  cfg.OnDelay,
	}
}

// Wait blocks until a token is available for the URL's host, respecting the
// context.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	l.mu.Lock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[host] = limiter
	}
	l.mu.Unlock()

	start := time.Now()
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); l.onDelay != nil && waited > time.Millisecond {
		l.onDelay(host, waited)
	}
	return nil
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}
