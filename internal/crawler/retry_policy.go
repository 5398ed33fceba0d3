package crawler

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"time"
)

// RetryConfig tunes ExponentialRetryPolicy.
type RetryConfig struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// ExponentialRetryPolicy implements RetryPolicy with jittered, capped backoff.
type ExponentialRetryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
}

// NewExponentialRetryPolicy builds a policy, filling zero values with
// defaults of 3 retries, 500ms base and a 10s cap.
func NewExponentialRetryPolicy(cfg RetryConfig) *ExponentialRetryPolicy {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	return &ExponentialRetryPolicy{
		maxRetries: cfg.MaxRetries,
		baseDelay:  cfg.BaseDelay,
		maxDelay:   cfg.MaxDelay,
	}
}

// ShouldRetry decides whether the error is retryable. attempt counts the
// retries already made.
func (p *ExponentialRetryPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil || attempt >= p.maxRetries {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransient(err)
}

// Backoff returns the wait duration before retry number attempt+1.
func (p *ExponentialRetryPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
