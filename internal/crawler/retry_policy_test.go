package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestExponentialRetryPolicyShouldRetry(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxRetries: 2})
	cases := []struct {
		name    string
		err     error
		attempt int
		want    bool
	}{
		{name: "nil error", err: nil, want: false},
		{name: "503", err: StatusError("https://example.com", "example.com", http.StatusServiceUnavailable), want: true},
		{name: "429", err: StatusError("https://example.com", "example.com", http.StatusTooManyRequests), want: true},
		{name: "404", err: StatusError("https://example.com", "example.com", http.StatusNotFound), want: false},
		{name: "401", err: StatusError("https://example.com", "example.com", http.StatusUnauthorized), want: false},
		{name: "wrapped 502", err: fmt.Errorf("html fetch: %w", StatusError("https://example.com", "example.com", 502)), want: true},
		{name: "timeout", err: &FetchError{URL: "https://example.com", Err: timeoutErr{}}, want: true},
		{name: "unexpected eof", err: &FetchError{URL: "https://example.com", Err: io.ErrUnexpectedEOF}, want: true},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "canceled", err: &FetchError{URL: "https://example.com", Err: context.Canceled}, want: false},
		{name: "no content", err: &NoContentError{URL: "https://example.com"}, want: false},
		{name: "plain error", err: errors.New("boom"), want: false},
		{name: "budget spent", err: StatusError("https://example.com", "example.com", 503), attempt: 2, want: false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, p.ShouldRetry(tc.err, tc.attempt))
		})
	}
}

func TestExponentialRetryPolicyBackoff(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{
		MaxRetries: 5,
		BaseDelay:  100 * time.Millisecond,
		MaxDelay:   time.Second,
	})
	for attempt, full := range []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		time.Second,
		time.Second,
	} {
		got := p.Backoff(attempt)
		assert.GreaterOrEqual(t, got, full/2, "attempt %d", attempt)
		assert.Less(t, got, full, "attempt %d", attempt)
	}
}

func TestExponentialRetryPolicyDefaults(t *testing.T) {
	t.Parallel()

	p := NewExponentialRetryPolicy(RetryConfig{MaxRetries: -1})
	require.False(t, p.ShouldRetry(StatusError("https://example.com", "example.com", 503), 0))
	assert.Less(t, p.Backoff(10), 10*time.Second)
	assert.GreaterOrEqual(t, p.Backoff(10), 5*time.Second)
}

func TestSleepWithContext(t *testing.T) {
	t.Parallel()

	require.NoError(t, sleepWithContext(context.Background(), 0))
	require.NoError(t, sleepWithContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepWithContext(ctx, time.Hour), context.Canceled)
}

func TestKindOf(t *testing.T) {
	t.Parallel()

	assert.Equal(t, KindAuthentication, KindOf(fmt.Errorf("api: %w", &AuthenticationError{Host: "wiki", StatusCode: 403})))
	assert.Equal(t, KindNoContent, KindOf(&NoContentError{URL: "https://example.com"}))
	assert.Equal(t, KindWrite, KindOf(&writeError{err: errors.New("disk full")}))
	assert.Equal(t, KindFetch, KindOf(StatusError("https://example.com", "example.com", 500)))
	assert.Equal(t, KindFetch, KindOf(errors.New("dial tcp: refused")))
}

func TestErrorMessages(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "fetch https://x: status 500", (&FetchError{URL: "https://x", StatusCode: 500}).Error())
	assert.Equal(t, "fetch https://x: boom", (&FetchError{URL: "https://x", Err: errors.New("boom")}).Error())
	assert.Equal(t, "authentication failed for wiki: status 401", (&AuthenticationError{Host: "wiki", StatusCode: 401}).Error())
	assert.Equal(t, "authentication failed for wiki: no credentials", (&AuthenticationError{Host: "wiki", Reason: "no credentials"}).Error())

	var authErr *AuthenticationError
	require.ErrorAs(t, StatusError("https://wiki/x", "wiki", http.StatusForbidden), &authErr)
	assert.Equal(t, http.StatusForbidden, authErr.StatusCode)
}
