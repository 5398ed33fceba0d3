package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterSpacesSameHost(t *testing.T) {
	t.Parallel()

	var (
		mu     sync.Mutex
		delays []string
	)
	l := New(Config{
		MinDelay: 100 * time.Millisecond,
		OnDelay: func(host string, _ time.Duration) {
			mu.Lock()
			defer mu.Unlock()
			delays = append(delays, host)
		},
	})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://test.com/a"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://TEST.com/b"))
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"test.com"}, delays)
}

func TestLimiterDifferentHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Second})
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx, "https://a.com/1"))
	start := time.Now()
	require.NoError(t, l.Wait(ctx, "https://b.com/1"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterDisabled(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(context.Background(), "https://a.com/"))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestLimiterHonoursContext(t *testing.T) {
	t.Parallel()

	l := New(Config{MinDelay: time.Hour})
	require.NoError(t, l.Wait(context.Background(), "https://a.com/"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Wait(ctx, "https://a.com/"))
}
