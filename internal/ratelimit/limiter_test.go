package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWaitUnlimitedByDefault(t *testing.T) {
	t.Parallel()

	l := New(Config{})
	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, l.Wait(ctx, "https://i.pinimg.com/736x/a.jpg"))
	}
	require.Less(t, time.Since(start), time.Second)
}

func TestWaitHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://example.com/a")) // burst token

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, l.Wait(ctx, "https://example.com/b"))
}

func TestWaitSeparateHosts(t *testing.T) {
	t.Parallel()

	l := New(Config{DefaultRPS: 0.001, DefaultBurst: 1})
	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, "https://a.example.com/x"))
	// A fresh host has its own bucket with a free burst token.
	require.NoError(t, l.Wait(ctx, "https://b.example.com/x"))
}

func TestJitterRange(t *testing.T) {
	t.Parallel()

	start := time.Now()
	require.NoError(t, Jitter(context.Background(), 10*time.Millisecond, 30*time.Millisecond))
	elapsed := time.Since(start)
	require.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
	require.Less(t, elapsed, 500*time.Millisecond)
}

func TestJitterCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, Jitter(ctx, time.Second, 2*time.Second))
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	cap := 2 * time.Second
	prev := time.Duration(0)
	for attempt := 0; attempt < 8; attempt++ {
		d := Backoff(attempt, 100*time.Millisecond, cap)
		require.Greater(t, d, time.Duration(0))
		// jitter adds at most 50%
		require.LessOrEqual(t, d, cap+cap/2)
		if attempt < 3 {
			require.GreaterOrEqual(t, d, prev/4)
		}
		prev = d
	}
}
