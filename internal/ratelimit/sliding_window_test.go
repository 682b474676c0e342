package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSlidingWindowForTest(t *testing.T, maxRequests int64, window time.Duration) (*SlidingWindowLimiter, *fakeClock) {
	t.Helper()

	store := NewLocalQuotaStore(time.Minute)
	t.Cleanup(func() { _ = store.Close() })

	limiter, err := New(Config{
		Algorithm:   AlgorithmSlidingWindow,
		Window:      window,
		MaxRequests: maxRequests,
	}, store)
	require.NoError(t, err)

	sw := limiter.(*SlidingWindowLimiter)
	clk := &fakeClock{at: time.Unix(1_000_000, 0)}
	sw.now = clk.Now
	return sw, clk
}

func TestSlidingWindowConsume(t *testing.T) {
	ctx := context.Background()

	t.Run("allows up to the quota and denies beyond it", func(t *testing.T) {
		limiter, _ := newSlidingWindowForTest(t, 3, 10*time.Second)

		for i := 1; i <= 3; i++ {
			res, err := limiter.Consume(ctx, "client-a")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
			assert.Equal(t, int64(i), res.Current)
		}

		res, err := limiter.Consume(ctx, "client-a")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
		assert.Equal(t, (10 * time.Second).Milliseconds(), res.RetryAfter)
	})

	t.Run("events age out of the trailing window", func(t *testing.T) {
		limiter, clk := newSlidingWindowForTest(t, 2, 10*time.Second)

		for i := 0; i < 2; i++ {
			res, err := limiter.Consume(ctx, "client-a")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}

		// 5s later: both events still inside the trailing 10s.
		clk.Advance(5 * time.Second)
		res, err := limiter.Consume(ctx, "client-a")
		require.NoError(t, err)
		assert.False(t, res.Allowed)

		// Once the first two events are older than the window, capacity frees
		// up. The denied attempt above still occupies one slot.
		clk.Advance(5*time.Second + time.Millisecond)
		res, err = limiter.Consume(ctx, "client-a")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
		assert.Equal(t, int64(2), res.Current)
	})

	t.Run("no boundary burst across adjacent intervals", func(t *testing.T) {
		// The fixed-window weakness this algorithm exists to close: quota
		// spent just before an interval edge stays spent just after it.
		limiter, clk := newSlidingWindowForTest(t, 2, 10*time.Second)
		clk.Set(time.Unix(1_000_009, int64(900*time.Millisecond)))

		for i := 0; i < 2; i++ {
			res, err := limiter.Consume(ctx, "client-a")
			require.NoError(t, err)
			assert.True(t, res.Allowed)
		}

		clk.Set(time.Unix(1_000_010, int64(100*time.Millisecond)))
		res, err := limiter.Consume(ctx, "client-a")
		require.NoError(t, err)
		assert.False(t, res.Allowed)
	})
}

func TestSlidingWindowCheck(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newSlidingWindowForTest(t, 2, 10*time.Second)

	res, err := limiter.Check(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(0), res.Current)

	_, err = limiter.Consume(ctx, "client-a")
	require.NoError(t, err)

	// Check never inserts an event.
	for i := 0; i < 5; i++ {
		res, err = limiter.Check(ctx, "client-a")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Current)
	}
}

func TestSlidingWindowReset(t *testing.T) {
	ctx := context.Background()
	limiter, _ := newSlidingWindowForTest(t, 1, 10*time.Second)

	res, err := limiter.Consume(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)

	require.NoError(t, limiter.Reset(ctx, "client-a"))

	res, err = limiter.Consume(ctx, "client-a")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	assert.Equal(t, int64(1), res.Current)
}
