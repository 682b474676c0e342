package ratelimit

import (
	"context"
	"strconv"
	"time"
)

// FixedWindowLimiter counts requests in windows aligned to epoch multiples of
// the window size. Requests exactly on a boundary belong to the window their
// integer floor division selects; there is no smoothing across windows, so a
// client can burst up to twice the quota around a boundary. That weakness is
// accepted for the O(1) cost of a single atomic increment.
type FixedWindowLimiter struct {
	cfg   Config
	store QuotaStore
	now   clock
}

func newFixedWindowLimiter(cfg Config, store QuotaStore) *FixedWindowLimiter {
	return &FixedWindowLimiter{cfg: cfg, store: store, now: time.Now}
}

// Consume atomically increments the current window counter and reports the
// verdict. The first request of a new window always succeeds when the quota is
// at least 1, because the post-increment count is 1.
func (l *FixedWindowLimiter) Consume(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	windowSec := int64(l.cfg.Window / time.Second)
	windowIndex := now.Unix() / windowSec

	count, err := l.store.IncrementWithExpiry(ctx, l.storeKey(key, windowIndex), l.cfg.Window)
	if err != nil {
		return nil, err
	}

	return l.result(count, count <= l.cfg.MaxRequests, windowIndex, now), nil
}

// Check reads the current window counter without incrementing. An absent
// counter is treated as 0, so the verdict is always allowed on a fresh window.
func (l *FixedWindowLimiter) Check(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	windowSec := int64(l.cfg.Window / time.Second)
	windowIndex := now.Unix() / windowSec

	count, err := l.store.GetCount(ctx, l.storeKey(key, windowIndex))
	if err != nil {
		return nil, err
	}

	return l.result(count, count < l.cfg.MaxRequests, windowIndex, now), nil
}

// Status is the read-only usage view; identical to Check.
func (l *FixedWindowLimiter) Status(ctx context.Context, key string) (*Result, error) {
	return l.Check(ctx, key)
}

// Reset clears the current window counter for key.
func (l *FixedWindowLimiter) Reset(ctx context.Context, key string) error {
	windowSec := int64(l.cfg.Window / time.Second)
	windowIndex := l.now().Unix() / windowSec
	return l.store.Delete(ctx, l.storeKey(key, windowIndex))
}

func (l *FixedWindowLimiter) storeKey(key string, windowIndex int64) string {
	return key + ":" + strconv.FormatInt(windowIndex, 10)
}

func (l *FixedWindowLimiter) result(count int64, allowed bool, windowIndex int64, now time.Time) *Result {
	windowSec := int64(l.cfg.Window / time.Second)
	resetAt := (windowIndex + 1) * windowSec

	remaining := l.cfg.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	res := &Result{
		Allowed:   allowed,
		Current:   count,
		Remaining: remaining,
		Limit:     l.cfg.MaxRequests,
		ResetAt:   resetAt,
	}
	if !allowed {
		res.RetryAfter = (resetAt - now.Unix()) * 1000
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res
}
