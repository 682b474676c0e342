package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/quotaflow/quotaflow/pkg/constants"
)

// SlidingWindowLimiter counts events inside a continuously moving trailing
// interval. Each consume inserts a timestamped member into a sorted set and
// prunes everything older than the window in the same atomic operation.
//
// ResetAt is reported as now + window: an upper bound, since the exact reset is
// when the oldest remaining entry ages out. Callers needing a precise
// Retry-After under this algorithm should treat the value as approximate.
type SlidingWindowLimiter struct {
	cfg   Config
	store QuotaStore
	now   clock
}

func newSlidingWindowLimiter(cfg Config, store QuotaStore) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{cfg: cfg, store: store, now: time.Now}
}

// Consume inserts the current timestamp and reports the verdict based on the
// cardinality after insertion.
func (l *SlidingWindowLimiter) Consume(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	count, err := l.store.PruneCount(ctx, key, cutoff, now, windowMember(now), l.cfg.Window+constants.BucketTTLGrace)
	if err != nil {
		return nil, err
	}

	return l.result(count, count <= l.cfg.MaxRequests, now), nil
}

// Check prunes and counts without inserting.
func (l *SlidingWindowLimiter) Check(ctx context.Context, key string) (*Result, error) {
	now := l.now()
	cutoff := now.Add(-l.cfg.Window)

	count, err := l.store.CountInWindow(ctx, key, cutoff)
	if err != nil {
		return nil, err
	}

	return l.result(count, count < l.cfg.MaxRequests, now), nil
}

// Status is the read-only usage view; identical to Check.
func (l *SlidingWindowLimiter) Status(ctx context.Context, key string) (*Result, error) {
	return l.Check(ctx, key)
}

// Reset drops the whole event set for key.
func (l *SlidingWindowLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

func (l *SlidingWindowLimiter) result(count int64, allowed bool, now time.Time) *Result {
	remaining := l.cfg.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}

	res := &Result{
		Allowed:   allowed,
		Current:   count,
		Remaining: remaining,
		Limit:     l.cfg.MaxRequests,
		ResetAt:   now.Add(l.cfg.Window).Unix(),
	}
	if !allowed {
		// Same upper-bound approximation as ResetAt.
		res.RetryAfter = l.cfg.Window.Milliseconds()
	}
	return res
}

// windowMember builds a sorted-set member unique even for events landing on the
// same millisecond, so duplicate scores never collapse into one entry.
func windowMember(at time.Time) string {
	return strconv.FormatInt(at.UnixNano(), 10) + "-" + uuid.NewString()
}
