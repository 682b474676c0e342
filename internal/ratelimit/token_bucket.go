package ratelimit

import (
	"context"
	"math"
	"time"

	"github.com/quotaflow/quotaflow/pkg/constants"
)

// TokenBucketLimiter models a bucket that gains tokens at a steady rate up to a
// burst capacity and is drained one token per consume. Tokens are fractional
// and refilled lazily on access; there is no background refill timer.
type TokenBucketLimiter struct {
	cfg   Config
	store QuotaStore
	now   clock
}

func newTokenBucketLimiter(cfg Config, store QuotaStore) *TokenBucketLimiter {
	return &TokenBucketLimiter{cfg: cfg, store: store, now: time.Now}
}

// Consume refills the bucket for the elapsed time, then takes one token if
// available. The state is persisted with LastRefill advanced to now even on
// denial; otherwise a hammering client would accumulate refill credit across
// denied calls and the bucket arithmetic would drift.
func (l *TokenBucketLimiter) Consume(ctx context.Context, key string) (*Result, error) {
	now := l.now()

	state, found, err := l.store.GetBucket(ctx, key)
	if err != nil {
		return nil, err
	}
	tokens := l.refill(state, found, now)

	allowed := tokens >= 1
	if allowed {
		tokens -= 1
	}

	next := &BucketState{Tokens: tokens, LastRefill: now.UnixMilli()}
	if err := l.store.SetBucket(ctx, key, next, l.cfg.Window+constants.BucketTTLGrace); err != nil {
		return nil, err
	}

	return l.result(tokens, allowed, now), nil
}

// Check reports the verdict without draining or persisting anything.
func (l *TokenBucketLimiter) Check(ctx context.Context, key string) (*Result, error) {
	now := l.now()

	state, found, err := l.store.GetBucket(ctx, key)
	if err != nil {
		return nil, err
	}
	tokens := l.refill(state, found, now)

	return l.result(tokens, tokens >= 1, now), nil
}

// Status is the read-only usage view; identical to Check.
func (l *TokenBucketLimiter) Status(ctx context.Context, key string) (*Result, error) {
	return l.Check(ctx, key)
}

// Reset drops the bucket so the next consume starts from full capacity.
func (l *TokenBucketLimiter) Reset(ctx context.Context, key string) error {
	return l.store.Delete(ctx, key)
}

// refill computes the token count after crediting the time elapsed since the
// last refill, capped at the burst capacity. A missing bucket starts full.
func (l *TokenBucketLimiter) refill(state *BucketState, found bool, now time.Time) float64 {
	if !found {
		return float64(l.cfg.Burst)
	}

	elapsed := float64(now.UnixMilli()-state.LastRefill) / 1000.0
	if elapsed < 0 {
		elapsed = 0
	}

	tokens := state.Tokens + elapsed*l.cfg.Rate
	if tokens > float64(l.cfg.Burst) {
		tokens = float64(l.cfg.Burst)
	}
	return tokens
}

func (l *TokenBucketLimiter) result(tokens float64, allowed bool, now time.Time) *Result {
	remaining := int64(math.Floor(tokens))
	if remaining < 0 {
		remaining = 0
	}

	current := l.cfg.Burst - remaining
	if current < 0 {
		current = 0
	}

	// ResetAt is when the bucket is full again at the configured rate.
	deficit := float64(l.cfg.Burst) - tokens
	resetAt := now.Unix()
	if deficit > 0 {
		resetAt = now.Add(time.Duration(deficit / l.cfg.Rate * float64(time.Second))).Unix()
	}

	res := &Result{
		Allowed:   allowed,
		Current:   current,
		Remaining: remaining,
		Limit:     l.cfg.Burst,
		ResetAt:   resetAt,
	}
	if !allowed {
		res.RetryAfter = int64(math.Ceil((1 - tokens) / l.cfg.Rate * 1000))
	}
	return res
}
