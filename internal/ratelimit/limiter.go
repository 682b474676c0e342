package ratelimit

import (
	"context"
	"time"
)

// Limiter is the uniform contract every throttling algorithm exposes. A limiter
// is composed from an injected QuotaStore; the same algorithm runs unchanged on
// the shared or the local backend.
type Limiter interface {
	// Check reports the verdict for key without consuming quota.
	Check(ctx context.Context, key string) (*Result, error)

	// Consume spends one unit of quota for key and reports the verdict.
	Consume(ctx context.Context, key string) (*Result, error)

	// Reset clears all state for key.
	Reset(ctx context.Context, key string) error

	// Status reports current usage for key. Read-only, like Check.
	Status(ctx context.Context, key string) (*Result, error)
}

// New builds a limiter for the given validated config on top of store.
// The leaky bucket algorithm is reserved and rejected here.
func New(cfg Config, store QuotaStore) (Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	switch cfg.Algorithm {
	case AlgorithmFixedWindow:
		return newFixedWindowLimiter(cfg, store), nil
	case AlgorithmSlidingWindow:
		return newSlidingWindowLimiter(cfg, store), nil
	case AlgorithmTokenBucket:
		return newTokenBucketLimiter(cfg, store), nil
	default:
		// Validate already rejected everything else, including leaky_bucket.
		panic("unreachable algorithm " + string(cfg.Algorithm))
	}
}

// clock abstracts time.Now so algorithm tests can control the clock.
type clock func() time.Time
