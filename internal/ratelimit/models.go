// Package ratelimit implements the distributed rate-limiting engine: the quota
// store abstraction, the throttling algorithms, and the resilient wrapper that
// degrades from the shared store to the local store on failure.
package ratelimit

import (
	"time"

	"github.com/quotaflow/quotaflow/pkg/errors"
)

// Algorithm identifies a throttling algorithm.
type Algorithm string

const (
	// AlgorithmFixedWindow counts requests in fixed windows aligned to epoch
	// multiples of the window size.
	AlgorithmFixedWindow Algorithm = "fixed_window"

	// AlgorithmSlidingWindow counts events in a continuously moving trailing
	// interval.
	AlgorithmSlidingWindow Algorithm = "sliding_window"

	// AlgorithmTokenBucket models a bucket refilled at a steady rate up to a cap.
	AlgorithmTokenBucket Algorithm = "token_bucket"

	// AlgorithmLeakyBucket is reserved. It is accepted by the type system but has
	// no implementation; the factory rejects it at startup.
	AlgorithmLeakyBucket Algorithm = "leaky_bucket"
)

// Config holds the immutable parameters of a single limiter instance.
type Config struct {
	// Algorithm selects the throttling algorithm.
	Algorithm Algorithm

	// Window is the measurement window. Must be >= 1s.
	Window time.Duration

	// MaxRequests is the quota per window. Must be >= 1.
	MaxRequests int64

	// Rate is the refill rate in tokens per second. Token bucket only.
	// Defaults to MaxRequests / Window seconds.
	Rate float64

	// Burst is the maximum token capacity. Token bucket only.
	// Defaults to MaxRequests. Must be >= 1 when the algorithm is token bucket.
	Burst int64
}

// Validate checks the config and applies token bucket defaults.
// Configuration errors are fatal at startup.
func (c *Config) Validate() error {
	switch c.Algorithm {
	case AlgorithmFixedWindow, AlgorithmSlidingWindow, AlgorithmTokenBucket:
	case AlgorithmLeakyBucket:
		return errors.ErrInvalidConfig("algorithm %q is reserved and not implemented", c.Algorithm)
	default:
		return errors.ErrInvalidConfig("unknown algorithm %q", c.Algorithm)
	}

	if c.Window < time.Second {
		return errors.ErrInvalidConfig("window must be at least 1s, got %s", c.Window)
	}
	if c.MaxRequests < 1 {
		return errors.ErrInvalidConfig("max requests must be positive, got %d", c.MaxRequests)
	}

	if c.Algorithm == AlgorithmTokenBucket {
		if c.Burst == 0 {
			c.Burst = c.MaxRequests
		}
		if c.Burst < 1 {
			return errors.ErrInvalidConfig("burst capacity must be at least 1, got %d", c.Burst)
		}
		if c.Rate == 0 {
			c.Rate = float64(c.MaxRequests) / c.Window.Seconds()
		}
		if c.Rate <= 0 {
			return errors.ErrInvalidConfig("refill rate must be positive, got %f", c.Rate)
		}
	}

	return nil
}

// Result is the verdict for a single check or consume call. It is returned per
// request and never persisted.
type Result struct {
	// Allowed reports whether the request may proceed.
	Allowed bool `json:"allowed"`

	// Current is the count or tokens consumed so far in this window.
	Current int64 `json:"current"`

	// Remaining is the quota left in the current window. Never negative.
	Remaining int64 `json:"remaining"`

	// Limit is the quota of the matched rule.
	Limit int64 `json:"limit"`

	// ResetAt is the epoch seconds when the window or bucket fully replenishes.
	ResetAt int64 `json:"reset_at"`

	// RetryAfter is the suggested wait in milliseconds. Zero when allowed.
	RetryAfter int64 `json:"retry_after,omitempty"`
}

// BucketState is the opaque per-key token bucket state owned by the quota store.
type BucketState struct {
	// Tokens is the fractional token count at LastRefill.
	Tokens float64 `json:"tokens"`

	// LastRefill is the unix milliseconds of the last refill observation.
	// It advances on every consume, including denials, so refill credit never
	// accumulates without bound.
	LastRefill int64 `json:"last_refill"`
}
