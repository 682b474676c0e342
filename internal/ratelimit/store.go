package ratelimit

import (
	"context"
	"time"
)

// QuotaStore provides the atomic primitives every throttling algorithm is built
// on. Implementations must be safe for concurrent use on the same key.
//
// The shared (Redis) implementation performs each primitive as a single atomic
// server-side operation so concurrent instances never race on read-modify-write.
// The local implementation serializes access with a mutex and evicts expired
// entries with a periodic sweep independent of the request path.
type QuotaStore interface {
	// IncrementWithExpiry atomically increments the counter at key and returns
	// the post-increment value. A missing key is initialized at 1 with the given
	// TTL; the TTL is not refreshed on subsequent increments.
	IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// GetCount returns the current counter value, or 0 when the key is absent.
	GetCount(ctx context.Context, key string) (int64, error)

	// PruneCount removes members of the sorted set at key with a score before
	// cutoff, inserts member at score at, refreshes the TTL, and returns the
	// cardinality after insertion.
	PruneCount(ctx context.Context, key string, cutoff, at time.Time, member string, ttl time.Duration) (int64, error)

	// CountInWindow removes members with a score before cutoff and returns the
	// remaining cardinality without inserting anything.
	CountInWindow(ctx context.Context, key string, cutoff time.Time) (int64, error)

	// GetBucket loads the token bucket state at key. The second return value is
	// false when no state exists.
	GetBucket(ctx context.Context, key string) (*BucketState, bool, error)

	// SetBucket stores the token bucket state at key with the given TTL.
	SetBucket(ctx context.Context, key string, state *BucketState, ttl time.Duration) error

	// Delete removes all state at key. Missing keys are not an error.
	Delete(ctx context.Context, key string) error

	// Ping reports whether the store is reachable. Used by the health probe.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
