package ratelimit

import (
	"context"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// localMember is one sorted-set entry in the local store.
type localMember struct {
	score  int64 // unix milliseconds
	member string
}

// LocalQuotaStore implements QuotaStore on a process-local TTL cache. It is
// always available and never returns an operational error, at the cost of not
// being shared across instances. A single mutex serializes all primitives;
// operations are short-lived map accesses, so contention stays negligible.
//
// Expired entries are evicted by the cache janitor on a sweep interval
// independent of the request path.
type LocalQuotaStore struct {
	mu    sync.Mutex
	cache *gocache.Cache
}

// NewLocalQuotaStore creates a local quota store sweeping expired entries every
// sweepInterval.
func NewLocalQuotaStore(sweepInterval time.Duration) *LocalQuotaStore {
	if sweepInterval <= 0 {
		sweepInterval = 60 * time.Second
	}
	return &LocalQuotaStore{
		cache: gocache.New(gocache.NoExpiration, sweepInterval),
	}
}

// IncrementWithExpiry increments a window counter, creating it at 1 with the
// given TTL when absent. The TTL is not refreshed on later increments.
func (s *LocalQuotaStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, found := s.cache.Get(key); !found {
		s.cache.Set(key, int64(1), ttl)
		return 1, nil
	}

	value, err := s.cache.IncrementInt64(key, 1)
	if err != nil {
		// The entry expired between the lookup and the increment.
		s.cache.Set(key, int64(1), ttl)
		return 1, nil
	}
	return value, nil
}

// GetCount reads a window counter without incrementing it.
func (s *LocalQuotaStore) GetCount(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.cache.Get(key)
	if !found {
		return 0, nil
	}
	count, ok := value.(int64)
	if !ok {
		return 0, nil
	}
	return count, nil
}

// PruneCount drops members older than cutoff, appends the new member, refreshes
// the TTL, and returns the cardinality after insertion.
func (s *LocalQuotaStore) PruneCount(ctx context.Context, key string, cutoff, at time.Time, member string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members := s.loadMembers(key)
	kept := pruneMembers(members, cutoff.UnixMilli())
	kept = append(kept, localMember{score: at.UnixMilli(), member: member})
	s.cache.Set(key, kept, ttl)

	return int64(len(kept)), nil
}

// CountInWindow counts members at or after cutoff without inserting.
func (s *LocalQuotaStore) CountInWindow(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := pruneMembers(s.loadMembers(key), cutoff.UnixMilli())
	return int64(len(kept)), nil
}

// GetBucket loads token bucket state.
func (s *LocalQuotaStore) GetBucket(ctx context.Context, key string) (*BucketState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	value, found := s.cache.Get(key)
	if !found {
		return nil, false, nil
	}
	state, ok := value.(BucketState)
	if !ok {
		return nil, false, nil
	}
	return &state, true, nil
}

// SetBucket stores token bucket state with the given TTL.
func (s *LocalQuotaStore) SetBucket(ctx context.Context, key string, state *BucketState, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Set(key, *state, ttl)
	return nil
}

// Delete removes all state at key.
func (s *LocalQuotaStore) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Delete(key)
	return nil
}

// Ping always succeeds: the local store cannot be unreachable.
func (s *LocalQuotaStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all entries.
func (s *LocalQuotaStore) Close() error {
	s.cache.Flush()
	return nil
}

// loadMembers must be called with the mutex held.
func (s *LocalQuotaStore) loadMembers(key string) []localMember {
	value, found := s.cache.Get(key)
	if !found {
		return nil
	}
	members, ok := value.([]localMember)
	if !ok {
		return nil
	}
	return members
}

// pruneMembers keeps members with score >= cutoff, preserving order.
func pruneMembers(members []localMember, cutoff int64) []localMember {
	kept := members[:0:0]
	for _, m := range members {
		if m.score >= cutoff {
			kept = append(kept, m)
		}
	}
	return kept
}
