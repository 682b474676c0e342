package ratelimit

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// Lua script for atomic increment-with-expiry. The TTL is only set when the
// increment creates the key, so the window keeps its original deadline.
const incrementLuaScript = `
local value = redis.call('INCR', KEYS[1])
if value == 1 then
    redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return value
`

// Lua script for sorted-set prune+insert+count. Members with a score before the
// cutoff are dropped, the new member is inserted at the current timestamp, and
// the cardinality after insertion is returned.
const pruneCountLuaScript = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return redis.call('ZCARD', KEYS[1])
`

// Lua script for the read-only prune+count variant.
const countInWindowLuaScript = `
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', '(' .. ARGV[1])
return redis.call('ZCARD', KEYS[1])
`

// Lua script for atomic bucket state writes.
const setBucketLuaScript = `
redis.call('HSET', KEYS[1], 'tokens', ARGV[1], 'last_refill', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`

// RedisQuotaStore implements QuotaStore on a shared Redis deployment. Every
// primitive is a single server-side operation, so concurrent process instances
// observe a consistent counter without cross-instance locking.
type RedisQuotaStore struct {
	client    redis.UniversalClient
	logger    logger.Logger
	keyPrefix string

	incrScript       *redis.Script
	pruneCountScript *redis.Script
	countScript      *redis.Script
	setBucketScript  *redis.Script
}

// NewRedisQuotaStore creates a Redis-backed quota store.
func NewRedisQuotaStore(client redis.UniversalClient, keyPrefix string, log logger.Logger) (*RedisQuotaStore, error) {
	if client == nil {
		return nil, errors.ErrInvalidConfig("redis client is required")
	}
	if keyPrefix == "" {
		keyPrefix = "quotaflow"
	}

	return &RedisQuotaStore{
		client:           client,
		logger:           log.WithComponent("redis_quota_store"),
		keyPrefix:        keyPrefix,
		incrScript:       redis.NewScript(incrementLuaScript),
		pruneCountScript: redis.NewScript(pruneCountLuaScript),
		countScript:      redis.NewScript(countInWindowLuaScript),
		setBucketScript:  redis.NewScript(setBucketLuaScript),
	}, nil
}

// IncrementWithExpiry atomically increments a window counter.
func (s *RedisQuotaStore) IncrementWithExpiry(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	result, err := s.incrScript.Run(ctx, s.client, []string{s.buildKey(key)}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, errors.ErrStoreUnavailable("increment failed").WithCause(err)
	}
	return result, nil
}

// GetCount reads a window counter without incrementing it.
func (s *RedisQuotaStore) GetCount(ctx context.Context, key string) (int64, error) {
	value, err := s.client.Get(ctx, s.buildKey(key)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, errors.ErrStoreUnavailable("counter read failed").WithCause(err)
	}
	return value, nil
}

// PruneCount prunes stale members, inserts the new one, and returns cardinality.
func (s *RedisQuotaStore) PruneCount(ctx context.Context, key string, cutoff, at time.Time, member string, ttl time.Duration) (int64, error) {
	result, err := s.pruneCountScript.Run(ctx, s.client, []string{s.buildKey(key)},
		cutoffScore(cutoff), cutoffScore(at), member, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, errors.ErrStoreUnavailable("prune and count failed").WithCause(err)
	}
	return result, nil
}

// CountInWindow prunes stale members and returns cardinality without inserting.
func (s *RedisQuotaStore) CountInWindow(ctx context.Context, key string, cutoff time.Time) (int64, error) {
	result, err := s.countScript.Run(ctx, s.client, []string{s.buildKey(key)}, cutoffScore(cutoff)).Int64()
	if err != nil {
		return 0, errors.ErrStoreUnavailable("window count failed").WithCause(err)
	}
	return result, nil
}

// GetBucket loads token bucket state via a single HMGET round trip.
func (s *RedisQuotaStore) GetBucket(ctx context.Context, key string) (*BucketState, bool, error) {
	values, err := s.client.HMGet(ctx, s.buildKey(key), "tokens", "last_refill").Result()
	if err != nil {
		return nil, false, errors.ErrStoreUnavailable("bucket read failed").WithCause(err)
	}
	if len(values) < 2 || values[0] == nil || values[1] == nil {
		return nil, false, nil
	}

	state := &BucketState{}
	if tokensStr, ok := values[0].(string); ok {
		if tokens, parseErr := strconv.ParseFloat(tokensStr, 64); parseErr == nil {
			state.Tokens = tokens
		}
	}
	if refillStr, ok := values[1].(string); ok {
		if refill, parseErr := strconv.ParseInt(refillStr, 10, 64); parseErr == nil {
			state.LastRefill = refill
		}
	}

	return state, true, nil
}

// SetBucket stores token bucket state with its TTL in one atomic operation.
func (s *RedisQuotaStore) SetBucket(ctx context.Context, key string, state *BucketState, ttl time.Duration) error {
	_, err := s.setBucketScript.Run(ctx, s.client, []string{s.buildKey(key)},
		strconv.FormatFloat(state.Tokens, 'f', -1, 64), state.LastRefill, ttl.Milliseconds()).Result()
	if err != nil {
		return errors.ErrStoreUnavailable("bucket write failed").WithCause(err)
	}
	return nil
}

// Delete removes all state at key.
func (s *RedisQuotaStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.buildKey(key)).Err(); err != nil && err != redis.Nil {
		return errors.ErrStoreUnavailable("delete failed").WithCause(err)
	}
	return nil
}

// Ping probes the Redis deployment.
func (s *RedisQuotaStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.ErrStoreUnavailable("ping failed").WithCause(err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisQuotaStore) Close() error {
	return s.client.Close()
}

func (s *RedisQuotaStore) buildKey(key string) string {
	return s.keyPrefix + ":" + key
}

// cutoffScore converts a timestamp to the millisecond score used for sorted-set
// members.
func cutoffScore(t time.Time) int64 {
	return t.UnixMilli()
}
