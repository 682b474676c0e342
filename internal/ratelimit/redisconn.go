package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// ConnectionMode defines the Redis deployment mode.
type ConnectionMode string

const (
	// ModeStandalone represents a single Redis instance.
	ModeStandalone ConnectionMode = "standalone"
	// ModeCluster represents Redis cluster mode.
	ModeCluster ConnectionMode = "cluster"
	// ModeSentinel represents Redis sentinel mode for high availability.
	ModeSentinel ConnectionMode = "sentinel"
)

// RedisOptions holds shared-store connection parameters.
type RedisOptions struct {
	Mode     ConnectionMode
	Addrs    []string
	Password string
	DB       int

	// SentinelMaster is required in sentinel mode.
	SentinelMaster string

	PoolSize     int
	MinIdleConns int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// NewRedisClient creates a go-redis universal client for the configured
// deployment mode and verifies connectivity once at startup. Later outages are
// handled by the resilient limiter, not here.
func NewRedisClient(ctx context.Context, opts RedisOptions, log logger.Logger) (redis.UniversalClient, error) {
	if len(opts.Addrs) == 0 {
		return nil, errors.ErrInvalidConfig("redis address is required")
	}

	var client redis.UniversalClient
	switch opts.Mode {
	case ModeCluster:
		client = redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        opts.Addrs,
			Password:     opts.Password,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		})
	case ModeSentinel:
		if opts.SentinelMaster == "" {
			return nil, errors.ErrInvalidConfig("sentinel master name is required in sentinel mode")
		}
		client = redis.NewFailoverClient(&redis.FailoverOptions{
			MasterName:    opts.SentinelMaster,
			SentinelAddrs: opts.Addrs,
			Password:      opts.Password,
			DB:            opts.DB,
			PoolSize:      opts.PoolSize,
			MinIdleConns:  opts.MinIdleConns,
			DialTimeout:   opts.DialTimeout,
			ReadTimeout:   opts.ReadTimeout,
			WriteTimeout:  opts.WriteTimeout,
		})
	case ModeStandalone, "":
		client = redis.NewClient(&redis.Options{
			Addr:         opts.Addrs[0],
			Password:     opts.Password,
			DB:           opts.DB,
			PoolSize:     opts.PoolSize,
			MinIdleConns: opts.MinIdleConns,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		})
	default:
		return nil, errors.ErrInvalidConfig("unknown redis mode %q", opts.Mode)
	}

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.ErrStoreUnavailable("redis unreachable at startup").WithCause(err)
	}

	log.Info(ctx, "redis connection established",
		logger.String("mode", string(opts.Mode)),
		logger.Int("addrs", len(opts.Addrs)),
	)
	return client, nil
}
