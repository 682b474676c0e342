package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/quotaflow/quotaflow/pkg/constants"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// BackendState names which quota store backend a resilient limiter trusts.
type BackendState string

const (
	// StateConnected means calls are served by the shared store.
	StateConnected BackendState = "connected"

	// StateDegraded means calls are served by the local store only.
	StateDegraded BackendState = "degraded"
)

// ResilientLimiter wraps a shared-store limiter and a local-store limiter of
// the same algorithm and config. Every call is routed to whichever backend is
// currently trusted, and a backend failure is never propagated to the caller:
// the triggering call retries on the local limiter immediately.
//
// While degraded, calls skip the shared store entirely; trust is only restored
// by a periodic background probe. This trades cross-process consistency during
// partitions for availability and intra-process consistency.
type ResilientLimiter struct {
	shared      Limiter // nil when no shared store is configured
	local       Limiter
	sharedStore QuotaStore

	degraded atomic.Bool

	probeInterval time.Duration
	probeTimeout  time.Duration
	probeGroup    singleflight.Group

	onStateChange func(BackendState)
	logger        logger.Logger

	stopOnce sync.Once
	stop     chan struct{}
}

// ResilientOption customizes a ResilientLimiter.
type ResilientOption func(*ResilientLimiter)

// WithProbeInterval overrides how often a degraded limiter re-probes the
// shared store.
func WithProbeInterval(interval time.Duration) ResilientOption {
	return func(r *ResilientLimiter) {
		if interval > 0 {
			r.probeInterval = interval
		}
	}
}

// WithStateChangeHook registers a callback fired on every trust transition.
// Used to keep the backend state gauge current.
func WithStateChangeHook(hook func(BackendState)) ResilientOption {
	return func(r *ResilientLimiter) {
		r.onStateChange = hook
	}
}

// NewResilientLimiter builds the wrapper. shared and sharedStore may be nil,
// in which case the limiter starts and stays degraded: a purely local setup.
func NewResilientLimiter(shared Limiter, sharedStore QuotaStore, local Limiter, log logger.Logger, opts ...ResilientOption) *ResilientLimiter {
	r := &ResilientLimiter{
		shared:        shared,
		sharedStore:   sharedStore,
		local:         local,
		probeInterval: constants.DefaultProbeInterval,
		probeTimeout:  constants.DefaultProbeTimeout,
		logger:        log.WithComponent("resilient_limiter"),
		stop:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.shared == nil || r.sharedStore == nil {
		r.degraded.Store(true)
		return r
	}

	go r.probeLoop()
	return r
}

// State reports which backend is currently trusted.
func (r *ResilientLimiter) State() BackendState {
	if r.degraded.Load() {
		return StateDegraded
	}
	return StateConnected
}

// Consume routes to the trusted backend; shared-store failures fall back to
// the local limiter within the same call.
func (r *ResilientLimiter) Consume(ctx context.Context, key string) (*Result, error) {
	if r.degraded.Load() {
		return r.local.Consume(ctx, key)
	}

	res, err := r.shared.Consume(ctx, key)
	if err != nil {
		r.markDegraded(ctx, err)
		return r.local.Consume(ctx, key)
	}
	return res, nil
}

// Check routes like Consume.
func (r *ResilientLimiter) Check(ctx context.Context, key string) (*Result, error) {
	if r.degraded.Load() {
		return r.local.Check(ctx, key)
	}

	res, err := r.shared.Check(ctx, key)
	if err != nil {
		r.markDegraded(ctx, err)
		return r.local.Check(ctx, key)
	}
	return res, nil
}

// Status routes like Consume.
func (r *ResilientLimiter) Status(ctx context.Context, key string) (*Result, error) {
	if r.degraded.Load() {
		return r.local.Status(ctx, key)
	}

	res, err := r.shared.Status(ctx, key)
	if err != nil {
		r.markDegraded(ctx, err)
		return r.local.Status(ctx, key)
	}
	return res, nil
}

// Reset clears state on both backends so a manual reset is effective no matter
// which backend serves the next call.
func (r *ResilientLimiter) Reset(ctx context.Context, key string) error {
	if !r.degraded.Load() && r.shared != nil {
		if err := r.shared.Reset(ctx, key); err != nil {
			r.markDegraded(ctx, err)
		}
	}
	return r.local.Reset(ctx, key)
}

// Close stops the health probe.
func (r *ResilientLimiter) Close() error {
	r.stopOnce.Do(func() { close(r.stop) })
	return nil
}

// markDegraded flips trust to the local store. Idempotent.
func (r *ResilientLimiter) markDegraded(ctx context.Context, cause error) {
	if r.degraded.CompareAndSwap(false, true) {
		r.logger.Warn(ctx, "shared quota store failed, degrading to local store",
			logger.String("error", cause.Error()),
		)
		if r.onStateChange != nil {
			r.onStateChange(StateDegraded)
		}
	}
}

// probeLoop periodically re-probes the shared store while degraded. The loop
// runs for the lifetime of the limiter; probes are cheap and skipped entirely
// while connected.
func (r *ResilientLimiter) probeLoop() {
	ticker := time.NewTicker(r.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			if r.degraded.Load() {
				r.probeOnce()
			}
		}
	}
}

// probeOnce runs a single-flight health probe against the shared store. A
// success restores trust; a failure leaves the limiter degraded.
func (r *ResilientLimiter) probeOnce() bool {
	recovered, _, _ := r.probeGroup.Do("probe", func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), r.probeTimeout)
		defer cancel()

		if err := r.sharedStore.Ping(ctx); err != nil {
			r.logger.Debug(ctx, "shared store probe failed",
				logger.String("error", err.Error()),
			)
			return false, nil
		}

		if r.degraded.CompareAndSwap(true, false) {
			r.logger.Info(ctx, "shared quota store recovered, reconnecting")
			if r.onStateChange != nil {
				r.onStateChange(StateConnected)
			}
		}
		return true, nil
	})

	ok, _ := recovered.(bool)
	return ok
}
