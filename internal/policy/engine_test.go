package policy

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaflow/quotaflow/internal/audit"
	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/ratelimit"
	"github.com/quotaflow/quotaflow/pkg/constants"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// capturingRecorder collects denial events for assertions.
type capturingRecorder struct {
	mu     sync.Mutex
	events []audit.DenialEvent
}

func (r *capturingRecorder) RecordDenial(ctx context.Context, event audit.DenialEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *capturingRecorder) Close() error { return nil }

func (r *capturingRecorder) denials() []audit.DenialEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.DenialEvent(nil), r.events...)
}

func newEngineForTest(t *testing.T, cfg config.RateLimitConfig, recorder audit.Recorder) *Engine {
	t.Helper()

	if recorder == nil {
		recorder = audit.NewNoopRecorder()
	}

	localStore := ratelimit.NewLocalQuotaStore(time.Minute)
	t.Cleanup(func() { _ = localStore.Close() })

	engine, err := NewEngine(cfg, nil, localStore, nil, recorder, logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	return engine
}

func ruleSpec(id string, paths []string, maxRequests int64) config.Rule {
	return config.Rule{
		ID:    id,
		Paths: paths,
		Config: config.RuleConfig{
			Algorithm:     "fixed_window",
			WindowSeconds: 60,
			MaxRequests:   maxRequests,
		},
	}
}

func TestEngineMatch(t *testing.T) {
	t.Run("first matching rule wins regardless of specificity", func(t *testing.T) {
		engine := newEngineForTest(t, config.RateLimitConfig{
			Rules: []config.Rule{
				ruleSpec("api-wide", []string{"/api/*"}, 100),
				ruleSpec("users", []string{"/api/users"}, 5),
			},
		}, nil)

		rule := engine.Match("/api/users", "GET")
		require.NotNil(t, rule)
		assert.Equal(t, "api-wide", rule.ID)
	})

	t.Run("no rule and no default leaves the request unthrottled", func(t *testing.T) {
		engine := newEngineForTest(t, config.RateLimitConfig{
			Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 5)},
		}, nil)

		verdict := engine.Evaluate(context.Background(), &Request{Path: "/other", Method: "GET", RemoteAddr: "10.0.0.1:1234"})
		assert.False(t, verdict.Matched)
	})

	t.Run("the default config catches everything no rule matched", func(t *testing.T) {
		engine := newEngineForTest(t, config.RateLimitConfig{
			Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 5)},
			Default: &config.RuleConfig{
				Algorithm:     "fixed_window",
				WindowSeconds: 60,
				MaxRequests:   1,
			},
		}, nil)

		verdict := engine.Evaluate(context.Background(), &Request{Path: "/other", Method: "GET", RemoteAddr: "10.0.0.1:1234"})
		require.True(t, verdict.Matched)
		assert.Equal(t, constants.GlobalRuleID, verdict.Rule.ID)
	})
}

func TestEngineEvaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("quota is enforced per client and rule", func(t *testing.T) {
		engine := newEngineForTest(t, config.RateLimitConfig{
			Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 2)},
		}, nil)

		reqA := &Request{Path: "/api/users", Method: "GET", RemoteAddr: "10.0.0.1:1234"}
		reqB := &Request{Path: "/api/users", Method: "GET", RemoteAddr: "10.0.0.2:1234"}

		for i := 0; i < 2; i++ {
			verdict := engine.Evaluate(ctx, reqA)
			require.True(t, verdict.Matched)
			assert.True(t, verdict.Result.Allowed)
		}

		verdict := engine.Evaluate(ctx, reqA)
		assert.False(t, verdict.Result.Allowed)

		// A different client IP has its own quota.
		verdict = engine.Evaluate(ctx, reqB)
		assert.True(t, verdict.Result.Allowed)
	})

	t.Run("denials are audited, allowed requests are not", func(t *testing.T) {
		recorder := &capturingRecorder{}
		engine := newEngineForTest(t, config.RateLimitConfig{
			Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 1)},
		}, recorder)

		req := &Request{Path: "/api/users", Method: "POST", RemoteAddr: "10.0.0.1:1234"}

		engine.Evaluate(ctx, req)
		require.Empty(t, recorder.denials())

		engine.Evaluate(ctx, req)
		denials := recorder.denials()
		require.Len(t, denials, 1)
		assert.Equal(t, "api", denials[0].RuleID)
		assert.Equal(t, "10.0.0.1", denials[0].ClientIP)
		assert.Equal(t, "/api/users", denials[0].Path)
		assert.Equal(t, "POST", denials[0].Method)
	})

	t.Run("usage is tracked per key", func(t *testing.T) {
		engine := newEngineForTest(t, config.RateLimitConfig{
			Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 1)},
		}, nil)

		req := &Request{Path: "/api/users", Method: "GET", RemoteAddr: "10.0.0.1:1234"}
		engine.Evaluate(ctx, req)
		engine.Evaluate(ctx, req)

		usage := engine.Usage()
		require.Len(t, usage, 1)
		assert.Equal(t, int64(2), usage[0].Total)
		assert.Equal(t, int64(1), usage[0].Allowed)
		assert.Equal(t, int64(1), usage[0].Denied)
	})
}

func TestEngineResetKey(t *testing.T) {
	ctx := context.Background()
	engine := newEngineForTest(t, config.RateLimitConfig{
		Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 1)},
	}, nil)

	req := &Request{Path: "/api/users", Method: "GET", RemoteAddr: "10.0.0.1:1234"}

	engine.Evaluate(ctx, req)
	verdict := engine.Evaluate(ctx, req)
	require.False(t, verdict.Result.Allowed)

	require.NoError(t, engine.ResetKey(ctx, "api", "10.0.0.1:/api/users"))

	verdict = engine.Evaluate(ctx, req)
	assert.True(t, verdict.Result.Allowed)

	assert.Error(t, engine.ResetKey(ctx, "no-such-rule", "10.0.0.1:/api/users"))
}

func TestEngineStates(t *testing.T) {
	engine := newEngineForTest(t, config.RateLimitConfig{
		Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 1)},
	}, nil)

	states := engine.States()
	require.Len(t, states, 1)
	assert.Equal(t, "api", states[0].RuleID)
	// No shared store configured: the rule runs on the local backend.
	assert.Equal(t, ratelimit.StateDegraded, states[0].State)
	assert.False(t, engine.Degraded())
}

func TestKeyDerivation(t *testing.T) {
	t.Run("first forwarded-for entry wins", func(t *testing.T) {
		ip := ClientIP(&Request{
			RemoteAddr:   "10.0.0.1:1234",
			ForwardedFor: "203.0.113.7, 198.51.100.2",
		})
		assert.Equal(t, "203.0.113.7", ip)
	})

	t.Run("remote host without port is the fallback", func(t *testing.T) {
		ip := ClientIP(&Request{RemoteAddr: "10.0.0.1:1234"})
		assert.Equal(t, "10.0.0.1", ip)
	})

	t.Run("an unparseable remote address is used verbatim", func(t *testing.T) {
		ip := ClientIP(&Request{RemoteAddr: "not-an-addr"})
		assert.Equal(t, "not-an-addr", ip)
	})

	t.Run("the default key joins identity and path", func(t *testing.T) {
		key := DefaultKeyFunc(&Request{Path: "/api/users", RemoteAddr: "10.0.0.1:1234"})
		assert.Equal(t, "10.0.0.1:/api/users", key)
	})

	t.Run("a custom key func replaces ip derivation", func(t *testing.T) {
		localStore := ratelimit.NewLocalQuotaStore(time.Minute)
		t.Cleanup(func() { _ = localStore.Close() })

		custom, err := NewEngine(config.RateLimitConfig{
			Rules: []config.Rule{ruleSpec("api", []string{"/api/*"}, 1)},
		}, nil, localStore, nil, audit.NewNoopRecorder(), logger.NewNoopLogger(),
			WithKeyFunc(func(req *Request) string { return "tenant-42" }))
		require.NoError(t, err)
		t.Cleanup(custom.Close)

		verdict := custom.Evaluate(context.Background(), &Request{Path: "/api/users", Method: "GET", RemoteAddr: "10.0.0.1:1234"})
		require.True(t, verdict.Matched)
		assert.Equal(t, "api:tenant-42", verdict.Key)
	})
}
