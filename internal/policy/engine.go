package policy

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/quotaflow/quotaflow/internal/audit"
	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/monitoring"
	"github.com/quotaflow/quotaflow/internal/ratelimit"
	"github.com/quotaflow/quotaflow/pkg/constants"
	"github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// Request carries the request attributes the engine needs. It deliberately
// avoids *http.Request so the engine stays transport-agnostic.
type Request struct {
	Path         string
	Method       string
	RemoteAddr   string
	ForwardedFor string // raw X-Forwarded-For header value, may be empty
}

// KeyFunc derives the client part of a throttle key. The default
// implementation combines the caller's IP with the request path.
type KeyFunc func(req *Request) string

// Verdict is the outcome of evaluating one request against the policy set.
type Verdict struct {
	// Matched is false when no rule applies; the request is unthrottled and
	// the remaining fields are zero.
	Matched bool

	Rule   *Rule
	Key    string
	Result *ratelimit.Result

	// ErrorMessage is the denial body text for this rule.
	ErrorMessage string
}

// Engine evaluates requests against the ordered rule set. It owns one
// resilient limiter per rule, plus usage accounting and denial auditing.
type Engine struct {
	rules    []*Rule
	limiters map[string]*ratelimit.ResilientLimiter

	keyFunc KeyFunc
	usage   *UsageTracker

	metrics  *monitoring.Metrics
	recorder audit.Recorder
	logger   logger.Logger

	now func() time.Time
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithKeyFunc replaces the default client-IP key derivation.
func WithKeyFunc(fn KeyFunc) EngineOption {
	return func(e *Engine) {
		if fn != nil {
			e.keyFunc = fn
		}
	}
}

// NewEngine compiles the rule set and builds one resilient limiter per rule.
// sharedStore may be nil; distributed rules then run purely local, identical
// to a permanently degraded backend.
func NewEngine(
	cfg config.RateLimitConfig,
	sharedStore ratelimit.QuotaStore,
	localStore ratelimit.QuotaStore,
	metrics *monitoring.Metrics,
	recorder audit.Recorder,
	log logger.Logger,
	opts ...EngineOption,
) (*Engine, error) {
	e := &Engine{
		limiters: make(map[string]*ratelimit.ResilientLimiter),
		keyFunc:  DefaultKeyFunc,
		usage:    NewUsageTracker(),
		metrics:  metrics,
		recorder: recorder,
		logger:   log.WithComponent("policy_engine"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	probeInterval := time.Duration(cfg.ProbeInterval) * time.Second

	specs := cfg.Rules
	if cfg.Default != nil {
		specs = append(append([]config.Rule{}, specs...), config.Rule{
			ID:     constants.GlobalRuleID,
			Name:   "global default",
			Paths:  []string{"*"},
			Config: *cfg.Default,
		})
	}

	for _, spec := range specs {
		rule, err := compileRule(spec, e.logger)
		if err != nil {
			e.Close()
			return nil, errors.ErrInvalidConfig("rule %q: %v", spec.ID, err)
		}

		limiter, err := e.buildLimiter(rule, sharedStore, localStore, probeInterval)
		if err != nil {
			e.Close()
			return nil, err
		}

		e.rules = append(e.rules, rule)
		e.limiters[rule.ID] = limiter
	}

	return e, nil
}

// buildLimiter assembles the shared+local limiter pair for one rule.
func (e *Engine) buildLimiter(rule *Rule, sharedStore, localStore ratelimit.QuotaStore, probeInterval time.Duration) (*ratelimit.ResilientLimiter, error) {
	local, err := ratelimit.New(rule.Config, localStore)
	if err != nil {
		return nil, err
	}

	var shared ratelimit.Limiter
	var backing ratelimit.QuotaStore
	if rule.Distributed && sharedStore != nil {
		shared, err = ratelimit.New(rule.Config, sharedStore)
		if err != nil {
			return nil, err
		}
		backing = sharedStore
	}

	opts := []ratelimit.ResilientOption{
		ratelimit.WithStateChangeHook(func(state ratelimit.BackendState) {
			if e.metrics == nil {
				return
			}
			if state == ratelimit.StateDegraded {
				e.metrics.DegradedRules.Inc()
				e.metrics.RecordStoreError("redis")
			} else {
				e.metrics.DegradedRules.Dec()
			}
		}),
	}
	if probeInterval > 0 {
		opts = append(opts, ratelimit.WithProbeInterval(probeInterval))
	}

	return ratelimit.NewResilientLimiter(shared, backing, local, e.logger, opts...), nil
}

// DefaultKeyFunc is the default key derivation: client identity joined with
// the request path, so each client gets a separate quota per path.
func DefaultKeyFunc(req *Request) string {
	return ClientIP(req) + ":" + req.Path
}

// ClientIP resolves the caller's identity: the first X-Forwarded-For entry
// when present, otherwise the connection's remote host.
func ClientIP(req *Request) string {
	if req.ForwardedFor != "" {
		first := req.ForwardedFor
		if idx := strings.IndexByte(first, ','); idx >= 0 {
			first = first[:idx]
		}
		if ip := strings.TrimSpace(first); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(req.RemoteAddr); err == nil {
		return host
	}
	return req.RemoteAddr
}

// Match returns the first rule matching the request, or nil.
func (e *Engine) Match(requestPath, method string) *Rule {
	for _, rule := range e.rules {
		if rule.Matches(requestPath, method) {
			return rule
		}
	}
	return nil
}

// Evaluate is the single decision entry point: match a rule, derive the
// throttle key, consume quota, and record the decision. An unmatched request
// returns an unthrottled verdict. An unexpected limiter error fails open and
// is reported as allowed.
func (e *Engine) Evaluate(ctx context.Context, req *Request) *Verdict {
	rule := e.Match(req.Path, req.Method)
	if rule == nil {
		return &Verdict{Matched: false}
	}

	start := e.now()
	clientKey := e.keyFunc(req)
	throttleKey := rule.ID + ":" + clientKey

	limiter := e.limiters[rule.ID]
	result, err := limiter.Consume(ctx, throttleKey)
	if err != nil {
		// Both backends failed. Fail open: protecting availability beats
		// enforcing quota.
		e.logger.Error(ctx, "quota evaluation failed, allowing request", err,
			logger.String("rule", rule.ID),
			logger.String("key", throttleKey),
		)
		result = &ratelimit.Result{
			Allowed:   true,
			Limit:     rule.Config.MaxRequests,
			Remaining: rule.Config.MaxRequests,
		}
	}

	e.usage.Record(rule.ID, clientKey, result.Allowed, start)
	if e.metrics != nil {
		e.metrics.RecordDecision(rule.ID, result.Allowed, e.now().Sub(start))
	}

	if !result.Allowed {
		e.recorder.RecordDenial(ctx, audit.DenialEvent{
			RuleID:      rule.ID,
			ThrottleKey: throttleKey,
			Limit:       result.Limit,
			RetryAfter:  result.RetryAfter,
			ClientIP:    ClientIP(req),
			Path:        req.Path,
			Method:      req.Method,
			DeniedAt:    start,
		})
	}

	return &Verdict{
		Matched:      true,
		Rule:         rule,
		Key:          throttleKey,
		Result:       result,
		ErrorMessage: rule.ErrorMessage,
	}
}

// ResetKey clears the quota state for one client key under one rule, on both
// backends, and drops its usage entry.
func (e *Engine) ResetKey(ctx context.Context, ruleID, clientKey string) error {
	limiter, ok := e.limiters[ruleID]
	if !ok {
		return errors.ErrNotFound("unknown rule " + ruleID)
	}

	if err := limiter.Reset(ctx, ruleID+":"+clientKey); err != nil {
		return err
	}

	e.usage.Forget(ruleID, clientKey)
	if e.metrics != nil {
		e.metrics.KeysReset.Inc()
	}
	return nil
}

// KeyStatus reports the current quota for one client key under one rule
// without consuming it.
func (e *Engine) KeyStatus(ctx context.Context, ruleID, clientKey string) (*ratelimit.Result, error) {
	limiter, ok := e.limiters[ruleID]
	if !ok {
		return nil, errors.ErrNotFound("unknown rule " + ruleID)
	}
	return limiter.Status(ctx, ruleID+":"+clientKey)
}

// Usage returns a snapshot of per-key decision counts.
func (e *Engine) Usage() []KeyUsage {
	return e.usage.Snapshot()
}

// RuleState pairs a rule with its current backend trust.
type RuleState struct {
	RuleID      string                 `json:"rule_id"`
	Name        string                 `json:"name"`
	Algorithm   ratelimit.Algorithm    `json:"algorithm"`
	Distributed bool                   `json:"distributed"`
	State       ratelimit.BackendState `json:"state"`
}

// States reports the backend state of every rule, in declaration order.
func (e *Engine) States() []RuleState {
	out := make([]RuleState, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, RuleState{
			RuleID:      rule.ID,
			Name:        rule.Name,
			Algorithm:   rule.Config.Algorithm,
			Distributed: rule.Distributed,
			State:       e.limiters[rule.ID].State(),
		})
	}
	return out
}

// Degraded reports whether any distributed rule is currently serving from its
// local store.
func (e *Engine) Degraded() bool {
	for _, rule := range e.rules {
		if rule.Distributed && e.limiters[rule.ID].State() == ratelimit.StateDegraded {
			return true
		}
	}
	return false
}

// Close stops all limiter probes.
func (e *Engine) Close() {
	for _, limiter := range e.limiters {
		_ = limiter.Close()
	}
}

// toLimiterConfig maps the config-file rule shape onto the limiter config.
func toLimiterConfig(rc config.RuleConfig) ratelimit.Config {
	return ratelimit.Config{
		Algorithm:   ratelimit.Algorithm(rc.Algorithm),
		Window:      time.Duration(rc.WindowSeconds) * time.Second,
		MaxRequests: rc.MaxRequests,
		Rate:        rc.Rate,
		Burst:       rc.BurstCapacity,
	}
}
