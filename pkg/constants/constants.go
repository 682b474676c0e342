// Package constants defines system-wide constants for the QuotaFlow rate-limiting service.
// This package provides type-safe constant definitions used across all modules.
package constants

import "time"

// ================================================================================
// Rate Limit Header Constants
// ================================================================================

const (
	// HeaderRateLimitLimit carries the quota of the matched rule.
	HeaderRateLimitLimit = "X-RateLimit-Limit"

	// HeaderRateLimitRemaining carries the remaining quota in the current window.
	HeaderRateLimitRemaining = "X-RateLimit-Remaining"

	// HeaderRateLimitReset carries the epoch seconds at which the window replenishes.
	HeaderRateLimitReset = "X-RateLimit-Reset"

	// HeaderRetryAfter signals how many seconds a denied client should wait.
	HeaderRetryAfter = "Retry-After"

	// HeaderForwardedFor is consulted for the client identity behind proxies.
	HeaderForwardedFor = "X-Forwarded-For"

	// HeaderRequestID propagates the per-request correlation id.
	HeaderRequestID = "X-Request-ID"
)

// ================================================================================
// Throttling Defaults
// ================================================================================

const (
	// DefaultDenialStatusCode is the HTTP status returned for throttled requests.
	DefaultDenialStatusCode = 429

	// DefaultDenialMessage is the response body message for throttled requests.
	DefaultDenialMessage = "too many requests"

	// DefaultProbeInterval is how often a degraded limiter re-probes the shared store.
	DefaultProbeInterval = 30 * time.Second

	// DefaultProbeTimeout bounds a single shared-store health probe.
	DefaultProbeTimeout = 2 * time.Second

	// DefaultSweepInterval is how often the local quota store evicts expired entries.
	DefaultSweepInterval = 60 * time.Second

	// BucketTTLGrace is added to a window TTL so stale bucket state self-cleans
	// shortly after the window it served.
	BucketTTLGrace = 60 * time.Second

	// GlobalRuleID identifies the synthetic rule used when no configured rule
	// matches a request but a global default config exists.
	GlobalRuleID = "__global__"
)

// ================================================================================
// Context Keys
// ================================================================================

// ContextKey is the type used for context value keys to avoid collisions.
type ContextKey string

const (
	// ContextKeyRequestID carries the request correlation id.
	ContextKeyRequestID ContextKey = "request_id"

	// ContextKeyTraceID carries the distributed tracing id.
	ContextKeyTraceID ContextKey = "trace_id"

	// ContextKeyClientIP carries the resolved client identity.
	ContextKeyClientIP ContextKey = "client_ip"
)

// ================================================================================
// Error Codes
// ================================================================================

// ErrorCode identifies a structured application error category.
type ErrorCode string

const (
	// ErrorCodeInvalidConfig indicates malformed or out-of-range configuration.
	ErrorCodeInvalidConfig ErrorCode = "invalid_config"

	// ErrorCodeInvalidRequest indicates a malformed caller request.
	ErrorCodeInvalidRequest ErrorCode = "invalid_request"

	// ErrorCodeStoreUnavailable indicates a quota store operational failure.
	ErrorCodeStoreUnavailable ErrorCode = "store_unavailable"

	// ErrorCodeRateLimited indicates a request was denied by a rate limit.
	ErrorCodeRateLimited ErrorCode = "rate_limit_exceeded"

	// ErrorCodeNotFound indicates a missing rule or key.
	ErrorCodeNotFound ErrorCode = "not_found"

	// ErrorCodeInternal indicates an unexpected internal failure.
	ErrorCodeInternal ErrorCode = "internal_error"
)
