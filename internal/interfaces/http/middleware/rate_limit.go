// Package middleware holds the Gin middleware chain: rate limiting and
// request observability.
package middleware

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/policy"
	"github.com/quotaflow/quotaflow/pkg/constants"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// SkipFunc reports whether rate limiting should be bypassed for a request,
// for example on health or metrics paths.
type SkipFunc func(c *gin.Context) bool

// RateLimitMiddleware enforces the policy engine's verdict on every request.
// A denial aborts the chain with the configured status code; an allowed
// request proceeds with the X-RateLimit headers attached when enabled.
func RateLimitMiddleware(engine *policy.Engine, cfg *config.RateLimitConfig, log logger.Logger, skip SkipFunc) gin.HandlerFunc {
	statusCode := cfg.StatusCode
	if statusCode == 0 {
		statusCode = constants.DefaultDenialStatusCode
	}
	defaultMessage := cfg.Message
	if defaultMessage == "" {
		defaultMessage = constants.DefaultDenialMessage
	}

	return func(c *gin.Context) {
		if !cfg.Enabled || (skip != nil && skip(c)) {
			c.Next()
			return
		}

		verdict := engine.Evaluate(c.Request.Context(), &policy.Request{
			Path:         c.Request.URL.Path,
			Method:       c.Request.Method,
			RemoteAddr:   c.Request.RemoteAddr,
			ForwardedFor: c.GetHeader(constants.HeaderForwardedFor),
		})

		if !verdict.Matched {
			c.Next()
			return
		}

		result := verdict.Result
		if cfg.Headers {
			c.Header(constants.HeaderRateLimitLimit, strconv.FormatInt(result.Limit, 10))
			c.Header(constants.HeaderRateLimitRemaining, strconv.FormatInt(result.Remaining, 10))
			c.Header(constants.HeaderRateLimitReset, strconv.FormatInt(result.ResetAt, 10))
		}

		if result.Allowed {
			c.Next()
			return
		}

		retryAfterSec := (result.RetryAfter + 999) / 1000
		if retryAfterSec < 1 {
			retryAfterSec = 1
		}
		c.Header(constants.HeaderRetryAfter, strconv.FormatInt(retryAfterSec, 10))

		message := verdict.ErrorMessage
		if message == "" {
			message = defaultMessage
		}

		log.Warn(c.Request.Context(), "rate limit exceeded",
			logger.String("rule", verdict.Rule.ID),
			logger.String("key", verdict.Key),
			logger.Int64("limit", result.Limit),
		)

		c.AbortWithStatusJSON(statusCode, gin.H{
			"error":       "rate_limited",
			"message":     message,
			"retry_after": retryAfterSec,
		})
	}
}
