package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quotaflow/quotaflow/internal/audit"
	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/policy"
	"github.com/quotaflow/quotaflow/internal/ratelimit"
	"github.com/quotaflow/quotaflow/pkg/constants"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

func newRouterForTest(t *testing.T, cfg config.RateLimitConfig, skip SkipFunc) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	localStore := ratelimit.NewLocalQuotaStore(time.Minute)
	t.Cleanup(func() { _ = localStore.Close() })

	engine, err := policy.NewEngine(cfg, nil, localStore, nil, audit.NewNoopRecorder(), logger.NewNoopLogger())
	require.NoError(t, err)
	t.Cleanup(engine.Close)

	router := gin.New()
	router.Use(RateLimitMiddleware(engine, &cfg, logger.NewNoopLogger(), skip))
	router.GET("/api/users", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.GET("/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return router
}

func throttledConfig(maxRequests int64) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled: true,
		Headers: true,
		Rules: []config.Rule{
			{
				ID:    "api",
				Paths: []string{"/api/*"},
				Config: config.RuleConfig{
					Algorithm:     "fixed_window",
					WindowSeconds: 60,
					MaxRequests:   maxRequests,
				},
			},
		},
	}
}

func doRequest(router *gin.Engine, path, forwardedFor string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.RemoteAddr = "10.0.0.1:1234"
	if forwardedFor != "" {
		req.Header.Set(constants.HeaderForwardedFor, forwardedFor)
	}
	router.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	t.Run("allows under the quota and exposes the rate limit headers", func(t *testing.T) {
		router := newRouterForTest(t, throttledConfig(2), nil)

		w := doRequest(router, "/api/users", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "2", w.Header().Get(constants.HeaderRateLimitLimit))
		assert.Equal(t, "1", w.Header().Get(constants.HeaderRateLimitRemaining))
		assert.NotEmpty(t, w.Header().Get(constants.HeaderRateLimitReset))
	})

	t.Run("denies over the quota with 429 and retry-after", func(t *testing.T) {
		router := newRouterForTest(t, throttledConfig(1), nil)

		w := doRequest(router, "/api/users", "")
		require.Equal(t, http.StatusOK, w.Code)

		w = doRequest(router, "/api/users", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.NotEmpty(t, w.Header().Get(constants.HeaderRetryAfter))
		assert.Equal(t, "0", w.Header().Get(constants.HeaderRateLimitRemaining))
		assert.Contains(t, w.Body.String(), "rate_limited")
	})

	t.Run("quota is scoped per forwarded client", func(t *testing.T) {
		router := newRouterForTest(t, throttledConfig(1), nil)

		w := doRequest(router, "/api/users", "203.0.113.7")
		require.Equal(t, http.StatusOK, w.Code)

		w = doRequest(router, "/api/users", "203.0.113.7")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)

		// A different forwarded client is unaffected.
		w = doRequest(router, "/api/users", "198.51.100.2")
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("unmatched paths carry no rate limit headers", func(t *testing.T) {
		router := newRouterForTest(t, throttledConfig(1), nil)

		w := doRequest(router, "/health", "")
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Empty(t, w.Header().Get(constants.HeaderRateLimitLimit))
	})

	t.Run("disabled middleware passes everything through", func(t *testing.T) {
		cfg := throttledConfig(1)
		cfg.Enabled = false
		router := newRouterForTest(t, cfg, nil)

		for i := 0; i < 5; i++ {
			w := doRequest(router, "/api/users", "")
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("the skip predicate bypasses throttling", func(t *testing.T) {
		router := newRouterForTest(t, throttledConfig(1), func(c *gin.Context) bool {
			return c.Request.URL.Path == "/api/users"
		})

		for i := 0; i < 5; i++ {
			w := doRequest(router, "/api/users", "")
			assert.Equal(t, http.StatusOK, w.Code)
		}
	})

	t.Run("a custom status code and message are honored", func(t *testing.T) {
		cfg := throttledConfig(1)
		cfg.StatusCode = http.StatusServiceUnavailable
		cfg.Message = "slow down"
		router := newRouterForTest(t, cfg, nil)

		doRequest(router, "/api/users", "")
		w := doRequest(router, "/api/users", "")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "slow down")
	})

	t.Run("a rule error message overrides the default", func(t *testing.T) {
		cfg := throttledConfig(1)
		cfg.Rules[0].ErrorMessage = "api quota exhausted"
		router := newRouterForTest(t, cfg, nil)

		doRequest(router, "/api/users", "")
		w := doRequest(router, "/api/users", "")
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Contains(t, w.Body.String(), "api quota exhausted")
	})
}
