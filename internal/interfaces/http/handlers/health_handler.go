// Package handlers implements the HTTP handler layer: health probes and the
// rate-limit admin surface.
package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotaflow/quotaflow/internal/policy"
	"github.com/quotaflow/quotaflow/internal/ratelimit"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// HealthHandler provides liveness and readiness endpoints.
type HealthHandler struct {
	engine      *policy.Engine
	sharedStore ratelimit.QuotaStore // nil when running purely local
	log         logger.Logger
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(engine *policy.Engine, sharedStore ratelimit.QuotaStore, log logger.Logger) *HealthHandler {
	return &HealthHandler{
		engine:      engine,
		sharedStore: sharedStore,
		log:         log,
	}
}

// LivenessCheck reports process liveness. It never touches dependencies.
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "alive",
		"timestamp": time.Now().UTC(),
	})
}

// ReadinessCheck reports whether the service can enforce its policy. A
// degraded shared store does not fail readiness: the engine keeps serving
// from the local store, and the response says so.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	checks := gin.H{"engine": "ok"}

	if h.sharedStore != nil {
		if err := h.sharedStore.Ping(c.Request.Context()); err != nil {
			checks["redis"] = "unreachable"
		} else {
			checks["redis"] = "ok"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    "ready",
		"degraded":  h.engine.Degraded(),
		"checks":    checks,
		"timestamp": time.Now().UTC(),
	})
}
