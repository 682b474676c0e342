package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quotaflow/quotaflow/internal/policy"
	"github.com/quotaflow/quotaflow/pkg/errors"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// AdminHandler exposes the rate-limit admin surface: usage stats, per-rule
// backend state, key status, and manual key resets.
type AdminHandler struct {
	engine *policy.Engine
	log    logger.Logger
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(engine *policy.Engine, log logger.Logger) *AdminHandler {
	return &AdminHandler{engine: engine, log: log}
}

// GetUsage returns the in-process usage snapshot for all throttle keys.
func (h *AdminHandler) GetUsage(c *gin.Context) {
	usage := h.engine.Usage()
	c.JSON(http.StatusOK, gin.H{
		"count": len(usage),
		"usage": usage,
	})
}

// GetRules returns every rule with its current backend state.
func (h *AdminHandler) GetRules(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rules": h.engine.States()})
}

// GetKeyStatus reports the current quota for one client key under one rule
// without consuming it.
func (h *AdminHandler) GetKeyStatus(c *gin.Context) {
	ruleID := c.Param("rule")
	clientKey := clientKeyParam(c)

	result, err := h.engine.KeyStatus(c.Request.Context(), ruleID, clientKey)
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"rule":   ruleID,
		"key":    clientKey,
		"status": result,
	})
}

// ResetKey clears the quota state for one client key under one rule.
func (h *AdminHandler) ResetKey(c *gin.Context) {
	ruleID := c.Param("rule")
	clientKey := clientKeyParam(c)

	if err := h.engine.ResetKey(c.Request.Context(), ruleID, clientKey); err != nil {
		h.writeError(c, err)
		return
	}

	h.log.Info(c.Request.Context(), "throttle key reset",
		logger.String("rule", ruleID),
		logger.String("key", clientKey),
	)

	c.JSON(http.StatusOK, gin.H{
		"rule":     ruleID,
		"key":      clientKey,
		"reset_at": time.Now().UTC(),
	})
}

// clientKeyParam reads the wildcard key segment. Client keys contain slashes
// (identity:path), so the route captures them with a catch-all parameter that
// arrives with a leading slash.
func clientKeyParam(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("key"), "/")
}

func (h *AdminHandler) writeError(c *gin.Context, err error) {
	if appErr, ok := err.(*errors.AppError); ok {
		c.JSON(appErr.HTTPStatus(), gin.H{
			"error":   string(appErr.Code()),
			"message": appErr.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal",
		"message": err.Error(),
	})
}
