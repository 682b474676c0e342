// Package http assembles the Gin engine: middleware chain, health and metrics
// endpoints, and the admin API.
package http

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"

	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/interfaces/http/handlers"
	"github.com/quotaflow/quotaflow/internal/interfaces/http/middleware"
	"github.com/quotaflow/quotaflow/internal/monitoring"
	"github.com/quotaflow/quotaflow/internal/policy"
	"github.com/quotaflow/quotaflow/pkg/constants"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

// Router owns the Gin engine and the HTTP server lifecycle.
type Router struct {
	engine *gin.Engine
	config *config.Config
	logger logger.Logger

	policyEngine  *policy.Engine
	metrics       *monitoring.Metrics
	healthHandler *handlers.HealthHandler
	adminHandler  *handlers.AdminHandler

	server *http.Server
}

// NewRouter creates the router.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	policyEngine *policy.Engine,
	metrics *monitoring.Metrics,
	healthHandler *handlers.HealthHandler,
	adminHandler *handlers.AdminHandler,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	return &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log.WithComponent("http_router"),
		policyEngine:  policyEngine,
		metrics:       metrics,
		healthHandler: healthHandler,
		adminHandler:  adminHandler,
	}
}

// SetupRoutes wires the middleware chain and all routes.
func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", constants.HeaderRequestID},
		ExposeHeaders: []string{constants.HeaderRequestID, constants.HeaderRateLimitLimit, constants.HeaderRateLimitRemaining, constants.HeaderRateLimitReset, constants.HeaderRetryAfter},
		MaxAge:        12 * time.Hour,
	}
	r.engine.Use(cors.New(corsConfig))

	tracer := otel.Tracer("quotaflow/http")
	r.engine.Use(middleware.ObservabilityMiddleware(tracer, r.metrics))

	// Operational endpoints are never throttled.
	r.engine.Use(middleware.RateLimitMiddleware(r.policyEngine, &r.config.RateLimit, r.logger, func(c *gin.Context) bool {
		p := c.Request.URL.Path
		return p == "/metrics" || strings.HasPrefix(p, "/health") || strings.HasPrefix(p, "/admin")
	}))

	r.engine.GET("/health/live", r.healthHandler.LivenessCheck)
	r.engine.GET("/health/ready", r.healthHandler.ReadinessCheck)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Monitoring.PprofEnabled {
		pprof.Register(r.engine)
	}

	admin := r.engine.Group("/admin/ratelimit")
	{
		admin.GET("/usage", r.adminHandler.GetUsage)
		admin.GET("/rules", r.adminHandler.GetRules)
		// The client key may itself contain slashes (identity:path), so it is
		// captured as a wildcard.
		admin.GET("/status/:rule/*key", r.adminHandler.GetKeyStatus)
		admin.DELETE("/keys/:rule/*key", r.adminHandler.ResetKey)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "the requested resource was not found",
		})
	})
}

// Engine exposes the assembled Gin engine, mainly for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start runs the HTTP server and blocks until shutdown.
func (r *Router) Start() error {
	r.SetupRoutes()

	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	r.server = &http.Server{
		Addr:           addr,
		Handler:        r.engine,
		ReadTimeout:    time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(r.config.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "starting HTTP server", logger.String("address", addr))

	go r.gracefulShutdown()

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// gracefulShutdown drains in-flight requests on SIGINT/SIGTERM.
func (r *Router) gracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	r.logger.Info(context.Background(), "shutting down HTTP server")

	timeout := time.Duration(r.config.Server.ShutdownTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := r.server.Shutdown(ctx); err != nil {
		r.logger.Error(context.Background(), "server forced to shut down", err)
	}

	r.logger.Info(context.Background(), "HTTP server stopped")
}
