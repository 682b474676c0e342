package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/quotaflow/quotaflow/internal/audit"
	"github.com/quotaflow/quotaflow/internal/config"
	"github.com/quotaflow/quotaflow/internal/interfaces/http/handlers"
	httprouter "github.com/quotaflow/quotaflow/internal/interfaces/http/router"
	"github.com/quotaflow/quotaflow/internal/monitoring"
	"github.com/quotaflow/quotaflow/internal/policy"
	"github.com/quotaflow/quotaflow/internal/ratelimit"
	"github.com/quotaflow/quotaflow/pkg/constants"
	"github.com/quotaflow/quotaflow/pkg/logger"
)

func main() {
	configPath := flag.String("config", "", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	appLogger, err := monitoring.NewZapLogger(&cfg.Log)
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	ctx := context.Background()

	cleanup, err := monitoring.InitTracer(&cfg.Tracing, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to initialize tracer", err)
	}
	defer cleanup()

	metrics := monitoring.NewMetrics()

	// Shared store: only dialed when some rule is distributed. A startup
	// connection failure is not fatal; the engine runs local-only until the
	// probe restores the backend.
	var sharedStore ratelimit.QuotaStore
	if anyDistributed(cfg) {
		client, err := ratelimit.NewRedisClient(ctx, redisOptions(cfg), appLogger)
		if err != nil {
			appLogger.Warn(ctx, "shared store unavailable at startup, serving from local store",
				logger.String("error", err.Error()),
			)
		} else {
			sharedStore, err = ratelimit.NewRedisQuotaStore(client, cfg.RateLimit.KeyPrefix, appLogger)
			if err != nil {
				appLogger.Fatal(ctx, "failed to initialize shared quota store", err)
			}
			defer sharedStore.Close()
		}
	}

	sweepInterval := time.Duration(cfg.RateLimit.SweepInterval) * time.Second
	if sweepInterval <= 0 {
		sweepInterval = constants.DefaultSweepInterval
	}
	localStore := ratelimit.NewLocalQuotaStore(sweepInterval)
	defer localStore.Close()

	recorder := audit.Recorder(audit.NewNoopRecorder())
	if cfg.Audit.Enabled {
		producer := audit.NewKafkaProducer(cfg.Audit, appLogger)
		defer producer.Close()
		recorder = producer
	}

	engine, err := policy.NewEngine(cfg.RateLimit, sharedStore, localStore, metrics, recorder, appLogger)
	if err != nil {
		appLogger.Fatal(ctx, "failed to build policy engine", err)
	}
	defer engine.Close()

	healthHandler := handlers.NewHealthHandler(engine, sharedStore, appLogger)
	adminHandler := handlers.NewAdminHandler(engine, appLogger)

	router := httprouter.NewRouter(cfg, appLogger, engine, metrics, healthHandler, adminHandler)
	if err := router.Start(); err != nil {
		appLogger.Fatal(ctx, "HTTP server failed", err)
	}
}

// anyDistributed reports whether any rule (or the default) wants the shared
// store.
func anyDistributed(cfg *config.Config) bool {
	for _, rule := range cfg.RateLimit.Rules {
		if rule.Config.Distributed {
			return true
		}
	}
	return cfg.RateLimit.Default != nil && cfg.RateLimit.Default.Distributed
}

func redisOptions(cfg *config.Config) ratelimit.RedisOptions {
	return ratelimit.RedisOptions{
		Mode:           ratelimit.ConnectionMode(cfg.Redis.Mode),
		Addrs:          cfg.Redis.Addrs,
		Password:       cfg.Redis.Password,
		DB:             cfg.Redis.DB,
		SentinelMaster: cfg.Redis.SentinelMaster,
		PoolSize:       cfg.Redis.PoolSize,
		MinIdleConns:   cfg.Redis.MinIdleConns,
		DialTimeout:    time.Duration(cfg.Redis.DialTimeout) * time.Second,
		ReadTimeout:    time.Duration(cfg.Redis.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(cfg.Redis.WriteTimeout) * time.Second,
	}
}
