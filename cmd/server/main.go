package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/procflow/orchestrator/internal/analyzer"
	"github.com/procflow/orchestrator/internal/authn"
	"github.com/procflow/orchestrator/internal/catalog"
	"github.com/procflow/orchestrator/internal/engine"
	"github.com/procflow/orchestrator/internal/executor"
	"github.com/procflow/orchestrator/internal/ratelimit"
	"github.com/procflow/orchestrator/internal/scheduler"
	"github.com/procflow/orchestrator/internal/scheduler/redbeat"
	"github.com/procflow/orchestrator/internal/server"
	"github.com/procflow/orchestrator/internal/stream"
	wfstore "github.com/procflow/orchestrator/internal/workflow/store"
)

func main() {
	var (
		port        = flag.Int("port", getEnvInt("PORT", 8080), "HTTP server port")
		databaseURL = flag.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection URL; empty runs on in-memory stores")
		beatOff     = flag.Bool("no-beat", false, "Disable the schedule beat loop")
	)
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Redis
	redisURL := os.Getenv("REDIS_URL")
	var redisOpt *redis.Options
	if redisURL != "" {
		var err error
		redisOpt, err = redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("failed to parse REDIS_URL", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		redisOpt = &redis.Options{
			Addr: "localhost:6379",
		}
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	// Initialize stores. Without a database URL everything runs in
	// process memory, which is enough for local development.
	var (
		pool      *pgxpool.Pool
		cat       catalog.Store
		workflows wfstore.Store
		rows      scheduler.RowStore
	)
	if *databaseURL != "" {
		var err error
		pool, err = pgxpool.New(ctx, *databaseURL)
		if err != nil {
			logger.Error("failed to create connection pool", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer pool.Close()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("failed to ping database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		cat = catalog.NewPostgresStore(pool)
		workflows = wfstore.NewPostgresStore(pool)
		rows = scheduler.NewPostgresRowStore(pool)
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory stores")
		cat = catalog.NewMemoryStore()
		workflows = wfstore.NewMemoryStore()
		rows = scheduler.NewMemoryRowStore()
	}
	workflows = wfstore.NewCachedStore(workflows, wfstore.CacheConfig{
		MaxEntries: getEnvInt("DEFINITION_CACHE_SIZE", wfstore.DefaultCacheConfig().MaxEntries),
		TTL:        getEnvDuration("DEFINITION_CACHE_TTL", wfstore.DefaultCacheConfig().TTL),
	})

	entries := redbeat.NewStore(rdb)
	registry := executor.DefaultRegistry(pool, logger)

	eng := engine.New(workflows, cat, registry, logger, engine.Config{
		MaxSteps:    getEnvInt("ENGINE_MAX_STEPS", engine.DefaultConfig().MaxSteps),
		StepTimeout: getEnvDuration("ENGINE_STEP_TIMEOUT", engine.DefaultConfig().StepTimeout),
	})
	sched := scheduler.NewService(rows, entries, cat, registry, logger)
	an := analyzer.New(cat, logger)
	streamer := stream.New(workflows, logger, stream.DefaultConfig())

	// Start the beat loop
	if !*beatOff {
		beat := scheduler.NewBeat(entries, sched, scheduler.BeatConfig{
			ScanInterval:   getEnvDuration("BEAT_SCAN_INTERVAL", scheduler.DefaultBeatConfig().ScanInterval),
			BatchSize:      getEnvInt("BEAT_BATCH_SIZE", scheduler.DefaultBeatConfig().BatchSize),
			ProcessorCount: getEnvInt("BEAT_PROCESSOR_COUNT", scheduler.DefaultBeatConfig().ProcessorCount),
		}, logger)
		if err := beat.Start(ctx); err != nil {
			logger.Error("failed to start beat", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			if err := beat.Stop(stopCtx); err != nil {
				logger.Error("beat shutdown failed", slog.String("error", err.Error()))
			}
		}()
	}

	// Bearer auth is enabled only when a secret is configured.
	var auth *authn.Validator
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		auth = authn.NewValidator(secret, os.Getenv("JWT_ISSUER"))
	} else {
		logger.Warn("JWT_SECRET not set, authentication disabled")
	}

	limits := ratelimit.NewLimiter(ratelimit.Config{
		GlobalRPS:   float64(getEnvInt("RATE_LIMIT_GLOBAL_RPS", int(ratelimit.DefaultConfig().GlobalRPS))),
		GlobalBurst: getEnvInt("RATE_LIMIT_GLOBAL_BURST", ratelimit.DefaultConfig().GlobalBurst),
		CallerRPS:   float64(getEnvInt("RATE_LIMIT_CALLER_RPS", int(ratelimit.DefaultConfig().CallerRPS))),
		CallerBurst: getEnvInt("RATE_LIMIT_CALLER_BURST", ratelimit.DefaultConfig().CallerBurst),
	})

	srv := server.New(eng, sched, an, cat, workflows, streamer, auth, limits, logger)
	mux := http.NewServeMux()
	srv.RegisterRoutes(mux)

	// No WriteTimeout: execution streams stay open up to the streamer's
	// MaxDuration.
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		logger.Info("received signal, shutting down", slog.String("signal", sig.String()))
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", slog.String("error", err.Error()))
		}
	}()

	logger.Info("starting HTTP server", slog.Int("port", *port))
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("http server failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("orchestrator stopped")
}

func getEnvInt(key string, fallback int) int {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists || value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
