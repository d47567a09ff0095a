// Package main is the entry point for the Harmony gamification API server.
//
// The architecture follows Clean Architecture and DDD:
// - Domain: pure business logic without external dependencies
// - Application: use case orchestration (Commands/Queries/Sync)
// - Infrastructure: repository implementations, messaging, caching
// - Interface: HTTP endpoints for the mobile clients
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	goredis "github.com/redis/go-redis/v9"

	"github.com/harmony-app/gamification-core/config"
	"github.com/harmony-app/gamification-core/internal/application/command"
	"github.com/harmony-app/gamification-core/internal/application/query"
	"github.com/harmony-app/gamification-core/internal/domain/multiplier"
	"github.com/harmony-app/gamification-core/internal/infrastructure/messaging"
	"github.com/harmony-app/gamification-core/internal/infrastructure/persistence/postgres"
	redisrepo "github.com/harmony-app/gamification-core/internal/infrastructure/persistence/redis"
	httpserver "github.com/harmony-app/gamification-core/internal/interface/http"
	"github.com/harmony-app/gamification-core/pkg/logger"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log := setupLogger(cfg)
	log.Info("starting gamification server",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"debug", cfg.App.Debug,
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 3. DATABASE (PostgreSQL)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("connecting to database...")
	dbConn, err := postgres.NewConnectionFromURL(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		log.Info("closing database connection...")
		dbConn.Close()
	}()

	if err := dbConn.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	log.Info("database connection established")

	// ─────────────────────────────────────────────────────────────────────────
	// 4. MIGRATIONS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("running database migrations...")
	migrator := postgres.NewMigrator(dbConn)
	if err := migrator.Migrate(ctx); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	status, err := migrator.Status(ctx)
	if err != nil {
		log.Warn("failed to get migration status", "error", err)
	} else {
		appliedCount := 0
		for _, m := range status {
			if m.IsApplied {
				appliedCount++
			}
		}
		log.Info("migrations completed", "applied", appliedCount, "total", len(status))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. REDIS (optional, stats cache)
	// ─────────────────────────────────────────────────────────────────────────
	var (
		redisClient *goredis.Client
		statsCache  query.StatsCache
	)
	if !cfg.Redis.Disabled {
		log.Info("connecting to Redis...")
		redisClient = newRedisClient(cfg)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn("failed to connect to Redis, stats caching disabled", "error", err)
			_ = redisClient.Close()
			redisClient = nil
		} else {
			defer redisClient.Close()
			statsCache = redisrepo.NewStatsCache(redisClient, cfg.Gamification.StatsCacheTTL)
			log.Info("Redis connection established")
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing event bus...")
	eventBusConfig := messaging.DefaultInMemoryEventBusConfig()
	eventBusConfig.Logger = log
	eventBus := messaging.NewInMemoryEventBus(eventBusConfig)
	defer func() {
		log.Info("closing event bus...")
		_ = eventBus.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 7. DOMAIN SERVICES & REPOSITORIES
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing repositories...")
	ledgerRepo := postgres.NewLedgerRepository(dbConn)

	multipliers := multiplier.NewService(
		multiplier.WithFactor(cfg.Gamification.MultiplierFactor),
		multiplier.WithDuration(cfg.Gamification.MultiplierDuration),
		multiplier.WithMinStreak(cfg.Gamification.MinStreakLength),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. APPLICATION LAYER (Commands, Queries)
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing application layer...")
	awardHandler := command.NewAwardXPHandler(ledgerRepo, multipliers, eventBus)
	multiplierHandler := command.NewActivateMultiplierHandler(multipliers, eventBus)
	resetHandler := command.NewResetProgressHandler(ledgerRepo, multipliers)
	statsHandler := query.NewGetStatsHandler(ledgerRepo, multipliers, statsCache)
	transactionsHandler := query.NewListTransactionsHandler(ledgerRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("initializing HTTP server...")

	httpConfig := httpserver.DefaultConfig()
	httpConfig.Host = cfg.HTTP.Host
	httpConfig.Port = cfg.HTTP.Port
	httpConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	httpConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	httpConfig.IdleTimeout = cfg.HTTP.IdleTimeout

	httpDeps := httpserver.Dependencies{
		AwardHandler:        awardHandler,
		MultiplierHandler:   multiplierHandler,
		ResetHandler:        resetHandler,
		StatsHandler:        statsHandler,
		TransactionsHandler: transactionsHandler,
		Multipliers:         multipliers,
		StatsCache:          statsCache,
		Logger:              logger.Default(),
		HealthChecker:       &storeHealthChecker{db: dbConn, redis: redisClient},
	}

	server := httpserver.NewServer(httpConfig, httpDeps)

	// ─────────────────────────────────────────────────────────────────────────
	// 10. START & GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "address", server.Address())
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server error: %w", err)
		}
	}()

	log.Info("gamification server is running", "http_address", server.Address())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		log.Error("service error", "error", err)
		return err
	}

	log.Info("starting graceful shutdown...", "timeout", cfg.App.ShutdownTimeout.String())

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("failed to stop HTTP server gracefully", "error", err)
		return err
	}

	log.Info("shutdown completed successfully")
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// setupLogger configures structured logging.
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.App.Debug {
		opts.Level = slog.LevelDebug
	}

	if cfg.Observability.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	log := slog.New(handler)
	slog.SetDefault(log)

	return log
}

// newRedisClient builds a client from the URL when set, falling back to the
// individual settings.
func newRedisClient(cfg *config.Config) *goredis.Client {
	if cfg.Redis.URL != "" {
		if opts, err := goredis.ParseURL(cfg.Redis.URL); err == nil {
			return goredis.NewClient(opts)
		}
	}
	return goredis.NewClient(&goredis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// ADAPTERS
// ══════════════════════════════════════════════════════════════════════════════

// storeHealthChecker probes the backing stores for the health endpoints.
type storeHealthChecker struct {
	db    *postgres.Connection
	redis *goredis.Client
}

// Check implements httpserver.HealthChecker.
func (c *storeHealthChecker) Check(ctx context.Context) httpserver.HealthStatus {
	status := httpserver.HealthStatus{
		Healthy:    true,
		Components: make(map[string]string),
	}

	dbHealth, err := c.db.Health(ctx)
	switch {
	case err != nil:
		status.Healthy = false
		status.Message = err.Error()
		status.Components["postgres"] = "down"
	case !dbHealth.Healthy:
		status.Healthy = false
		status.Message = dbHealth.Error
		status.Components["postgres"] = "down"
	default:
		status.Components["postgres"] = fmt.Sprintf("up (ping %s)", dbHealth.PingLatency)
	}

	// Redis is optional; a down cache degrades reads but never fails them.
	if c.redis != nil {
		if err := c.redis.Ping(ctx).Err(); err != nil {
			status.Components["redis"] = "down"
		} else {
			status.Components["redis"] = "up"
		}
	}

	return status
}
