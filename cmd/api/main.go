package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eval-dashboard/backend/internal/api"
	"github.com/eval-dashboard/backend/internal/cache/redis"
	"github.com/eval-dashboard/backend/internal/evaluation"
	"github.com/eval-dashboard/backend/internal/labels"
	"github.com/eval-dashboard/backend/internal/metrics"
	"github.com/eval-dashboard/backend/internal/middleware/ratelimit"
	"github.com/eval-dashboard/backend/internal/storage/sqlite"
	"github.com/eval-dashboard/backend/pkg/circuitbreaker"
	"github.com/eval-dashboard/backend/pkg/config"
	appLogger "github.com/eval-dashboard/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting evaluation dashboard API server")

	metrics.Init()

	manager := sqlite.NewManager(sqlite.Options{
		MaxAttempts: cfg.SQLite.MaxAttempts,
		RetryDelay:  cfg.SQLite.RetryDelay(),
	})
	db, err := manager.Initialize(context.Background(), cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to connect to store", zap.Error(err))
	}
	defer manager.Close()

	labelRepo := labels.NewRepository(db)
	repo := evaluation.NewRepository(db,
		evaluation.WithStatsTTL(cfg.Stats.CacheTTL()),
		evaluation.WithLabelSeeder(labelRepo),
	)

	var limiter ratelimit.Store
	if cfg.RateLimit.Enabled {
		limiter, err = newRateLimitStore(cfg)
		if err != nil {
			appLogger.Fatal("Failed to create rate limit store", zap.Error(err))
		}
		if s, ok := limiter.(*ratelimit.MemoryStore); ok {
			defer s.Stop()
		}
	}

	app := api.NewServer(api.Deps{
		Config:      cfg,
		Evaluations: repo,
		Labels:      labelRepo,
		Status:      manager,
		RateLimit:   limiter,
	})

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func newRateLimitStore(cfg *config.Config) (ratelimit.Store, error) {
	if cfg.RateLimit.Backend != "redis" {
		return ratelimit.NewMemoryStore(ratelimit.MemoryConfig{
			MaxRequests: cfg.RateLimit.MaxRequests,
			Window:      cfg.RateLimit.Window(),
		}), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	addr := net.JoinHostPort(cfg.Redis.Host, strconv.Itoa(cfg.Redis.Port))
	client, err := redis.NewClient(ctx, addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, err
	}

	breaker := circuitbreaker.New("redis-ratelimit", circuitbreaker.Config{
		FailureThreshold: 5,
		Timeout:          30 * time.Second,
		Logger:           appLogger.Named("circuitbreaker"),
	})

	return ratelimit.NewRedisStore(client, ratelimit.RedisConfig{
		MaxRequests: cfg.RateLimit.MaxRequests,
		Window:      cfg.RateLimit.Window(),
		Breaker:     breaker,
	}), nil
}
