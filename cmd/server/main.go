package main

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/novadex/swap-engine/internal/adapters/dex"
	"github.com/novadex/swap-engine/internal/config"
	"github.com/novadex/swap-engine/internal/domain/ratelimit"
	"github.com/novadex/swap-engine/internal/domain/venue"
	"github.com/novadex/swap-engine/internal/eventbus"
	"github.com/novadex/swap-engine/internal/handlers"
	"github.com/novadex/swap-engine/internal/hub"
	"github.com/novadex/swap-engine/internal/infrastructure/postgres"
	"github.com/novadex/swap-engine/internal/infrastructure/redis"
	"github.com/novadex/swap-engine/internal/logging"
	"github.com/novadex/swap-engine/internal/metrics"
	"github.com/novadex/swap-engine/internal/server"
	"github.com/novadex/swap-engine/internal/services"
	"github.com/novadex/swap-engine/internal/worker"
)

// auditRetention is how long the trail of a settled order is kept
// before the hourly sweep prunes it. Live orders are never pruned.
const auditRetention = 30 * 24 * time.Hour

func main() {
	// Load configuration first; logging options come from it.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger, err := logging.New(logging.Options{
		Level:       cfg.LogLevel,
		Environment: cfg.Environment,
		FilePath:    cfg.LogFile,
	})
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("Starting swap execution engine",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
	)

	ctx := context.Background()

	// Connect to Postgres: durable orders and the audit trail.
	dbPool, err := pgxpool.New(ctx, cfg.Database.URL())
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer dbPool.Close()

	if err := dbPool.Ping(ctx); err != nil {
		logger.Fatal("Failed to ping database", zap.Error(err))
	}

	if err := postgres.Migrate(ctx, dbPool); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	logger.Info("Connected to database")

	// Connect to Redis: execution job queue and API rate limiter.
	redisClient := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
	})
	defer func() {
		_ = redisClient.Close()
	}()

	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("Failed to ping redis", zap.Error(err))
	}
	logger.Info("Connected to redis")

	// Initialize repositories and the queue.
	orderRepo := postgres.NewOrderRepository(dbPool)
	auditRepo := postgres.NewAuditLogRepository(dbPool)

	queue := redis.NewQueue(redisClient, redis.QueueConfig{
		Prefix:          cfg.Queue.Prefix,
		DefaultAttempts: cfg.Queue.MaxAttempts,
		StallTimeout:    cfg.Queue.StallTimeout,
	}, logger)

	// Cross-cutting plumbing: lifecycle events, push notifications,
	// prometheus collectors.
	bus := eventbus.New(logger)
	notifier := hub.New(logger)
	m := metrics.New()

	auditService := services.NewAuditService(auditRepo, logger)
	auditService.Subscribe(bus)

	// Initialize services. The mock venues stand in for Solana DEX
	// integrations until real adapters land.
	venues := []venue.Adapter{dex.NewJupiter(), dex.NewMeteora()}
	aggregator := services.NewAggregatorService(venues, cfg.Execution.QuoteTimeout, m, logger)
	executor := services.NewExecutionService(orderRepo, aggregator, notifier, bus, cfg.Execution, cfg.WalletAddress, m, logger)
	orderService := services.NewOrderService(orderRepo, queue, auditRepo, bus, notifier, m, logger)

	// Start the execution pipeline consumers.
	pool := worker.New(queue, executor, worker.Config{
		Concurrency:   cfg.Queue.Concurrency,
		RatePerSecond: cfg.Queue.RatePerSecond,
		ShutdownGrace: cfg.Queue.ShutdownGrace,
	}, m, logger)
	pool.Start(ctx)

	housekeeping := startHousekeeping(queue, auditRepo, m, logger)

	// Initialize handlers and the HTTP server.
	limiter := redis.NewRateLimiter(redisClient)

	redisPinger := handlers.PingerFunc(func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	})

	srv := server.New(cfg, &server.Services{
		OrderHandler:  handlers.NewOrderHandler(orderService, logger),
		SystemHandler: handlers.NewSystemHandler(cfg, handlers.PingerFunc(dbPool.Ping), redisPinger, aggregator, orderService, logger),
		WSHandler:     handlers.NewWSHandler(orderService, notifier, m, cfg.CORS.AllowedOrigins, logger),
		Limiter:       limiter,
		RateLimits:    ratelimit.DefaultConfig(),
		Metrics:       m,
	}, logger)
	srv.Setup()

	// Start blocks until SIGINT/SIGTERM and drains HTTP first. The
	// pipeline below keeps settling leased jobs while the API closes.
	if err := srv.Start(); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	pool.Stop(context.Background())

	stopCtx := housekeeping.Stop()
	<-stopCtx.Done()

	if err := queue.Close(); err != nil {
		logger.Error("Failed to close queue", zap.Error(err))
	}

	logger.Info("Shutdown complete")
}

// startHousekeeping schedules the recurring maintenance work: retention
// sweeps hourly, queue depth gauges every minute.
func startHousekeeping(queue *redis.Queue, auditRepo *postgres.AuditLogRepository, m *metrics.Metrics, logger *zap.Logger) *cron.Cron {
	c := cron.New()

	mustSchedule(c, "@every 1h", func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		swept, err := queue.Sweep(ctx)
		if err != nil {
			logger.Error("Queue retention sweep failed", zap.Error(err))
		} else if swept > 0 {
			logger.Info("Queue retention sweep", zap.Int("removed", swept))
		}

		pruned, err := auditRepo.DeleteOlderThan(ctx, time.Now().Add(-auditRetention))
		if err != nil {
			logger.Error("Audit trail prune failed", zap.Error(err))
		} else if pruned > 0 {
			logger.Info("Audit trail pruned", zap.Int64("removed", pruned))
		}
	}, logger)

	mustSchedule(c, "@every 1m", func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		counts, err := queue.Counts(ctx)
		if err != nil {
			logger.Warn("Queue depth export failed", zap.Error(err))
			return
		}
		m.QueueDepth.WithLabelValues("ready").Set(float64(counts.Ready))
		m.QueueDepth.WithLabelValues("delayed").Set(float64(counts.Delayed))
		m.QueueDepth.WithLabelValues("active").Set(float64(counts.Active))
		m.QueueDepth.WithLabelValues("completed").Set(float64(counts.Completed))
		m.QueueDepth.WithLabelValues("failed").Set(float64(counts.Failed))
		m.QueueDepth.WithLabelValues("dead").Set(float64(counts.Dead))
	}, logger)

	c.Start()
	return c
}

func mustSchedule(c *cron.Cron, spec string, fn func(), logger *zap.Logger) {
	if _, err := c.AddFunc(spec, fn); err != nil {
		logger.Fatal("Failed to schedule housekeeping job",
			zap.String("spec", spec),
			zap.Error(err),
		)
	}
}
