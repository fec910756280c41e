package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/cleaver-pos/cleaver/internal/app"
	jobmetrics "github.com/cleaver-pos/cleaver/internal/jobs"
	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/observability"
	"github.com/cleaver-pos/cleaver/internal/platform/cache"
	"github.com/cleaver-pos/cleaver/internal/platform/db"
	"github.com/cleaver-pos/cleaver/internal/platform/events"
	"github.com/cleaver-pos/cleaver/internal/shared"
	"github.com/cleaver-pos/cleaver/jobs"
)

type publisher interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
	Close() error
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Default().Warn("load .env", slog.Any("error", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.Connect(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	var bus publisher = events.Discard{}
	if cfg.KafkaEnabled() {
		bus = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("event publisher close", slog.Any("error", err))
		}
	}()

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr}
	jobClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledgerMetrics := ledger.NewMetrics(metrics.Registerer())
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	if cfg.WorkerMetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.WorkerMetricsAddr, logger); err != nil {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
	}

	ledgerRepo := ledger.NewRepository(pool, cfg.RetryPolicy(ledgerMetrics.ObserveRetry))
	reconstructor := ledger.NewReconstructor(ledgerRepo, ledgerMetrics, logger)
	ledgerService := ledger.NewService(nil, reconstructor, shared.NewAuditLogger(pool), bus, logger)

	reconcileJob := jobs.NewLedgerReconcileJob(ledgerService, shared.NewRedisLocker(redisClient), cfg.HealLockTTL, logger, jobMetrics)
	sweepJob := jobs.NewLedgerSweepJob(ledgerRepo, jobClient, logger, jobMetrics)
	cleanupJob := jobs.NewIdempotencyCleanupJob(shared.NewIdempotencyStore(pool), logger, jobMetrics)

	cleanupTask, err := jobs.NewIdempotencyCleanupTask(cfg.IdempotencyRetention)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Routes: []jobs.Route{
			{Type: jobs.TaskLedgerReconcile, Handler: reconcileJob.Handle},
			{Type: jobs.TaskLedgerSweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskIdempotencyCleanup, Handler: cleanupJob.Handle},
		},
		Schedules: []jobs.Schedule{
			{Cron: cfg.ReconcileCron, Task: jobs.NewLedgerSweepTask()},
			{Cron: "30 4 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
