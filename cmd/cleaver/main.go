package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"

	"github.com/cleaver-pos/cleaver/internal/app"
	"github.com/cleaver-pos/cleaver/internal/inventory"
	"github.com/cleaver-pos/cleaver/internal/ledger"
	"github.com/cleaver-pos/cleaver/internal/observability"
	"github.com/cleaver-pos/cleaver/internal/platform/db"
	"github.com/cleaver-pos/cleaver/internal/platform/events"
	"github.com/cleaver-pos/cleaver/internal/shared"
	"github.com/cleaver-pos/cleaver/internal/treasury"
	"github.com/cleaver-pos/cleaver/jobs"
)

type publisher interface {
	Publish(ctx context.Context, key, eventType string, payload any) error
	Close() error
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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
	metrics := observability.NewMetrics()
	ledgerMetrics := ledger.NewMetrics(metrics.Registerer())
	retry := cfg.RetryPolicy(ledgerMetrics.ObserveRetry)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	var bus publisher = events.Discard{}
	if cfg.KafkaEnabled() {
		bus = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic, logger)
		logger.Info("publishing domain events", slog.String("topic", cfg.KafkaTopic))
	}
	defer func() {
		if err := bus.Close(); err != nil {
			logger.Warn("event publisher close", slog.Any("error", err))
		}
	}()

	auditLogger := shared.NewAuditLogger(dbpool)
	idempotencyStore := shared.NewIdempotencyStore(dbpool)

	inventoryRepo := inventory.NewRepository(dbpool, retry)
	inventoryService := inventory.NewService(inventoryRepo, auditLogger, idempotencyStore, bus, inventory.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	}, logger)
	inventoryHandler := inventory.NewHandler(logger, inventoryService)

	treasuryRepo := treasury.NewRepository(dbpool)
	treasuryService := treasury.NewService(treasuryRepo, auditLogger, logger)
	treasuryHandler := treasury.NewHandler(logger, treasuryService)

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
	var reconciler ledger.ReconcileEnqueuer
	if cfg.LedgerSelfHeal {
		reconciler = jobClient
	}

	ledgerRepo := ledger.NewRepository(dbpool, retry)
	writer := ledger.NewWriter(ledgerRepo, inventoryService.Policy(), ledgerMetrics, logger)
	reconstructor := ledger.NewReconstructor(ledgerRepo, ledgerMetrics, logger)
	ledgerService := ledger.NewService(writer, reconstructor, auditLogger, bus, logger)
	ledgerHandler := ledger.NewHandler(logger, ledgerService, idempotencyStore, reconciler)

	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		Database:         dbpool,
		InventoryHandler: inventoryHandler,
		TreasuryHandler:  treasuryHandler,
		LedgerHandler:    ledgerHandler,
		JobHandler:       jobHandler,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
