package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/treatment-billing/internal/app"
	"github.com/odyssey-erp/treatment-billing/internal/billing/payments"
	"github.com/odyssey-erp/treatment-billing/internal/observability"
	"github.com/odyssey-erp/treatment-billing/internal/orderservice"
	"github.com/odyssey-erp/treatment-billing/internal/platform/cache"
	"github.com/odyssey-erp/treatment-billing/internal/platform/db"
	"github.com/odyssey-erp/treatment-billing/internal/shared"
	"github.com/odyssey-erp/treatment-billing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := app.SignalContext(context.Background())
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	ledgerCache := cache.NewCache(redisClient, jobs.LedgerNamespace, cfg.CouponCacheTTL)
	idempotency := shared.NewIdempotencyStore(pool)
	reconciler := payments.NewReconciler(payments.Deps{
		Orders:  orderservice.NewClient(cfg.OrderServiceURL, cfg.OrderServiceTimeout),
		Store:   payments.NewRepository(pool),
		Locker:  shared.NewRedisLocker(redisClient),
		Metrics: metrics,
		Logger:  logger,
		Config: payments.Config{
			Currency:   cfg.BillingCurrency,
			GatewayKey: cfg.GatewayKeyID,
			LockTTL:    cfg.PaymentLockTTL,
		},
	})

	sweepTask, err := jobs.NewAttemptSweepTask(cfg.PaymentAbandonAfter, 200)
	if err != nil {
		logger.Error("build sweep task", slog.Any("error", err))
		os.Exit(1)
	}
	cleanupTask, err := jobs.NewIdempotencyCleanupTask(7 * 24 * time.Hour)
	if err != nil {
		logger.Error("build cleanup task", slog.Any("error", err))
		os.Exit(1)
	}

	redisOpt, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("parse redis address", slog.Any("error", err))
		os.Exit(1)
	}
	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: redisOpt,
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskLedgerRefresh, Handler: jobs.LedgerRefreshHandler(ledgerCache, logger, metrics)},
			{Type: jobs.TaskAttemptSweep, Handler: jobs.AttemptSweepHandler(reconciler, cfg.PaymentAbandonAfter, logger, metrics)},
			{Type: jobs.TaskIdempotencyCleanup, Handler: jobs.IdempotencyCleanupHandler(idempotency, logger, metrics)},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/5 * * * *", Task: sweepTask, Options: []asynq.Option{asynq.MaxRetry(1), asynq.Unique(4 * time.Minute)}},
			{Spec: "30 2 * * *", Task: cleanupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
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
