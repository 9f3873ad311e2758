package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/treatment-billing/internal/app"
	"github.com/odyssey-erp/treatment-billing/internal/billing/coupons"
	billinghttp "github.com/odyssey-erp/treatment-billing/internal/billing/http"
	"github.com/odyssey-erp/treatment-billing/internal/billing/optout"
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
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

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

	redisOpt, err := jobs.RedisOpt(cfg.RedisAddr)
	if err != nil {
		logger.Error("parse redis address", slog.Any("error", err))
		os.Exit(1)
	}
	jobClient, err := jobs.NewClient(redisOpt)
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
	orderClient := orderservice.NewClient(cfg.OrderServiceURL, cfg.OrderServiceTimeout)
	ledgerCache := cache.NewCache(redisClient, jobs.LedgerNamespace, cfg.CouponCacheTTL)
	couponCache := cache.NewCache(redisClient, coupons.CacheNamespace, cfg.CouponCacheTTL)

	reconciler := payments.NewReconciler(payments.Deps{
		Orders:   orderClient,
		Store:    payments.NewRepository(dbpool),
		Locker:   shared.NewRedisLocker(redisClient),
		Notifier: jobClient,
		Metrics:  metrics,
		Logger:   logger,
		Config: payments.Config{
			Currency:   cfg.BillingCurrency,
			GatewayKey: cfg.GatewayKeyID,
			LockTTL:    cfg.PaymentLockTTL,
		},
	})

	billingHandler := billinghttp.NewHandler(billinghttp.Params{
		Logger:           logger,
		Reconciler:       reconciler,
		Coupons:          coupons.NewService(orderClient, couponCache),
		OptOut:           optout.NewManager(orderClient, shared.NewAuditLogger(dbpool), logger),
		Idempotency:      shared.NewIdempotencyStore(dbpool),
		Versions:         ledgerCache,
		Metrics:          metrics,
		Currency:         cfg.BillingCurrency,
		PaymentRateLimit: cfg.PaymentRateLimit,
	})

	if err := ledgerCache.Subscribe(ctx, jobs.RefreshChannel, func(payload []byte) {
		logger.Debug("ledger refresh received", slog.String("payload", string(payload)))
	}); err != nil {
		logger.Warn("subscribe ledger refresh", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(redisOpt)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		BillingHandler: billingHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Metrics:        metrics,
		Readiness: map[string]app.Pinger{
			"postgres": dbpool,
			"redis": app.PingFunc(func(ctx context.Context) error {
				return redisClient.Ping(ctx).Err()
			}),
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("billing api listening", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", slog.Any("error", err))
	}
	logger.Info("billing api stopped")
}
