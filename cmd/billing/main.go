package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/school-billing/internal/app"
	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/observability"
	"github.com/odyssey-erp/school-billing/internal/platform/cache"
	"github.com/odyssey-erp/school-billing/internal/platform/db"
	"github.com/odyssey-erp/school-billing/internal/reports"
	"github.com/odyssey-erp/school-billing/internal/roster"
	"github.com/odyssey-erp/school-billing/internal/statement"
	"github.com/odyssey-erp/school-billing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping server startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.LoadDotEnv(); err != nil {
		slog.Default().Warn("dotenv", slog.Any("error", err))
	}

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr})
	if err != nil {
		// Statements fall back to uncached reads while Redis is away.
		logger.Warn("redis unavailable", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.BuildServices(cfg, logger, pool, redisClient, metrics)

	if err := services.Cache.ListenForInvalidation(ctx, metrics.CacheInvalidated); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("asynq inspector close", slog.Any("error", err))
		}
	}()

	jobClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		LedgerHandler:    ledger.NewHandler(logger, services.Ledger, app.PaymentRateLimiter(cfg)),
		RosterHandler:    roster.NewHandler(logger, services.Roster),
		StatementHandler: statement.NewHandler(logger, services.Statements),
		ReportsHandler:   reports.NewHandler(logger, services.Reports),
		JobHandler:       jobs.NewHandler(inspector, jobClient, logger),
		Metrics:          metrics,
		Ready:            pool.Ping,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("timezone", cfg.Timezone))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
