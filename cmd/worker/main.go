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

	"github.com/odyssey-erp/school-billing/internal/app"
	jobmetrics "github.com/odyssey-erp/school-billing/internal/jobs"
	"github.com/odyssey-erp/school-billing/internal/observability"
	"github.com/odyssey-erp/school-billing/internal/platform/cache"
	"github.com/odyssey-erp/school-billing/internal/platform/db"
	"github.com/odyssey-erp/school-billing/internal/platform/objectstore"
	"github.com/odyssey-erp/school-billing/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	jobMetrics := jobmetrics.NewMetrics(metrics.Registerer())
	services := app.BuildServices(cfg, logger, pool, redisClient, metrics)

	warmupJob := jobs.NewStatementsWarmupJob(services.Roster, services.Statements, services.Idempotency, cfg.IdempotencyRetention, logger, jobMetrics)
	warmupTask, err := jobs.NewStatementsWarmupTask("active")
	if err != nil {
		logger.Error("build warmup task", slog.Any("error", err))
		os.Exit(1)
	}

	handlers := []jobs.TaskHandler{
		{Type: jobs.TaskStatementsWarmup, Handler: warmupJob.Handle},
	}
	cron := []jobs.CronRegistration{
		{Spec: cfg.WarmupCron, Task: warmupTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
	}

	if cfg.ArchiveEnabled() {
		store, err := objectstore.NewMinio(objectstore.Config{
			Endpoint:  cfg.ArchiveEndpoint,
			AccessKey: cfg.ArchiveAccessKey,
			SecretKey: cfg.ArchiveSecretKey,
			Bucket:    cfg.ArchiveBucket,
			UseSSL:    cfg.ArchiveUseSSL,
		})
		if err != nil {
			logger.Error("init archive store", slog.Any("error", err))
			os.Exit(1)
		}
		if err := store.EnsureBucket(ctx); err != nil {
			logger.Warn("ensure archive bucket", slog.String("bucket", store.Bucket()), slog.Any("error", err))
		}
		archiveJob := jobs.NewReportsArchiveJob(services.Reports, store, cfg.Location(), logger, jobMetrics)
		// An empty month archives the month before the run date.
		archiveTask, err := jobs.NewReportsArchiveTask("")
		if err != nil {
			logger.Error("build archive task", slog.Any("error", err))
			os.Exit(1)
		}
		handlers = append(handlers, jobs.TaskHandler{Type: jobs.TaskReportsArchive, Handler: archiveJob.Handle})
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ArchiveCron, Task: archiveTask, Options: []asynq.Option{asynq.MaxRetry(5)}})
	} else {
		logger.Info("report archiving disabled, ARCHIVE_ACCESS_KEY or ARCHIVE_SECRET_KEY not set")
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:      logger,
		Handlers:    handlers,
		Cron:        cron,
		Concurrency: cfg.WorkerConcurrency,
		Location:    cfg.Location(),
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	metricsServer := &http.Server{
		Addr:              cfg.WorkerMetricsAddr,
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("worker metrics server", slog.Any("error", err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
