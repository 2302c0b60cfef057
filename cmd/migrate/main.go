package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/odyssey-erp/school-billing/internal/app"
	"github.com/odyssey-erp/school-billing/internal/platform/db"
)

func main() {
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

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, logger)
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		os.Exit(1)
	}
	if len(applied) == 0 {
		logger.Info("schema up to date")
		return
	}
	logger.Info("migrations complete", slog.String("applied", strings.Join(applied, ",")))
}
