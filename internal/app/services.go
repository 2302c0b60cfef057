package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/school-billing/internal/cache"
	"github.com/odyssey-erp/school-billing/internal/ledger"
	"github.com/odyssey-erp/school-billing/internal/observability"
	"github.com/odyssey-erp/school-billing/internal/platform/db"
	"github.com/odyssey-erp/school-billing/internal/reports"
	"github.com/odyssey-erp/school-billing/internal/roster"
	"github.com/odyssey-erp/school-billing/internal/shared"
	"github.com/odyssey-erp/school-billing/internal/statement"
)

// Services holds the domain services shared by the API and the worker.
type Services struct {
	Ledger      *ledger.Service
	Roster      *roster.Service
	RosterRepo  *roster.Repository
	Statements  *statement.CachedService
	Reports     *reports.Service
	Idempotency *shared.IdempotencyStore
	Cache       *cache.Cache
}

// BuildServices wires repositories, caches and commit hooks. redisClient and
// metrics may be nil.
func BuildServices(cfg *Config, logger *slog.Logger, pool db.Pool, redisClient *redis.Client, metrics *observability.Metrics) *Services {
	loc := cfg.Location()
	now := func() time.Time { return time.Now().In(loc) }

	statementCache := cache.New(redisClient, cfg.StatementCacheTTL).WithLogger(logger)

	ledgerService := ledger.NewService(ledger.NewRepository(pool), ledger.ServiceConfig{
		MaxAttempts:  cfg.LedgerMaxTxAttempts,
		RetryBackoff: cfg.LedgerRetryBackoff,
		Now:          now,
		Location:     loc,
		Logger:       logger,
		Observer:     metrics,
	})
	ledgerService.AddHook(metrics)
	ledgerService.AddHook(ledger.CommitHookFunc(func(ctx context.Context, evt ledger.Event) error {
		return statementCache.Bump(ctx)
	}))

	rosterRepo := roster.NewRepository(pool)
	rosterService := roster.NewService(rosterRepo, logger)

	statements := statement.NewCachedService(
		statement.NewService(ledgerService, rosterService, now),
		statementCache,
		logger,
	)

	return &Services{
		Ledger:      ledgerService,
		Roster:      rosterService,
		RosterRepo:  rosterRepo,
		Statements:  statements,
		Reports:     reports.NewService(ledgerService, ledgerService),
		Idempotency: shared.NewIdempotencyStore(pool),
		Cache:       statementCache,
	}
}
