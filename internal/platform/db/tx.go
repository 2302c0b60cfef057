package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/school-billing/internal/shared"
)

// SQLSTATE codes the billing layer reacts to.
const (
	CodeSerializationFailure = "40001"
	CodeDeadlockDetected     = "40P01"
	CodeUniqueViolation      = "23505"
	CodeForeignKeyViolation  = "23503"
	CodeCheckViolation       = "23514"
)

// Querier is the statement surface shared by pools and transactions.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Beginner opens transactions.
type Beginner interface {
	BeginTx(ctx context.Context, opts pgx.TxOptions) (pgx.Tx, error)
}

// Pool is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type Pool interface {
	Querier
	Beginner
}

// Write is the isolation used by mutations that lock rows before checking them.
var Write = pgx.TxOptions{IsoLevel: pgx.RepeatableRead}

// ReadOnly gives a consistent snapshot for multi-statement reads.
var ReadOnly = pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}

// WithTx executes fn within a transaction opened with opts. The transaction is
// rolled back when fn fails and committed otherwise. Serialization failures and
// deadlocks are reported as shared.ErrConcurrencyConflict.
func WithTx(ctx context.Context, b Beginner, opts pgx.TxOptions, fn func(pgx.Tx) error) error {
	tx, err := b.BeginTx(ctx, opts)
	if err != nil {
		return Classify(fmt.Errorf("platform/db: begin tx: %w", err))
	}

	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return Classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// Classify tags retryable PostgreSQL failures with shared.ErrConcurrencyConflict
// while keeping the original error in the chain.
func Classify(err error) error {
	if err == nil || errors.Is(err, shared.ErrConcurrencyConflict) {
		return err
	}
	switch PgCode(err) {
	case CodeSerializationFailure, CodeDeadlockDetected:
		return fmt.Errorf("%w: %w", shared.ErrConcurrencyConflict, err)
	}
	return err
}

// PgCode returns the SQLSTATE carried by err, or "" when err is not a server error.
func PgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// PgConstraint returns the constraint name reported with a server error.
func PgConstraint(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}
