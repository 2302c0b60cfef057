package shared

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/blake2b"
)

// idempotencyDB is the subset of pgx used by the store.
type idempotencyDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// IdempotencyStore persists processed keys.
type IdempotencyStore struct {
	pool idempotencyDB
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool idempotencyDB) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Within returns a store that issues its statements through q, typically an
// open transaction, so a claimed key commits or rolls back with the work it
// guards.
func (s *IdempotencyStore) Within(q idempotencyDB) *IdempotencyStore {
	now := time.Now
	if s != nil && s.now != nil {
		now = s.now
	}
	return &IdempotencyStore{pool: q, now: now}
}

var (
	// ErrIdempotencyConflict indicates the key was already used for the same request.
	ErrIdempotencyConflict = errors.New("idempotent request already processed")
	// ErrIdempotencyMismatch indicates the key was already used for a different request body.
	ErrIdempotencyMismatch = errors.New("idempotency key reused with a different request")
)

// Fingerprint hashes the parts of a request that make it unique.
func Fingerprint(parts ...[]byte) string {
	h, _ := blake2b.New256(nil)
	for _, p := range parts {
		_, _ = h.Write(p)
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CheckAndInsert ensures key uniqueness per module. A repeated key returns
// ErrIdempotencyConflict when the fingerprint matches the stored one and
// ErrIdempotencyMismatch otherwise. A duplicate never raises a unique
// violation, so an enclosing transaction stays usable.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, module, fingerprint string) error {
	if s == nil {
		return errors.New("idempotency store not initialised")
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if module == "" {
		return errors.New("idempotency module required")
	}
	tag, err := s.pool.Exec(ctx, `INSERT INTO idempotency_keys (key, module, fingerprint, created_at) VALUES ($1, $2, $3, $4)
		ON CONFLICT (key, module) DO NOTHING`, key, module, fingerprint, s.now())
	if err != nil {
		return fmt.Errorf("shared: insert idempotency key: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	var stored string
	if err := s.pool.QueryRow(ctx, `SELECT fingerprint FROM idempotency_keys WHERE key=$1 AND module=$2`, key, module).Scan(&stored); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Expired by cleanup between the insert and the lookup.
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("shared: load idempotency key: %w", err)
	}
	if stored != fingerprint {
		return ErrIdempotencyMismatch
	}
	return ErrIdempotencyConflict
}

// Cleanup removes entries older than retention and reports how many were removed.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	if s == nil {
		return 0, nil
	}
	cutoff := s.now().Add(-olderThan)
	tag, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("shared: cleanup idempotency keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
