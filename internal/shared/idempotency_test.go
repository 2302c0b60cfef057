package shared

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*IdempotencyStore, pgxmock.PgxPoolIface, time.Time) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	store := NewIdempotencyStore(mock)
	store.now = func() time.Time { return now }
	return store, mock, now
}

func TestCheckAndInsertNewKey(t *testing.T) {
	store, mock, now := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency_keys")).
		WithArgs("k1", "payments", "fp", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.CheckAndInsert(context.Background(), "k1", "payments", "fp"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndInsertReplay(t *testing.T) {
	cases := map[string]struct {
		stored string
		want   error
	}{
		"same body":      {stored: "fp", want: ErrIdempotencyConflict},
		"different body": {stored: "other", want: ErrIdempotencyMismatch},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			store, mock, now := newMockStore(t)
			mock.ExpectExec(regexp.QuoteMeta("INSERT INTO idempotency_keys")).
				WithArgs("k1", "payments", "fp", now).
				WillReturnResult(pgxmock.NewResult("INSERT", 0))
			mock.ExpectQuery(regexp.QuoteMeta("SELECT fingerprint FROM idempotency_keys")).
				WithArgs("k1", "payments").
				WillReturnRows(pgxmock.NewRows([]string{"fingerprint"}).AddRow(tc.stored))

			err := store.CheckAndInsert(context.Background(), "k1", "payments", "fp")
			require.ErrorIs(t, err, tc.want)
			require.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestCheckAndInsertWithinTransaction(t *testing.T) {
	store, mock, now := newMockStore(t)
	ctx := context.Background()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (key, module) DO NOTHING")).
		WithArgs("k1", "payments", "fp", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectRollback()

	tx, err := mock.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, store.Within(tx).CheckAndInsert(ctx, "k1", "payments", "fp"))
	require.NoError(t, tx.Rollback(ctx))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckAndInsertRequiresKey(t *testing.T) {
	store, _, _ := newMockStore(t)
	require.Error(t, store.CheckAndInsert(context.Background(), "", "payments", "fp"))
	require.Error(t, store.CheckAndInsert(context.Background(), "k", "", "fp"))
}

func TestCleanupReportsRemovedRows(t *testing.T) {
	store, mock, now := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM idempotency_keys WHERE created_at < $1")).
		WithArgs(now.Add(-72 * time.Hour)).
		WillReturnResult(pgxmock.NewResult("DELETE", 4))

	removed, err := store.Cleanup(context.Background(), 72*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 4, removed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFingerprintSeparatesParts(t *testing.T) {
	a := Fingerprint([]byte("POST"), []byte("/a"), []byte(`{"amount":"1"}`))
	b := Fingerprint([]byte("POST"), []byte("/a"), []byte(`{"amount":"1"}`))
	c := Fingerprint([]byte("POST/a"), []byte(`{"amount":"1"}`))
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestKind(t *testing.T) {
	assert.Equal(t, ErrInvalidState, Kind(ErrInvalidState))
	assert.Nil(t, Kind(ErrIdempotencyConflict))
}
