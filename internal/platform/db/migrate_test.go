package db

import (
	"context"
	"io"
	"log/slog"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationsAreOrdered(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)
	require.NotEmpty(t, migrations)

	for i := 1; i < len(migrations); i++ {
		assert.Less(t, migrations[i-1].Version, migrations[i].Version)
	}
	assert.Equal(t, "0001_roster", migrations[0].Version)
}

func TestMigrateAppliesPendingOnly(t *testing.T) {
	migrations, err := Migrations()
	require.NoError(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS schema_migrations")).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	for i, m := range migrations {
		done := i == 0
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)")).
			WithArgs(m.Version).
			WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(done))
		if done {
			continue
		}
		mock.ExpectBeginTx(pgx.TxOptions{})
		mock.ExpectExec(regexp.QuoteMeta(m.SQL)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO schema_migrations (version) VALUES ($1)")).
			WithArgs(m.Version).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
		mock.ExpectCommit()
	}

	applied, err := Migrate(context.Background(), mock, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	assert.Len(t, applied, len(migrations)-1)
	assert.NotContains(t, applied, migrations[0].Version)
	require.NoError(t, mock.ExpectationsWereMet())
}
