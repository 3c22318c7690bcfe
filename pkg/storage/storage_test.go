package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/mattn/go-sqlite3"
)

var testMigrations = []Migration{
	{Version: 1, Description: "create widgets", SQL: `CREATE TABLE widgets (name TEXT PRIMARY KEY)`},
	{Version: 2, Description: "add colour", SQL: `ALTER TABLE widgets ADD COLUMN colour TEXT`},
}

func TestOpen_Validation(t *testing.T) {
	_, err := Open(context.Background(), Config{DSN: "x"})
	assert.Error(t, err)
	_, err = Open(context.Background(), Config{Driver: "sqlite3"})
	assert.Error(t, err)
}

func TestMigrate_AppliesOnce(t *testing.T) {
	ctx := context.Background()
	db, err := Open(ctx, Config{Driver: "sqlite3", DSN: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	defer db.Close()

	fresh, err := Migrate(ctx, db, "widget_migrations", testMigrations, nil)
	require.NoError(t, err)
	assert.True(t, fresh)

	fresh, err = Migrate(ctx, db, "widget_migrations", testMigrations, nil)
	require.NoError(t, err)
	assert.False(t, fresh)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, "SELECT COUNT(*) FROM widget_migrations").Scan(&count))
	assert.Equal(t, 2, count)

	_, err = db.ExecContext(ctx, "INSERT INTO widgets (name, colour) VALUES ('a', 'red')")
	assert.NoError(t, err)
}

func TestMigrate_RejectsBadTableName(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	_, err = Migrate(context.Background(), db, "x; DROP TABLE users", testMigrations, nil)
	assert.Error(t, err)
}

func TestMigrate_RollsBackFailedMigration(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS widget_migrations").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT version FROM widget_migrations").
		WillReturnRows(sqlmock.NewRows([]string{"version"}).AddRow(1))
	mock.ExpectBegin()
	mock.ExpectExec("ALTER TABLE widgets").WillReturnError(errors.New("syntax error"))
	mock.ExpectRollback()

	_, err = Migrate(context.Background(), db, "widget_migrations", testMigrations, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to execute migration 2")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewRedisClient(t *testing.T) {
	mr := miniredis.RunT(t)

	client, err := NewRedisClient(context.Background(), RedisConfig{URL: "redis://" + mr.Addr(), PoolSize: 4})
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	got, err := mr.Get("k")
	require.NoError(t, err)
	assert.Equal(t, "v", got)
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), RedisConfig{URL: "not a url"})
	assert.Error(t, err)
}
