package storage

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"

	"github.com/platinummonkey/redback/pkg/observability"
)

// Migration represents a database migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

var tableName = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Migrate applies every migration not yet recorded in table, each inside its
// own transaction. It returns true when no migration had been applied before.
func Migrate(ctx context.Context, db *sql.DB, table string, migrations []Migration, logger *observability.Logger) (bool, error) {
	if !tableName.MatchString(table) {
		return false, fmt.Errorf("invalid migrations table name: %q", table)
	}
	if logger == nil {
		logger = observability.NopLogger()
	}

	_, err := db.ExecContext(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`, table))
	if err != nil {
		return false, fmt.Errorf("failed to create migrations table: %w", err)
	}

	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT version FROM %s ORDER BY version", table))
	if err != nil {
		return false, fmt.Errorf("failed to query migrations: %w", err)
	}
	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			rows.Close()
			return false, fmt.Errorf("failed to scan migration version: %w", err)
		}
		applied[version] = true
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return false, fmt.Errorf("failed to read migrations: %w", err)
	}
	rows.Close()

	fresh := len(applied) == 0
	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		log := logger.WithFields(map[string]interface{}{"table": table, "version": m.Version})
		log.Info("Running migration: " + m.Description)

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return false, fmt.Errorf("failed to start transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
			tx.Rollback()
			return false, fmt.Errorf("failed to execute migration %d: %w", m.Version, err)
		}
		if _, err := tx.ExecContext(ctx,
			fmt.Sprintf("INSERT INTO %s (version, description) VALUES ($1, $2)", table),
			m.Version, m.Description,
		); err != nil {
			tx.Rollback()
			return false, fmt.Errorf("failed to record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit migration %d: %w", m.Version, err)
		}
	}
	return fresh, nil
}
