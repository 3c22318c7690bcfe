package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
	"github.com/platinummonkey/redback/pkg/storage"
)

// queryer is satisfied by both *sql.DB and *sql.Tx
type queryer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is the SQL-backed local RBAC store. It owns roles, permissions,
// operations, resources and user assignments.
type Store struct {
	db        *sql.DB
	listeners *rbac.Listeners
	logger    *observability.Logger
	metrics   *observability.Metrics
}

var _ rbac.Manager = (*Store)(nil)

// New creates a store over db. Call Init before use to apply migrations.
func New(db *sql.DB, logger *observability.Logger, metrics *observability.Metrics) *Store {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Store{
		db:        db,
		listeners: rbac.NewListeners(logger),
		logger:    logger,
		metrics:   metrics,
	}
}

// Init applies pending migrations and fires RBACInit, reporting whether the
// schema was created from scratch
func (s *Store) Init(ctx context.Context) error {
	fresh, err := storage.Migrate(ctx, s.db, MigrationsTable, Migrations(), s.logger)
	if err != nil {
		return fmt.Errorf("failed to migrate rbac schema: %w", err)
	}
	s.listeners.FireInit(fresh)
	return nil
}

func (s *Store) AddListener(listener rbac.Listener)    { s.listeners.Add(listener) }
func (s *Store) RemoveListener(listener rbac.Listener) { s.listeners.Remove(listener) }

// observe records the duration and outcome of a store operation. Use as
// defer s.observe("op", time.Now(), &err).
func (s *Store) observe(operation string, start time.Time, err *error) {
	var e error
	if err != nil {
		e = *err
	}
	if e != nil && (rbac.IsNotFound(e) || rbac.IsInvalid(e)) {
		e = nil
	}
	s.metrics.ObserveStore(operation, start, e)
}

// inTx runs fn inside a transaction, rolling back on error
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// EraseDatabase deletes every RBAC row and fires RBACInit(true)
func (s *Store) EraseDatabase(ctx context.Context) (err error) {
	defer s.observe("erase_database", time.Now(), &err)

	tables := []string{
		"rbac_user_assignment_roles",
		"rbac_user_assignments",
		"rbac_role_permissions",
		"rbac_role_children",
		"rbac_roles",
		"rbac_permissions",
		"rbac_resources",
		"rbac_operations",
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, table := range tables {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to erase %s: %w", table, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn("RBAC database erased")
	s.listeners.FireInit(true)
	return nil
}

// placeholders returns "$1, $2, ..." for n arguments
func placeholders(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = fmt.Sprintf("$%d", i+1)
	}
	return strings.Join(parts, ", ")
}

func toArgs(values []string) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// queryStrings runs a single-column query and collects every value
func queryStrings(ctx context.Context, q queryer, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
