package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/storage"
)

// MigrationsTable records the applied audit schema versions
const MigrationsTable = "audit_schema_migrations"

const (
	defaultSearchLimit = 100
	maxSearchLimit     = 1000
)

// Migrations returns the audit schema migrations
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create audit events table",
			SQL: `
				CREATE TABLE IF NOT EXISTS audit_events (
					id VARCHAR(36) PRIMARY KEY,
					occurred_at TIMESTAMP NOT NULL,
					event_type VARCHAR(100) NOT NULL,
					resource_type VARCHAR(50) NOT NULL,
					resource_name VARCHAR(255) NOT NULL DEFAULT '',
					metadata TEXT
				);

				CREATE INDEX IF NOT EXISTS idx_audit_events_occurred_at ON audit_events(occurred_at);
				CREATE INDEX IF NOT EXISTS idx_audit_events_resource ON audit_events(resource_type, resource_name);
			`,
		},
	}
}

// DBLogger stores audit events in SQL (PostgreSQL or SQLite)
type DBLogger struct {
	db     *sql.DB
	logger *observability.Logger
}

// NewDBLogger creates a database-backed audit logger. Call Init before use.
func NewDBLogger(db *sql.DB, logger *observability.Logger) (*DBLogger, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &DBLogger{db: db, logger: logger}, nil
}

// Init applies pending schema migrations
func (l *DBLogger) Init(ctx context.Context) error {
	if _, err := storage.Migrate(ctx, l.db, MigrationsTable, Migrations(), l.logger); err != nil {
		return fmt.Errorf("failed to migrate audit schema: %w", err)
	}
	return nil
}

// Log inserts event, assigning its ID and timestamp when unset
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	event.Timestamp = event.Timestamp.UTC()

	var metadataJSON sql.NullString
	if len(event.Metadata) > 0 {
		data, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
		metadataJSON = sql.NullString{String: string(data), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_events (id, occurred_at, event_type, resource_type, resource_name, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		event.ID, event.Timestamp, string(event.EventType), string(event.ResourceType), event.ResourceName, metadataJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Search returns matching events, newest first
func (l *DBLogger) Search(ctx context.Context, filter SearchFilter) ([]*Event, error) {
	query := `
		SELECT id, occurred_at, event_type, resource_type, resource_name, metadata
		FROM audit_events
		WHERE 1=1`

	args := []interface{}{}
	next := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if filter.StartTime != nil {
		query += " AND occurred_at >= " + next(filter.StartTime.UTC())
	}
	if filter.EndTime != nil {
		query += " AND occurred_at <= " + next(filter.EndTime.UTC())
	}
	if len(filter.EventTypes) > 0 {
		marks := make([]string, len(filter.EventTypes))
		for i, et := range filter.EventTypes {
			marks[i] = next(string(et))
		}
		query += " AND event_type IN (" + strings.Join(marks, ", ") + ")"
	}
	if filter.ResourceType != "" {
		query += " AND resource_type = " + next(string(filter.ResourceType))
	}
	if filter.ResourceName != "" {
		query += " AND resource_name = " + next(filter.ResourceName)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}
	if limit > maxSearchLimit {
		limit = maxSearchLimit
	}
	query += " ORDER BY occurred_at DESC, id DESC LIMIT " + next(limit)
	if filter.Offset > 0 {
		query += " OFFSET " + next(filter.Offset)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var (
			event        Event
			eventType    string
			resourceType string
			metadata     sql.NullString
		)
		if err := rows.Scan(&event.ID, &event.Timestamp, &eventType, &resourceType, &event.ResourceName, &metadata); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		event.EventType = EventType(eventType)
		event.ResourceType = ResourceType(resourceType)
		if metadata.Valid && metadata.String != "" {
			if err := json.Unmarshal([]byte(metadata.String), &event.Metadata); err != nil {
				return nil, fmt.Errorf("failed to parse metadata of audit event %s: %w", event.ID, err)
			}
		}
		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read audit events: %w", err)
	}
	return events, nil
}

// Cleanup deletes events older than retention and reports how many were removed
func (l *DBLogger) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC()
	result, err := l.db.ExecContext(ctx, "DELETE FROM audit_events WHERE occurred_at < $1", cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up audit events: %w", err)
	}
	return result.RowsAffected()
}
