package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/storage"
)

var (
	// ErrUserNotFound is returned when no user has the requested username
	ErrUserNotFound = errors.New("user not found")
	// ErrUserExists is returned when adding a username that is already taken
	ErrUserExists = errors.New("user already exists")
)

// User is a local user record
type User struct {
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	Email     string    `json:"email,omitempty"`
	Locked    bool      `json:"locked"`
	CreatedAt time.Time `json:"created_at"`
}

// Manager is the local user store
type Manager interface {
	UserExists(ctx context.Context, username string) (bool, error)
	// CreateUser builds an unsaved user
	CreateUser(username, fullName, email string) *User
	AddUser(ctx context.Context, user *User) (*User, error)
	GetUser(ctx context.Context, username string) (*User, error)
	DeleteUser(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]*User, error)
}

// MigrationsTable records the applied user schema versions
const MigrationsTable = "users_schema_migrations"

// Migrations returns the user schema migrations
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create users table",
			SQL: `
				CREATE TABLE IF NOT EXISTS redback_users (
					username VARCHAR(255) PRIMARY KEY,
					full_name VARCHAR(255) NOT NULL DEFAULT '',
					email VARCHAR(255) NOT NULL DEFAULT '',
					locked BOOLEAN NOT NULL DEFAULT FALSE,
					created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);
			`,
		},
	}
}

// SQLManager stores users in the redback_users table
type SQLManager struct {
	db     *sql.DB
	logger *observability.Logger
}

var _ Manager = (*SQLManager)(nil)

// NewSQLManager creates a user manager over db
func NewSQLManager(db *sql.DB, logger *observability.Logger) *SQLManager {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &SQLManager{db: db, logger: logger}
}

// Init applies pending user migrations
func (m *SQLManager) Init(ctx context.Context) error {
	if _, err := storage.Migrate(ctx, m.db, MigrationsTable, Migrations(), m.logger); err != nil {
		return fmt.Errorf("failed to migrate users schema: %w", err)
	}
	return nil
}

func (m *SQLManager) UserExists(ctx context.Context, username string) (bool, error) {
	var count int
	err := m.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM redback_users WHERE username = $1", username,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return count > 0, nil
}

func (m *SQLManager) CreateUser(username, fullName, email string) *User {
	return &User{Username: username, FullName: fullName, Email: email}
}

func (m *SQLManager) AddUser(ctx context.Context, user *User) (*User, error) {
	if user == nil || strings.TrimSpace(user.Username) == "" {
		return nil, fmt.Errorf("username is required")
	}
	exists, err := m.UserExists(ctx, user.Username)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrUserExists, user.Username)
	}

	user.CreatedAt = time.Now().UTC()
	_, err = m.db.ExecContext(ctx, `
		INSERT INTO redback_users (username, full_name, email, locked, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		user.Username, user.FullName, user.Email, user.Locked, user.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	m.logger.WithField("username", user.Username).Info("Created local user")
	return user, nil
}

func (m *SQLManager) GetUser(ctx context.Context, username string) (*User, error) {
	user := &User{}
	err := m.db.QueryRowContext(ctx, `
		SELECT username, full_name, email, locked, created_at
		FROM redback_users WHERE username = $1`, username,
	).Scan(&user.Username, &user.FullName, &user.Email, &user.Locked, &user.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

func (m *SQLManager) DeleteUser(ctx context.Context, username string) error {
	result, err := m.db.ExecContext(ctx, "DELETE FROM redback_users WHERE username = $1", username)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrUserNotFound, username)
	}
	return nil
}

func (m *SQLManager) ListUsers(ctx context.Context) ([]*User, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT username, full_name, email, locked, created_at
		FROM redback_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var out []*User
	for rows.Next() {
		user := &User{}
		if err := rows.Scan(&user.Username, &user.FullName, &user.Email, &user.Locked, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		out = append(out, user)
	}
	return out, rows.Err()
}
