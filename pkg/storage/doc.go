// Package storage opens the SQL database and Redis client shared by the
// local RBAC store, the user manager and the cache, and applies versioned
// schema migrations.
//
//	db, err := storage.Open(ctx, storage.Config{Driver: "postgres", DSN: dsn})
//	err = storage.Migrate(ctx, db, "rbac_schema_migrations", sqlstore.Migrations(), logger)
//
// Migrations are plain SQL that runs on both PostgreSQL and SQLite.
package storage
