package sqlstore

import "github.com/platinummonkey/redback/pkg/storage"

// MigrationsTable records the applied RBAC schema versions
const MigrationsTable = "rbac_schema_migrations"

// Migrations returns the RBAC schema migrations. The SQL runs unchanged on
// PostgreSQL and SQLite.
func Migrations() []storage.Migration {
	return []storage.Migration{
		{
			Version:     1,
			Description: "Create operations and resources tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_operations (
					name VARCHAR(255) PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					permanent BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE TABLE IF NOT EXISTS rbac_resources (
					identifier VARCHAR(255) PRIMARY KEY,
					pattern BOOLEAN NOT NULL DEFAULT FALSE,
					permanent BOOLEAN NOT NULL DEFAULT FALSE
				);
			`,
		},
		{
			Version:     2,
			Description: "Create permissions table",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_permissions (
					name VARCHAR(255) PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					operation_name VARCHAR(255) NOT NULL,
					resource_identifier VARCHAR(255) NOT NULL,
					permanent BOOLEAN NOT NULL DEFAULT FALSE
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_permissions_operation ON rbac_permissions(operation_name);
				CREATE INDEX IF NOT EXISTS idx_rbac_permissions_resource ON rbac_permissions(resource_identifier);
			`,
		},
		{
			Version:     3,
			Description: "Create roles tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_roles (
					name VARCHAR(255) PRIMARY KEY,
					description TEXT NOT NULL DEFAULT '',
					assignable BOOLEAN NOT NULL DEFAULT TRUE,
					permanent BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS rbac_role_children (
					role_name VARCHAR(255) NOT NULL,
					child_name VARCHAR(255) NOT NULL,
					PRIMARY KEY (role_name, child_name)
				);

				CREATE TABLE IF NOT EXISTS rbac_role_permissions (
					role_name VARCHAR(255) NOT NULL,
					permission_name VARCHAR(255) NOT NULL,
					PRIMARY KEY (role_name, permission_name)
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_role_children_child ON rbac_role_children(child_name);
				CREATE INDEX IF NOT EXISTS idx_rbac_role_permissions_permission ON rbac_role_permissions(permission_name);
			`,
		},
		{
			Version:     4,
			Description: "Create user assignment tables",
			SQL: `
				CREATE TABLE IF NOT EXISTS rbac_user_assignments (
					principal VARCHAR(255) PRIMARY KEY,
					permanent BOOLEAN NOT NULL DEFAULT FALSE,
					updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
				);

				CREATE TABLE IF NOT EXISTS rbac_user_assignment_roles (
					principal VARCHAR(255) NOT NULL,
					role_name VARCHAR(255) NOT NULL,
					PRIMARY KEY (principal, role_name)
				);

				CREATE INDEX IF NOT EXISTS idx_rbac_user_assignment_roles_role ON rbac_user_assignment_roles(role_name);
			`,
		},
	}
}
