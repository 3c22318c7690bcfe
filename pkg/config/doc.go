// Package config provides application configuration management from environment variables.
//
// # Overview
//
// This package loads and validates configuration from environment variables with
// sensible defaults for all settings.
//
// # Configuration Structure
//
// Server settings:
//
//	REDBACK_HOST="0.0.0.0"
//	REDBACK_PORT="8080"
//	REDBACK_HEALTH_PORT="9090"
//	REDBACK_READ_TIMEOUT="15s"
//	REDBACK_WRITE_TIMEOUT="15s"
//	REDBACK_AUTH_HEADER="X-Remote-User"  # empty disables authentication
//	REDBACK_ADMIN_OPERATION="user-management-rbac-admin"
//
// Database settings:
//
//	REDBACK_DB_DRIVER="postgres"  # postgres, sqlite3
//	REDBACK_DB_DSN="postgres://localhost/redback?sslmode=disable"
//	REDBACK_DB_MAX_OPEN_CONNS="20"
//	REDBACK_DB_MIGRATE="true"
//
// Directory settings:
//
//	REDBACK_LDAP_URL="ldap://ldap.example.com:389"
//	REDBACK_LDAP_BIND_DN="cn=admin,dc=example,dc=com"
//	REDBACK_LDAP_BIND_PASSWORD="secret"
//	REDBACK_LDAP_BASE_DN="ou=people,dc=example,dc=com"
//	REDBACK_LDAP_GROUPS_BASE_DN="ou=groups,dc=example,dc=com"
//	REDBACK_LDAP_START_TLS="false"
//
// Role mapping settings:
//
//	REDBACK_LDAP_WRITABLE="false"
//	REDBACK_LDAP_GROUP_MAPPINGS="redback-admins=System Administrator,redback-users=Registered User"
//	REDBACK_LDAP_GROUP_MAPPINGS_FILE="/etc/redback/mappings.yaml"
//
// Cache settings:
//
//	REDBACK_CACHE_ENABLED="true"
//	REDBACK_CACHE_SIZE="1000"
//	REDBACK_CACHE_TTL="10m"
//	REDBACK_REDIS_URL="redis://localhost:6379"
//
// Audit settings:
//
//	REDBACK_AUDIT_ENABLED="true"
//	REDBACK_AUDIT_WORKERS="2"
//	REDBACK_AUDIT_RETENTION="2160h"  # 0 keeps everything
//
// Observability settings:
//
//	REDBACK_LOG_LEVEL="info"  # debug, info, warn, error
//	REDBACK_METRICS_ENABLED="true"
//
// # Usage
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
package config
