package config

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/redback/pkg/directory"
	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/storage"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig

	// Database configuration
	Database DatabaseConfig

	// Directory configuration
	Directory directory.Config

	// RBAC configuration
	RBAC RBACConfig

	// Cache configuration
	Cache CacheConfig

	// Audit trail configuration
	Audit AuditConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for k8s probes)
	HealthPort string

	// AuthHeader names the header a trusted proxy sets to the caller's
	// principal; empty leaves the API unauthenticated
	AuthHeader string

	// AdminOperation is the operation callers need on the global resource
	AdminOperation string
}

// DatabaseConfig holds the local store settings
type DatabaseConfig struct {
	storage.Config

	// MigrateOnStart applies pending schema migrations at startup
	MigrateOnStart bool
}

// RBACConfig holds the directory-backed RBAC settings
type RBACConfig struct {
	// Writable lets role and assignment writes reach the directory
	Writable bool

	// GroupMappings maps directory group names to role names
	GroupMappings map[string]string

	// GroupMappingsFile is an optional YAML file of group: role pairs
	GroupMappingsFile string
}

// CacheConfig holds RBAC cache settings
type CacheConfig struct {
	Enabled bool
	Size    int
	TTL     time.Duration

	// Redis enables the shared assignment cache
	Redis storage.RedisConfig
}

// AuditConfig holds RBAC audit trail settings
type AuditConfig struct {
	Enabled bool
	Workers int

	// Retention deletes older events at startup; zero keeps everything
	Retention time.Duration
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel observability.LogLevel

	// Metrics
	MetricsEnabled bool
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	rbacCfg, err := loadRBACConfig()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server:        loadServerConfig(),
		Database:      loadDatabaseConfig(),
		Directory:     loadDirectoryConfig(),
		RBAC:          rbacCfg,
		Cache:         loadCacheConfig(),
		Audit:         loadAuditConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadServerConfig loads server configuration from environment
func loadServerConfig() ServerConfig {
	return ServerConfig{
		Host:            getEnv("REDBACK_HOST", "0.0.0.0"),
		Port:            getEnv("REDBACK_PORT", "8080"),
		ReadTimeout:     getEnvDuration("REDBACK_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:    getEnvDuration("REDBACK_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:     getEnvDuration("REDBACK_IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout: getEnvDuration("REDBACK_SHUTDOWN_TIMEOUT", 30*time.Second),
		HealthPort:      getEnv("REDBACK_HEALTH_PORT", "9090"),
		AuthHeader:      getEnv("REDBACK_AUTH_HEADER", ""),
		AdminOperation:  getEnv("REDBACK_ADMIN_OPERATION", "user-management-rbac-admin"),
	}
}

// loadDatabaseConfig loads local store configuration from environment
func loadDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Config: storage.Config{
			Driver:          getEnv("REDBACK_DB_DRIVER", "postgres"),
			DSN:             getEnv("REDBACK_DB_DSN", ""),
			MaxOpenConns:    getEnvInt("REDBACK_DB_MAX_OPEN_CONNS", 20),
			MaxIdleConns:    getEnvInt("REDBACK_DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("REDBACK_DB_CONN_MAX_LIFETIME", 30*time.Minute),
			ConnMaxIdleTime: getEnvDuration("REDBACK_DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		},
		MigrateOnStart: getEnvBool("REDBACK_DB_MIGRATE", true),
	}
}

// loadDirectoryConfig loads LDAP configuration from environment
func loadDirectoryConfig() directory.Config {
	return directory.Config{
		URL:                  getEnv("REDBACK_LDAP_URL", ""),
		BindDN:               getEnv("REDBACK_LDAP_BIND_DN", ""),
		BindPassword:         getEnv("REDBACK_LDAP_BIND_PASSWORD", ""),
		BaseDN:               getEnv("REDBACK_LDAP_BASE_DN", ""),
		GroupsBaseDN:         getEnv("REDBACK_LDAP_GROUPS_BASE_DN", ""),
		UserIDAttribute:      getEnv("REDBACK_LDAP_USER_ID_ATTRIBUTE", ""),
		GroupObjectClass:     getEnv("REDBACK_LDAP_GROUP_OBJECT_CLASS", ""),
		GroupMemberAttribute: getEnv("REDBACK_LDAP_GROUP_MEMBER_ATTRIBUTE", ""),
		GroupNameAttribute:   getEnv("REDBACK_LDAP_GROUP_NAME_ATTRIBUTE", ""),
		DialTimeout:          getEnvDuration("REDBACK_LDAP_DIAL_TIMEOUT", 0),
		StartTLS:             getEnvBool("REDBACK_LDAP_START_TLS", false),
		InsecureSkipVerify:   getEnvBool("REDBACK_LDAP_INSECURE_SKIP_VERIFY", false),
		DefaultGroupMember:   getEnv("REDBACK_LDAP_DEFAULT_GROUP_MEMBER", ""),
	}.WithDefaults()
}

// loadRBACConfig loads writability and group mappings. Mappings from the
// file are applied first; REDBACK_LDAP_GROUP_MAPPINGS entries override them.
func loadRBACConfig() (RBACConfig, error) {
	cfg := RBACConfig{
		Writable:          getEnvBool("REDBACK_LDAP_WRITABLE", false),
		GroupMappings:     make(map[string]string),
		GroupMappingsFile: getEnv("REDBACK_LDAP_GROUP_MAPPINGS_FILE", ""),
	}

	if cfg.GroupMappingsFile != "" {
		fromFile, err := LoadGroupMappingsFile(cfg.GroupMappingsFile)
		if err != nil {
			return cfg, err
		}
		for group, role := range fromFile {
			cfg.GroupMappings[group] = role
		}
	}

	fromEnv, err := ParseGroupMappings(getEnv("REDBACK_LDAP_GROUP_MAPPINGS", ""))
	if err != nil {
		return cfg, err
	}
	for group, role := range fromEnv {
		cfg.GroupMappings[group] = role
	}

	return cfg, nil
}

// loadCacheConfig loads cache configuration from environment
func loadCacheConfig() CacheConfig {
	return CacheConfig{
		Enabled: getEnvBool("REDBACK_CACHE_ENABLED", true),
		Size:    getEnvInt("REDBACK_CACHE_SIZE", 1000),
		TTL:     getEnvDuration("REDBACK_CACHE_TTL", 10*time.Minute),
		Redis: storage.RedisConfig{
			URL:      getEnv("REDBACK_REDIS_URL", ""),
			Password: getEnv("REDBACK_REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDBACK_REDIS_DB", 0),
			PoolSize: getEnvInt("REDBACK_REDIS_POOL_SIZE", 0),
		},
	}
}

// loadAuditConfig loads audit trail configuration from environment
func loadAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:   getEnvBool("REDBACK_AUDIT_ENABLED", true),
		Workers:   getEnvInt("REDBACK_AUDIT_WORKERS", 2),
		Retention: getEnvDuration("REDBACK_AUDIT_RETENTION", 0),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:       observability.ParseLogLevel(getEnv("REDBACK_LOG_LEVEL", "info")),
		MetricsEnabled: getEnvBool("REDBACK_METRICS_ENABLED", true),
	}
}

// ParseGroupMappings parses "group=role,group=role"
func ParseGroupMappings(raw string) (map[string]string, error) {
	mappings := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		group, role, ok := strings.Cut(pair, "=")
		group, role = strings.TrimSpace(group), strings.TrimSpace(role)
		if !ok || group == "" || role == "" {
			return nil, fmt.Errorf("invalid group mapping %q (want group=role)", pair)
		}
		mappings[group] = role
	}
	return mappings, nil
}

// LoadGroupMappingsFile reads a YAML document of the form:
//
//	mappings:
//	  redback-admins: System Administrator
//	  redback-users: Registered User
func LoadGroupMappingsFile(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read group mappings file: %w", err)
	}

	var doc struct {
		Mappings map[string]string `yaml:"mappings"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse group mappings file %s: %w", path, err)
	}

	for group, role := range doc.Mappings {
		if strings.TrimSpace(group) == "" || strings.TrimSpace(role) == "" {
			return nil, fmt.Errorf("group mappings file %s has an empty group or role", path)
		}
	}
	if doc.Mappings == nil {
		doc.Mappings = make(map[string]string)
	}
	return doc.Mappings, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}
	if c.Server.AuthHeader != "" && c.Server.AdminOperation == "" {
		return fmt.Errorf("an admin operation is required when authentication is enabled")
	}

	// Validate database config
	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database DSN is required")
	}

	if err := c.Directory.Validate(); err != nil {
		return fmt.Errorf("invalid directory config: %w", err)
	}

	if len(c.RBAC.GroupMappings) == 0 {
		return fmt.Errorf("at least one LDAP group mapping is required")
	}
	if c.RBAC.Writable && c.Directory.BindDN == "" {
		return fmt.Errorf("a bind DN is required when the directory is writable")
	}

	if c.Cache.Enabled && c.Cache.Size <= 0 {
		return fmt.Errorf("cache size must be positive")
	}

	if c.Audit.Enabled && c.Audit.Workers <= 0 {
		return fmt.Errorf("audit workers must be positive")
	}
	if c.Audit.Retention < 0 {
		return fmt.Errorf("audit retention must not be negative")
	}

	return nil
}

// MappedRoles returns the distinct role names of the configured mappings
func (c RBACConfig) MappedRoles() []string {
	seen := make(map[string]bool, len(c.GroupMappings))
	roles := make([]string, 0, len(c.GroupMappings))
	for _, role := range c.GroupMappings {
		if !seen[role] {
			seen[role] = true
			roles = append(roles, role)
		}
	}
	sort.Strings(roles)
	return roles
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
