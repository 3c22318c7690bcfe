package cached

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
)

// Config configures the cache layers
type Config struct {
	// Size is the entry limit of each in-process cache
	Size int
	// TTL bounds the age of in-process entries
	TTL time.Duration
	// Redis enables the shared user assignment cache when set
	Redis *redis.Client
	// RedisTTL bounds the age of shared entries
	RedisTTL time.Duration
	// KeyPrefix namespaces shared keys
	KeyPrefix string
}

// DefaultConfig returns the cache defaults
func DefaultConfig() Config {
	return Config{
		Size:      1000,
		TTL:       10 * time.Minute,
		RedisTTL:  15 * time.Minute,
		KeyPrefix: "redback:",
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Size <= 0 {
		c.Size = d.Size
	}
	if c.TTL <= 0 {
		c.TTL = d.TTL
	}
	if c.RedisTTL <= 0 {
		c.RedisTTL = d.RedisTTL
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = d.KeyPrefix
	}
	return c
}

// Cache key types, also used as metric labels
const (
	kindRole       = "role"
	kindPermission = "permission"
	kindOperation  = "operation"
	kindResource   = "resource"
	kindAssignment = "assignment"
	kindEffective  = "effective_roles"
)

// Manager caches reads of another rbac.Manager. Every write through the
// manager and every listener event it receives invalidates the affected
// entries.
type Manager struct {
	next rbac.Manager

	roles       *lru.LRU[string, rbac.Role]
	permissions *lru.LRU[string, *rbac.Permission]
	operations  *lru.LRU[string, *rbac.Operation]
	resources   *lru.LRU[string, *rbac.Resource]
	assignments *lru.LRU[string, rbac.UserAssignment]
	effective   *lru.LRU[string, []rbac.Role]

	redis     *redis.Client
	redisTTL  time.Duration
	keyPrefix string

	group   singleflight.Group
	logger  *observability.Logger
	metrics *observability.Metrics
}

var (
	_ rbac.Manager  = (*Manager)(nil)
	_ rbac.Listener = (*Manager)(nil)
)

// New wraps next and registers the cache as one of its listeners
func New(next rbac.Manager, cfg Config, logger *observability.Logger, metrics *observability.Metrics) *Manager {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = observability.NopLogger()
	}
	m := &Manager{
		next:        next,
		roles:       lru.NewLRU[string, rbac.Role](cfg.Size, nil, cfg.TTL),
		permissions: lru.NewLRU[string, *rbac.Permission](cfg.Size, nil, cfg.TTL),
		operations:  lru.NewLRU[string, *rbac.Operation](cfg.Size, nil, cfg.TTL),
		resources:   lru.NewLRU[string, *rbac.Resource](cfg.Size, nil, cfg.TTL),
		assignments: lru.NewLRU[string, rbac.UserAssignment](cfg.Size, nil, cfg.TTL),
		effective:   lru.NewLRU[string, []rbac.Role](cfg.Size, nil, cfg.TTL),
		redis:       cfg.Redis,
		redisTTL:    cfg.RedisTTL,
		keyPrefix:   cfg.KeyPrefix,
		logger:      logger.WithField("component", "rbac_cache"),
		metrics:     metrics,
	}
	next.AddListener(m)
	return m
}

// load returns the cached value for key or fetches it once, however many
// callers miss concurrently. Failed fetches are not cached.
func load[T any](m *Manager, cache *lru.LRU[string, T], kind, key string, fetch func() (T, error)) (T, error) {
	if v, ok := cache.Get(key); ok {
		m.metrics.CacheHit("l1", kind)
		return v, nil
	}
	m.metrics.CacheMiss("l1", kind)

	v, err, _ := m.group.Do(kind+":"+key, func() (interface{}, error) {
		val, err := fetch()
		if err != nil {
			return nil, err
		}
		cache.Add(key, val)
		return val, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

// assignmentSnapshot is the shared cache form of a user assignment
type assignmentSnapshot struct {
	Principal string   `json:"principal"`
	RoleNames []string `json:"roleNames"`
	Permanent bool     `json:"permanent"`
}

func (m *Manager) assignmentKey(principal string) string {
	return m.keyPrefix + kindAssignment + ":" + principal
}

func (m *Manager) readShared(ctx context.Context, principal string) (rbac.UserAssignment, bool) {
	if m.redis == nil {
		return nil, false
	}
	data, err := m.redis.Get(ctx, m.assignmentKey(principal)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			m.logger.WithError(err).Warn("Failed to read shared assignment cache")
		}
		m.metrics.CacheMiss("l2", kindAssignment)
		return nil, false
	}
	var snap assignmentSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		m.metrics.CacheMiss("l2", kindAssignment)
		return nil, false
	}
	m.metrics.CacheHit("l2", kindAssignment)

	a := rbac.NewUserAssignment(snap.Principal)
	a.SetRoleNames(snap.RoleNames)
	a.SetPermanent(snap.Permanent)
	return a, true
}

func (m *Manager) writeShared(ctx context.Context, a rbac.UserAssignment) {
	if m.redis == nil {
		return
	}
	data, err := json.Marshal(assignmentSnapshot{
		Principal: a.Principal(),
		RoleNames: a.RoleNames(),
		Permanent: a.Permanent(),
	})
	if err != nil {
		return
	}
	if err := m.redis.Set(ctx, m.assignmentKey(a.Principal()), data, m.redisTTL).Err(); err != nil {
		m.logger.WithError(err).Warn("Failed to write shared assignment cache")
	}
}

func (m *Manager) deleteShared(principal string) {
	if m.redis == nil {
		return
	}
	if err := m.redis.Del(context.Background(), m.assignmentKey(principal)).Err(); err != nil {
		m.logger.WithError(err).WithField("principal", principal).Warn("Failed to invalidate shared assignment cache")
	}
}

func (m *Manager) purgeShared() {
	if m.redis == nil {
		return
	}
	ctx := context.Background()
	iter := m.redis.Scan(ctx, 0, m.keyPrefix+kindAssignment+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		m.logger.WithError(err).Warn("Failed to scan shared assignment cache")
		return
	}
	if len(keys) > 0 {
		if err := m.redis.Del(ctx, keys...).Err(); err != nil {
			m.logger.WithError(err).Warn("Failed to purge shared assignment cache")
		}
	}
}

// Invalidation

func (m *Manager) invalidateRole(name string) {
	m.roles.Remove(name)
	// hierarchy changes can reach any principal
	m.effective.Purge()
	m.metrics.CacheInvalidated(kindRole)
}

func (m *Manager) invalidatePermission(name string) {
	m.permissions.Remove(name)
	// roles embed their permissions
	m.roles.Purge()
	m.effective.Purge()
	m.metrics.CacheInvalidated(kindPermission)
}

func (m *Manager) invalidateAssignment(principal string) {
	m.assignments.Remove(principal)
	m.effective.Remove(principal)
	m.deleteShared(principal)
	m.metrics.CacheInvalidated(kindAssignment)
}

// Purge empties every cache layer
func (m *Manager) Purge() {
	m.roles.Purge()
	m.permissions.Purge()
	m.operations.Purge()
	m.resources.Purge()
	m.assignments.Purge()
	m.effective.Purge()
	m.purgeShared()
	m.metrics.CacheInvalidated("all")
}

// Listener

func (m *Manager) RBACInit(freshDB bool) {
	m.metrics.ListenerEvent("init")
	m.Purge()
}

func (m *Manager) RBACRoleSaved(role rbac.Role) {
	m.metrics.ListenerEvent("role_saved")
	m.invalidateRole(role.Name())
}

func (m *Manager) RBACRoleRemoved(role rbac.Role) {
	m.metrics.ListenerEvent("role_removed")
	m.invalidateRole(role.Name())
}

func (m *Manager) RBACPermissionSaved(p *rbac.Permission) {
	m.metrics.ListenerEvent("permission_saved")
	m.invalidatePermission(p.Name)
}

func (m *Manager) RBACPermissionRemoved(p *rbac.Permission) {
	m.metrics.ListenerEvent("permission_removed")
	m.invalidatePermission(p.Name)
}

func (m *Manager) RBACUserAssignmentSaved(a rbac.UserAssignment) {
	m.metrics.ListenerEvent("assignment_saved")
	m.invalidateAssignment(a.Principal())
}

func (m *Manager) RBACUserAssignmentRemoved(a rbac.UserAssignment) {
	m.metrics.ListenerEvent("assignment_removed")
	m.invalidateAssignment(a.Principal())
}

func (m *Manager) AddListener(listener rbac.Listener)    { m.next.AddListener(listener) }
func (m *Manager) RemoveListener(listener rbac.Listener) { m.next.RemoveListener(listener) }

// Roles

func (m *Manager) CreateRole(name string) rbac.Role { return m.next.CreateRole(name) }

func (m *Manager) SaveRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	saved, err := m.next.SaveRole(ctx, role)
	if role != nil {
		m.invalidateRole(role.Name())
	}
	return saved, err
}

func (m *Manager) SaveRoles(ctx context.Context, roles []rbac.Role) error {
	err := m.next.SaveRoles(ctx, roles)
	for _, role := range roles {
		if role != nil {
			m.invalidateRole(role.Name())
		}
	}
	return err
}

func (m *Manager) GetRole(ctx context.Context, name string) (rbac.Role, error) {
	return load(m, m.roles, kindRole, name, func() (rbac.Role, error) {
		return m.next.GetRole(ctx, name)
	})
}

func (m *Manager) GetRoles(ctx context.Context, names []string) (map[string]rbac.Role, error) {
	roles := make(map[string]rbac.Role, len(names))
	for _, name := range names {
		role, err := m.GetRole(ctx, name)
		if err != nil {
			return nil, err
		}
		roles[name] = role
	}
	return roles, nil
}

// RoleExists is never answered from the role cache: the wrapped manager may
// decide existence from a different source than GetRole.
func (m *Manager) RoleExists(ctx context.Context, name string) (bool, error) {
	return m.next.RoleExists(ctx, name)
}

func (m *Manager) RemoveRole(ctx context.Context, name string) error {
	err := m.next.RemoveRole(ctx, name)
	m.invalidateRole(name)
	return err
}

func (m *Manager) GetAllRoles(ctx context.Context) ([]rbac.Role, error) {
	return m.next.GetAllRoles(ctx)
}

func (m *Manager) GetAllAssignableRoles(ctx context.Context) ([]rbac.Role, error) {
	return m.next.GetAllAssignableRoles(ctx)
}

func (m *Manager) AddChildRole(ctx context.Context, role, child rbac.Role) error {
	err := m.next.AddChildRole(ctx, role, child)
	if role != nil {
		m.invalidateRole(role.Name())
	}
	return err
}

func (m *Manager) GetChildRoles(ctx context.Context, role rbac.Role) (map[string]rbac.Role, error) {
	return m.next.GetChildRoles(ctx, role)
}

func (m *Manager) GetParentRoles(ctx context.Context, role rbac.Role) (map[string]rbac.Role, error) {
	return m.next.GetParentRoles(ctx, role)
}

func (m *Manager) GetEffectiveRoles(ctx context.Context, role rbac.Role) ([]rbac.Role, error) {
	return m.next.GetEffectiveRoles(ctx, role)
}

// Permissions

func (m *Manager) CreatePermission(name string) *rbac.Permission { return m.next.CreatePermission(name) }

func (m *Manager) CreatePermissionFor(ctx context.Context, name, operationName, resourceIdentifier string) (*rbac.Permission, error) {
	return m.next.CreatePermissionFor(ctx, name, operationName, resourceIdentifier)
}

func (m *Manager) SavePermission(ctx context.Context, p *rbac.Permission) (*rbac.Permission, error) {
	saved, err := m.next.SavePermission(ctx, p)
	if p != nil {
		m.invalidatePermission(p.Name)
		if p.Operation != nil {
			m.operations.Remove(p.Operation.Name)
		}
		if p.Resource != nil {
			m.resources.Remove(p.Resource.Identifier)
		}
	}
	return saved, err
}

func (m *Manager) GetPermission(ctx context.Context, name string) (*rbac.Permission, error) {
	return load(m, m.permissions, kindPermission, name, func() (*rbac.Permission, error) {
		return m.next.GetPermission(ctx, name)
	})
}

func (m *Manager) GetAllPermissions(ctx context.Context) ([]*rbac.Permission, error) {
	return m.next.GetAllPermissions(ctx)
}

func (m *Manager) PermissionExists(ctx context.Context, name string) (bool, error) {
	if _, ok := m.permissions.Get(name); ok {
		m.metrics.CacheHit("l1", kindPermission)
		return true, nil
	}
	return m.next.PermissionExists(ctx, name)
}

func (m *Manager) RemovePermission(ctx context.Context, name string) error {
	err := m.next.RemovePermission(ctx, name)
	m.invalidatePermission(name)
	return err
}

// Operations

func (m *Manager) CreateOperation(name string) *rbac.Operation { return m.next.CreateOperation(name) }

func (m *Manager) SaveOperation(ctx context.Context, op *rbac.Operation) (*rbac.Operation, error) {
	saved, err := m.next.SaveOperation(ctx, op)
	if op != nil {
		m.operations.Remove(op.Name)
		m.metrics.CacheInvalidated(kindOperation)
	}
	return saved, err
}

func (m *Manager) GetOperation(ctx context.Context, name string) (*rbac.Operation, error) {
	return load(m, m.operations, kindOperation, name, func() (*rbac.Operation, error) {
		return m.next.GetOperation(ctx, name)
	})
}

func (m *Manager) GetAllOperations(ctx context.Context) ([]*rbac.Operation, error) {
	return m.next.GetAllOperations(ctx)
}

func (m *Manager) OperationExists(ctx context.Context, name string) (bool, error) {
	return m.next.OperationExists(ctx, name)
}

func (m *Manager) RemoveOperation(ctx context.Context, name string) error {
	err := m.next.RemoveOperation(ctx, name)
	m.operations.Remove(name)
	m.metrics.CacheInvalidated(kindOperation)
	return err
}

// Resources

func (m *Manager) CreateResource(identifier string) *rbac.Resource {
	return m.next.CreateResource(identifier)
}

func (m *Manager) SaveResource(ctx context.Context, res *rbac.Resource) (*rbac.Resource, error) {
	saved, err := m.next.SaveResource(ctx, res)
	if res != nil {
		m.resources.Remove(res.Identifier)
		m.metrics.CacheInvalidated(kindResource)
	}
	return saved, err
}

func (m *Manager) GetResource(ctx context.Context, identifier string) (*rbac.Resource, error) {
	return load(m, m.resources, kindResource, identifier, func() (*rbac.Resource, error) {
		return m.next.GetResource(ctx, identifier)
	})
}

func (m *Manager) GetAllResources(ctx context.Context) ([]*rbac.Resource, error) {
	return m.next.GetAllResources(ctx)
}

func (m *Manager) ResourceExists(ctx context.Context, identifier string) (bool, error) {
	return m.next.ResourceExists(ctx, identifier)
}

func (m *Manager) RemoveResource(ctx context.Context, identifier string) error {
	err := m.next.RemoveResource(ctx, identifier)
	m.resources.Remove(identifier)
	m.metrics.CacheInvalidated(kindResource)
	return err
}

func (m *Manager) GetGlobalResource(ctx context.Context) (*rbac.Resource, error) {
	return load(m, m.resources, kindResource, rbac.GlobalResourceIdentifier, func() (*rbac.Resource, error) {
		return m.next.GetGlobalResource(ctx)
	})
}

// User assignments

func (m *Manager) CreateUserAssignment(principal string) rbac.UserAssignment {
	return m.next.CreateUserAssignment(principal)
}

func (m *Manager) SaveUserAssignment(ctx context.Context, a rbac.UserAssignment) (rbac.UserAssignment, error) {
	saved, err := m.next.SaveUserAssignment(ctx, a)
	if a != nil {
		m.invalidateAssignment(a.Principal())
	}
	return saved, err
}

// GetUserAssignment reads through the in-process cache, then the shared
// cache, then the wrapped manager
func (m *Manager) GetUserAssignment(ctx context.Context, principal string) (rbac.UserAssignment, error) {
	return load(m, m.assignments, kindAssignment, principal, func() (rbac.UserAssignment, error) {
		if a, ok := m.readShared(ctx, principal); ok {
			return a, nil
		}
		a, err := m.next.GetUserAssignment(ctx, principal)
		if err != nil {
			return nil, err
		}
		m.writeShared(ctx, a)
		return a, nil
	})
}

func (m *Manager) UserAssignmentExists(ctx context.Context, principal string) (bool, error) {
	if _, ok := m.assignments.Get(principal); ok {
		m.metrics.CacheHit("l1", kindAssignment)
		return true, nil
	}
	return m.next.UserAssignmentExists(ctx, principal)
}

func (m *Manager) GetAllUserAssignments(ctx context.Context) ([]rbac.UserAssignment, error) {
	return m.next.GetAllUserAssignments(ctx)
}

func (m *Manager) GetUserAssignmentsForRoles(ctx context.Context, roleNames []string) ([]rbac.UserAssignment, error) {
	return m.next.GetUserAssignmentsForRoles(ctx, roleNames)
}

func (m *Manager) RemoveUserAssignment(ctx context.Context, principal string) error {
	err := m.next.RemoveUserAssignment(ctx, principal)
	m.invalidateAssignment(principal)
	return err
}

// Resolution

func (m *Manager) GetAssignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	return m.next.GetAssignedRoles(ctx, principal)
}

func (m *Manager) GetEffectivelyAssignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	return load(m, m.effective, kindEffective, principal, func() ([]rbac.Role, error) {
		return m.next.GetEffectivelyAssignedRoles(ctx, principal)
	})
}

func (m *Manager) GetEffectivelyUnassignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	return m.next.GetEffectivelyUnassignedRoles(ctx, principal)
}

func (m *Manager) GetUnassignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	return m.next.GetUnassignedRoles(ctx, principal)
}

func (m *Manager) GetAssignedPermissions(ctx context.Context, principal string) ([]*rbac.Permission, error) {
	return m.next.GetAssignedPermissions(ctx, principal)
}

func (m *Manager) GetAssignedPermissionMap(ctx context.Context, principal string) (map[string][]*rbac.Permission, error) {
	return m.next.GetAssignedPermissionMap(ctx, principal)
}

func (m *Manager) EraseDatabase(ctx context.Context) error {
	err := m.next.EraseDatabase(ctx)
	m.Purge()
	if err != nil {
		return fmt.Errorf("failed to erase rbac data: %w", err)
	}
	return nil
}
