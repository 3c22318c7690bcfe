// Package ldaprbac provides an rbac.Manager that takes roles and role
// membership from an LDAP directory and everything else from a local store.
//
// Role existence, role enumeration and assigned roles are answered from the
// directory through a role mapper. Permissions, operations, resources and
// role hierarchy come from the local store. When the directory is writable,
// role and assignment writes go to the directory first; a directory failure
// aborts the write before the local store is touched.
package ldaprbac

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/redback/pkg/directory"
	"github.com/platinummonkey/redback/pkg/directory/controller"
	"github.com/platinummonkey/redback/pkg/directory/rolemapper"
	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
	"github.com/platinummonkey/redback/pkg/users"
)

// Config wires the manager's collaborators
type Config struct {
	// Local answers everything the directory does not own
	Local       rbac.Manager
	RoleMapper  rolemapper.RoleMapper
	Users       users.Manager
	Connections directory.ConnectionFactory
	Controller  controller.Controller
	// Writable enables directory writes for roles and assignments
	Writable bool
	Logger   *observability.Logger
	Metrics  *observability.Metrics
}

// Manager is the directory-backed RBAC manager
type Manager struct {
	local       rbac.Manager
	mapper      rolemapper.RoleMapper
	users       users.Manager
	connections directory.ConnectionFactory
	controller  controller.Controller
	writable    bool
	logger      *observability.Logger
	metrics     *observability.Metrics

	// saveMu serializes SaveRole and SaveRoles
	saveMu sync.Mutex
}

var (
	_ rbac.Manager  = (*Manager)(nil)
	_ rbac.Listener = (*Manager)(nil)
)

// NewManager validates cfg and creates the manager
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Local == nil:
		return nil, errors.New("ldaprbac: local store is required")
	case cfg.RoleMapper == nil:
		return nil, errors.New("ldaprbac: role mapper is required")
	case cfg.Users == nil:
		return nil, errors.New("ldaprbac: user manager is required")
	case cfg.Connections == nil:
		return nil, errors.New("ldaprbac: directory connection factory is required")
	case cfg.Controller == nil:
		return nil, errors.New("ldaprbac: directory controller is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Manager{
		local:       cfg.Local,
		mapper:      cfg.RoleMapper,
		users:       cfg.Users,
		connections: cfg.Connections,
		controller:  cfg.Controller,
		writable:    cfg.Writable,
		logger:      logger.WithField("component", "ldaprbac"),
		metrics:     cfg.Metrics,
	}, nil
}

// Writable reports whether directory writes are enabled
func (m *Manager) Writable() bool { return m.writable }

func managerError(err error) error {
	if err == nil {
		return nil
	}
	return rbac.NewManagerError(err.Error(), err)
}

// Listeners

func (m *Manager) AddListener(listener rbac.Listener)    { m.local.AddListener(listener) }
func (m *Manager) RemoveListener(listener rbac.Listener) { m.local.RemoveListener(listener) }

// Roles

func (m *Manager) CreateRole(name string) rbac.Role { return m.local.CreateRole(name) }

// SaveRole creates the role's group in the directory when writable, then
// saves the role locally. A directory failure leaves the local store untouched.
func (m *Manager) SaveRole(ctx context.Context, role rbac.Role) (rbac.Role, error) {
	if role == nil {
		return nil, rbac.Invalid("role", "role is nil")
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.writable {
		if _, err := m.mapper.SaveRole(ctx, role.Name()); err != nil {
			return nil, managerError(err)
		}
	}

	saved, err := m.local.SaveRole(ctx, role)
	if err != nil && m.writable {
		m.logger.WithError(err).WithField("role", role.Name()).
			Warn("Role written to directory but local save failed")
	}
	return saved, err
}

// SaveRoles writes every role's group to the directory when writable, then
// saves them locally. The first directory failure aborts the whole batch.
func (m *Manager) SaveRoles(ctx context.Context, roles []rbac.Role) error {
	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	if m.writable {
		for _, role := range roles {
			if role == nil {
				continue
			}
			if _, err := m.mapper.SaveRole(ctx, role.Name()); err != nil {
				return managerError(err)
			}
		}
	}

	err := m.local.SaveRoles(ctx, roles)
	if err != nil && m.writable {
		m.logger.WithError(err).WithField("roles", len(roles)).
			Warn("Roles written to directory but local save failed")
	}
	return err
}

func (m *Manager) GetRole(ctx context.Context, name string) (rbac.Role, error) {
	return m.local.GetRole(ctx, name)
}

func (m *Manager) GetRoles(ctx context.Context, names []string) (map[string]rbac.Role, error) {
	return m.local.GetRoles(ctx, names)
}

// RoleExists reports whether a directory group maps to name. Blank names are
// never looked up.
func (m *Manager) RoleExists(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, nil
	}
	roles, err := m.mapper.GetAllRoles(ctx)
	if err != nil {
		return false, managerError(err)
	}
	for _, r := range roles {
		if r == name {
			return true, nil
		}
	}
	return false, nil
}

func (m *Manager) RemoveRole(ctx context.Context, name string) error {
	return m.local.RemoveRole(ctx, name)
}

// GetAllRoles returns one view per role mapped from an existing directory group
func (m *Manager) GetAllRoles(ctx context.Context) ([]rbac.Role, error) {
	names, err := m.mapper.GetAllRoles(ctx)
	if err != nil {
		return nil, managerError(err)
	}
	return directoryRoles(names), nil
}

// GetAllAssignableRoles returns one view per mapped role name, whether or not
// its group exists yet
func (m *Manager) GetAllAssignableRoles(ctx context.Context) ([]rbac.Role, error) {
	mappings, err := m.mapper.GetGroupMappings(ctx)
	if err != nil {
		return nil, managerError(err)
	}
	seen := make(map[string]bool, len(mappings))
	names := make([]string, 0, len(mappings))
	for _, role := range mappings {
		if !seen[role] {
			seen[role] = true
			names = append(names, role)
		}
	}
	sort.Strings(names)
	return directoryRoles(names), nil
}

func (m *Manager) AddChildRole(ctx context.Context, role, child rbac.Role) error {
	return m.local.AddChildRole(ctx, role, child)
}

func (m *Manager) GetChildRoles(ctx context.Context, role rbac.Role) (map[string]rbac.Role, error) {
	return m.local.GetChildRoles(ctx, role)
}

func (m *Manager) GetParentRoles(ctx context.Context, role rbac.Role) (map[string]rbac.Role, error) {
	return m.local.GetParentRoles(ctx, role)
}

func (m *Manager) GetEffectiveRoles(ctx context.Context, role rbac.Role) ([]rbac.Role, error) {
	return m.local.GetEffectiveRoles(ctx, role)
}

// Permissions, operations and resources live only in the local store

func (m *Manager) CreatePermission(name string) *rbac.Permission { return m.local.CreatePermission(name) }

func (m *Manager) CreatePermissionFor(ctx context.Context, name, operationName, resourceIdentifier string) (*rbac.Permission, error) {
	return m.local.CreatePermissionFor(ctx, name, operationName, resourceIdentifier)
}

func (m *Manager) SavePermission(ctx context.Context, p *rbac.Permission) (*rbac.Permission, error) {
	return m.local.SavePermission(ctx, p)
}

func (m *Manager) GetPermission(ctx context.Context, name string) (*rbac.Permission, error) {
	return m.local.GetPermission(ctx, name)
}

func (m *Manager) GetAllPermissions(ctx context.Context) ([]*rbac.Permission, error) {
	return m.local.GetAllPermissions(ctx)
}

func (m *Manager) PermissionExists(ctx context.Context, name string) (bool, error) {
	return m.local.PermissionExists(ctx, name)
}

func (m *Manager) RemovePermission(ctx context.Context, name string) error {
	return m.local.RemovePermission(ctx, name)
}

func (m *Manager) CreateOperation(name string) *rbac.Operation { return m.local.CreateOperation(name) }

func (m *Manager) SaveOperation(ctx context.Context, op *rbac.Operation) (*rbac.Operation, error) {
	return m.local.SaveOperation(ctx, op)
}

func (m *Manager) GetOperation(ctx context.Context, name string) (*rbac.Operation, error) {
	return m.local.GetOperation(ctx, name)
}

func (m *Manager) GetAllOperations(ctx context.Context) ([]*rbac.Operation, error) {
	return m.local.GetAllOperations(ctx)
}

func (m *Manager) OperationExists(ctx context.Context, name string) (bool, error) {
	return m.local.OperationExists(ctx, name)
}

func (m *Manager) RemoveOperation(ctx context.Context, name string) error {
	return m.local.RemoveOperation(ctx, name)
}

func (m *Manager) CreateResource(identifier string) *rbac.Resource {
	return m.local.CreateResource(identifier)
}

func (m *Manager) SaveResource(ctx context.Context, res *rbac.Resource) (*rbac.Resource, error) {
	return m.local.SaveResource(ctx, res)
}

func (m *Manager) GetResource(ctx context.Context, identifier string) (*rbac.Resource, error) {
	return m.local.GetResource(ctx, identifier)
}

func (m *Manager) GetAllResources(ctx context.Context) ([]*rbac.Resource, error) {
	return m.local.GetAllResources(ctx)
}

func (m *Manager) ResourceExists(ctx context.Context, identifier string) (bool, error) {
	return m.local.ResourceExists(ctx, identifier)
}

func (m *Manager) RemoveResource(ctx context.Context, identifier string) error {
	return m.local.RemoveResource(ctx, identifier)
}

func (m *Manager) GetGlobalResource(ctx context.Context) (*rbac.Resource, error) {
	return m.local.GetGlobalResource(ctx)
}

// User assignments

func (m *Manager) CreateUserAssignment(principal string) rbac.UserAssignment {
	return m.local.CreateUserAssignment(principal)
}

// SaveUserAssignment makes sure a local user exists for the principal and,
// when the directory is writable, grants every requested role the user does
// not already hold, creating missing role groups first. Roles the user holds
// but the assignment omits are left in place. The assignment is not written
// to the local store.
func (m *Manager) SaveUserAssignment(ctx context.Context, assignment rbac.UserAssignment) (rbac.UserAssignment, error) {
	if assignment == nil || strings.TrimSpace(assignment.Principal()) == "" {
		return nil, rbac.Invalid("user assignment", "principal is required")
	}
	principal := assignment.Principal()

	if err := m.ensureUser(ctx, principal); err != nil {
		return nil, managerError(err)
	}
	if !m.writable {
		return assignment, nil
	}

	allRoles, err := m.mapper.GetAllRoles(ctx)
	if err != nil {
		return nil, managerError(err)
	}
	currentRoles, err := m.mapper.GetRoles(ctx, principal)
	if err != nil {
		return nil, managerError(err)
	}
	existing := toSet(allRoles)
	held := toSet(currentRoles)

	log := m.logger.WithField("principal", principal)
	for _, role := range assignment.RoleNames() {
		if held[role] {
			continue
		}
		if !existing[role] {
			if _, err := m.mapper.SaveRole(ctx, role); err != nil {
				return nil, managerError(err)
			}
			existing[role] = true
		}
		granted, err := m.mapper.SaveUserRole(ctx, role, principal)
		if err != nil {
			return nil, managerError(err)
		}
		if !granted {
			log.WithField("role", role).Warn("Directory role not granted")
			continue
		}
		held[role] = true
		log.WithField("role", role).Info("Granted directory role")
	}
	return assignment, nil
}

func (m *Manager) ensureUser(ctx context.Context, principal string) error {
	exists, err := m.users.UserExists(ctx, principal)
	if err != nil {
		return fmt.Errorf("failed to check local user %s: %w", principal, err)
	}
	if exists {
		return nil
	}
	_, err = m.users.AddUser(ctx, m.users.CreateUser(principal, "", ""))
	if err != nil && !errors.Is(err, users.ErrUserExists) {
		return fmt.Errorf("failed to create local user %s: %w", principal, err)
	}
	return nil
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

func (m *Manager) GetUserAssignment(ctx context.Context, principal string) (rbac.UserAssignment, error) {
	return m.local.GetUserAssignment(ctx, principal)
}

func (m *Manager) UserAssignmentExists(ctx context.Context, principal string) (bool, error) {
	return m.local.UserAssignmentExists(ctx, principal)
}

// GetAllUserAssignments reads group membership for every user in one
// directory query and maps it to roles. Users whose groups are all unmapped
// are omitted.
func (m *Manager) GetAllUserAssignments(ctx context.Context) (_ []rbac.UserAssignment, err error) {
	defer func(start time.Time) { m.metrics.ObserveDirectory("find_users_with_groups", start, err) }(time.Now())

	var usersWithGroups map[string][]string
	err = directory.WithConnection(ctx, m.connections, func(conn *directory.Connection) error {
		var err error
		usersWithGroups, err = m.controller.FindUsersWithGroups(ctx, conn)
		return err
	})
	if err != nil {
		return nil, managerError(err)
	}

	mappings, err := m.mapper.GetGroupMappings(ctx)
	if err != nil {
		return nil, managerError(err)
	}

	principals := make([]string, 0, len(usersWithGroups))
	for principal := range usersWithGroups {
		principals = append(principals, principal)
	}
	sort.Strings(principals)

	assignments := make([]rbac.UserAssignment, 0, len(principals))
	for _, principal := range principals {
		var roles []string
		for _, group := range usersWithGroups[principal] {
			if role, ok := mappings[group]; ok {
				roles = append(roles, role)
			}
		}
		if len(roles) == 0 {
			continue
		}
		assignments = append(assignments, NewDirectoryUserAssignment(principal, roles))
	}
	return assignments, nil
}

func (m *Manager) GetUserAssignmentsForRoles(ctx context.Context, roleNames []string) ([]rbac.UserAssignment, error) {
	return m.local.GetUserAssignmentsForRoles(ctx, roleNames)
}

func (m *Manager) RemoveUserAssignment(ctx context.Context, principal string) error {
	return m.local.RemoveUserAssignment(ctx, principal)
}

// Resolution

// GetAssignedRoles returns the principal's roles as currently recorded in the
// directory
func (m *Manager) GetAssignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	names, err := m.mapper.GetRoles(ctx, principal)
	if err != nil {
		return nil, managerError(err)
	}
	return directoryRoles(names), nil
}

func (m *Manager) GetEffectivelyAssignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	return m.local.GetEffectivelyAssignedRoles(ctx, principal)
}

func (m *Manager) GetEffectivelyUnassignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	return m.local.GetEffectivelyUnassignedRoles(ctx, principal)
}

func (m *Manager) GetUnassignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	return m.local.GetUnassignedRoles(ctx, principal)
}

func (m *Manager) GetAssignedPermissions(ctx context.Context, principal string) ([]*rbac.Permission, error) {
	return m.local.GetAssignedPermissions(ctx, principal)
}

func (m *Manager) GetAssignedPermissionMap(ctx context.Context, principal string) (map[string][]*rbac.Permission, error) {
	return m.local.GetAssignedPermissionMap(ctx, principal)
}

// EraseDatabase removes every mapped role group from the directory when
// writable, then erases the local store. Directory failures are logged and
// do not stop the local erase.
func (m *Manager) EraseDatabase(ctx context.Context) error {
	if m.writable {
		if err := m.mapper.RemoveAllRoles(ctx); err != nil {
			m.logger.WithError(err).Warn("Skipping directory role removal during erase")
		}
	}
	return m.local.EraseDatabase(ctx)
}

// Listener events are forwarded to the local store when it listens

func (m *Manager) localListener() (rbac.Listener, bool) {
	l, ok := m.local.(rbac.Listener)
	return l, ok
}

func (m *Manager) RBACInit(freshDB bool) {
	if l, ok := m.localListener(); ok {
		l.RBACInit(freshDB)
	}
}

func (m *Manager) RBACRoleSaved(role rbac.Role) {
	if l, ok := m.localListener(); ok {
		l.RBACRoleSaved(role)
	}
}

func (m *Manager) RBACRoleRemoved(role rbac.Role) {
	if l, ok := m.localListener(); ok {
		l.RBACRoleRemoved(role)
	}
}

func (m *Manager) RBACPermissionSaved(p *rbac.Permission) {
	if l, ok := m.localListener(); ok {
		l.RBACPermissionSaved(p)
	}
}

func (m *Manager) RBACPermissionRemoved(p *rbac.Permission) {
	if l, ok := m.localListener(); ok {
		l.RBACPermissionRemoved(p)
	}
}

func (m *Manager) RBACUserAssignmentSaved(a rbac.UserAssignment) {
	if l, ok := m.localListener(); ok {
		l.RBACUserAssignmentSaved(a)
	}
}

func (m *Manager) RBACUserAssignmentRemoved(a rbac.UserAssignment) {
	if l, ok := m.localListener(); ok {
		l.RBACUserAssignmentRemoved(a)
	}
}
