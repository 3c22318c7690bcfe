// Package rolemapper translates between directory groups and RBAC role names
// and reads or writes group membership on behalf of the RBAC layer.
package rolemapper

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-ldap/ldap/v3"

	"github.com/platinummonkey/redback/pkg/directory"
	"github.com/platinummonkey/redback/pkg/observability"
)

// RoleMapper maps directory groups to role names. The directory is the source
// of truth for which groups exist and who belongs to them.
type RoleMapper interface {
	// GetGroupMappings returns a copy of the group → role mapping
	GetGroupMappings(ctx context.Context) (map[string]string, error)
	GetAllGroups(ctx context.Context) ([]string, error)
	// GetAllRoles returns the mapped roles of every existing group. Unmapped
	// groups are skipped.
	GetAllRoles(ctx context.Context) ([]string, error)
	GetGroups(ctx context.Context, username string) ([]string, error)
	GetRoles(ctx context.Context, username string) ([]string, error)
	// SaveRole creates the group backing role and reports whether it was created
	SaveRole(ctx context.Context, role string) (bool, error)
	RemoveRole(ctx context.Context, role string) error
	// SaveUserRole adds username to the group backing role and reports whether
	// the membership is new
	SaveUserRole(ctx context.Context, role, username string) (bool, error)
	RemoveUserRole(ctx context.Context, role, username string) error
	RemoveAllRoles(ctx context.Context) error
}

// MappingError wraps every directory failure seen by the mapper
type MappingError struct {
	Op  string
	Err error
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("role mapping %s: %v", e.Op, e.Err)
}

func (e *MappingError) Unwrap() error { return e.Err }

// LDAPRoleMapper implements RoleMapper against an LDAP directory. Group
// mappings are held in memory and seeded from configuration.
type LDAPRoleMapper struct {
	connections directory.ConnectionFactory
	logger      *observability.Logger
	metrics     *observability.Metrics

	mu       sync.RWMutex
	mappings map[string]string
}

var _ RoleMapper = (*LDAPRoleMapper)(nil)

// Option customizes an LDAPRoleMapper
type Option func(*LDAPRoleMapper)

// WithLogger sets the mapper logger
func WithLogger(logger *observability.Logger) Option {
	return func(m *LDAPRoleMapper) { m.logger = logger }
}

// WithMetrics records directory call durations
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *LDAPRoleMapper) { m.metrics = metrics }
}

// NewLDAPRoleMapper creates a mapper with the given group → role mapping
func NewLDAPRoleMapper(connections directory.ConnectionFactory, mappings map[string]string, opts ...Option) *LDAPRoleMapper {
	m := &LDAPRoleMapper{
		connections: connections,
		logger:      observability.NopLogger(),
		mappings:    copyMappings(mappings),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func copyMappings(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (m *LDAPRoleMapper) GetGroupMappings(ctx context.Context) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return copyMappings(m.mappings), nil
}

// AddGroupMapping maps group to role, replacing any previous role
func (m *LDAPRoleMapper) AddGroupMapping(group, role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings[group] = role
}

// RemoveGroupMapping forgets the mapping of group
func (m *LDAPRoleMapper) RemoveGroupMapping(group string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.mappings, group)
}

// SetGroupMappings replaces every mapping
func (m *LDAPRoleMapper) SetGroupMappings(mappings map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mappings = copyMappings(mappings)
}

// groupsForRole returns the mapped groups of role in sorted order
func (m *LDAPRoleMapper) groupsForRole(role string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var groups []string
	for group, mapped := range m.mappings {
		if mapped == role {
			groups = append(groups, group)
		}
	}
	sort.Strings(groups)
	return groups
}

// groupForRole returns the group that backs role when writing
func (m *LDAPRoleMapper) groupForRole(role string) (string, bool) {
	groups := m.groupsForRole(role)
	if len(groups) == 0 {
		return "", false
	}
	return groups[0], true
}

// rolesFor maps groups to distinct, sorted role names
func (m *LDAPRoleMapper) rolesFor(groups []string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	seen := make(map[string]bool)
	roles := []string{}
	for _, group := range groups {
		role, ok := m.mappings[group]
		if !ok || seen[role] {
			continue
		}
		seen[role] = true
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// do runs fn on a fresh connection, timing it and wrapping any failure
func (m *LDAPRoleMapper) do(ctx context.Context, op string, fn func(conn *directory.Connection) error) (err error) {
	defer func(start time.Time) { m.metrics.ObserveDirectory(op, start, err) }(time.Now())

	err = directory.WithConnection(ctx, m.connections, fn)
	if err != nil {
		m.logger.WithError(err).WithField("operation", op).Error("Directory operation failed")
		return &MappingError{Op: op, Err: err}
	}
	return nil
}

func (m *LDAPRoleMapper) searchGroups(conn *directory.Connection, filter string) ([]string, error) {
	cfg := conn.Config()
	req := ldap.NewSearchRequest(
		cfg.GroupsBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{cfg.GroupNameAttribute},
		nil,
	)
	result, err := conn.Conn().Search(req)
	if err != nil {
		return nil, fmt.Errorf("failed to search groups: %w", err)
	}
	groups := make([]string, 0, len(result.Entries))
	for _, e := range result.Entries {
		if name := e.GetEqualFoldAttributeValue(cfg.GroupNameAttribute); name != "" {
			groups = append(groups, name)
		}
	}
	sort.Strings(groups)
	return groups, nil
}

func (m *LDAPRoleMapper) GetAllGroups(ctx context.Context) ([]string, error) {
	var groups []string
	err := m.do(ctx, "get_all_groups", func(conn *directory.Connection) error {
		var err error
		groups, err = m.searchGroups(conn, fmt.Sprintf("(objectClass=%s)", directory.EscapeFilter(conn.Config().GroupObjectClass)))
		return err
	})
	return groups, err
}

func (m *LDAPRoleMapper) GetAllRoles(ctx context.Context) ([]string, error) {
	groups, err := m.GetAllGroups(ctx)
	if err != nil {
		return nil, err
	}
	return m.rolesFor(groups), nil
}

func (m *LDAPRoleMapper) GetGroups(ctx context.Context, username string) ([]string, error) {
	var groups []string
	err := m.do(ctx, "get_groups", func(conn *directory.Connection) error {
		cfg := conn.Config()
		filter := fmt.Sprintf("(&(objectClass=%s)(%s=%s))",
			directory.EscapeFilter(cfg.GroupObjectClass),
			cfg.GroupMemberAttribute,
			directory.EscapeFilter(cfg.UserDN(username)),
		)
		var err error
		groups, err = m.searchGroups(conn, filter)
		return err
	})
	return groups, err
}

func (m *LDAPRoleMapper) GetRoles(ctx context.Context, username string) ([]string, error) {
	groups, err := m.GetGroups(ctx, username)
	if err != nil {
		return nil, err
	}
	return m.rolesFor(groups), nil
}

// SaveRole creates the group entry for role. A role without a mapped group is
// a logged no-op.
func (m *LDAPRoleMapper) SaveRole(ctx context.Context, role string) (bool, error) {
	group, ok := m.groupForRole(role)
	if !ok {
		m.logger.WithField("role", role).Warn("No group mapped to role, not creating it in the directory")
		return false, nil
	}

	created := false
	err := m.do(ctx, "save_role", func(conn *directory.Connection) error {
		cfg := conn.Config()
		req := ldap.NewAddRequest(cfg.GroupDN(group), nil)
		req.Attribute("objectClass", []string{"top", cfg.GroupObjectClass})
		req.Attribute(cfg.GroupNameAttribute, []string{group})
		if cfg.DefaultGroupMember != "" {
			req.Attribute(cfg.GroupMemberAttribute, []string{cfg.DefaultGroupMember})
		}
		err := conn.Conn().Add(req)
		if ldap.IsErrorWithCode(err, ldap.LDAPResultEntryAlreadyExists) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to create group %s: %w", group, err)
		}
		created = true
		return nil
	})
	if created {
		m.logger.WithFields(map[string]interface{}{"role": role, "group": group}).Info("Created directory group for role")
	}
	return created, err
}

// RemoveRole deletes the group entry backing role, ignoring a missing entry
func (m *LDAPRoleMapper) RemoveRole(ctx context.Context, role string) error {
	group, ok := m.groupForRole(role)
	if !ok {
		return nil
	}
	return m.do(ctx, "remove_role", func(conn *directory.Connection) error {
		return deleteGroup(conn, group)
	})
}

func deleteGroup(conn *directory.Connection, group string) error {
	err := conn.Conn().Del(ldap.NewDelRequest(conn.Config().GroupDN(group), nil))
	if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to delete group %s: %w", group, err)
	}
	return nil
}

func (m *LDAPRoleMapper) SaveUserRole(ctx context.Context, role, username string) (bool, error) {
	group, ok := m.groupForRole(role)
	if !ok {
		m.logger.WithFields(map[string]interface{}{"role": role, "username": username}).
			Warn("No group mapped to role, not granting it in the directory")
		return false, nil
	}

	granted := false
	err := m.do(ctx, "save_user_role", func(conn *directory.Connection) error {
		cfg := conn.Config()
		req := ldap.NewModifyRequest(cfg.GroupDN(group), nil)
		req.Add(cfg.GroupMemberAttribute, []string{cfg.UserDN(username)})
		err := conn.Conn().Modify(req)
		if ldap.IsErrorWithCode(err, ldap.LDAPResultAttributeOrValueExists) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to add %s to group %s: %w", username, group, err)
		}
		granted = true
		return nil
	})
	return granted, err
}

// RemoveUserRole removes username from every group mapped to role
func (m *LDAPRoleMapper) RemoveUserRole(ctx context.Context, role, username string) error {
	groups := m.groupsForRole(role)
	if len(groups) == 0 {
		return nil
	}
	return m.do(ctx, "remove_user_role", func(conn *directory.Connection) error {
		cfg := conn.Config()
		for _, group := range groups {
			req := ldap.NewModifyRequest(cfg.GroupDN(group), nil)
			req.Delete(cfg.GroupMemberAttribute, []string{cfg.UserDN(username)})
			err := conn.Conn().Modify(req)
			if ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchAttribute) || ldap.IsErrorWithCode(err, ldap.LDAPResultNoSuchObject) {
				continue
			}
			if err != nil {
				return fmt.Errorf("failed to remove %s from group %s: %w", username, group, err)
			}
		}
		return nil
	})
}

// RemoveAllRoles deletes the group entry of every mapped group. Unmapped
// groups are left alone.
func (m *LDAPRoleMapper) RemoveAllRoles(ctx context.Context) error {
	mappings, _ := m.GetGroupMappings(ctx)
	groups := make([]string, 0, len(mappings))
	for group := range mappings {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	return m.do(ctx, "remove_all_roles", func(conn *directory.Connection) error {
		for _, group := range groups {
			if err := deleteGroup(conn, group); err != nil {
				return err
			}
		}
		return nil
	})
}
