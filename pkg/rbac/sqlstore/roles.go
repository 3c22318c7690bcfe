package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/redback/pkg/rbac"
)

func (s *Store) CreateRole(name string) rbac.Role {
	return rbac.NewRole(name)
}

func validateRole(role rbac.Role) error {
	if role == nil || strings.TrimSpace(role.Name()) == "" {
		return rbac.Invalid("role", "name is required")
	}
	for _, p := range role.Permissions() {
		if err := validatePermission(p); err != nil {
			return err
		}
	}
	return nil
}

// saveRole writes the role row, its child names and its permissions
func saveRole(ctx context.Context, tx *sql.Tx, role rbac.Role) error {
	name := role.Name()
	_, err := tx.ExecContext(ctx, `
		INSERT INTO rbac_roles (name, description, assignable, permanent, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			description = excluded.description,
			assignable = excluded.assignable,
			permanent = excluded.permanent,
			updated_at = excluded.updated_at`,
		name, role.Description(), role.Assignable(), role.Permanent(), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save role %s: %w", name, err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_role_children WHERE role_name = $1", name); err != nil {
		return fmt.Errorf("failed to clear child roles of %s: %w", name, err)
	}
	for _, child := range role.ChildRoleNames() {
		if child == name {
			continue
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_role_children (role_name, child_name) VALUES ($1, $2)", name, child,
		); err != nil {
			return fmt.Errorf("failed to add child role %s to %s: %w", child, name, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_role_permissions WHERE role_name = $1", name); err != nil {
		return fmt.Errorf("failed to clear permissions of %s: %w", name, err)
	}
	for _, p := range role.Permissions() {
		if err := upsertPermission(ctx, tx, p); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO rbac_role_permissions (role_name, permission_name) VALUES ($1, $2)", name, p.Name,
		); err != nil {
			return fmt.Errorf("failed to grant permission %s to %s: %w", p.Name, name, err)
		}
	}
	return nil
}

func (s *Store) SaveRole(ctx context.Context, role rbac.Role) (_ rbac.Role, err error) {
	defer s.observe("save_role", time.Now(), &err)
	if err := validateRole(role); err != nil {
		return nil, err
	}
	if err := s.inTx(ctx, func(tx *sql.Tx) error { return saveRole(ctx, tx, role) }); err != nil {
		return nil, err
	}
	s.listeners.FireRoleSaved(role)
	return role, nil
}

// SaveRoles saves every role in one transaction
func (s *Store) SaveRoles(ctx context.Context, roles []rbac.Role) (err error) {
	defer s.observe("save_roles", time.Now(), &err)
	for _, role := range roles {
		if err := validateRole(role); err != nil {
			return err
		}
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		for _, role := range roles {
			if err := saveRole(ctx, tx, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, role := range roles {
		s.listeners.FireRoleSaved(role)
	}
	return nil
}

func (s *Store) GetRole(ctx context.Context, name string) (_ rbac.Role, err error) {
	defer s.observe("get_role", time.Now(), &err)
	return loadRole(ctx, s.db, name)
}

func loadRole(ctx context.Context, q queryer, name string) (rbac.Role, error) {
	var (
		description           string
		assignable, permanent bool
	)
	err := q.QueryRowContext(ctx,
		"SELECT description, assignable, permanent FROM rbac_roles WHERE name = $1", name,
	).Scan(&description, &assignable, &permanent)
	if err == sql.ErrNoRows {
		return nil, rbac.NotFound("role", name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}

	role := rbac.NewRole(name)
	role.SetDescription(description)
	role.SetAssignable(assignable)
	role.SetPermanent(permanent)

	children, err := queryStrings(ctx, q,
		"SELECT child_name FROM rbac_role_children WHERE role_name = $1 ORDER BY child_name", name)
	if err != nil {
		return nil, fmt.Errorf("failed to load child roles of %s: %w", name, err)
	}
	role.SetChildRoleNames(children)

	permissions, err := queryPermissions(ctx, q,
		"SELECT "+permissionColumns+permissionJoins+`
		JOIN rbac_role_permissions rp ON rp.permission_name = p.name
		WHERE rp.role_name = $1
		ORDER BY p.name`, name)
	if err != nil {
		return nil, err
	}
	role.SetPermissions(permissions)
	return role, nil
}

// GetRoles loads the named roles keyed by name. Any missing name is an error.
func (s *Store) GetRoles(ctx context.Context, names []string) (map[string]rbac.Role, error) {
	out := make(map[string]rbac.Role, len(names))
	for _, name := range names {
		role, err := s.GetRole(ctx, name)
		if err != nil {
			return nil, err
		}
		out[name] = role
	}
	return out, nil
}

func (s *Store) RoleExists(ctx context.Context, name string) (bool, error) {
	if strings.TrimSpace(name) == "" {
		return false, nil
	}
	return s.exists(ctx, "SELECT COUNT(*) FROM rbac_roles WHERE name = $1", name)
}

// RemoveRole deletes the role and every child link pointing to or from it.
// User assignments naming the role are left untouched.
func (s *Store) RemoveRole(ctx context.Context, name string) (err error) {
	defer s.observe("remove_role", time.Now(), &err)
	role, err := s.GetRole(ctx, name)
	if err != nil {
		return err
	}
	if role.Permanent() {
		return rbac.Invalid("role", "cannot remove permanent role "+name)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		stmts := []string{
			"DELETE FROM rbac_role_children WHERE role_name = $1 OR child_name = $1",
			"DELETE FROM rbac_role_permissions WHERE role_name = $1",
			"DELETE FROM rbac_roles WHERE name = $1",
		}
		for _, stmt := range stmts {
			if _, err := tx.ExecContext(ctx, stmt, name); err != nil {
				return fmt.Errorf("failed to remove role %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.listeners.FireRoleRemoved(role)
	return nil
}

func (s *Store) GetAllRoles(ctx context.Context) (_ []rbac.Role, err error) {
	defer s.observe("get_all_roles", time.Now(), &err)
	names, err := queryStrings(ctx, s.db, "SELECT name FROM rbac_roles ORDER BY name")
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	roles := make([]rbac.Role, 0, len(names))
	for _, name := range names {
		role, err := loadRole(ctx, s.db, name)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *Store) GetAllAssignableRoles(ctx context.Context) ([]rbac.Role, error) {
	all, err := s.GetAllRoles(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]rbac.Role, 0, len(all))
	for _, r := range all {
		if r.Assignable() {
			out = append(out, r)
		}
	}
	return out, nil
}

// AddChildRole records child as a direct child of role and saves role
func (s *Store) AddChildRole(ctx context.Context, role, child rbac.Role) error {
	role.AddChildRoleName(child.Name())
	_, err := s.SaveRole(ctx, role)
	return err
}

// GetChildRoles returns the direct children of role that exist in the store
func (s *Store) GetChildRoles(ctx context.Context, role rbac.Role) (map[string]rbac.Role, error) {
	out := make(map[string]rbac.Role)
	for _, name := range role.ChildRoleNames() {
		child, err := s.GetRole(ctx, name)
		if rbac.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[name] = child
	}
	return out, nil
}

func (s *Store) GetParentRoles(ctx context.Context, role rbac.Role) (map[string]rbac.Role, error) {
	all, err := s.GetAllRoles(ctx)
	if err != nil {
		return nil, err
	}
	return rbac.ParentRoles(role, all), nil
}

func (s *Store) GetEffectiveRoles(ctx context.Context, role rbac.Role) ([]rbac.Role, error) {
	return rbac.EffectiveRoles(ctx, role, s.GetRole)
}
