package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/platinummonkey/redback/pkg/rbac"
)

func (s *Store) CreateUserAssignment(principal string) rbac.UserAssignment {
	return rbac.NewUserAssignment(principal)
}

func (s *Store) SaveUserAssignment(ctx context.Context, assignment rbac.UserAssignment) (_ rbac.UserAssignment, err error) {
	defer s.observe("save_user_assignment", time.Now(), &err)
	if assignment == nil || strings.TrimSpace(assignment.Principal()) == "" {
		return nil, rbac.Invalid("user assignment", "principal is required")
	}
	principal := assignment.Principal()
	now := time.Now().UTC()

	err = s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO rbac_user_assignments (principal, permanent, updated_at)
			VALUES ($1, $2, $3)
			ON CONFLICT (principal) DO UPDATE SET permanent = excluded.permanent, updated_at = excluded.updated_at`,
			principal, assignment.Permanent(), now,
		)
		if err != nil {
			return fmt.Errorf("failed to save user assignment %s: %w", principal, err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_user_assignment_roles WHERE principal = $1", principal); err != nil {
			return fmt.Errorf("failed to clear roles of %s: %w", principal, err)
		}
		for _, roleName := range assignment.RoleNames() {
			if _, err := tx.ExecContext(ctx,
				"INSERT INTO rbac_user_assignment_roles (principal, role_name) VALUES ($1, $2)", principal, roleName,
			); err != nil {
				return fmt.Errorf("failed to assign role %s to %s: %w", roleName, principal, err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if basic, ok := assignment.(*rbac.BasicUserAssignment); ok {
		basic.LastUpdated = now
	}
	s.listeners.FireUserAssignmentSaved(assignment)
	return assignment, nil
}

func (s *Store) GetUserAssignment(ctx context.Context, principal string) (_ rbac.UserAssignment, err error) {
	defer s.observe("get_user_assignment", time.Now(), &err)
	assignments, err := s.queryAssignments(ctx, "WHERE a.principal = $1", principal)
	if err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, rbac.NotFound("user assignment", principal)
	}
	return assignments[0], nil
}

func (s *Store) UserAssignmentExists(ctx context.Context, principal string) (bool, error) {
	return s.exists(ctx, "SELECT COUNT(*) FROM rbac_user_assignments WHERE principal = $1", principal)
}

func (s *Store) GetAllUserAssignments(ctx context.Context) (_ []rbac.UserAssignment, err error) {
	defer s.observe("get_all_user_assignments", time.Now(), &err)
	return s.queryAssignments(ctx, "")
}

// GetUserAssignmentsForRoles returns the assignments holding at least one of roleNames
func (s *Store) GetUserAssignmentsForRoles(ctx context.Context, roleNames []string) (_ []rbac.UserAssignment, err error) {
	defer s.observe("get_user_assignments_for_roles", time.Now(), &err)
	if len(roleNames) == 0 {
		return []rbac.UserAssignment{}, nil
	}
	return s.queryAssignments(ctx, fmt.Sprintf(`
		WHERE a.principal IN (
			SELECT principal FROM rbac_user_assignment_roles WHERE role_name IN (%s)
		)`, placeholders(len(roleNames))), toArgs(roleNames)...)
}

// queryAssignments loads assignments and their role names in one pass
func (s *Store) queryAssignments(ctx context.Context, where string, args ...interface{}) ([]rbac.UserAssignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT a.principal, a.permanent, a.updated_at, ar.role_name
		FROM rbac_user_assignments a
		LEFT JOIN rbac_user_assignment_roles ar ON ar.principal = a.principal
		`+where+`
		ORDER BY a.principal, ar.role_name`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query user assignments: %w", err)
	}
	defer rows.Close()

	out := []rbac.UserAssignment{}
	var current *rbac.BasicUserAssignment
	for rows.Next() {
		var (
			principal string
			permanent bool
			updatedAt time.Time
			roleName  sql.NullString
		)
		if err := rows.Scan(&principal, &permanent, &updatedAt, &roleName); err != nil {
			return nil, fmt.Errorf("failed to scan user assignment: %w", err)
		}
		if current == nil || current.Principal() != principal {
			current = rbac.NewUserAssignment(principal)
			current.SetPermanent(permanent)
			current.LastUpdated = updatedAt
			out = append(out, current)
		}
		if roleName.Valid {
			current.AddRoleName(roleName.String)
		}
	}
	return out, rows.Err()
}

func (s *Store) RemoveUserAssignment(ctx context.Context, principal string) (err error) {
	defer s.observe("remove_user_assignment", time.Now(), &err)
	assignment, err := s.GetUserAssignment(ctx, principal)
	if err != nil {
		return err
	}
	if assignment.Permanent() {
		return rbac.Invalid("user assignment", "cannot remove permanent user assignment "+principal)
	}
	err = s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_user_assignment_roles WHERE principal = $1", principal); err != nil {
			return fmt.Errorf("failed to remove user assignment roles: %w", err)
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM rbac_user_assignments WHERE principal = $1", principal); err != nil {
			return fmt.Errorf("failed to remove user assignment: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.listeners.FireUserAssignmentRemoved(assignment)
	return nil
}

// Resolution

// GetAssignedRoles returns the stored roles named by principal's assignment.
// Names that no longer resolve to a role are skipped.
func (s *Store) GetAssignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	assignment, err := s.GetUserAssignment(ctx, principal)
	if err != nil {
		return nil, err
	}
	roles := make([]rbac.Role, 0, len(assignment.RoleNames()))
	for _, name := range assignment.RoleNames() {
		role, err := s.GetRole(ctx, name)
		if rbac.IsNotFound(err) {
			s.logger.WithFields(map[string]interface{}{
				"principal": principal,
				"role":      name,
			}).Warn("Assigned role does not exist")
			continue
		}
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, nil
}

func (s *Store) GetEffectivelyAssignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	assigned, err := s.GetAssignedRoles(ctx, principal)
	if err != nil {
		return nil, err
	}
	return rbac.ExpandRoles(ctx, assigned, s.GetRole)
}

func (s *Store) GetUnassignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	assigned, err := s.GetAssignedRoles(ctx, principal)
	if err != nil {
		return nil, err
	}
	all, err := s.GetAllRoles(ctx)
	if err != nil {
		return nil, err
	}
	return rbac.SubtractRoles(all, assigned), nil
}

func (s *Store) GetEffectivelyUnassignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	effective, err := s.GetEffectivelyAssignedRoles(ctx, principal)
	if err != nil {
		return nil, err
	}
	all, err := s.GetAllRoles(ctx)
	if err != nil {
		return nil, err
	}
	return rbac.SubtractRoles(all, effective), nil
}

func (s *Store) GetAssignedPermissions(ctx context.Context, principal string) ([]*rbac.Permission, error) {
	effective, err := s.GetEffectivelyAssignedRoles(ctx, principal)
	if err != nil {
		return nil, err
	}
	return rbac.CollectPermissions(effective), nil
}

func (s *Store) GetAssignedPermissionMap(ctx context.Context, principal string) (map[string][]*rbac.Permission, error) {
	permissions, err := s.GetAssignedPermissions(ctx, principal)
	if err != nil {
		return nil, err
	}
	return rbac.PermissionMap(permissions), nil
}
