package rbac

import (
	"context"
	"fmt"
	"sort"
	"time"
)

// PermissionCheck asks whether a principal may perform an operation on a resource
type PermissionCheck struct {
	Principal string `json:"principal"`
	Operation string `json:"operation"`
	Resource  string `json:"resource"`
}

// PermissionCheckResult is the outcome of a PermissionCheck
type PermissionCheckResult struct {
	Allowed      bool      `json:"allowed"`
	MatchedRoles []string  `json:"matchedRoles,omitempty"`
	Reason       string    `json:"reason"`
	CheckedAt    time.Time `json:"checkedAt"`
}

// Checker evaluates permission checks against a Manager. Assigned roles come
// from GetAssignedRoles; their permissions and children are read with GetRole
// and GetEffectiveRoles, so a directory-backed manager grants whatever its
// local definitions of the assigned roles grant.
type Checker struct {
	manager Manager
}

// NewChecker creates a checker over manager
func NewChecker(manager Manager) *Checker {
	return &Checker{manager: manager}
}

// CheckPermission reports whether check.Principal holds a permission for
// check.Operation on check.Resource. A permission on the global resource
// matches every resource. A principal without an assignment is denied.
func (c *Checker) CheckPermission(ctx context.Context, check PermissionCheck) (*PermissionCheckResult, error) {
	if check.Principal == "" || check.Operation == "" {
		return nil, Invalid("permission check", "principal and operation are required")
	}

	result := &PermissionCheckResult{CheckedAt: time.Now()}

	assigned, err := c.manager.GetAssignedRoles(ctx, check.Principal)
	if IsNotFound(err) {
		result.Reason = "no roles assigned"
		return result, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assigned roles: %w", err)
	}

	matched := make(map[string]bool)
	for _, view := range assigned {
		role, err := c.manager.GetRole(ctx, view.Name())
		if IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get role %s: %w", view.Name(), err)
		}
		effective, err := c.manager.GetEffectiveRoles(ctx, role)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve role %s: %w", role.Name(), err)
		}
		for _, r := range append([]Role{role}, effective...) {
			if grants(r, check) {
				matched[view.Name()] = true
				break
			}
		}
	}

	for name := range matched {
		result.MatchedRoles = append(result.MatchedRoles, name)
	}
	sort.Strings(result.MatchedRoles)
	result.Allowed = len(result.MatchedRoles) > 0
	if result.Allowed {
		result.Reason = fmt.Sprintf("granted by roles: %v", result.MatchedRoles)
	} else {
		result.Reason = "no matching role found"
	}
	return result, nil
}

func grants(role Role, check PermissionCheck) bool {
	for _, p := range role.Permissions() {
		if p.Operation == nil || p.Operation.Name != check.Operation {
			continue
		}
		if p.Resource.IsGlobal() || (p.Resource != nil && p.Resource.Identifier == check.Resource) {
			return true
		}
	}
	return false
}
