package rbac

import (
	"context"
	"sort"
)

// RoleLookup fetches a role by name
type RoleLookup func(ctx context.Context, name string) (Role, error)

// EffectiveRoles walks the child-role graph below role and returns every
// reachable role except role itself. Cycles are tolerated. Child names that do
// not resolve are skipped.
func EffectiveRoles(ctx context.Context, role Role, lookup RoleLookup) ([]Role, error) {
	visited := map[string]bool{role.Name(): true}
	var out []Role
	var walk func(r Role) error
	walk = func(r Role) error {
		for _, childName := range r.ChildRoleNames() {
			if visited[childName] {
				continue
			}
			visited[childName] = true
			child, err := lookup(ctx, childName)
			if IsNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			out = append(out, child)
			if err := walk(child); err != nil {
				return err
			}
		}
		return nil
	}
	if err := walk(role); err != nil {
		return nil, err
	}
	SortRoles(out)
	return out, nil
}

// ExpandRoles returns roles plus every role reachable from them, deduplicated
func ExpandRoles(ctx context.Context, roles []Role, lookup RoleLookup) ([]Role, error) {
	seen := make(map[string]Role, len(roles))
	for _, r := range roles {
		seen[r.Name()] = r
	}
	for _, r := range roles {
		effective, err := EffectiveRoles(ctx, r, lookup)
		if err != nil {
			return nil, err
		}
		for _, e := range effective {
			if _, ok := seen[e.Name()]; !ok {
				seen[e.Name()] = e
			}
		}
	}
	out := make([]Role, 0, len(seen))
	for _, r := range seen {
		out = append(out, r)
	}
	SortRoles(out)
	return out, nil
}

// ParentRoles returns the roles in all that list role as a direct child
func ParentRoles(role Role, all []Role) map[string]Role {
	parents := make(map[string]Role)
	for _, candidate := range all {
		if candidate.Name() == role.Name() {
			continue
		}
		if containsString(candidate.ChildRoleNames(), role.Name()) {
			parents[candidate.Name()] = candidate
		}
	}
	return parents
}

// SubtractRoles returns the assignable roles of all whose names are not in exclude
func SubtractRoles(all []Role, exclude []Role) []Role {
	skip := make(map[string]bool, len(exclude))
	for _, r := range exclude {
		skip[r.Name()] = true
	}
	out := make([]Role, 0, len(all))
	for _, r := range all {
		if r.Assignable() && !skip[r.Name()] {
			out = append(out, r)
		}
	}
	return out
}

// CollectPermissions returns the distinct permissions granted by roles
func CollectPermissions(roles []Role) []*Permission {
	byName := make(map[string]*Permission)
	for _, r := range roles {
		for _, p := range r.Permissions() {
			byName[p.Name] = p
		}
	}
	out := make([]*Permission, 0, len(byName))
	for _, p := range byName {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// PermissionMap groups permissions by operation name
func PermissionMap(permissions []*Permission) map[string][]*Permission {
	out := make(map[string][]*Permission)
	for _, p := range permissions {
		if p.Operation == nil {
			continue
		}
		out[p.Operation.Name] = append(out[p.Operation.Name], p)
	}
	return out
}

// SortRoles orders roles by name
func SortRoles(roles []Role) {
	sort.Slice(roles, func(i, j int) bool { return roles[i].Name() < roles[j].Name() })
}
