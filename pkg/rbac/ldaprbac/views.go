package ldaprbac

import (
	"sort"

	"github.com/platinummonkey/redback/pkg/rbac"
)

// DirectoryRole is a read-only role sourced from a directory group mapping.
// It carries only a name: no description, permissions or child roles. It is
// always assignable and permanent, and every mutator is a no-op.
type DirectoryRole struct {
	name string
}

var _ rbac.Role = DirectoryRole{}

// NewDirectoryRole creates a view of the named role
func NewDirectoryRole(name string) DirectoryRole {
	return DirectoryRole{name: name}
}

func (r DirectoryRole) Name() string                      { return r.name }
func (r DirectoryRole) Description() string               { return "" }
func (r DirectoryRole) Assignable() bool                  { return true }
func (r DirectoryRole) Permanent() bool                   { return true }
func (r DirectoryRole) Permissions() []*rbac.Permission   { return []*rbac.Permission{} }
func (r DirectoryRole) ChildRoleNames() []string          { return []string{} }
func (r DirectoryRole) HasChildRoles() bool               { return false }
func (r DirectoryRole) SetDescription(string)             {}
func (r DirectoryRole) SetAssignable(bool)                {}
func (r DirectoryRole) SetPermanent(bool)                 {}
func (r DirectoryRole) AddPermission(*rbac.Permission)    {}
func (r DirectoryRole) RemovePermission(*rbac.Permission) {}
func (r DirectoryRole) SetPermissions([]*rbac.Permission) {}
func (r DirectoryRole) AddChildRoleName(string)           {}
func (r DirectoryRole) SetChildRoleNames([]string)        {}

func directoryRoles(names []string) []rbac.Role {
	roles := make([]rbac.Role, 0, len(names))
	for _, name := range names {
		roles = append(roles, NewDirectoryRole(name))
	}
	return roles
}

// DirectoryUserAssignment is an immutable assignment built from directory
// group membership. Mutators are no-ops.
type DirectoryUserAssignment struct {
	principal string
	roleNames []string
}

var _ rbac.UserAssignment = DirectoryUserAssignment{}

// NewDirectoryUserAssignment copies roleNames, dropping duplicates
func NewDirectoryUserAssignment(principal string, roleNames []string) DirectoryUserAssignment {
	seen := make(map[string]bool, len(roleNames))
	names := make([]string, 0, len(roleNames))
	for _, n := range roleNames {
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		names = append(names, n)
	}
	sort.Strings(names)
	return DirectoryUserAssignment{principal: principal, roleNames: names}
}

func (a DirectoryUserAssignment) Principal() string { return a.principal }

func (a DirectoryUserAssignment) RoleNames() []string {
	out := make([]string, len(a.roleNames))
	copy(out, a.roleNames)
	return out
}

func (a DirectoryUserAssignment) Permanent() bool       { return false }
func (a DirectoryUserAssignment) AddRoleName(string)    {}
func (a DirectoryUserAssignment) RemoveRoleName(string) {}
func (a DirectoryUserAssignment) SetRoleNames([]string) {}
func (a DirectoryUserAssignment) SetPermanent(bool)     {}
