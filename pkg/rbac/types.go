package rbac

import (
	"sort"
	"time"
)

// GlobalResourceIdentifier identifies the resource that matches every resource.
const GlobalResourceIdentifier = "*"

// Operation represents an action that a permission grants (e.g. "edit-repository")
type Operation struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Permanent   bool   `json:"permanent"`
}

// Resource represents something an operation can be applied to
type Resource struct {
	Identifier string `json:"identifier"`
	Pattern    bool   `json:"pattern"`
	Permanent  bool   `json:"permanent"`
}

// IsGlobal reports whether the resource is the global resource
func (r *Resource) IsGlobal() bool {
	return r != nil && r.Identifier == GlobalResourceIdentifier
}

// Permission binds an operation to a resource
type Permission struct {
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Operation   *Operation `json:"operation,omitempty"`
	Resource    *Resource  `json:"resource,omitempty"`
	Permanent   bool       `json:"permanent"`
}

// String returns a string representation of the permission
func (p *Permission) String() string {
	if p == nil {
		return ""
	}
	op, res := "", ""
	if p.Operation != nil {
		op = p.Operation.Name
	}
	if p.Resource != nil {
		res = p.Resource.Identifier
	}
	return p.Name + "[" + op + ":" + res + "]"
}

// Role is a named set of permissions that may include other roles by name.
//
// Implementations are free to ignore mutations: roles read from an external
// directory are views and silently drop every setter.
type Role interface {
	Name() string
	Description() string
	Assignable() bool
	Permanent() bool
	Permissions() []*Permission
	ChildRoleNames() []string
	HasChildRoles() bool

	SetDescription(description string)
	SetAssignable(assignable bool)
	SetPermanent(permanent bool)
	AddPermission(permission *Permission)
	RemovePermission(permission *Permission)
	SetPermissions(permissions []*Permission)
	AddChildRoleName(name string)
	SetChildRoleNames(names []string)
}

// UserAssignment links a principal to a set of role names
type UserAssignment interface {
	Principal() string
	RoleNames() []string
	Permanent() bool

	AddRoleName(name string)
	RemoveRoleName(name string)
	SetRoleNames(names []string)
	SetPermanent(permanent bool)
}

// BasicRole is the mutable Role used by persisted stores
type BasicRole struct {
	name           string
	description    string
	assignable     bool
	permanent      bool
	permissions    []*Permission
	childRoleNames []string
}

// NewRole creates an assignable, non-permanent role with the given name
func NewRole(name string) *BasicRole {
	return &BasicRole{name: name, assignable: true}
}

func (r *BasicRole) Name() string        { return r.name }
func (r *BasicRole) Description() string { return r.description }
func (r *BasicRole) Assignable() bool    { return r.assignable }
func (r *BasicRole) Permanent() bool     { return r.permanent }

// Permissions returns a copy of the role's permissions
func (r *BasicRole) Permissions() []*Permission {
	out := make([]*Permission, len(r.permissions))
	copy(out, r.permissions)
	return out
}

// ChildRoleNames returns a copy of the role's child role names
func (r *BasicRole) ChildRoleNames() []string {
	out := make([]string, len(r.childRoleNames))
	copy(out, r.childRoleNames)
	return out
}

func (r *BasicRole) HasChildRoles() bool { return len(r.childRoleNames) > 0 }

func (r *BasicRole) SetDescription(description string) { r.description = description }
func (r *BasicRole) SetAssignable(assignable bool)     { r.assignable = assignable }
func (r *BasicRole) SetPermanent(permanent bool)       { r.permanent = permanent }

// AddPermission adds a permission unless one with the same name is present
func (r *BasicRole) AddPermission(permission *Permission) {
	if permission == nil {
		return
	}
	for _, p := range r.permissions {
		if p.Name == permission.Name {
			return
		}
	}
	r.permissions = append(r.permissions, permission)
}

// RemovePermission removes the permission with the same name
func (r *BasicRole) RemovePermission(permission *Permission) {
	if permission == nil {
		return
	}
	kept := r.permissions[:0]
	for _, p := range r.permissions {
		if p.Name != permission.Name {
			kept = append(kept, p)
		}
	}
	r.permissions = kept
}

func (r *BasicRole) SetPermissions(permissions []*Permission) {
	r.permissions = nil
	for _, p := range permissions {
		r.AddPermission(p)
	}
}

func (r *BasicRole) AddChildRoleName(name string) {
	if name == "" || containsString(r.childRoleNames, name) {
		return
	}
	r.childRoleNames = append(r.childRoleNames, name)
}

func (r *BasicRole) SetChildRoleNames(names []string) {
	r.childRoleNames = nil
	for _, n := range names {
		r.AddChildRoleName(n)
	}
}

// BasicUserAssignment is the mutable UserAssignment used by persisted stores
type BasicUserAssignment struct {
	principal   string
	roleNames   []string
	permanent   bool
	LastUpdated time.Time
}

// NewUserAssignment creates an empty assignment for principal
func NewUserAssignment(principal string) *BasicUserAssignment {
	return &BasicUserAssignment{principal: principal}
}

func (a *BasicUserAssignment) Principal() string { return a.principal }
func (a *BasicUserAssignment) Permanent() bool   { return a.permanent }

// RoleNames returns the assigned role names in sorted order
func (a *BasicUserAssignment) RoleNames() []string {
	out := make([]string, len(a.roleNames))
	copy(out, a.roleNames)
	sort.Strings(out)
	return out
}

func (a *BasicUserAssignment) AddRoleName(name string) {
	if name == "" || containsString(a.roleNames, name) {
		return
	}
	a.roleNames = append(a.roleNames, name)
}

func (a *BasicUserAssignment) RemoveRoleName(name string) {
	kept := a.roleNames[:0]
	for _, n := range a.roleNames {
		if n != name {
			kept = append(kept, n)
		}
	}
	a.roleNames = kept
}

func (a *BasicUserAssignment) SetRoleNames(names []string) {
	a.roleNames = nil
	for _, n := range names {
		a.AddRoleName(n)
	}
}

func (a *BasicUserAssignment) SetPermanent(permanent bool) { a.permanent = permanent }

// RoleNames extracts the names of roles, preserving order
func RoleNames(roles []Role) []string {
	names := make([]string, 0, len(roles))
	for _, r := range roles {
		names = append(names, r.Name())
	}
	return names
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}
