package rbac

import "context"

// Manager is the full RBAC contract shared by the local store, its cache and
// the directory-backed manager.
type Manager interface {
	AddListener(listener Listener)
	RemoveListener(listener Listener)

	// Roles
	CreateRole(name string) Role
	SaveRole(ctx context.Context, role Role) (Role, error)
	SaveRoles(ctx context.Context, roles []Role) error
	GetRole(ctx context.Context, name string) (Role, error)
	GetRoles(ctx context.Context, names []string) (map[string]Role, error)
	RoleExists(ctx context.Context, name string) (bool, error)
	RemoveRole(ctx context.Context, name string) error
	GetAllRoles(ctx context.Context) ([]Role, error)
	GetAllAssignableRoles(ctx context.Context) ([]Role, error)
	AddChildRole(ctx context.Context, role, child Role) error
	GetChildRoles(ctx context.Context, role Role) (map[string]Role, error)
	GetParentRoles(ctx context.Context, role Role) (map[string]Role, error)
	GetEffectiveRoles(ctx context.Context, role Role) ([]Role, error)

	// Permissions
	CreatePermission(name string) *Permission
	CreatePermissionFor(ctx context.Context, name, operationName, resourceIdentifier string) (*Permission, error)
	SavePermission(ctx context.Context, permission *Permission) (*Permission, error)
	GetPermission(ctx context.Context, name string) (*Permission, error)
	GetAllPermissions(ctx context.Context) ([]*Permission, error)
	PermissionExists(ctx context.Context, name string) (bool, error)
	RemovePermission(ctx context.Context, name string) error

	// Operations
	CreateOperation(name string) *Operation
	SaveOperation(ctx context.Context, operation *Operation) (*Operation, error)
	GetOperation(ctx context.Context, name string) (*Operation, error)
	GetAllOperations(ctx context.Context) ([]*Operation, error)
	OperationExists(ctx context.Context, name string) (bool, error)
	RemoveOperation(ctx context.Context, name string) error

	// Resources
	CreateResource(identifier string) *Resource
	SaveResource(ctx context.Context, resource *Resource) (*Resource, error)
	GetResource(ctx context.Context, identifier string) (*Resource, error)
	GetAllResources(ctx context.Context) ([]*Resource, error)
	ResourceExists(ctx context.Context, identifier string) (bool, error)
	RemoveResource(ctx context.Context, identifier string) error
	GetGlobalResource(ctx context.Context) (*Resource, error)

	// User assignments
	CreateUserAssignment(principal string) UserAssignment
	SaveUserAssignment(ctx context.Context, assignment UserAssignment) (UserAssignment, error)
	GetUserAssignment(ctx context.Context, principal string) (UserAssignment, error)
	UserAssignmentExists(ctx context.Context, principal string) (bool, error)
	GetAllUserAssignments(ctx context.Context) ([]UserAssignment, error)
	GetUserAssignmentsForRoles(ctx context.Context, roleNames []string) ([]UserAssignment, error)
	RemoveUserAssignment(ctx context.Context, principal string) error

	// Resolution
	GetAssignedRoles(ctx context.Context, principal string) ([]Role, error)
	GetEffectivelyAssignedRoles(ctx context.Context, principal string) ([]Role, error)
	GetEffectivelyUnassignedRoles(ctx context.Context, principal string) ([]Role, error)
	GetUnassignedRoles(ctx context.Context, principal string) ([]Role, error)
	GetAssignedPermissions(ctx context.Context, principal string) ([]*Permission, error)
	GetAssignedPermissionMap(ctx context.Context, principal string) (map[string][]*Permission, error)

	EraseDatabase(ctx context.Context) error
}
