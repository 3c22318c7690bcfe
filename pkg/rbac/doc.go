// Package rbac defines the role-based access control model and the Manager
// contract shared by every RBAC backend.
//
// # Model
//
// An Operation is something a principal can do and a Resource is what it is
// done to. A Permission pairs one operation with one resource; a permission
// on the global resource ("*") applies to every resource. A Role bundles
// permissions and may name child roles, whose permissions it inherits. A
// UserAssignment links a principal to role names.
//
// # Backends
//
//	sqlstore  - SQL storage (postgres, sqlite3)
//	cached    - read-through cache decorator with optional Redis sharing
//	ldaprbac  - LDAP-backed roles and membership over a local store
//
// Writes are announced to registered Listeners; a panicking listener is
// logged and does not affect the others.
//
// # Checking permissions
//
//	checker := rbac.NewChecker(manager)
//	result, err := checker.CheckPermission(ctx, rbac.PermissionCheck{
//		Principal: "alice",
//		Operation: "edit",
//		Resource:  "project-x",
//	})
//	if err == nil && result.Allowed {
//		// proceed
//	}
package rbac
