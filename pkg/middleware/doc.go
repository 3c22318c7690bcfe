// Package middleware provides authentication and authorization middleware for
// the admin API.
//
// The API does not authenticate callers itself. An authenticating proxy sets
// the caller's principal in a header; PrincipalMiddleware copies it into the
// request context and RequirePermission checks it against the RBAC data:
//
//	principals := middleware.NewPrincipalMiddleware("X-Remote-User", false)
//	server.Use(principals.Handler,
//		middleware.RequirePermission(rbac.NewChecker(manager), "user-management-rbac-admin", rbac.GlobalResourceIdentifier))
package middleware
