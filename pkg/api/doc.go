// Package api provides the HTTP administration API for an rbac.Manager.
//
// # Overview
//
// The API is built on gorilla/mux and works against any Manager: the SQL
// store, the cached decorator or the LDAP-backed manager.
//
// # Routes
//
//	GET    /rbac/roles                        all roles
//	GET    /rbac/roles/assignable             assignable roles
//	POST   /rbac/roles                        save a role
//	GET    /rbac/roles/{name}                 one role
//	GET    /rbac/roles/{name}/exists          {"exists": bool}
//	DELETE /rbac/roles/{name}                 remove a role
//	GET    /rbac/assignments                  every user assignment
//	GET    /rbac/users/{username}/roles       assigned roles (?effective=true)
//	PUT    /rbac/users/{username}/roles       replace assigned roles
//	GET    /rbac/users/{username}/permissions assigned permissions
//	GET    /rbac/permissions                  all permissions
//	GET    /rbac/operations                   all operations
//	GET    /rbac/resources                    all resources
//	POST   /rbac/check                        evaluate a permission check
//
// # Errors
//
// Errors are returned as {"error": "..."}. Unknown objects map to 404,
// invalid input to 400, directory failures to 502 and everything else to 500.
//
// # Usage
//
//	server := api.NewServer(manager, logger, metrics)
//	http.ListenAndServe(":8080", server)
package api
