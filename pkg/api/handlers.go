package api

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/redback/pkg/httputil"
	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
)

// RoleResponse is the JSON form of a role
type RoleResponse struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	Assignable  bool               `json:"assignable"`
	Permanent   bool               `json:"permanent"`
	Permissions []*rbac.Permission `json:"permissions"`
	ChildRoles  []string           `json:"childRoles"`
}

// SaveRoleRequest creates or replaces a role. Permissions are referenced by name.
type SaveRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Assignable  *bool    `json:"assignable,omitempty"`
	Permanent   bool     `json:"permanent"`
	Permissions []string `json:"permissions,omitempty"`
	ChildRoles  []string `json:"childRoles,omitempty"`
}

// AssignmentResponse is the JSON form of a user assignment
type AssignmentResponse struct {
	Principal string   `json:"principal"`
	Roles     []string `json:"roles"`
	Permanent bool     `json:"permanent"`
}

// AssignRolesRequest replaces the roles assigned to a user
type AssignRolesRequest struct {
	Roles []string `json:"roles"`
}

// ExistsResponse answers existence probes
type ExistsResponse struct {
	Exists bool `json:"exists"`
}

// RBACHandlers handles RBAC administration requests
type RBACHandlers struct {
	manager rbac.Manager
	checker *rbac.Checker
}

// NewRBACHandlers creates handlers over manager
func NewRBACHandlers(manager rbac.Manager) *RBACHandlers {
	return &RBACHandlers{
		manager: manager,
		checker: rbac.NewChecker(manager),
	}
}

// RegisterRoutes registers RBAC routes
func (h *RBACHandlers) RegisterRoutes(router *mux.Router) {
	// Roles
	router.HandleFunc("/rbac/roles", h.ListRoles).Methods("GET")
	router.HandleFunc("/rbac/roles", h.SaveRole).Methods("POST")
	router.HandleFunc("/rbac/roles/assignable", h.ListAssignableRoles).Methods("GET")
	router.HandleFunc("/rbac/roles/{name}", h.GetRole).Methods("GET")
	router.HandleFunc("/rbac/roles/{name}", h.RemoveRole).Methods("DELETE")
	router.HandleFunc("/rbac/roles/{name}/exists", h.RoleExists).Methods("GET")

	// Assignments
	router.HandleFunc("/rbac/assignments", h.ListAssignments).Methods("GET")
	router.HandleFunc("/rbac/users/{username}/roles", h.GetUserRoles).Methods("GET")
	router.HandleFunc("/rbac/users/{username}/roles", h.AssignUserRoles).Methods("PUT")
	router.HandleFunc("/rbac/users/{username}/permissions", h.GetUserPermissions).Methods("GET")

	// Permission catalogue
	router.HandleFunc("/rbac/permissions", h.ListPermissions).Methods("GET")
	router.HandleFunc("/rbac/operations", h.ListOperations).Methods("GET")
	router.HandleFunc("/rbac/resources", h.ListResources).Methods("GET")

	router.HandleFunc("/rbac/check", h.CheckPermission).Methods("POST")
}

// ListRoles lists every role, or only the roles named by ?names=a,b
func (h *RBACHandlers) ListRoles(w http.ResponseWriter, r *http.Request) {
	if names := httputil.QueryList(r, "names"); len(names) > 0 {
		found, err := h.manager.GetRoles(r.Context(), names)
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		roles := make([]rbac.Role, 0, len(found))
		for _, role := range found {
			roles = append(roles, role)
		}
		rbac.SortRoles(roles)
		httputil.WriteSuccess(w, toRoleResponses(roles))
		return
	}

	roles, err := h.manager.GetAllRoles(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, toRoleResponses(roles))
}

// ListAssignableRoles lists roles that may be assigned to users
func (h *RBACHandlers) ListAssignableRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.manager.GetAllAssignableRoles(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, toRoleResponses(roles))
}

// GetRole returns a single role
func (h *RBACHandlers) GetRole(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.PathStringOrError(w, r, "name")
	if !ok {
		return
	}
	role, err := h.manager.GetRole(r.Context(), name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, toRoleResponse(role))
}

// RoleExists reports whether a role exists
func (h *RBACHandlers) RoleExists(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.PathStringOrError(w, r, "name")
	if !ok {
		return
	}
	exists, err := h.manager.RoleExists(r.Context(), name)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, ExistsResponse{Exists: exists})
}

// SaveRole creates or replaces a role
func (h *RBACHandlers) SaveRole(w http.ResponseWriter, r *http.Request) {
	var req SaveRoleRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		httputil.WriteBadRequest(w, "role name is required")
		return
	}

	role := h.manager.CreateRole(strings.TrimSpace(req.Name))
	role.SetDescription(req.Description)
	if req.Assignable != nil {
		role.SetAssignable(*req.Assignable)
	}
	role.SetPermanent(req.Permanent)
	role.SetChildRoleNames(req.ChildRoles)
	for _, name := range req.Permissions {
		permission, err := h.manager.GetPermission(r.Context(), name)
		if rbac.IsNotFound(err) {
			httputil.WriteError(w, rbac.Invalid("role", "unknown permission "+name))
			return
		}
		if err != nil {
			httputil.WriteError(w, err)
			return
		}
		role.AddPermission(permission)
	}

	saved, err := h.manager.SaveRole(r.Context(), role)
	if err != nil {
		observability.FromContext(r.Context()).WithError(err).WithField("role", role.Name()).Warn("Failed to save role")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteCreated(w, toRoleResponse(saved))
}

// RemoveRole deletes a role
func (h *RBACHandlers) RemoveRole(w http.ResponseWriter, r *http.Request) {
	name, ok := httputil.PathStringOrError(w, r, "name")
	if !ok {
		return
	}
	if err := h.manager.RemoveRole(r.Context(), name); err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListAssignments lists every user assignment
func (h *RBACHandlers) ListAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := h.manager.GetAllUserAssignments(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	resp := make([]AssignmentResponse, 0, len(assignments))
	for _, a := range assignments {
		resp = append(resp, toAssignmentResponse(a))
	}
	httputil.WriteSuccess(w, resp)
}

// GetUserRoles lists the roles assigned to a user. With ?effective=true the
// roles reachable through child roles are included.
func (h *RBACHandlers) GetUserRoles(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.PathStringOrError(w, r, "username")
	if !ok {
		return
	}
	ctx := observability.WithPrincipal(r.Context(), username)

	var (
		roles []rbac.Role
		err   error
	)
	if r.URL.Query().Get("effective") == "true" {
		roles, err = h.manager.GetEffectivelyAssignedRoles(ctx, username)
	} else {
		roles, err = h.manager.GetAssignedRoles(ctx, username)
	}
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, toRoleResponses(roles))
}

// AssignUserRoles replaces the roles assigned to a user
func (h *RBACHandlers) AssignUserRoles(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.PathStringOrError(w, r, "username")
	if !ok {
		return
	}
	var req AssignRolesRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	ctx := observability.WithPrincipal(r.Context(), username)

	assignment := h.manager.CreateUserAssignment(username)
	assignment.SetRoleNames(req.Roles)
	saved, err := h.manager.SaveUserAssignment(ctx, assignment)
	if err != nil {
		observability.FromContext(ctx).WithError(err).Warn("Failed to save user assignment")
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, toAssignmentResponse(saved))
}

// GetUserPermissions lists the permissions granted to a user
func (h *RBACHandlers) GetUserPermissions(w http.ResponseWriter, r *http.Request) {
	username, ok := httputil.PathStringOrError(w, r, "username")
	if !ok {
		return
	}
	permissions, err := h.manager.GetAssignedPermissions(observability.WithPrincipal(r.Context(), username), username)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// ListPermissions lists every permission
func (h *RBACHandlers) ListPermissions(w http.ResponseWriter, r *http.Request) {
	permissions, err := h.manager.GetAllPermissions(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, permissions)
}

// ListOperations lists every operation
func (h *RBACHandlers) ListOperations(w http.ResponseWriter, r *http.Request) {
	operations, err := h.manager.GetAllOperations(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, operations)
}

// ListResources lists every resource
func (h *RBACHandlers) ListResources(w http.ResponseWriter, r *http.Request) {
	resources, err := h.manager.GetAllResources(r.Context())
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, resources)
}

// CheckPermission evaluates a permission check
func (h *RBACHandlers) CheckPermission(w http.ResponseWriter, r *http.Request) {
	var check rbac.PermissionCheck
	if !httputil.ParseJSONOrError(w, r, &check) {
		return
	}
	result, err := h.checker.CheckPermission(observability.WithPrincipal(r.Context(), check.Principal), check)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteSuccess(w, result)
}

func toRoleResponse(role rbac.Role) RoleResponse {
	permissions := role.Permissions()
	if permissions == nil {
		permissions = []*rbac.Permission{}
	}
	children := role.ChildRoleNames()
	if children == nil {
		children = []string{}
	}
	return RoleResponse{
		Name:        role.Name(),
		Description: role.Description(),
		Assignable:  role.Assignable(),
		Permanent:   role.Permanent(),
		Permissions: permissions,
		ChildRoles:  children,
	}
}

func toRoleResponses(roles []rbac.Role) []RoleResponse {
	resp := make([]RoleResponse, 0, len(roles))
	for _, role := range roles {
		resp = append(resp, toRoleResponse(role))
	}
	return resp
}

func toAssignmentResponse(a rbac.UserAssignment) AssignmentResponse {
	roles := append([]string{}, a.RoleNames()...)
	sort.Strings(roles)
	return AssignmentResponse{
		Principal: a.Principal(),
		Roles:     roles,
		Permanent: a.Permanent(),
	}
}
