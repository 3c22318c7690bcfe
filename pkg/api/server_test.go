package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
	"github.com/platinummonkey/redback/pkg/rbac/sqlstore"
)

func newTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := sqlstore.New(db, nil, nil)
	require.NoError(t, store.Init(context.Background()))

	ctx := context.Background()
	read, err := store.CreatePermissionFor(ctx, "read-all", "read", rbac.GlobalResourceIdentifier)
	require.NoError(t, err)
	_, err = store.SavePermission(ctx, read)
	require.NoError(t, err)

	guest := store.CreateRole("guest")
	guest.AddPermission(read)
	_, err = store.SaveRole(ctx, guest)
	require.NoError(t, err)
	return store
}

func doRequest(t *testing.T, handler http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestServer_RoleLifecycle(t *testing.T) {
	server := NewServer(newTestStore(t), nil, nil)

	rec := doRequest(t, server, "POST", "/rbac/roles", SaveRoleRequest{
		Name:        "developer",
		Description: "writes code",
		Permissions: []string{"read-all"},
		ChildRoles:  []string{"guest"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created RoleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "developer", created.Name)
	assert.True(t, created.Assignable)
	assert.Equal(t, []string{"guest"}, created.ChildRoles)
	require.Len(t, created.Permissions, 1)

	rec = doRequest(t, server, "GET", "/rbac/roles/developer", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, "GET", "/rbac/roles/developer/exists", nil)
	assert.JSONEq(t, `{"exists":true}`, rec.Body.String())

	rec = doRequest(t, server, "GET", "/rbac/roles", nil)
	var all []RoleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	rec = doRequest(t, server, "GET", "/rbac/roles?names=guest", nil)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	require.Len(t, all, 1)
	assert.Equal(t, "guest", all[0].Name)

	rec = doRequest(t, server, "GET", "/rbac/roles?names=guest,nobody", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, server, "GET", "/rbac/roles/assignable", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, server, "DELETE", "/rbac/roles/developer", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doRequest(t, server, "GET", "/rbac/roles/developer", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestServer_SaveRoleValidation(t *testing.T) {
	server := NewServer(newTestStore(t), nil, nil)

	tests := []struct {
		name string
		body string
	}{
		{"blank name", `{"name":"  "}`},
		{"unknown permission", `{"name":"ops","permissions":["missing"]}`},
		{"unknown field", `{"name":"ops","bogus":true}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/rbac/roles", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			server.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestServer_Assignments(t *testing.T) {
	server := NewServer(newTestStore(t), nil, nil)

	rec := doRequest(t, server, "GET", "/rbac/users/alice/roles", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, server, "PUT", "/rbac/users/alice/roles", AssignRolesRequest{Roles: []string{"guest"}})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var assignment AssignmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assignment))
	assert.Equal(t, AssignmentResponse{Principal: "alice", Roles: []string{"guest"}}, assignment)

	rec = doRequest(t, server, "GET", "/rbac/users/alice/roles?effective=true", nil)
	var roles []RoleResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &roles))
	require.Len(t, roles, 1)
	assert.Equal(t, "guest", roles[0].Name)

	rec = doRequest(t, server, "GET", "/rbac/users/alice/permissions", nil)
	var permissions []*rbac.Permission
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &permissions))
	require.Len(t, permissions, 1)
	assert.Equal(t, "read-all", permissions[0].Name)

	rec = doRequest(t, server, "GET", "/rbac/assignments", nil)
	var assignments []AssignmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &assignments))
	assert.Len(t, assignments, 1)
}

func TestServer_Catalogue(t *testing.T) {
	server := NewServer(newTestStore(t), nil, nil)

	for _, path := range []string{"/rbac/permissions", "/rbac/operations", "/rbac/resources"} {
		rec := doRequest(t, server, "GET", path, nil)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEqual(t, "[]\n", rec.Body.String(), path)
	}
}

func TestServer_CheckPermission(t *testing.T) {
	server := NewServer(newTestStore(t), nil, nil)
	doRequest(t, server, "PUT", "/rbac/users/alice/roles", AssignRolesRequest{Roles: []string{"guest"}})

	rec := doRequest(t, server, "POST", "/rbac/check", rbac.PermissionCheck{
		Principal: "alice", Operation: "read", Resource: "docs",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var result rbac.PermissionCheckResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Allowed)
	assert.Equal(t, []string{"guest"}, result.MatchedRoles)

	rec = doRequest(t, server, "POST", "/rbac/check", rbac.PermissionCheck{Principal: "alice"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// failingManager fails every call it is asked to make
type failingManager struct {
	rbac.Manager
	err error
}

func (m *failingManager) GetAllRoles(ctx context.Context) ([]rbac.Role, error) {
	return nil, m.err
}

func (m *failingManager) GetAllUserAssignments(ctx context.Context) ([]rbac.UserAssignment, error) {
	panic("directory exploded")
}

func TestServer_ErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"directory failure", rbac.NewManagerError("directory unavailable", errors.New("dial tcp: refused")), http.StatusBadGateway},
		{"not found", rbac.NotFound("role", "x"), http.StatusNotFound},
		{"invalid", rbac.Invalid("role", "bad"), http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := NewServer(&failingManager{err: tt.err}, nil, nil)
			rec := doRequest(t, server, "GET", "/rbac/roles", nil)
			assert.Equal(t, tt.status, rec.Code)

			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.err.Error(), body["error"])
		})
	}
}

func TestServer_Middleware(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	server := NewServer(&failingManager{err: errors.New("boom")}, observability.NopLogger(), metrics)

	rec := doRequest(t, server, "GET", "/rbac/roles", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/rbac/roles", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	assert.Equal(t, float64(2), testutil.ToFloat64(
		metrics.HTTPRequestsTotal.WithLabelValues("GET", "/rbac/roles", "500")))

	rec = doRequest(t, server, "GET", "/rbac/assignments", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestServer_Use(t *testing.T) {
	server := NewServer(newTestStore(t), nil, nil)
	server.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-Remote-User") == "" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	rec := doRequest(t, server, "GET", "/rbac/roles", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest("GET", "/rbac/roles", nil)
	req.Header.Set("X-Remote-User", "alice")
	rec = httptest.NewRecorder()
	server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
