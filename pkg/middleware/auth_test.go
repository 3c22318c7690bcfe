package middleware

import (
	"context"
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
	"github.com/platinummonkey/redback/pkg/rbac/sqlstore"
)

const adminOperation = "user-management-rbac-admin"

func newChecker(t *testing.T) *rbac.Checker {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	store := sqlstore.New(db, nil, nil)
	require.NoError(t, store.Init(ctx))

	perm, err := store.CreatePermissionFor(ctx, "rbac-admin", adminOperation, rbac.GlobalResourceIdentifier)
	require.NoError(t, err)
	admin := store.CreateRole("System Administrator")
	admin.AddPermission(perm)
	_, err = store.SaveRole(ctx, admin)
	require.NoError(t, err)
	_, err = store.SaveRole(ctx, store.CreateRole("Guest"))
	require.NoError(t, err)

	for principal, role := range map[string]string{"alice": "System Administrator", "bob": "Guest"} {
		a := store.CreateUserAssignment(principal)
		a.AddRoleName(role)
		_, err = store.SaveUserAssignment(ctx, a)
		require.NoError(t, err)
	}
	return rbac.NewChecker(store)
}

func okHandler(seen *string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = observability.GetPrincipal(r.Context())
		w.WriteHeader(http.StatusOK)
	})
}

func TestPrincipalMiddleware(t *testing.T) {
	tests := []struct {
		name     string
		optional bool
		header   string
		wantCode int
		wantSeen string
	}{
		{name: "required and present", header: "alice", wantCode: http.StatusOK, wantSeen: "alice"},
		{name: "required and missing", wantCode: http.StatusUnauthorized},
		{name: "required and blank", header: "   ", wantCode: http.StatusUnauthorized},
		{name: "optional and missing", optional: true, wantCode: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := NewPrincipalMiddleware("", tt.optional).Handler(okHandler(&seen))

			req := httptest.NewRequest("GET", "/rbac/roles", nil)
			if tt.header != "" {
				req.Header.Set(DefaultPrincipalHeader, tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantSeen, seen)
		})
	}
}

func TestPrincipalMiddleware_CustomHeader(t *testing.T) {
	var seen string
	handler := NewPrincipalMiddleware("X-Forwarded-User", false).Handler(okHandler(&seen))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Forwarded-User", "carol")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "carol", seen)
}

func TestRequirePermission(t *testing.T) {
	checker := newChecker(t)

	tests := []struct {
		name      string
		principal string
		wantCode  int
	}{
		{name: "granted", principal: "alice", wantCode: http.StatusOK},
		{name: "role without permission", principal: "bob", wantCode: http.StatusForbidden},
		{name: "unassigned principal", principal: "mallory", wantCode: http.StatusForbidden},
		{name: "anonymous", wantCode: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen string
			handler := NewPrincipalMiddleware("", true).Handler(
				RequirePermission(checker, adminOperation, rbac.GlobalResourceIdentifier)(okHandler(&seen)))

			req := httptest.NewRequest("DELETE", "/rbac/roles/Guest", nil)
			if tt.principal != "" {
				req.Header.Set(DefaultPrincipalHeader, tt.principal)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantCode != http.StatusOK {
				assert.Contains(t, rec.Body.String(), "error")
			}
		})
	}
}
