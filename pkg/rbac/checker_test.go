package rbac_test

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/rbac"
	"github.com/platinummonkey/redback/pkg/rbac/sqlstore"
)

func newCheckerStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := sqlstore.New(db, nil, nil)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func seedCheckerData(t *testing.T, store *sqlstore.Store) {
	t.Helper()
	ctx := context.Background()

	editX, err := store.CreatePermissionFor(ctx, "edit-x", "edit", "project-x")
	require.NoError(t, err)
	readAll, err := store.CreatePermissionFor(ctx, "read-all", "read", rbac.GlobalResourceIdentifier)
	require.NoError(t, err)

	guest := store.CreateRole("guest")
	guest.AddPermission(readAll)
	_, err = store.SaveRole(ctx, guest)
	require.NoError(t, err)

	developer := store.CreateRole("developer")
	developer.AddPermission(editX)
	developer.AddChildRoleName("guest")
	_, err = store.SaveRole(ctx, developer)
	require.NoError(t, err)

	for principal, role := range map[string]string{"alice": "developer", "bob": "guest"} {
		a := store.CreateUserAssignment(principal)
		a.AddRoleName(role)
		_, err = store.SaveUserAssignment(ctx, a)
		require.NoError(t, err)
	}
}

func TestChecker_CheckPermission(t *testing.T) {
	store := newCheckerStore(t)
	seedCheckerData(t, store)
	checker := rbac.NewChecker(store)

	tests := []struct {
		name    string
		check   rbac.PermissionCheck
		allowed bool
		matched []string
	}{
		{
			name:    "direct permission",
			check:   rbac.PermissionCheck{Principal: "alice", Operation: "edit", Resource: "project-x"},
			allowed: true,
			matched: []string{"developer"},
		},
		{
			name:    "inherited global permission",
			check:   rbac.PermissionCheck{Principal: "alice", Operation: "read", Resource: "anything"},
			allowed: true,
			matched: []string{"developer"},
		},
		{
			name:  "wrong resource",
			check: rbac.PermissionCheck{Principal: "alice", Operation: "edit", Resource: "project-y"},
		},
		{
			name:  "operation not granted",
			check: rbac.PermissionCheck{Principal: "bob", Operation: "edit", Resource: "project-x"},
		},
		{
			name:  "unknown principal",
			check: rbac.PermissionCheck{Principal: "carol", Operation: "read", Resource: "x"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := checker.CheckPermission(context.Background(), tt.check)
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, result.Allowed)
			assert.Equal(t, tt.matched, result.MatchedRoles)
			assert.NotEmpty(t, result.Reason)
			assert.False(t, result.CheckedAt.IsZero())
		})
	}
}

func TestChecker_RequiresPrincipalAndOperation(t *testing.T) {
	checker := rbac.NewChecker(newCheckerStore(t))

	_, err := checker.CheckPermission(context.Background(), rbac.PermissionCheck{Operation: "read"})
	assert.True(t, rbac.IsInvalid(err))

	_, err = checker.CheckPermission(context.Background(), rbac.PermissionCheck{Principal: "alice"})
	assert.True(t, rbac.IsInvalid(err))
}
