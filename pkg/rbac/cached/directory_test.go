package cached

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/directory"
	"github.com/platinummonkey/redback/pkg/directory/controller"
	"github.com/platinummonkey/redback/pkg/directory/directorytest"
	"github.com/platinummonkey/redback/pkg/directory/rolemapper"
	"github.com/platinummonkey/redback/pkg/rbac/ldaprbac"
	"github.com/platinummonkey/redback/pkg/rbac/sqlstore"
	"github.com/platinummonkey/redback/pkg/users"
)

var directoryConfig = directory.Config{
	URL:                "ldap://localhost:389",
	BaseDN:             "ou=people,dc=example,dc=com",
	GroupsBaseDN:       "ou=groups,dc=example,dc=com",
	DefaultGroupMember: "uid=admin,ou=people,dc=example,dc=com",
}.WithDefaults()

func newDirectoryCache(t *testing.T, mappings map[string]string) (*Manager, *directorytest.Server) {
	t.Helper()
	ctx := context.Background()

	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	local := sqlstore.New(db, nil, nil)
	require.NoError(t, local.Init(ctx))
	userManager := users.NewSQLManager(db, nil)
	require.NoError(t, userManager.Init(ctx))

	server := directorytest.NewServer()
	factory := directorytest.NewFactory(server, directoryConfig)
	manager, err := ldaprbac.NewManager(ldaprbac.Config{
		Local:       local,
		RoleMapper:  rolemapper.NewLDAPRoleMapper(factory, mappings),
		Users:       userManager,
		Connections: factory,
		Controller:  controller.NewLDAPController(nil),
	})
	require.NoError(t, err)

	return New(manager, Config{}, nil, nil), server
}

func TestRoleExists_FollowsDirectoryNotCachedRoles(t *testing.T) {
	cache, server := newDirectoryCache(t, map[string]string{"grpA": "role-x"})
	ctx := context.Background()

	_, err := cache.SaveRole(ctx, cache.CreateRole("role-x"))
	require.NoError(t, err)

	exists, err := cache.RoleExists(ctx, "role-x")
	require.NoError(t, err)
	assert.False(t, exists, "no directory group backs role-x yet")

	role, err := cache.GetRole(ctx, "role-x")
	require.NoError(t, err)
	assert.Equal(t, "role-x", role.Name())

	exists, err = cache.RoleExists(ctx, "role-x")
	require.NoError(t, err)
	assert.False(t, exists, "a locally cached role does not exist in the directory")

	server.AddGroup(directoryConfig, "grpA")
	exists, err = cache.RoleExists(ctx, "role-x")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Positive(t, server.Calls("search"))
}
