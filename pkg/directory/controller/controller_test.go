package controller

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/directory"
	"github.com/platinummonkey/redback/pkg/directory/directorytest"
)

var testConfig = directory.Config{
	URL:          "ldap://localhost:389",
	BaseDN:       "ou=people,dc=example,dc=com",
	GroupsBaseDN: "ou=groups,dc=example,dc=com",
}.WithDefaults()

func TestFindUsersWithGroups(t *testing.T) {
	server := directorytest.NewServer()
	alice := testConfig.UserDN("alice")
	bob := testConfig.UserDN("bob")
	server.AddGroup(testConfig, "grpA", alice)
	server.AddGroup(testConfig, "grpB", alice, "cn=service,dc=example,dc=com")
	server.AddGroup(testConfig, "grpC", bob)
	server.AddGroup(testConfig, "empty")

	conn, err := directorytest.NewFactory(server, testConfig).GetConnection(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	users, err := NewLDAPController(nil).FindUsersWithGroups(context.Background(), conn)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"alice": {"grpA", "grpB"},
		"bob":   {"grpC"},
	}, users)
	assert.Equal(t, 1, server.Calls("search"))
}

func TestFindUsersWithGroups_SearchFailure(t *testing.T) {
	server := directorytest.NewServer()
	server.FailOn("search", directorytest.ErrInjected)

	conn, err := directorytest.NewFactory(server, testConfig).GetConnection(context.Background())
	require.NoError(t, err)
	defer conn.Close()

	_, err = NewLDAPController(nil).FindUsersWithGroups(context.Background(), conn)
	var ctrlErr *ControllerError
	require.ErrorAs(t, err, &ctrlErr)
	assert.ErrorIs(t, err, directorytest.ErrInjected)
}
