package rbac

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(roles ...Role) RoleLookup {
	byName := make(map[string]Role, len(roles))
	for _, r := range roles {
		byName[r.Name()] = r
	}
	return func(ctx context.Context, name string) (Role, error) {
		r, ok := byName[name]
		if !ok {
			return nil, NotFound("role", name)
		}
		return r, nil
	}
}

func TestEffectiveRoles_WalksHierarchy(t *testing.T) {
	admin := NewRole("admin")
	admin.SetChildRoleNames([]string{"developer", "missing"})
	developer := NewRole("developer")
	developer.AddChildRoleName("guest")
	developer.AddChildRoleName("admin")
	guest := NewRole("guest")

	roles, err := EffectiveRoles(context.Background(), admin, lookupFrom(admin, developer, guest))
	require.NoError(t, err)
	assert.Equal(t, []string{"developer", "guest"}, RoleNames(roles))

	expanded, err := ExpandRoles(context.Background(), []Role{developer}, lookupFrom(admin, developer, guest))
	require.NoError(t, err)
	assert.Equal(t, []string{"admin", "developer", "guest"}, RoleNames(expanded))
}

func TestParentAndSubtractRoles(t *testing.T) {
	admin := NewRole("admin")
	admin.AddChildRoleName("developer")
	developer := NewRole("developer")
	hidden := NewRole("hidden")
	hidden.SetAssignable(false)
	all := []Role{admin, developer, hidden}

	parents := ParentRoles(developer, all)
	assert.Len(t, parents, 1)
	assert.Contains(t, parents, "admin")

	assert.Equal(t, []string{"developer"}, RoleNames(SubtractRoles(all, []Role{admin})))
}

func TestCollectPermissions(t *testing.T) {
	read := &Permission{Name: "read", Operation: &Operation{Name: "read"}, Resource: &Resource{Identifier: "*"}}
	edit := &Permission{Name: "edit", Operation: &Operation{Name: "edit"}, Resource: &Resource{Identifier: "x"}}

	a := NewRole("a")
	a.AddPermission(read)
	b := NewRole("b")
	b.SetPermissions([]*Permission{read, edit})

	perms := CollectPermissions([]Role{a, b})
	require.Len(t, perms, 2)
	assert.Equal(t, "edit", perms[0].Name)

	byOp := PermissionMap(perms)
	assert.Len(t, byOp["read"], 1)
	assert.Len(t, byOp["edit"], 1)
}

func TestErrors(t *testing.T) {
	err := NotFound("role", "admin")
	assert.True(t, IsNotFound(err))
	assert.False(t, IsInvalid(err))

	err = Invalid("role", "name is required")
	assert.True(t, IsInvalid(err))

	cause := NotFound("group", "admins")
	wrapped := NewManagerError("directory lookup failed", cause)
	assert.ErrorIs(t, wrapped, ErrNotFound)
	assert.Contains(t, wrapped.Error(), "directory lookup failed")
}

type recorder struct {
	mu     sync.Mutex
	events []string
	panics bool
}

func (r *recorder) add(e string) {
	if r.panics {
		panic("listener failure")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) RBACInit(fresh bool)                        { r.add("init") }
func (r *recorder) RBACRoleSaved(role Role)                    { r.add("role_saved") }
func (r *recorder) RBACRoleRemoved(role Role)                  { r.add("role_removed") }
func (r *recorder) RBACPermissionSaved(p *Permission)          { r.add("permission_saved") }
func (r *recorder) RBACPermissionRemoved(p *Permission)        { r.add("permission_removed") }
func (r *recorder) RBACUserAssignmentSaved(a UserAssignment)   { r.add("assignment_saved") }
func (r *recorder) RBACUserAssignmentRemoved(a UserAssignment) { r.add("assignment_removed") }

func TestListeners_FanOutAndIsolatePanics(t *testing.T) {
	listeners := NewListeners(nil)
	bad := &recorder{panics: true}
	good := &recorder{}

	listeners.Add(bad)
	listeners.Add(good)
	listeners.Add(good)
	assert.Equal(t, 2, listeners.Len())

	listeners.FireInit(true)
	listeners.FireRoleSaved(NewRole("admin"))
	listeners.FireUserAssignmentRemoved(NewUserAssignment("alice"))
	assert.Equal(t, []string{"init", "role_saved", "assignment_removed"}, good.events)

	listeners.Remove(bad)
	listeners.Remove(good)
	assert.Equal(t, 0, listeners.Len())
	listeners.FirePermissionSaved(&Permission{Name: "read"})
	assert.Len(t, good.events, 3)
}
