package cached

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
	"github.com/platinummonkey/redback/pkg/rbac/sqlstore"
)

// countingManager counts reads that reach the wrapped store
type countingManager struct {
	rbac.Manager

	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
}

func (c *countingManager) count(op string) {
	c.mu.Lock()
	c.calls[op]++
	c.mu.Unlock()
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
}

func (c *countingManager) Calls(op string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[op]
}

func (c *countingManager) GetRole(ctx context.Context, name string) (rbac.Role, error) {
	c.count("get_role")
	return c.Manager.GetRole(ctx, name)
}

func (c *countingManager) GetPermission(ctx context.Context, name string) (*rbac.Permission, error) {
	c.count("get_permission")
	return c.Manager.GetPermission(ctx, name)
}

func (c *countingManager) GetUserAssignment(ctx context.Context, principal string) (rbac.UserAssignment, error) {
	c.count("get_user_assignment")
	return c.Manager.GetUserAssignment(ctx, principal)
}

func (c *countingManager) GetEffectivelyAssignedRoles(ctx context.Context, principal string) ([]rbac.Role, error) {
	c.count("get_effectively_assigned_roles")
	return c.Manager.GetEffectivelyAssignedRoles(ctx, principal)
}

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := sqlstore.New(db, nil, nil)
	require.NoError(t, store.Init(context.Background()))
	return store
}

func newCache(t *testing.T, cfg Config) (*Manager, *countingManager, *sqlstore.Store) {
	t.Helper()
	store := newStore(t)
	counting := &countingManager{Manager: store, calls: make(map[string]int)}
	return New(counting, cfg, nil, nil), counting, store
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestGetRole_CachesHits(t *testing.T) {
	cache, counting, _ := newCache(t, Config{})
	ctx := context.Background()

	_, err := cache.SaveRole(ctx, cache.CreateRole("developer"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		role, err := cache.GetRole(ctx, "developer")
		require.NoError(t, err)
		assert.Equal(t, "developer", role.Name())
	}
	assert.Equal(t, 1, counting.Calls("get_role"))

	exists, err := cache.RoleExists(ctx, "developer")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestGetRole_MissesAreNotCached(t *testing.T) {
	cache, counting, _ := newCache(t, Config{})
	ctx := context.Background()

	_, err := cache.GetRole(ctx, "ghost")
	assert.True(t, rbac.IsNotFound(err))
	_, err = cache.GetRole(ctx, "ghost")
	assert.True(t, rbac.IsNotFound(err))
	assert.Equal(t, 2, counting.Calls("get_role"))
}

func TestSaveRole_Invalidates(t *testing.T) {
	cache, counting, _ := newCache(t, Config{})
	ctx := context.Background()

	role := cache.CreateRole("developer")
	_, err := cache.SaveRole(ctx, role)
	require.NoError(t, err)
	_, err = cache.GetRole(ctx, "developer")
	require.NoError(t, err)

	role.SetDescription("writes code")
	_, err = cache.SaveRole(ctx, role)
	require.NoError(t, err)

	fetched, err := cache.GetRole(ctx, "developer")
	require.NoError(t, err)
	assert.Equal(t, "writes code", fetched.Description())
	assert.Equal(t, 2, counting.Calls("get_role"))
}

func TestDirectStoreWritesInvalidateThroughListener(t *testing.T) {
	cache, counting, store := newCache(t, Config{})
	ctx := context.Background()

	_, err := store.SaveRole(ctx, store.CreateRole("developer"))
	require.NoError(t, err)
	_, err = cache.GetRole(ctx, "developer")
	require.NoError(t, err)

	require.NoError(t, store.RemoveRole(ctx, "developer"))
	_, err = cache.GetRole(ctx, "developer")
	assert.True(t, rbac.IsNotFound(err))
	assert.Equal(t, 2, counting.Calls("get_role"))
}

func TestSavePermission_InvalidatesRoles(t *testing.T) {
	cache, counting, _ := newCache(t, Config{})
	ctx := context.Background()

	perm, err := cache.CreatePermissionFor(ctx, "Edit", "edit", rbac.GlobalResourceIdentifier)
	require.NoError(t, err)
	_, err = cache.SavePermission(ctx, perm)
	require.NoError(t, err)

	role := cache.CreateRole("editor")
	role.AddPermission(perm)
	_, err = cache.SaveRole(ctx, role)
	require.NoError(t, err)

	_, err = cache.GetRole(ctx, "editor")
	require.NoError(t, err)
	_, err = cache.GetPermission(ctx, "Edit")
	require.NoError(t, err)

	_, err = cache.SavePermission(ctx, perm)
	require.NoError(t, err)

	_, err = cache.GetRole(ctx, "editor")
	require.NoError(t, err)
	_, err = cache.GetPermission(ctx, "Edit")
	require.NoError(t, err)
	assert.Equal(t, 2, counting.Calls("get_role"))
	assert.Equal(t, 2, counting.Calls("get_permission"))
}

func TestConcurrentMissesFetchOnce(t *testing.T) {
	cache, counting, store := newCache(t, Config{})
	ctx := context.Background()
	_, err := store.SaveRole(ctx, store.CreateRole("developer"))
	require.NoError(t, err)
	counting.delay = 20 * time.Millisecond

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			role, err := cache.GetRole(ctx, "developer")
			assert.NoError(t, err)
			assert.Equal(t, "developer", role.Name())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, counting.Calls("get_role"))
}

func TestEffectiveRoles_InvalidatedByAssignmentAndHierarchy(t *testing.T) {
	cache, counting, _ := newCache(t, Config{})
	ctx := context.Background()

	parent := cache.CreateRole("lead")
	child := cache.CreateRole("developer")
	require.NoError(t, cache.SaveRoles(ctx, []rbac.Role{parent, child}))

	assignment := cache.CreateUserAssignment("alice")
	assignment.AddRoleName("lead")
	_, err := cache.SaveUserAssignment(ctx, assignment)
	require.NoError(t, err)

	roles, err := cache.GetEffectivelyAssignedRoles(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"lead"}, rbac.RoleNames(roles))
	_, err = cache.GetEffectivelyAssignedRoles(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, counting.Calls("get_effectively_assigned_roles"))

	require.NoError(t, cache.AddChildRole(ctx, parent, child))
	roles, err = cache.GetEffectivelyAssignedRoles(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"lead", "developer"}, rbac.RoleNames(roles))
	assert.Equal(t, 2, counting.Calls("get_effectively_assigned_roles"))
}

func TestUserAssignment_SharedCache(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()

	first, firstCounting, store := newCache(t, Config{Redis: client})
	second := New(store, Config{Redis: client}, nil, nil)
	secondCounting := &countingManager{Manager: store, calls: make(map[string]int)}
	second.next = secondCounting

	assignment := first.CreateUserAssignment("alice")
	assignment.AddRoleName("developer")
	_, err := first.SaveUserAssignment(ctx, assignment)
	require.NoError(t, err)

	fetched, err := first.GetUserAssignment(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, []string{"developer"}, fetched.RoleNames())
	assert.Equal(t, 1, firstCounting.Calls("get_user_assignment"))
	assert.True(t, mr.Exists("redback:assignment:alice"))

	fetched, err = second.GetUserAssignment(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", fetched.Principal())
	assert.Equal(t, []string{"developer"}, fetched.RoleNames())
	assert.Equal(t, 0, secondCounting.Calls("get_user_assignment"))

	require.NoError(t, first.RemoveUserAssignment(ctx, "alice"))
	assert.False(t, mr.Exists("redback:assignment:alice"))
}

func TestUserAssignment_RedisUnavailable(t *testing.T) {
	mr, client := newRedis(t)
	cache, counting, _ := newCache(t, Config{Redis: client})
	ctx := context.Background()

	assignment := cache.CreateUserAssignment("bob")
	_, err := cache.SaveUserAssignment(ctx, assignment)
	require.NoError(t, err)

	mr.Close()
	fetched, err := cache.GetUserAssignment(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, "bob", fetched.Principal())
	assert.Equal(t, 1, counting.Calls("get_user_assignment"))
}

func TestEraseDatabase_PurgesEverything(t *testing.T) {
	mr, client := newRedis(t)
	cache, counting, _ := newCache(t, Config{Redis: client, KeyPrefix: "test:"})
	ctx := context.Background()

	_, err := cache.SaveRole(ctx, cache.CreateRole("developer"))
	require.NoError(t, err)
	_, err = cache.SaveUserAssignment(ctx, cache.CreateUserAssignment("alice"))
	require.NoError(t, err)
	_, err = cache.GetRole(ctx, "developer")
	require.NoError(t, err)
	_, err = cache.GetUserAssignment(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, mr.Set("unrelated", "keep"))

	require.NoError(t, cache.EraseDatabase(ctx))
	assert.False(t, mr.Exists("test:assignment:alice"))
	assert.True(t, mr.Exists("unrelated"))

	_, err = cache.GetRole(ctx, "developer")
	assert.True(t, rbac.IsNotFound(err))
	assert.Equal(t, 2, counting.Calls("get_role"))
}

func TestMetricsRecordHitsAndMisses(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	store := newStore(t)
	cache := New(store, Config{}, nil, metrics)
	ctx := context.Background()

	_, err := cache.SaveRole(ctx, cache.CreateRole("developer"))
	require.NoError(t, err)
	_, err = cache.GetRole(ctx, "developer")
	require.NoError(t, err)
	_, err = cache.GetRole(ctx, "developer")
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheHitsTotal.WithLabelValues("l1", "role")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CacheMissesTotal.WithLabelValues("l1", "role")))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.CacheInvalidationsTotal.WithLabelValues("role")), 1.0)
}

func TestDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultConfig(), cfg)

	custom := Config{Size: 5, TTL: time.Second, KeyPrefix: "x:"}.withDefaults()
	assert.Equal(t, 5, custom.Size)
	assert.Equal(t, time.Second, custom.TTL)
	assert.Equal(t, "x:", custom.KeyPrefix)
}
