// Package cached provides a read-through cache in front of any rbac.Manager.
//
// Roles, permissions, operations, resources, user assignments and effective
// role sets are held in bounded, expiring in-process caches. User assignments
// can additionally be shared between processes through Redis. Concurrent
// misses for the same key are collapsed into one fetch.
//
// The cache registers itself as a listener of the wrapped manager, so writes
// made directly against the wrapped manager also invalidate cached entries.
//
// Basic usage:
//
//	store := sqlstore.New(db, logger, metrics)
//	manager := cached.New(store, cached.Config{Redis: client}, logger, metrics)
//	role, err := manager.GetRole(ctx, "System Administrator")
package cached
