// Package users manages the local user records the RBAC layer creates on
// demand when a directory user is first assigned roles.
package users
