// Package controller runs bulk directory queries that need more than the
// role mapper's one-user-at-a-time view.
package controller

import (
	"context"
	"fmt"
	"sort"

	"github.com/go-ldap/ldap/v3"

	"github.com/platinummonkey/redback/pkg/directory"
	"github.com/platinummonkey/redback/pkg/observability"
)

// Controller performs bulk reads over an already acquired connection
type Controller interface {
	// FindUsersWithGroups returns username → groups for every user that
	// belongs to at least one group
	FindUsersWithGroups(ctx context.Context, conn *directory.Connection) (map[string][]string, error)
}

// ControllerError wraps a failed bulk query
type ControllerError struct {
	Op  string
	Err error
}

func (e *ControllerError) Error() string {
	return fmt.Sprintf("directory controller %s: %v", e.Op, e.Err)
}

func (e *ControllerError) Unwrap() error { return e.Err }

// LDAPController implements Controller with a single subtree search over all groups
type LDAPController struct {
	logger *observability.Logger
}

var _ Controller = (*LDAPController)(nil)

// NewLDAPController creates a controller
func NewLDAPController(logger *observability.Logger) *LDAPController {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LDAPController{logger: logger}
}

func (c *LDAPController) FindUsersWithGroups(ctx context.Context, conn *directory.Connection) (map[string][]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, &ControllerError{Op: "find_users_with_groups", Err: err}
	}
	cfg := conn.Config()

	req := ldap.NewSearchRequest(
		cfg.GroupsBaseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf("(objectClass=%s)", directory.EscapeFilter(cfg.GroupObjectClass)),
		[]string{cfg.GroupNameAttribute, cfg.GroupMemberAttribute},
		nil,
	)
	result, err := conn.Conn().Search(req)
	if err != nil {
		return nil, &ControllerError{Op: "find_users_with_groups", Err: err}
	}

	sets := make(map[string]map[string]bool)
	for _, e := range result.Entries {
		group := e.GetEqualFoldAttributeValue(cfg.GroupNameAttribute)
		if group == "" {
			continue
		}
		for _, member := range e.GetEqualFoldAttributeValues(cfg.GroupMemberAttribute) {
			username, ok := cfg.UsernameFromDN(member)
			if !ok {
				c.logger.WithFields(map[string]interface{}{"group": group, "member": member}).
					Debug("Skipping group member that is not a user")
				continue
			}
			if sets[username] == nil {
				sets[username] = make(map[string]bool)
			}
			sets[username][group] = true
		}
	}

	users := make(map[string][]string, len(sets))
	for username, groups := range sets {
		list := make([]string, 0, len(groups))
		for g := range groups {
			list = append(list, g)
		}
		sort.Strings(list)
		users[username] = list
	}
	return users, nil
}
