package directory

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
)

// Config describes how to reach the directory and how groups and users are laid out in it
type Config struct {
	URL          string
	BindDN       string
	BindPassword string

	// BaseDN is where user entries live
	BaseDN string
	// GroupsBaseDN is where group entries live; defaults to BaseDN
	GroupsBaseDN string

	UserIDAttribute      string
	GroupObjectClass     string
	GroupMemberAttribute string
	GroupNameAttribute   string

	DialTimeout        time.Duration
	StartTLS           bool
	InsecureSkipVerify bool

	// DefaultGroupMember seeds newly created groups whose object class
	// requires at least one member
	DefaultGroupMember string
}

// WithDefaults fills unset fields with the groupOfUniqueNames layout
func (c Config) WithDefaults() Config {
	if c.GroupsBaseDN == "" {
		c.GroupsBaseDN = c.BaseDN
	}
	if c.UserIDAttribute == "" {
		c.UserIDAttribute = "uid"
	}
	if c.GroupObjectClass == "" {
		c.GroupObjectClass = "groupOfUniqueNames"
	}
	if c.GroupMemberAttribute == "" {
		c.GroupMemberAttribute = "uniqueMember"
	}
	if c.GroupNameAttribute == "" {
		c.GroupNameAttribute = "cn"
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	return c
}

// Validate checks the fields every connection needs
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("directory URL is required")
	}
	if c.BaseDN == "" {
		return fmt.Errorf("directory base DN is required")
	}
	if c.BindDN != "" && c.BindPassword == "" {
		return fmt.Errorf("directory bind password is required when a bind DN is set")
	}
	return nil
}

// UserDN returns the DN of the user entry for username
func (c Config) UserDN(username string) string {
	return fmt.Sprintf("%s=%s,%s", c.UserIDAttribute, ldap.EscapeDN(username), c.BaseDN)
}

// GroupDN returns the DN of the group entry named group
func (c Config) GroupDN(group string) string {
	return fmt.Sprintf("%s=%s,%s", c.GroupNameAttribute, ldap.EscapeDN(group), c.GroupsBaseDN)
}

// UsernameFromDN extracts the user ID attribute value from a member DN.
// It returns false when the DN does not name a user.
func (c Config) UsernameFromDN(dn string) (string, bool) {
	parsed, err := ldap.ParseDN(dn)
	if err != nil || len(parsed.RDNs) == 0 {
		return "", false
	}
	for _, attr := range parsed.RDNs[0].Attributes {
		if strings.EqualFold(attr.Type, c.UserIDAttribute) {
			return attr.Value, attr.Value != ""
		}
	}
	return "", false
}

// EscapeFilter escapes a value for use inside a search filter
func EscapeFilter(value string) string {
	return ldap.EscapeFilter(value)
}
