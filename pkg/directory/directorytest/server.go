// Package directorytest provides an in-memory directory for tests. It
// implements directory.Conn and evaluates the equality, presence and boolean
// filters the RBAC layer issues.
package directorytest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	ber "github.com/go-asn1-ber/asn1-ber"
	"github.com/go-ldap/ldap/v3"

	"github.com/platinummonkey/redback/pkg/directory"
)

type entry struct {
	dn    string
	attrs map[string][]string
}

// Server is an in-memory directory tree
type Server struct {
	mu      sync.Mutex
	entries map[string]*entry
	ops     map[string]int
	failOn  map[string]error
	binds   []string
	closes  int
}

// NewServer creates an empty directory
func NewServer() *Server {
	return &Server{
		entries: make(map[string]*entry),
		ops:     make(map[string]int),
		failOn:  make(map[string]error),
	}
}

func normalize(dn string) string {
	return strings.ToLower(strings.ReplaceAll(dn, ", ", ","))
}

// AddEntry stores an entry directly, bypassing failure injection and counters
func (s *Server) AddEntry(dn string, attrs map[string][]string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string][]string, len(attrs))
	for k, v := range attrs {
		copied[k] = append([]string(nil), v...)
	}
	s.entries[normalize(dn)] = &entry{dn: dn, attrs: copied}
}

// AddGroup stores a group entry with the given members
func (s *Server) AddGroup(cfg directory.Config, group string, memberDNs ...string) {
	s.AddEntry(cfg.GroupDN(group), map[string][]string{
		"objectClass":            {"top", cfg.GroupObjectClass},
		cfg.GroupNameAttribute:   {group},
		cfg.GroupMemberAttribute: memberDNs,
	})
}

// Entry returns the attributes of dn, or nil
func (s *Server) Entry(dn string) map[string][]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[normalize(dn)]
	if !ok {
		return nil
	}
	return e.attrs
}

// FailOn makes every call of op ("bind", "search", "add", "modify", "del")
// return err. A nil err clears the failure.
func (s *Server) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failOn, op)
		return
	}
	s.failOn[op] = err
}

// Calls returns how often op was invoked
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops[op]
}

// TotalCalls returns the number of search, add, modify and del calls
func (s *Server) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ops["search"] + s.ops["add"] + s.ops["modify"] + s.ops["del"]
}

// Closes returns how many times Close was called
func (s *Server) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *Server) begin(op string) error {
	s.ops[op]++
	return s.failOn[op]
}

func (s *Server) Bind(username, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("bind"); err != nil {
		return err
	}
	s.binds = append(s.binds, username)
	return nil
}

func (s *Server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *Server) Search(req *ldap.SearchRequest) (*ldap.SearchResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("search"); err != nil {
		return nil, err
	}

	filter, err := ldap.CompileFilter(req.Filter)
	if err != nil {
		return nil, err
	}

	base := normalize(req.BaseDN)
	result := &ldap.SearchResult{}
	for key, e := range s.entries {
		if !inScope(key, base, req.Scope) {
			continue
		}
		if !matches(filter, e.attrs) {
			continue
		}
		result.Entries = append(result.Entries, ldap.NewEntry(e.dn, e.attrs))
	}
	sort.Slice(result.Entries, func(i, j int) bool { return result.Entries[i].DN < result.Entries[j].DN })
	return result, nil
}

func (s *Server) Add(req *ldap.AddRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("add"); err != nil {
		return err
	}
	key := normalize(req.DN)
	if _, ok := s.entries[key]; ok {
		return ldap.NewError(ldap.LDAPResultEntryAlreadyExists, fmt.Errorf("entry %s already exists", req.DN))
	}
	attrs := make(map[string][]string)
	for _, a := range req.Attributes {
		attrs[a.Type] = append([]string(nil), a.Vals...)
	}
	s.entries[key] = &entry{dn: req.DN, attrs: attrs}
	return nil
}

func (s *Server) Modify(req *ldap.ModifyRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("modify"); err != nil {
		return err
	}
	e, ok := s.entries[normalize(req.DN)]
	if !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such entry %s", req.DN))
	}
	for _, change := range req.Changes {
		name := attrKey(e.attrs, change.Modification.Type)
		switch change.Operation {
		case ldap.AddAttribute:
			for _, v := range change.Modification.Vals {
				if containsFold(e.attrs[name], v) {
					return ldap.NewError(ldap.LDAPResultAttributeOrValueExists, fmt.Errorf("value %s exists", v))
				}
				e.attrs[name] = append(e.attrs[name], v)
			}
		case ldap.DeleteAttribute:
			if len(change.Modification.Vals) == 0 {
				delete(e.attrs, name)
				continue
			}
			for _, v := range change.Modification.Vals {
				if !containsFold(e.attrs[name], v) {
					return ldap.NewError(ldap.LDAPResultNoSuchAttribute, fmt.Errorf("value %s absent", v))
				}
				e.attrs[name] = removeFold(e.attrs[name], v)
			}
		case ldap.ReplaceAttribute:
			e.attrs[name] = append([]string(nil), change.Modification.Vals...)
		}
	}
	return nil
}

func (s *Server) Del(req *ldap.DelRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.begin("del"); err != nil {
		return err
	}
	key := normalize(req.DN)
	if _, ok := s.entries[key]; !ok {
		return ldap.NewError(ldap.LDAPResultNoSuchObject, fmt.Errorf("no such entry %s", req.DN))
	}
	delete(s.entries, key)
	return nil
}

func inScope(dn, base string, scope int) bool {
	switch scope {
	case ldap.ScopeBaseObject:
		return dn == base
	case ldap.ScopeSingleLevel:
		if !strings.HasSuffix(dn, ","+base) {
			return false
		}
		return !strings.Contains(strings.TrimSuffix(dn, ","+base), ",")
	default:
		return dn == base || strings.HasSuffix(dn, ","+base)
	}
}

func matches(filter *ber.Packet, attrs map[string][]string) bool {
	switch filter.Tag {
	case ldap.FilterAnd:
		for _, child := range filter.Children {
			if !matches(child, attrs) {
				return false
			}
		}
		return true
	case ldap.FilterOr:
		for _, child := range filter.Children {
			if matches(child, attrs) {
				return true
			}
		}
		return false
	case ldap.FilterNot:
		return len(filter.Children) == 1 && !matches(filter.Children[0], attrs)
	case ldap.FilterPresent:
		name, _ := filter.Value.(string)
		return len(attrs[attrKey(attrs, name)]) > 0
	case ldap.FilterEqualityMatch:
		if len(filter.Children) != 2 {
			return false
		}
		name, _ := filter.Children[0].Value.(string)
		value, _ := filter.Children[1].Value.(string)
		return containsFold(attrs[attrKey(attrs, name)], value)
	default:
		return false
	}
}

// attrKey finds the stored spelling of an attribute name
func attrKey(attrs map[string][]string, name string) string {
	for k := range attrs {
		if strings.EqualFold(k, name) {
			return k
		}
	}
	return name
}

func containsFold(values []string, v string) bool {
	for _, x := range values {
		if strings.EqualFold(normalize(x), normalize(v)) {
			return true
		}
	}
	return false
}

func removeFold(values []string, v string) []string {
	out := values[:0]
	for _, x := range values {
		if !strings.EqualFold(normalize(x), normalize(v)) {
			out = append(out, x)
		}
	}
	return out
}

// Factory is a directory.ConnectionFactory handing out sessions on a Server
type Factory struct {
	Server *Server
	Config directory.Config
	// Err, when set, fails every acquisition
	Err error

	opened atomic.Int64
}

// NewFactory creates a factory over server using cfg with defaults applied
func NewFactory(server *Server, cfg directory.Config) *Factory {
	return &Factory{Server: server, Config: cfg.WithDefaults()}
}

func (f *Factory) GetConnection(ctx context.Context) (*directory.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.Err != nil {
		return nil, &directory.ConnectionError{Op: "dial", URL: f.Config.URL, Err: f.Err}
	}
	f.opened.Add(1)
	return directory.NewConnection(f.Server, f.Config, nil), nil
}

// Opened returns how many connections were handed out
func (f *Factory) Opened() int {
	return int(f.opened.Load())
}

// ErrInjected is a convenience error for failure injection
var ErrInjected = errors.New("injected directory failure")
