package audit

import (
	"context"
	"time"
)

// EventType represents the kind of RBAC change recorded
type EventType string

const (
	EventTypeInit              EventType = "rbac.init"
	EventTypeRoleSaved         EventType = "rbac.role_saved"
	EventTypeRoleRemoved       EventType = "rbac.role_removed"
	EventTypePermissionSaved   EventType = "rbac.permission_saved"
	EventTypePermissionRemoved EventType = "rbac.permission_removed"
	EventTypeAssignmentSaved   EventType = "rbac.assignment_saved"
	EventTypeAssignmentRemoved EventType = "rbac.assignment_removed"
)

// ResourceType represents the kind of object an event is about
type ResourceType string

const (
	ResourceTypeStore      ResourceType = "store"
	ResourceTypeRole       ResourceType = "role"
	ResourceTypePermission ResourceType = "permission"
	ResourceTypeAssignment ResourceType = "assignment"
)

// Event is a single audit log entry
type Event struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    EventType              `json:"eventType"`
	ResourceType ResourceType           `json:"resourceType"`
	ResourceName string                 `json:"resourceName,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// SearchFilter narrows Search results. Zero values match everything.
type SearchFilter struct {
	StartTime    *time.Time
	EndTime      *time.Time
	EventTypes   []EventType
	ResourceType ResourceType
	ResourceName string

	Limit  int
	Offset int
}

// Logger records audit events
type Logger interface {
	Log(ctx context.Context, event *Event) error
}

// Searcher queries recorded events, newest first
type Searcher interface {
	Search(ctx context.Context, filter SearchFilter) ([]*Event, error)
}
