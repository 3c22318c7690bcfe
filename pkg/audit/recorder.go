package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/redback/pkg/async"
	"github.com/platinummonkey/redback/pkg/observability"
	"github.com/platinummonkey/redback/pkg/rbac"
)

// RecorderConfig tunes the background writer
type RecorderConfig struct {
	Workers int
	Queue   int
	Timeout time.Duration
}

// DefaultRecorderConfig returns the default writer settings
func DefaultRecorderConfig() RecorderConfig {
	return RecorderConfig{Workers: 2, Queue: 256, Timeout: 5 * time.Second}
}

// Recorder is an rbac.Listener that turns every change into an audit event.
// Events are written by a worker pool so listeners return immediately.
type Recorder struct {
	sink   Logger
	pool   *async.WorkerPool
	logger *observability.Logger
	now    func() time.Time
}

var _ rbac.Listener = (*Recorder)(nil)

// NewRecorder starts the background writer
func NewRecorder(ctx context.Context, sink Logger, cfg RecorderConfig, logger *observability.Logger) *Recorder {
	if logger == nil {
		logger = observability.NopLogger()
	}
	defaults := DefaultRecorderConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.Queue <= 0 {
		cfg.Queue = defaults.Queue
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}
	return &Recorder{
		sink:   sink,
		pool:   async.NewWorkerPool(ctx, logger, cfg.Workers, cfg.Queue, "audit", cfg.Timeout),
		logger: logger,
		now:    time.Now,
	}
}

// Close flushes queued events, waiting at most timeout
func (r *Recorder) Close(timeout time.Duration) error {
	return r.pool.Shutdown(timeout)
}

func (r *Recorder) record(event *Event) {
	event.Timestamp = r.now()
	err := r.pool.Submit(func(ctx context.Context) error {
		return r.sink.Log(ctx, event)
	})
	if err != nil {
		r.logger.WithError(err).WithFields(map[string]interface{}{
			"event_type":    string(event.EventType),
			"resource_name": event.ResourceName,
		}).Warn("Dropped audit event")
	}
}

func (r *Recorder) RBACInit(freshDB bool) {
	r.record(&Event{
		EventType:    EventTypeInit,
		ResourceType: ResourceTypeStore,
		Metadata:     map[string]interface{}{"fresh": freshDB},
	})
}

func (r *Recorder) RBACRoleSaved(role rbac.Role) {
	r.record(&Event{
		EventType:    EventTypeRoleSaved,
		ResourceType: ResourceTypeRole,
		ResourceName: role.Name(),
		Metadata: map[string]interface{}{
			"permissions": permissionNames(role.Permissions()),
			"child_roles": role.ChildRoleNames(),
			"assignable":  role.Assignable(),
		},
	})
}

func (r *Recorder) RBACRoleRemoved(role rbac.Role) {
	r.record(&Event{EventType: EventTypeRoleRemoved, ResourceType: ResourceTypeRole, ResourceName: role.Name()})
}

func (r *Recorder) RBACPermissionSaved(permission *rbac.Permission) {
	r.record(&Event{
		EventType:    EventTypePermissionSaved,
		ResourceType: ResourceTypePermission,
		ResourceName: permission.Name,
		Metadata:     map[string]interface{}{"permission": permission.String()},
	})
}

func (r *Recorder) RBACPermissionRemoved(permission *rbac.Permission) {
	r.record(&Event{EventType: EventTypePermissionRemoved, ResourceType: ResourceTypePermission, ResourceName: permission.Name})
}

func (r *Recorder) RBACUserAssignmentSaved(assignment rbac.UserAssignment) {
	r.record(&Event{
		EventType:    EventTypeAssignmentSaved,
		ResourceType: ResourceTypeAssignment,
		ResourceName: assignment.Principal(),
		Metadata:     map[string]interface{}{"roles": assignment.RoleNames()},
	})
}

func (r *Recorder) RBACUserAssignmentRemoved(assignment rbac.UserAssignment) {
	r.record(&Event{EventType: EventTypeAssignmentRemoved, ResourceType: ResourceTypeAssignment, ResourceName: assignment.Principal()})
}

func permissionNames(permissions []*rbac.Permission) []string {
	names := make([]string, 0, len(permissions))
	for _, p := range permissions {
		names = append(names, p.Name)
	}
	return names
}
