package rbac

import (
	"fmt"
	"sync"

	"github.com/platinummonkey/redback/pkg/observability"
)

// Listener observes changes to RBAC data
type Listener interface {
	RBACInit(freshDB bool)
	RBACRoleSaved(role Role)
	RBACRoleRemoved(role Role)
	RBACPermissionSaved(permission *Permission)
	RBACPermissionRemoved(permission *Permission)
	RBACUserAssignmentSaved(assignment UserAssignment)
	RBACUserAssignmentRemoved(assignment UserAssignment)
}

// Listeners is a concurrency-safe listener registry that fans events out to
// every registered listener in registration order.
type Listeners struct {
	mu        sync.RWMutex
	listeners []Listener
	logger    *observability.Logger
}

// NewListeners creates an empty registry. A nil logger discards panic reports.
func NewListeners(logger *observability.Logger) *Listeners {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Listeners{logger: logger}
}

// Add registers listener once; duplicates are ignored
func (l *Listeners) Add(listener Listener) {
	if listener == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.listeners {
		if existing == listener {
			return
		}
	}
	l.listeners = append(l.listeners, listener)
}

// Remove unregisters listener
func (l *Listeners) Remove(listener Listener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, existing := range l.listeners {
		if existing == listener {
			l.listeners = append(l.listeners[:i], l.listeners[i+1:]...)
			return
		}
	}
}

// Len returns the number of registered listeners
func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.listeners)
}

func (l *Listeners) FireInit(freshDB bool) {
	l.each("init", func(x Listener) { x.RBACInit(freshDB) })
}

func (l *Listeners) FireRoleSaved(role Role) {
	l.each("role_saved", func(x Listener) { x.RBACRoleSaved(role) })
}

func (l *Listeners) FireRoleRemoved(role Role) {
	l.each("role_removed", func(x Listener) { x.RBACRoleRemoved(role) })
}

func (l *Listeners) FirePermissionSaved(permission *Permission) {
	l.each("permission_saved", func(x Listener) { x.RBACPermissionSaved(permission) })
}

func (l *Listeners) FirePermissionRemoved(permission *Permission) {
	l.each("permission_removed", func(x Listener) { x.RBACPermissionRemoved(permission) })
}

func (l *Listeners) FireUserAssignmentSaved(assignment UserAssignment) {
	l.each("user_assignment_saved", func(x Listener) { x.RBACUserAssignmentSaved(assignment) })
}

func (l *Listeners) FireUserAssignmentRemoved(assignment UserAssignment) {
	l.each("user_assignment_removed", func(x Listener) { x.RBACUserAssignmentRemoved(assignment) })
}

func (l *Listeners) each(event string, fn func(Listener)) {
	l.mu.RLock()
	snapshot := make([]Listener, len(l.listeners))
	copy(snapshot, l.listeners)
	l.mu.RUnlock()

	for _, listener := range snapshot {
		l.notify(event, listener, fn)
	}
}

// notify isolates a panicking listener so the remaining ones still run
func (l *Listeners) notify(event string, listener Listener, fn func(Listener)) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.WithFields(map[string]interface{}{
				"event":    event,
				"listener": fmt.Sprintf("%T", listener),
				"panic":    fmt.Sprint(r),
			}).Error("RBAC listener panicked")
		}
	}()
	fn(listener)
}
