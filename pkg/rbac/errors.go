package rbac

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound matches every ObjectNotFoundError via errors.Is
	ErrNotFound = errors.New("rbac: object not found")
	// ErrInvalid matches every ObjectInvalidError via errors.Is
	ErrInvalid = errors.New("rbac: object invalid")
)

// ManagerError is the generic RBAC failure. Directory and mapping failures are
// always surfaced through it, whatever their underlying cause.
type ManagerError struct {
	Message string
	Err     error
}

// NewManagerError wraps err, reusing its message when message is empty
func NewManagerError(message string, err error) *ManagerError {
	if message == "" && err != nil {
		message = err.Error()
	}
	return &ManagerError{Message: message, Err: err}
}

func (e *ManagerError) Error() string {
	if e.Message == "" && e.Err != nil {
		return "rbac: " + e.Err.Error()
	}
	return "rbac: " + e.Message
}

func (e *ManagerError) Unwrap() error { return e.Err }

// ObjectNotFoundError reports a missing role, permission, operation, resource
// or user assignment in the local store
type ObjectNotFoundError struct {
	Kind string
	Name string
}

func (e *ObjectNotFoundError) Error() string {
	return fmt.Sprintf("rbac: %s not found: %s", e.Kind, e.Name)
}

func (e *ObjectNotFoundError) Is(target error) bool { return target == ErrNotFound }

// ObjectInvalidError reports an object the local store refused to save or remove
type ObjectInvalidError struct {
	Kind   string
	Reason string
}

func (e *ObjectInvalidError) Error() string {
	return fmt.Sprintf("rbac: invalid %s: %s", e.Kind, e.Reason)
}

func (e *ObjectInvalidError) Is(target error) bool { return target == ErrInvalid }

// NotFound builds an ObjectNotFoundError
func NotFound(kind, name string) error {
	return &ObjectNotFoundError{Kind: kind, Name: name}
}

// Invalid builds an ObjectInvalidError
func Invalid(kind, reason string) error {
	return &ObjectInvalidError{Kind: kind, Reason: reason}
}

// IsNotFound reports whether err is (or wraps) an ObjectNotFoundError
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsInvalid reports whether err is (or wraps) an ObjectInvalidError
func IsInvalid(err error) bool {
	return errors.Is(err, ErrInvalid)
}
