// Package errdefs defines the error taxonomy shared by every taskkit package.
//
// Structural failures (duplicate names, unknown resources, suspended queues,
// dependency cycles) are returned synchronously by the call that caused them.
// Each typed error matches its sentinel through errors.Is, so callers can
// branch on the category without caring about the concrete type:
//
//	if errors.Is(err, errdefs.ErrNotFound) { ... }
//
//	var cyc *errdefs.CyclicDependencyError
//	if errors.As(err, &cyc) { ... }
package errdefs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Re-export standard library functions for convenience.
var (
	Is  = errors.Is
	As  = errors.As
	New = errors.New
)

// Sentinel errors. Typed errors below unwrap to one of these.
var (
	ErrDuplicateName     = New("duplicate name")
	ErrNotFound          = New("not found")
	ErrQueueUnavailable  = New("queue unavailable")
	ErrCyclicDependency  = New("cyclic dependency")
	ErrTimeout           = New("timeout")
	ErrCancelled         = New("cancelled")
	ErrInvalidState      = New("invalid state")
	ErrInvalidArgument   = New("invalid argument")
	ErrPrimitiveReleased = New("primitive already released")
)

// DuplicateNameError is returned when a named resource already exists.
type DuplicateNameError struct {
	Kind string
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("%s %q already exists", e.Kind, e.Name)
}

func (e *DuplicateNameError) Unwrap() error { return ErrDuplicateName }

// NewDuplicateNameError creates a DuplicateNameError.
func NewDuplicateNameError(kind, name string) error {
	return &DuplicateNameError{Kind: kind, Name: name}
}

// NotFoundError is returned when a queue, primitive or task is unknown.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.Name)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFoundError creates a NotFoundError.
func NewNotFoundError(kind, name string) error {
	return &NotFoundError{Kind: kind, Name: name}
}

// QueueUnavailableError is returned when a submission targets a queue that
// does not exist, is suspended, or is being destroyed.
type QueueUnavailableError struct {
	Queue  string
	Reason string
}

func (e *QueueUnavailableError) Error() string {
	return fmt.Sprintf("queue %q unavailable: %s", e.Queue, e.Reason)
}

func (e *QueueUnavailableError) Unwrap() error { return ErrQueueUnavailable }

// NewQueueUnavailableError creates a QueueUnavailableError.
func NewQueueUnavailableError(queue, reason string) error {
	return &QueueUnavailableError{Queue: queue, Reason: reason}
}

// CyclicDependencyError carries the path that would have closed the cycle.
type CyclicDependencyError struct {
	Path []string
}

func (e *CyclicDependencyError) Error() string {
	return "dependency cycle: " + strings.Join(e.Path, " -> ")
}

func (e *CyclicDependencyError) Unwrap() error { return ErrCyclicDependency }

// TimeoutError reports which operation ran out of time.
type TimeoutError struct {
	Op      string
	Subject string
	After   time.Duration
}

func (e *TimeoutError) Error() string {
	if e.After > 0 {
		return fmt.Sprintf("%s %q timed out after %v", e.Op, e.Subject, e.After)
	}
	return fmt.Sprintf("%s %q timed out", e.Op, e.Subject)
}

func (e *TimeoutError) Unwrap() error { return ErrTimeout }

// NewTimeoutError creates a TimeoutError.
func NewTimeoutError(op, subject string, after time.Duration) error {
	return &TimeoutError{Op: op, Subject: subject, After: after}
}

// InvalidStateError is returned when an operation does not apply to the
// current state of a task or primitive.
type InvalidStateError struct {
	Subject string
	State   string
	Op      string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s %s in state %s", e.Op, e.Subject, e.State)
}

func (e *InvalidStateError) Unwrap() error { return ErrInvalidState }

// NewInvalidStateError creates an InvalidStateError.
func NewInvalidStateError(op, subject, state string) error {
	return &InvalidStateError{Op: op, Subject: subject, State: state}
}

// InvalidArgument wraps ErrInvalidArgument with a formatted message.
func InvalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// IsStructural reports whether err is a registry or scheduler level error
// (as opposed to a failure raised by a task body).
func IsStructural(err error) bool {
	return Is(err, ErrDuplicateName) ||
		Is(err, ErrNotFound) ||
		Is(err, ErrQueueUnavailable) ||
		Is(err, ErrCyclicDependency) ||
		Is(err, ErrInvalidState) ||
		Is(err, ErrInvalidArgument)
}
