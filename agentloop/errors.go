package agentloop

import (
	"errors"
	"fmt"
)

var (
	// ErrCapabilityNotFound is returned when no capability has the requested name.
	ErrCapabilityNotFound = errors.New("capability not found")
	// ErrDuplicateCapability marks a later definition of an already registered name.
	ErrDuplicateCapability = errors.New("duplicate capability name")
	// ErrSessionClosed is returned by Send after quit.
	ErrSessionClosed = errors.New("session is closed")
)

// DependencyMissingError reports a capability module whose import of an
// external package could not be resolved.
type DependencyMissingError struct {
	Module  string
	Package string
	Cause   error
}

func (e *DependencyMissingError) Error() string {
	return fmt.Sprintf("module %s: missing dependency %s", e.Module, e.Package)
}

func (e *DependencyMissingError) Unwrap() error { return e.Cause }

// LoadError reports a capability module that failed to load for a reason
// other than a missing dependency.
type LoadError struct {
	Module string
	Cause  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load module %s: %v", e.Module, e.Cause)
}

func (e *LoadError) Unwrap() error { return e.Cause }

// InitError reports a capability that loaded but could not be instantiated
// or registered.
type InitError struct {
	Capability string
	Cause      error
}

func (e *InitError) Error() string {
	return fmt.Sprintf("init capability %s: %v", e.Capability, e.Cause)
}

func (e *InitError) Unwrap() error { return e.Cause }

// DispatchErrorKind classifies a failed dispatch.
type DispatchErrorKind string

const (
	DispatchNotFound  DispatchErrorKind = "not_found"
	DispatchExecution DispatchErrorKind = "execution_error"
)

// DispatchError describes a failed capability invocation. It is carried as
// data on an Outcome and never escapes the dispatcher as a panic.
type DispatchError struct {
	Kind    DispatchErrorKind
	Name    string
	Message string
	Cause   error
}

func (e *DispatchError) Error() string {
	switch e.Kind {
	case DispatchNotFound:
		return "Tool not found: " + e.Name
	default:
		return fmt.Sprintf("Error executing tool '%s': %s", e.Name, e.Message)
	}
}

func (e *DispatchError) Unwrap() error {
	if e.Kind == DispatchNotFound && e.Cause == nil {
		return ErrCapabilityNotFound
	}
	return e.Cause
}
