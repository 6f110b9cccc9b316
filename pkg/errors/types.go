package errors

import (
	"fmt"
)

// ErrAlreadyRunning is returned by a strict engine when Start is called
// while a mirror is already active.
var ErrAlreadyRunning = New("sync engine is already running")

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// ValidationError is returned when a source or target folder can't be used
// for mirroring.
type ValidationError struct {
	Path   string
	Reason string
}

func (err ValidationError) Error() string {
	return fmt.Sprintf("invalid folder %q: %s", err.Path, err.Reason)
}

// InitializationFailure is returned by Start when the initial full-tree sync
// fails. The engine is left idle.
type InitializationFailure struct {
	Cause error
}

func (err InitializationFailure) Error() string {
	return fmt.Sprintf("initial sync failed: %s", err.Cause)
}

func (err InitializationFailure) Unwrap() error {
	return err.Cause
}

// WatchInstallFailure is returned by Start when the change notification
// subscription couldn't be established. The engine is left idle.
type WatchInstallFailure struct {
	Cause error
}

func (err WatchInstallFailure) Error() string {
	return fmt.Sprintf("install watch: %s", err.Cause)
}

func (err WatchInstallFailure) Unwrap() error {
	return err.Cause
}

// PropagationFailure describes a single target that failed to apply a single
// change. It doesn't stop the change from being applied to other targets.
type PropagationFailure struct {
	Target string
	Path   string
	Cause  error
}

func (err PropagationFailure) Error() string {
	return fmt.Sprintf("propagate %q to %q: %s", err.Path, err.Target, err.Cause)
}

func (err PropagationFailure) Unwrap() error {
	return err.Cause
}
