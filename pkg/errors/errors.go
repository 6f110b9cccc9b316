package errors

import (
	goErrors "errors"
	"fmt"
)

// New returns an error that formats as the given text.
func New(msg string) error {
	return goErrors.New(msg)
}

// contextError annotates an error with a short description of what was
// being attempted when it occurred.
type contextError struct {
	base    error
	context string
}

// WithContext wraps `err` with `context`. The context should be a short,
// lowercase phrase describing the failed operation, such as "open source".
// A nil error is returned unchanged so that callers can wrap unconditionally.
func WithContext(err error, context string) error {
	if err == nil {
		return nil
	}
	return contextError{base: err, context: context}
}

func (err contextError) Error() string {
	return fmt.Sprintf("%s: %s", err.context, err.base)
}

func (err contextError) Unwrap() error {
	return err.base
}

// RootCause returns the innermost error wrapped by WithContext.
func RootCause(err error) error {
	for {
		ctxErr, ok := err.(contextError)
		if !ok {
			return err
		}
		err = ctxErr.base
	}
}

// FriendlyError is an error whose message is suitable for printing directly
// to the user.
type FriendlyError struct {
	msg string
}

// NewFriendlyError creates a FriendlyError with the message formatted
// according to `format`.
func NewFriendlyError(format string, a ...interface{}) error {
	return FriendlyError{msg: fmt.Sprintf(format, a...)}
}

func (err FriendlyError) Error() string {
	return err.msg
}

// FriendlyMessage returns the user-facing message.
func (err FriendlyError) FriendlyMessage() string {
	return err.msg
}

type friendlyMessager interface {
	FriendlyMessage() string
}

// GetPrintableMessage returns the message that should be shown to the user
// for `err`. If any error in the context chain has a friendly message, that
// message is used. Otherwise, the full context chain is returned.
func GetPrintableMessage(err error) string {
	for e := err; e != nil; e = goErrors.Unwrap(e) {
		if friendly, ok := e.(friendlyMessager); ok {
			return friendly.FriendlyMessage()
		}
	}
	return err.Error()
}

// Is reports whether any error in err's chain matches target.
func Is(err, target error) bool {
	return goErrors.Is(err, target)
}

// As finds the first error in err's chain that matches target.
func As(err error, target interface{}) bool {
	return goErrors.As(err, target)
}
