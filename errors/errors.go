// Package errors defines the sentinel error kinds this module returns and a
// small chain-friendly wrapper for attaching context without losing the
// ability to test against the sentinel with errors.Is.
package errors

import (
	stderrors "errors"
	"fmt"
)

// DriverError is the interface satisfied by every error this module returns.
// It extends the standard error interface with two chaining helpers that
// preserve the original sentinel for errors.Is/errors.As.
type DriverError interface {
	error
	WithMessage(message string) DriverError
	WrapError(err error) DriverError
}

// -----------------------------------------------------------------------------

// wrappedError pairs a rendered message with the error it was derived from,
// which is always either a Kind or another wrappedError.
type wrappedError struct {
	message string
	cause   error
	// also, when set, is the Kind or wrappedError that WrapError was called
	// on; errors.Is matches it as well as the wrapped cause.
	also error
}

func (e wrappedError) Error() string {
	return e.message
}

func (e wrappedError) WithMessage(message string) DriverError {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", e.message, message),
		cause:   e,
	}
}

func (e wrappedError) WrapError(err error) DriverError {
	return wrappedError{
		message: fmt.Sprintf("%s: %s", e.Error(), err.Error()),
		cause:   err,
		also:    e,
	}
}

func (e wrappedError) Unwrap() error {
	return e.cause
}

func (e wrappedError) Is(target error) bool {
	return e.also != nil && stderrors.Is(e.also, target)
}
