package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when no record carries the requested id.
	ErrNotFound = errors.New("subscription not found")
	// ErrValidation marks malformed input rejected before any ledger mutation.
	ErrValidation = errors.New("validation failed")
	// ErrInvalidTransition is returned when a change would revive a terminal state.
	ErrInvalidTransition = errors.New("invalid state transition")
	// ErrForbidden is returned when the caller does not own the record.
	ErrForbidden = errors.New("forbidden")
)

func validationError(field, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, fmt.Sprintf(format, args...))
}
