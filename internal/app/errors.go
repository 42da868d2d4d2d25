package app

import (
	"errors"
	"fmt"
)

// ErrNotFound and related errors describe validation and runtime failures.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTenant     = errors.New("invalid tenant")
	ErrSequenceConflict  = errors.New("sequence number conflict")
	ErrSequenceExhausted = errors.New("sequence number retries exhausted")
	ErrTreeTooLarge      = errors.New("process tree too large")
	ErrInvalidView       = errors.New("invalid heatmap view")
)

// ProcessNotFoundError reports a missing process referenced by another operation.
type ProcessNotFoundError struct {
	ProcessID string
}

// Error returns the error message.
func (e *ProcessNotFoundError) Error() string {
	return fmt.Sprintf("process %q not found", e.ProcessID)
}

// Unwrap returns ErrNotFound.
func (e *ProcessNotFoundError) Unwrap() error {
	return ErrNotFound
}

// SequenceExhaustedError reports that issue sequence assignment kept colliding.
type SequenceExhaustedError struct {
	Attempts int
}

// Error returns the error message.
func (e *SequenceExhaustedError) Error() string {
	return fmt.Sprintf("sequence number retries exhausted after %d attempt(s)", e.Attempts)
}

// Unwrap returns ErrSequenceExhausted.
func (e *SequenceExhaustedError) Unwrap() error {
	return ErrSequenceExhausted
}
