package domain

import (
	"errors"
	"fmt"
)

// Pipeline error taxonomy. None of these abort a session on their own; they
// degrade to partial data, placeholders, fallback or emergency content.
var (
	// ErrSourceUnavailable marks an adapter that produced no usable data.
	ErrSourceUnavailable = errors.New("source unavailable")
	// ErrContentTooShort marks fetched content under the acceptance floor.
	ErrContentTooShort = errors.New("content too short")
	// ErrGenerationSoftFailure marks a generation attempt that errored or came back too short.
	ErrGenerationSoftFailure = errors.New("generation soft failure")
	// ErrPersistenceVerification marks an artifact that is missing or empty after writing.
	ErrPersistenceVerification = errors.New("persistence verification failed")
	// ErrSessionNotFound is returned when an operation needs a prior collection.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStorageUnavailable is the only fatal condition: the session location could not be created.
	ErrStorageUnavailable = errors.New("session storage unavailable")
)

// Sentinel errors for validation failures.
var (
	ErrQueryTooShort   = errors.New("query too short")
	ErrQueryTooLong    = errors.New("query too long")
	ErrQueryInjection  = errors.New("query contains suspicious content")
	ErrInvalidSession  = errors.New("invalid session id")
	ErrInvalidContext  = errors.New("invalid context entry")
	ErrUnknownModule   = errors.New("unknown module")
	ErrDuplicateModule = errors.New("duplicate module name")
)

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// PhaseError records which collection phase failed.
type PhaseError struct {
	Phase string
	Err   error
}

func (e *PhaseError) Error() string { return fmt.Sprintf("phase %s: %v", e.Phase, e.Err) }

func (e *PhaseError) Unwrap() error { return e.Err }
