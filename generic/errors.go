/*
errors.go - Centralized error types for the admin backend

PURPOSE:
  All error types in one place for consistency and discoverability.
  Domain packages (cash, chat, levelup) return these, wrapped with context,
  and the api package maps them to HTTP status codes.

ERROR CATEGORIES:
  1. Validation errors  - Caller input fails a precondition (no partial writes)
  2. State errors       - Transition attempted on an already processed request,
                          message sent to a room that is not active
  3. Lookup errors      - Referenced entity does not exist
  4. Remote IO errors   - Storage/network call failed
  5. Best-effort errors - Never returned; logged by BestEffort (besteffort.go)

USAGE:
    if errors.Is(err, generic.ErrAlreadyProcessed) {
        var ap *generic.AlreadyProcessedError
        errors.As(err, &ap) // ap.Status tells approved vs rejected
    }

SEE ALSO:
  - besteffort.go: Failures that must not affect the primary operation
  - api/handlers.go: HTTP mapping
*/
package generic

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrValidation is returned when caller-supplied input fails a precondition.
	ErrValidation = errors.New("validation failed")

	// ErrAlreadyProcessed is returned when a transition is attempted on a
	// request that is no longer pending.
	ErrAlreadyProcessed = errors.New("already processed")

	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrRemoteIO is returned when an underlying storage call fails.
	ErrRemoteIO = errors.New("remote io failure")

	// ErrRoomNotActive is returned when writing to a closed or archived room.
	ErrRoomNotActive = errors.New("room not active")

	// ErrInvalidAmount is returned when a request amount is not positive.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrBalanceNotFound is returned when a balance row is required but absent.
	ErrBalanceNotFound = errors.New("balance not found")

	// ErrForbidden is returned when the actor lacks the required capability.
	ErrForbidden = errors.New("forbidden")

	// ErrDuplicate is returned by stores when an insert reuses an existing id.
	ErrDuplicate = errors.New("duplicate key")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ValidationError describes which input was rejected and why.
type ValidationError struct {
	Field   string
	Message string
	cause   error
}

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Is lets a ValidationError built around a more specific sentinel
// (ErrInvalidAmount, ErrRoomNotActive) match that sentinel too.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || (e.cause != nil && target == e.cause)
}

// WithCause attaches a more specific sentinel.
func (e *ValidationError) WithCause(cause error) *ValidationError {
	e.cause = cause
	return e
}

// AlreadyProcessedError reports the state a request was found in.
type AlreadyProcessedError struct {
	Kind   string // "withdrawal", "levelup"
	ID     string
	Status string
}

func (e *AlreadyProcessedError) Error() string {
	return fmt.Sprintf("%s %s already %s", e.Kind, e.ID, e.Status)
}

func (e *AlreadyProcessedError) Unwrap() error {
	return ErrAlreadyProcessed
}

// NotFoundError names the missing entity.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RemoteIOError wraps a failed storage or network call.
type RemoteIOError struct {
	Op  string
	Err error
}

func (e *RemoteIOError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause.
func (e *RemoteIOError) Unwrap() []error {
	return []error{ErrRemoteIO, e.Err}
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// RemoteIO wraps err as a RemoteIOError unless it is nil or already one of the
// domain errors above.
func RemoteIO(op string, err error) error {
	if err == nil {
		return nil
	}
	if IsClientError(err) || IsNotFound(err) || errors.Is(err, ErrRemoteIO) {
		return err
	}
	return &RemoteIOError{Op: op, Err: err}
}

// IsClientError returns true if the error is due to caller input or state.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrRoomNotActive) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrForbidden)
}

// IsNotFound returns true if the error indicates a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrBalanceNotFound)
}
