package domain

import "errors"

// Common domain errors used across the application.
var (
	// ErrValidation is returned when a domain entity fails validation.
	// This is often wrapped with a more specific error message.
	ErrValidation = errors.New("validation failed")

	// ErrInvalidID is returned when an ID is malformed or invalid.
	ErrInvalidID = errors.New("invalid ID")

	// ErrInvalidTransition is returned when a task is asked to move to a
	// status that is not reachable from its current status.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrInsufficientCredits is returned when a user's balance cannot cover
	// a reservation. Nothing has been charged or persisted when it is returned.
	ErrInsufficientCredits = errors.New("insufficient credits")

	// ErrUnauthorized is returned when an operation is not permitted.
	ErrUnauthorized = errors.New("unauthorized operation")
)

// ValidationError names the field that failed a check. It unwraps to the
// sentinel it was built with, so errors.Is(err, ErrValidation) keeps working.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

// NewValidationError creates a ValidationError for field.
func NewValidationError(field, message string, err error) *ValidationError {
	return &ValidationError{Field: field, Message: message, Err: err}
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}
