package store

import (
	"errors"
	"fmt"
)

// Common store errors used across all store implementations.
var (
	// ErrNotFound is returned when a requested entity does not exist in the store.
	ErrNotFound = errors.New("entity not found")

	// ErrDuplicate is returned when an operation would create a duplicate
	// of a unique entity.
	ErrDuplicate = errors.New("entity already exists")

	// ErrInvalidEntity is returned when an entity fails validation before
	// being stored. Check the wrapped error for specific validation details.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrStaleStatus is returned by conditional status updates when the row
	// was not in the expected source status. Another worker got there first.
	ErrStaleStatus = errors.New("task not in expected status")

	// ErrTaskNotFound indicates that the requested enhancement task does not exist.
	ErrTaskNotFound = fmt.Errorf("%w: enhancement task", ErrNotFound)

	// ErrCreditAccountNotFound indicates that the user has no credit account.
	ErrCreditAccountNotFound = fmt.Errorf("%w: credit account", ErrNotFound)
)

// IsNotFoundError checks if the error is any kind of "not found" error.
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
