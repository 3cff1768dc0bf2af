package state

import "errors"

// Domain errors for the state machine.
var (
	// ErrNotFound is returned when a category has no recorded state.
	ErrNotFound = errors.New("state: category not found")

	// ErrInvalidCategory is returned by Set for an empty category.
	ErrInvalidCategory = errors.New("state: category must not be empty")
)
