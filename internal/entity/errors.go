package entity

import "errors"

// Domain errors for the entity package.
var (
	// ErrNotFound is returned when no entity matches a lookup.
	ErrNotFound = errors.New("entity: not found")

	// ErrInvalidDocument is returned when a configuration body is not
	// valid JSON. Field-level problems never produce this error; they
	// are repaired by normalisation instead.
	ErrInvalidDocument = errors.New("entity: invalid configuration document")
)
