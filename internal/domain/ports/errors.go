package ports

import "errors"

// Standard repository and refresh errors
var (
	// ErrNotFound is returned when the requested entity is not found
	ErrNotFound = errors.New("entity not found")

	// ErrInvalidArgument is returned when a caller supplies a nil entity or an
	// entity without a mappable upstream ID
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrEntityVersionConstraint is returned when a write collides with the
	// unique constraint on an entity version signature, typically because a
	// concurrent refresh persisted the same structural entity first
	ErrEntityVersionConstraint = errors.New("entity version constraint violation")

	// ErrGraphConstruction is returned when the imported data cannot be
	// assembled into a valid entity graph (dangling references, cycles)
	ErrGraphConstruction = errors.New("graph construction failed")

	// ErrRefreshFailed is returned when a refresh exhausts its retries
	ErrRefreshFailed = errors.New("refresh failed")
)
