package storage

import "errors"

var (
	// ErrNotFound is returned when a row for the requested key does not exist.
	ErrNotFound = errors.New("not found")

	// ErrUnavailable wraps transient persistence failures. Operations built on
	// the store are idempotent, so callers may retry the whole operation.
	ErrUnavailable = errors.New("store unavailable")
)
