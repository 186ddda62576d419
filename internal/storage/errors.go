package storage

import "errors"

// Storage errors.
var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateKey is returned when creating a record whose key already exists.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrConflict is returned when a record changed since it was read.
	// The whole commit is rejected and may be retried from a fresh read.
	ErrConflict = errors.New("version conflict")

	// ErrInvalidInput is returned when input validation fails.
	ErrInvalidInput = errors.New("invalid input")
)
