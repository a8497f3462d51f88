package storage

import "errors"

// Storage errors. Run output is append-only: a run, trade or aggregate is
// written once and never updated.
var (
	// ErrNotFound means no record has the requested key.
	ErrNotFound = errors.New("record not found")

	// ErrDuplicateKey means a record with the same key is already stored.
	ErrDuplicateKey = errors.New("duplicate key")

	// ErrInvalidInput means a record is nil or lacks its key.
	ErrInvalidInput = errors.New("invalid input")
)
