package repository

import "errors"

// Sentinel errors produced by the store layer. Call sites wrap them
// with context; callers branch with errors.Is.
var (
	// ErrNotFound means the row a lookup asked for does not exist.
	// The coalescing probe hits this on every first enqueue for a
	// receiver, so it is an answer as often as a failure.
	ErrNotFound = errors.New("not found")

	// ErrBusy means the database file stayed locked by a competing
	// writer past the configured busy timeout.
	ErrBusy = errors.New("database busy")
)
