// Package apperr holds the sentinel errors shared by services and the HTTP layer.
// Services wrap them with fmt.Errorf("...: %w", ...) and the API maps them to
// status codes with errors.Is.
package apperr

import "errors"

var (
	// ErrNotFound is returned for unknown or unparsable conversation and message ids.
	ErrNotFound = errors.New("resource not found")

	// ErrValidation marks malformed or missing request fields.
	ErrValidation = errors.New("validation failed")

	// ErrConflict marks an operation that does not fit the current state.
	ErrConflict = errors.New("resource conflict")

	// ErrPersistence marks a storage failure; the in-flight transaction was rolled back.
	ErrPersistence = errors.New("persistence failure")
)
