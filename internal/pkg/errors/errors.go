package errors

import "errors"

// Application-wide errors. Stores and services wrap these with fmt.Errorf("%w: ...")
// so handlers can map them to stable error_type values.
var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrUnauthorized is returned for missing or invalid credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks the required rights.
	ErrForbidden = errors.New("forbidden")

	// ErrValidation is returned for malformed or missing input.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned when a write collides with existing state,
	// e.g. a different remote provider id is already bound to the user.
	ErrConflict = errors.New("resource state conflict")

	// ErrPersistence is returned when the store cannot complete a read or write.
	ErrPersistence = errors.New("persistence failure")
)
