package util

import "errors"

// Sentinel errors for common failure modes
var (
	// ErrAuth indicates a signing or credential failure
	ErrAuth = errors.New("authentication failed")

	// ErrTransient indicates a transient network or HTTP failure
	ErrTransient = errors.New("transient failure")

	// ErrPartialNote indicates a note whose images could not all be retrieved
	ErrPartialNote = errors.New("partial note")

	// ErrCorruptIndex indicates a store index that could not be parsed
	ErrCorruptIndex = errors.New("corrupt index")

	// ErrConflict indicates a duplicate note id in the destination store
	ErrConflict = errors.New("conflict")

	// ErrNotFound indicates a required resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidConfig indicates invalid configuration
	ErrInvalidConfig = errors.New("invalid configuration")
)
