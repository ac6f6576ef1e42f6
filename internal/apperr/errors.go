// Package apperr defines the sentinel errors shared across service layers.
package apperr

import "errors"

var (
	// ErrInvalidPath marks a client path that failed traversal validation.
	ErrInvalidPath = errors.New("invalid path")
	// ErrNotFound marks a path absent from the index or the filesystem.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks a target path that already exists.
	ErrConflict = errors.New("conflict")
	// ErrNotEmpty marks a non-recursive delete of a non-empty directory.
	ErrNotEmpty = errors.New("directory not empty")
)
