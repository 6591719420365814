package storage

import "errors"

var (
	// ErrEmptyPath is returned when no path segments are given.
	ErrEmptyPath = errors.New("storage path is empty")

	// ErrPathEscapesRoot is returned when a path segment would resolve
	// outside the data directory.
	ErrPathEscapesRoot = errors.New("storage path escapes data directory")
)
