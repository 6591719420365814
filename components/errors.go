package components

import "errors"

var (
	// ErrEmptyUID is returned when an operation is given an empty
	// component or setting identifier.
	ErrEmptyUID = errors.New("uid cannot be empty")

	// ErrComponentNotFound is returned when the requested component is not
	// registered.
	ErrComponentNotFound = errors.New("component not found")
)
