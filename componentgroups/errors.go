package componentgroups

import "errors"

var (
	// ErrEmptyUID is returned when an operation is given an empty
	// identifier.
	ErrEmptyUID = errors.New("uid cannot be empty")

	// ErrComponentGroupNotFound is returned when the requested group is
	// not registered.
	ErrComponentGroupNotFound = errors.New("component group not found")
)
