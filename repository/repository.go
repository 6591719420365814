// Package repository resolves package file URIs for the scripting host. A
// package uid has the form "<id>@<version>"; files resolve below
// /repository/<id>/<version>/.
package repository

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidPackageUID is returned when the uid is not of the form
	// "<id>@<version>" with both parts non-empty.
	ErrInvalidPackageUID = errors.New("invalid package uid")

	// ErrInvalidFilename is returned for empty filenames or filenames
	// containing path separators.
	ErrInvalidFilename = errors.New("invalid filename")
)

// FileURI returns the URI of a file inside a repository package.
func FileURI(uid, filename string) (string, error) {
	id, version, ok := strings.Cut(uid, "@")
	if !ok || id == "" || version == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPackageUID, uid)
	}
	if filename == "" || strings.ContainsAny(filename, "/\\") || strings.Contains(filename, "..") {
		return "", fmt.Errorf("%w: %q", ErrInvalidFilename, filename)
	}
	return fmt.Sprintf("/repository/%s/%s/%s", id, version, filename), nil
}
