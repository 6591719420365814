package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/wirehome/core/componentgroups"
	"github.com/wirehome/core/components"
	"github.com/wirehome/core/messagebus"
	"github.com/wirehome/core/repository"
	"github.com/wirehome/core/storage"
)

// ErrNotificationNotFound is returned when deleting an unknown notification.
var ErrNotificationNotFound = errors.New("notification not found")

// statusForError maps the core error taxonomy onto HTTP status codes:
// not-found 404, invalid argument 400, shutdown 503, storage failure 500.
func statusForError(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, components.ErrComponentNotFound),
		errors.Is(err, componentgroups.ErrComponentGroupNotFound),
		errors.Is(err, messagebus.ErrSubscriptionNotFound),
		errors.Is(err, ErrNotificationNotFound):
		return http.StatusNotFound
	case errors.Is(err, components.ErrEmptyUID),
		errors.Is(err, componentgroups.ErrEmptyUID),
		errors.Is(err, storage.ErrEmptyPath),
		errors.Is(err, storage.ErrPathEscapesRoot),
		errors.Is(err, repository.ErrInvalidPackageUID),
		errors.Is(err, repository.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
