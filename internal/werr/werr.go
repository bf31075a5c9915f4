// Package werr defines the error kinds shared by the workspace components.
// Callers wrap them with fmt.Errorf("...: %w", ...) and classify with errors.Is.
package werr

import (
	"errors"
	"net/http"
)

var (
	ErrInvalidArgument        = errors.New("invalid argument")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification")
	ErrAlreadyExists          = errors.New("already exists")
	ErrUnauthorized           = errors.New("unauthorized")
	ErrForbidden              = errors.New("forbidden")
	ErrIO                     = errors.New("io failure")
	// ErrLogUnreadable means a log file was located but could not be read.
	ErrLogUnreadable = errors.New("log unreadable")
	ErrCleanup       = errors.New("cleanup failure")
)

// Kind returns a stable machine-readable name for err.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrConcurrentModification):
		return "concurrent_modification"
	case errors.Is(err, ErrAlreadyExists):
		return "already_exists"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrLogUnreadable):
		return "log_unreadable"
	case errors.Is(err, ErrCleanup):
		return "cleanup_failure"
	default:
		return "io_failure"
	}
}

// HTTPStatus maps an error kind to the status code used at the HTTP boundary.
func HTTPStatus(err error) int {
	switch Kind(err) {
	case "":
		return http.StatusOK
	case "invalid_argument":
		return http.StatusBadRequest
	case "not_found":
		return http.StatusNotFound
	case "concurrent_modification", "already_exists":
		return http.StatusConflict
	case "unauthorized":
		return http.StatusUnauthorized
	case "forbidden":
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
