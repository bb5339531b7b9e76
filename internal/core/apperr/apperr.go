// Package apperr holds the error taxonomy shared by the gateway and the HTTP layer.
package apperr

import (
	"errors"
	"net/http"
)

var (
	ErrMissingParameter    = errors.New("missing parameter")
	ErrInvalidFormat       = errors.New("invalid format")
	ErrMetadataUnavailable = errors.New("metadata unavailable")
	ErrDownloadFailed      = errors.New("download failed")
	ErrTimeout             = errors.New("extraction timed out")
	ErrInternal            = errors.New("internal error")
)

// Status maps an error to the HTTP status code the endpoint layer answers with.
// Unknown errors are treated as internal failures.
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrMissingParameter),
		errors.Is(err, ErrInvalidFormat),
		errors.Is(err, ErrMetadataUnavailable):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDownloadFailed):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
