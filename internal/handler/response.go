package handler

// RESPONSE HELPERS:
// Every handler answers through writeJSON or writeError so the API has one
// error shape:
//
//	{"error": "unauthorized", "message": "We couldn't verify your sign-in. Please try again."}
//
// writeError is the only place domain errors become HTTP status codes.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alchemyai/alchemy-backend/internal/apperror"
	"github.com/alchemyai/alchemy-backend/internal/service"
	"github.com/alchemyai/alchemy-backend/internal/session"
)

// ErrorResponse is the standard error format returned by all API endpoints.
type ErrorResponse struct {
	Error     string `json:"error"`               // machine-readable error type (e.g. "unauthorized")
	Message   string `json:"message"`             // human-readable description
	Retryable bool   `json:"retryable,omitempty"` // trying again later may succeed
}

// writeJSON sends a JSON response with the given status code.
// Headers and status must be set before the body is written.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			// Headers are already sent; all we can do is log.
			slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
		}
	}
}

// errorStatus maps a domain error to an HTTP status and error type.
func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, apperror.ErrValidation):
		return http.StatusBadRequest, "validation_error"
	case errors.Is(err, apperror.ErrAuthRejected):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, apperror.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, apperror.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, apperror.ErrProviderUnavailable):
		return http.StatusServiceUnavailable, "provider_unavailable"
	case errors.Is(err, apperror.ErrStorageUnavailable):
		return http.StatusServiceUnavailable, "storage_unavailable"
	case errors.Is(err, service.ErrGoogleDisabled):
		return http.StatusNotImplemented, "not_configured"
	}
	return http.StatusInternalServerError, "internal_error"
}

// writeError maps a domain error to the appropriate HTTP status code and
// sends it.
//
// The message comes from, in order: a sign-in *session.Failure (already
// written for the user), an *apperror.AppError, or a generic fallback.
// Raw internal error text is never sent to the client.
func writeError(w http.ResponseWriter, err error) {
	status, errorType := errorStatus(err)

	message := "An internal error occurred"
	if status == http.StatusNotImplemented {
		message = "Google sign-in is not enabled on this server"
	}
	var failure *session.Failure
	var appErr *apperror.AppError
	switch {
	case errors.As(err, &failure):
		message = failure.Message
	case errors.As(err, &appErr):
		message = appErr.Message
	}

	writeJSON(w, status, ErrorResponse{
		Error:     errorType,
		Message:   message,
		Retryable: apperror.IsTransient(err),
	})
}
