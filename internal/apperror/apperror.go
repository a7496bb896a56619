// Package apperror defines the error taxonomy shared by every layer.
//
// Each category is a sentinel error. Constructors wrap the sentinel in an
// *AppError that carries a human-readable message, so callers can match with
// errors.Is and still show something sensible to the user.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")

	// ErrAuthRejected covers bad, expired and malformed tokens. Never retried.
	ErrAuthRejected = errors.New("authentication rejected")
	// ErrProviderUnavailable means the identity provider could not be reached.
	// Verification fails closed.
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	// ErrStorageUnavailable means the profile store could not be reached.
	ErrStorageUnavailable = errors.New("storage unavailable")
	// ErrUserCancelled is the one abort that is not a failure.
	ErrUserCancelled = errors.New("cancelled by user")
)

type AppError struct {
	Err     error  // sentinel category
	Message string // human-readable message
	Field   string // optional: field causing the error
	Cause   error  // optional: underlying error, kept for logs
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap exposes both the category and the cause to errors.Is / errors.As.
func (e *AppError) Unwrap() []error {
	if e.Cause != nil {
		return []error{e.Err, e.Cause}
	}
	return []error{e.Err}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

// Conflict reports an operation that clashes with the current state.
func Conflict(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: message,
		Cause:   cause,
	}
}

// AuthRejected marks a token or credential as unacceptable.
func AuthRejected(reason string, cause error) *AppError {
	return &AppError{
		Err:     ErrAuthRejected,
		Message: reason,
		Cause:   cause,
	}
}

// ProviderUnavailable wraps a failure to reach the identity provider.
func ProviderUnavailable(cause error) *AppError {
	return &AppError{
		Err:     ErrProviderUnavailable,
		Message: "identity provider unavailable",
		Cause:   cause,
	}
}

// StorageUnavailable wraps a failure to reach the profile store.
func StorageUnavailable(op string, cause error) *AppError {
	return &AppError{
		Err:     ErrStorageUnavailable,
		Message: fmt.Sprintf("storage unavailable during %s", op),
		Cause:   cause,
	}
}

// UserCancelled records that the user backed out of sign-in.
func UserCancelled() *AppError {
	return &AppError{
		Err:     ErrUserCancelled,
		Message: "sign-in cancelled",
	}
}

// IsTransient reports whether err is a category that a user-initiated retry
// might fix.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) || errors.Is(err, ErrStorageUnavailable)
}
