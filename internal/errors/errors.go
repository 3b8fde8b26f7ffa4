// Package errors defines the coded error taxonomy shared by repositories,
// services and handlers. Codes classify failures for callers; the wrapped
// cause is preserved for logging and errors.Is/As checks.
package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"github.com/jackc/pgx/v5/pgconn"
)

// Code classifies an error for callers and the HTTP layer.
type Code string

const (
	ErrCodeValidation          Code = "VALIDATION"
	ErrCodeInsufficientCredits Code = "INSUFFICIENT_CREDITS"
	ErrCodeDuplicateVote       Code = "DUPLICATE_VOTE"
	ErrCodeInvalidState        Code = "INVALID_STATE"
	ErrCodeNotFound            Code = "NOT_FOUND"
	ErrCodeUnauthorized        Code = "UNAUTHORIZED"
	ErrCodeForbidden           Code = "FORBIDDEN"
	ErrCodeConflict            Code = "CONFLICT"
	ErrCodeInternal            Code = "INTERNAL"
)

// Error is a coded application error with an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is / errors.As.
func (e *Error) Unwrap() error {
	return e.cause
}

// New creates a coded error without a cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates a coded error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code and message to an underlying error. Returns nil when
// err is nil so call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, cause: err}
}

// NotFound reports a missing resource.
func NotFound(resource, id string) *Error {
	return Newf(ErrCodeNotFound, "%s %s not found", resource, id)
}

// InvalidInput reports a caller-fixable validation failure on a named field.
func InvalidInput(field, message string) *Error {
	return Newf(ErrCodeValidation, "%s: %s", field, message)
}

// CodeOf extracts the code from an error chain, defaulting to internal.
func CodeOf(err error) Code {
	var appErr *Error
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HTTPStatus maps an error chain to an HTTP status code.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrCodeValidation:
		return http.StatusUnprocessableEntity
	case ErrCodeInsufficientCredits:
		return http.StatusPaymentRequired
	case ErrCodeDuplicateVote, ErrCodeConflict, ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized:
		return http.StatusUnauthorized
	case ErrCodeForbidden:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// IsUniqueViolation reports whether err is a PostgreSQL unique constraint
// violation (SQLSTATE 23505).
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
