package utils

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorKind int

const (
	KindNotFound ErrorKind = iota + 1
	KindUnauthorized
	KindForbidden
	KindSessionInvalid
	KindInvalidState
	KindInvalidTransition
	KindConflict
	KindValidation
)

func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindUnauthorized:
		return "unauthorized"
	case KindForbidden:
		return "forbidden"
	case KindSessionInvalid:
		return "session_invalid"
	case KindInvalidState:
		return "invalid_state"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindConflict:
		return "conflict"
	case KindValidation:
		return "validation_error"
	}
	return "unknown"
}

// AppError is the error every service returns for a caller-visible failure.
type AppError struct {
	Kind    ErrorKind
	Message string
	// ShouldClearSession tells a customer client to wipe its local session
	// instead of retrying.
	ShouldClearSession bool
	Err                error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) HTTPStatus() int {
	switch e.Kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindForbidden, KindSessionInvalid:
		return http.StatusForbidden
	case KindInvalidState, KindValidation:
		return http.StatusBadRequest
	case KindConflict, KindInvalidTransition:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func NotFound(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func Unauthorized(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindUnauthorized, Message: fmt.Sprintf(format, args...)}
}

func Forbidden(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindForbidden, Message: fmt.Sprintf(format, args...)}
}

func SessionInvalid(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindSessionInvalid, Message: fmt.Sprintf(format, args...), ShouldClearSession: true}
}

func InvalidState(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...)}
}

func InvalidTransition(from, to string) *AppError {
	return &AppError{Kind: KindInvalidTransition, Message: fmt.Sprintf("cannot move request from %s to %s", from, to)}
}

func Conflict(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) *AppError {
	return &AppError{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// IsKind reports whether err carries an AppError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Kind == kind
}
