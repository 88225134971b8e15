// Package errs defines the error taxonomy shared by the presence engine.
// Callers branch on the kind, not the message.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind partitions failures by how the caller should react.
type Kind int

const (
	// KindValidation: malformed input, e.g. an unknown status value.
	KindValidation Kind = iota + 1
	// KindAuthorization: the caller may not perform the operation.
	KindAuthorization
	// KindConflict: the operation clashes with current state, e.g. starting
	// a session while one is already active.
	KindConflict
	// KindNotFound: the referenced presence record or session does not exist.
	KindNotFound
	// KindBackendUnavailable: transient storage or broadcast failure; the
	// write may be retried.
	KindBackendUnavailable
)

// Error carries a kind alongside the message and an optional cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

// Validationf builds a validation error.
func Validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// Authorizationf builds an authorization error.
func Authorizationf(format string, args ...any) error {
	return &Error{Kind: KindAuthorization, Msg: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) error {
	return &Error{Kind: KindConflict, Msg: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

// BackendUnavailable wraps a transient backend failure.
func BackendUnavailable(msg string, cause error) error {
	return &Error{Kind: KindBackendUnavailable, Msg: msg, Err: cause}
}

// KindOf returns the kind of err, or 0 for untyped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool { return KindOf(err) == kind }

// IsBackendUnavailable reports whether err is a transient backend failure.
func IsBackendUnavailable(err error) bool { return Is(err, KindBackendUnavailable) }

// HTTPStatus maps an error to the status code handlers respond with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindNotFound:
		return http.StatusNotFound
	case KindBackendUnavailable:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
