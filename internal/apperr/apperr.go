// Package apperr is the error taxonomy shared by every component. Each async action
// resolves to an applied state change or one of these errors; handlers translate
// them to HTTP responses.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindConfig          Kind = "config"
	KindTransient       Kind = "transient"
	KindPartial         Kind = "partial"
	KindValidation      Kind = "validation"
	KindConflict        Kind = "conflict"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindUnauthenticated Kind = "unauthenticated"
	KindInternal        Kind = "internal"
)

type Error struct {
	Kind    Kind   `json:"-"`
	Code    string `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, code, message string, err error) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Err: err}
}

func Config(message string) *Error {
	return New(KindConfig, "configuration_error", message, nil)
}

func Transient(message string, err error) *Error {
	return New(KindTransient, "transient_failure", message, err)
}

func Partial(code, message string, err error) *Error {
	return New(KindPartial, code, message, err)
}

func Validation(code, message string) *Error {
	return New(KindValidation, code, message, nil)
}

func Conflict(code, message string) *Error {
	return New(KindConflict, code, message, nil)
}

func Forbidden(message string) *Error {
	return New(KindForbidden, "forbidden", message, nil)
}

func NotFound(message string) *Error {
	return New(KindNotFound, "not_found", message, nil)
}

func Unauthenticated(message string) *Error {
	return New(KindUnauthenticated, "unauthenticated", message, nil)
}

// As returns err as *Error, wrapping unknown errors as internal.
func As(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return New(KindInternal, "internal_error", "internal error", err)
}

func IsKind(err error, kind Kind) bool {
	var ae *Error
	return errors.As(err, &ae) && ae.Kind == kind
}

func Status(kind Kind) int {
	switch kind {
	case KindConfig:
		return http.StatusServiceUnavailable
	case KindTransient, KindPartial:
		return http.StatusBadGateway
	case KindValidation:
		return http.StatusUnprocessableEntity
	case KindConflict:
		return http.StatusConflict
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindUnauthenticated:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
