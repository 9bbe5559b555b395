// Package apperr classifies failures surfaced to callers of the maintenance
// service: validation, authentication, authorization, quota and backend errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is an error category
type Kind string

const (
	KindValidation       Kind = "validation"
	KindUnauthenticated  Kind = "unauthenticated"
	KindPermissionDenied Kind = "permission_denied"
	KindQuotaExceeded    Kind = "quota_exceeded"
	KindNotFound         Kind = "not_found"
	KindTransient        Kind = "transient"
)

// Error is a classified error. Err, when set, is the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation reports malformed input. Never retried.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Unauthenticated reports a missing or invalid caller identity.
func Unauthenticated(message string) error {
	return &Error{Kind: KindUnauthenticated, Message: message}
}

// PermissionDenied reports an authenticated caller lacking rights.
func PermissionDenied(message string) error {
	return &Error{Kind: KindPermissionDenied, Message: message}
}

// QuotaExceeded reports a rejected creation. The compensating delete has
// already happened when this is returned.
func QuotaExceeded(message string) error {
	return &Error{Kind: KindQuotaExceeded, Message: message}
}

// NotFound reports a missing entity.
func NotFound(message string) error {
	return &Error{Kind: KindNotFound, Message: message}
}

// Transient wraps a backend failure that the caller's retry policy may retry.
func Transient(message string, err error) error {
	return &Error{Kind: KindTransient, Message: message, Err: err}
}

// KindOf returns the kind of err. Unclassified errors are transient.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Message returns the caller-facing message of err.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return "internal error"
}

// HTTPStatus maps an error to its HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindPermissionDenied, KindQuotaExceeded:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusServiceUnavailable
}
