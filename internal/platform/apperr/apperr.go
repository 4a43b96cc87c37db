// Package apperr classifies failures so that every layer can report a
// stable error kind and the HTTP edge can map it to a status code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

// Kind is the classification of an error.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindAuthorization
	KindConflict
	KindStorage
	KindRateLimited
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation_error"
	case KindNotFound:
		return "not_found"
	case KindAuthorization:
		return "authorization_error"
	case KindConflict:
		return "conflict"
	case KindStorage:
		return "storage_error"
	case KindRateLimited:
		return "rate_limited"
	default:
		return "internal_error"
	}
}

// Error carries a Kind, a client-safe message and an optional cause.
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

func (e *Error) Unwrap() error { return e.Err }

func newf(kind Kind, format string, args ...interface{}) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func Validation(format string, args ...interface{}) error {
	return newf(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) error {
	return newf(KindNotFound, format, args...)
}

func Authorization(format string, args ...interface{}) error {
	return newf(KindAuthorization, format, args...)
}

func Conflict(format string, args ...interface{}) error {
	return newf(KindConflict, format, args...)
}

func RateLimited(format string, args ...interface{}) error {
	return newf(KindRateLimited, format, args...)
}

// Storage wraps a persistence failure. The cause is kept for logs but
// never shown to clients.
func Storage(op string, err error) error {
	return &Error{Kind: KindStorage, Message: op + " failed", Err: err}
}

// Wrap attaches kind to err unless err is already classified.
func Wrap(kind Kind, message string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// HTTPStatus maps an error to its response status.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAuthorization:
		return http.StatusForbidden
	case KindConflict:
		return http.StatusConflict
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// Body is the JSON error envelope returned to clients.
type Body struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ToHTTP converts err into an *echo.HTTPError. Storage and unclassified
// failures are reported without their cause.
func ToHTTP(err error) *echo.HTTPError {
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he
	}
	kind := KindOf(err)
	msg := "internal server error"
	var ae *Error
	if errors.As(err, &ae) {
		msg = ae.Message
	}
	he = echo.NewHTTPError(HTTPStatus(err), Body{Error: msg, Code: kind.String()})
	he.Internal = err
	return he
}
