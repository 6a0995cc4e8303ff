// Package apperr holds the error taxonomy shared by the domain packages and the
// HTTP layer. Domain packages declare sentinel values; handlers map kinds to
// status codes in one place.
package apperr

import (
	"errors"
	"net/http"
)

type Kind string

const (
	KindValidation      Kind = "validation"
	KindAuthorization   Kind = "authorization"
	KindUnauthenticated Kind = "unauthenticated"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindTransaction     Kind = "transaction"
	KindInternal        Kind = "internal"
)

const (
	CodeValidation            = "VALIDATION_ERROR"
	CodeAuthorization         = "AUTHORIZATION_ERROR"
	CodeAuthentication        = "AUTHENTICATION_ERROR"
	CodeNotFound              = "NOT_FOUND"
	CodeConflict              = "CONFLICT"
	CodeTransaction           = "TRANSACTION_ERROR"
	CodeDuplicatePrescription = "DUPLICATE_PRESCRIPTION"
	CodeInternal              = "INTERNAL_ERROR"
)

type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details []string
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches on kind and message so that a sentinel still matches after
// WithDetails produced a copy carrying extra context.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

// WithDetails returns a copy of e with the given details attached.
func (e *Error) WithDetails(details ...string) *Error {
	cp := *e
	cp.Details = append([]string(nil), details...)
	return &cp
}

func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindValidation, KindConflict:
		return http.StatusBadRequest
	case KindAuthorization:
		return http.StatusForbidden
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindTransaction:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(msg string) *Error {
	return newError(KindValidation, CodeValidation, msg)
}

func Authorization(msg string) *Error {
	return newError(KindAuthorization, CodeAuthorization, msg)
}

func Unauthenticated(msg string) *Error {
	return newError(KindUnauthenticated, CodeAuthentication, msg)
}

func NotFound(msg string) *Error {
	return newError(KindNotFound, CodeNotFound, msg)
}

func Conflict(msg string) *Error {
	return newError(KindConflict, CodeConflict, msg)
}

func Transaction(msg string) *Error {
	return newError(KindTransaction, CodeTransaction, msg)
}

// WithCode builds an error of the given kind that reports a custom code.
func WithCode(kind Kind, code, msg string) *Error {
	return newError(kind, code, msg)
}

// ErrTxExhausted is returned once the write-conflict retry bound is spent.
var ErrTxExhausted = Transaction("transaction failed after multiple attempts")

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf reports the kind of err, or KindInternal for anything unclassified.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}
