// Package apperr defines the error taxonomy shared by the checkout core and
// the HTTP boundary.
package apperr

import (
	"errors"
	"net/http"
)

// Kind classifies an error by how the caller is expected to react to it.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindSignature
	KindConsistency
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindSignature:
		return "signature"
	case KindConsistency:
		return "consistency"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to the status code returned at the request boundary.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation, KindSignature:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified error. Package level sentinels are *Error values so
// errors.Is keeps working through fmt.Errorf("%w") wrapping.
type Error struct {
	kind    Kind
	code    string
	message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return e.message + ": " + e.err.Error()
	}
	return e.message
}

func (e *Error) Unwrap() error { return e.err }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// Code is the stable machine readable identifier sent to clients.
func (e *Error) Code() string { return e.code }

func newError(kind Kind, code, message string) *Error {
	return &Error{kind: kind, code: code, message: message}
}

func Validation(code, message string) *Error { return newError(KindValidation, code, message) }
func NotFound(code, message string) *Error   { return newError(KindNotFound, code, message) }
func Conflict(code, message string) *Error   { return newError(KindConflict, code, message) }
func Signature(code, message string) *Error  { return newError(KindSignature, code, message) }

// Consistency wraps a failed compensating action. These are escalated to
// operators and never surfaced to customers as retryable.
func Consistency(message string, err error) *Error {
	return &Error{kind: KindConsistency, code: "CONSISTENCY_ALERT", message: message, err: err}
}

type kinded interface {
	Kind() Kind
}

type coded interface {
	Code() string
}

// KindOf walks the wrap chain and returns the first classification found.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var k kinded
	if errors.As(err, &k) {
		return k.Kind()
	}
	return KindInternal
}

// CodeOf returns the client facing code of err, or INTERNAL.
func CodeOf(err error) string {
	var c coded
	if errors.As(err, &c) {
		return c.Code()
	}
	return "INTERNAL"
}

// IsTerminal reports whether retrying err cannot change the outcome.
func IsTerminal(err error) bool {
	switch KindOf(err) {
	case KindValidation, KindNotFound, KindConflict, KindSignature:
		return true
	}
	return false
}
