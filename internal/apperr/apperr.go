// Package apperr defines the error taxonomy shared by every component of
// the reminder core and the HTTP status codes the callback endpoint maps
// them to.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error into one of the taxonomy buckets.
type Kind string

const (
	KindParse              Kind = "parse"
	KindValidation         Kind = "validation"
	KindState              Kind = "state"
	KindAuth               Kind = "auth"
	KindNotFound           Kind = "not_found"
	KindTransientDelivery  Kind = "transient_delivery"
	KindPermanentDelivery  Kind = "permanent_delivery"
	KindStore              Kind = "store"
	KindPolicy             Kind = "policy"
)

// Error wraps an underlying cause with a taxonomy Kind and a message
// meant for the caller (never leaks internal detail by itself).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf returns the Kind of err if it (or something it wraps) is an
// *Error, and false otherwise.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// HTTPStatus maps an error's Kind to the status code defined in spec.md §7.
func HTTPStatus(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch kind {
	case KindValidation, KindParse:
		return http.StatusBadRequest
	case KindAuth:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindState:
		return http.StatusConflict
	case KindPolicy:
		return http.StatusUnprocessableEntity
	case KindStore, KindTransientDelivery, KindPermanentDelivery:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
