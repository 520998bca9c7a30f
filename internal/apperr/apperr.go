// Package apperr defines the error taxonomy shared by the message log, the
// live coordinator and the HTTP handlers.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation to clients.
type Kind string

const (
	KindAuth       Kind = "auth"
	KindValidation Kind = "validation"
	KindStorage    Kind = "storage"
	KindUpstream   Kind = "upstream"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
)

// Error carries a Kind, the failing operation and the underlying cause.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same Kind, so errors.Is(err, apperr.Storage) works.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// Sentinels for errors.Is comparisons.
var (
	Auth       = &Error{Kind: KindAuth}
	Validation = &Error{Kind: KindValidation}
	Storage    = &Error{Kind: KindStorage}
	Upstream   = &Error{Kind: KindUpstream}
	NotFound   = &Error{Kind: KindNotFound}
	Forbidden  = &Error{Kind: KindForbidden}
)

func newf(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func AuthError(op string, err error) error       { return newf(KindAuth, op, err) }
func ValidationError(op string, err error) error { return newf(KindValidation, op, err) }
func StorageError(op string, err error) error    { return newf(KindStorage, op, err) }
func UpstreamError(op string, err error) error   { return newf(KindUpstream, op, err) }
func NotFoundError(op string, err error) error   { return newf(KindNotFound, op, err) }
func ForbiddenError(op string, err error) error  { return newf(KindForbidden, op, err) }

// Invalid is a shorthand for a ValidationError with a plain message.
func Invalid(op, msg string) error {
	return newf(KindValidation, op, errors.New(msg))
}

// KindOf returns the Kind of the outermost *Error in err's chain, or "" when none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
