package core

import "github.com/pkg/errors"

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

type ErrorKind int

const (
	KindInvalid ErrorKind = iota + 1
	KindNotFound
	KindForbidden
	KindConflict
)

// DomainError is a sentinel error owned by a domain package. Its Kind tells transports how to report it.
type DomainError struct {
	Kind ErrorKind
	Msg  string
}

func (err *DomainError) Error() string { return err.Msg }

func NewInvalidError(msg string) error   { return &DomainError{Kind: KindInvalid, Msg: msg} }
func NewNotFoundError(msg string) error  { return &DomainError{Kind: KindNotFound, Msg: msg} }
func NewForbiddenError(msg string) error { return &DomainError{Kind: KindForbidden, Msg: msg} }
func NewConflictError(msg string) error  { return &DomainError{Kind: KindConflict, Msg: msg} }

// IsKind reports whether the cause of err is a DomainError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	dErr, ok := errors.Cause(err).(*DomainError)
	return ok && dErr.Kind == kind
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
