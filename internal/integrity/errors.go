package integrity

import (
	"errors"
	"fmt"
)

// ErrorKind classifies errors raised below the engine boundary.
type ErrorKind int

const (
	// KindParameter means the caller supplied invalid, insufficient or
	// unknown input. The message is user-facing.
	KindParameter ErrorKind = iota + 1
	// KindParameterType means the input had the wrong shape.
	KindParameterType
	// KindDatabase means the ledger store itself failed.
	KindDatabase
)

func (k ErrorKind) String() string {
	switch k {
	case KindParameter:
		return "invalid parameter"
	case KindParameterType:
		return "invalid parameter type"
	case KindDatabase:
		return "ledger database error"
	default:
		return "integrity error"
	}
}

// ErrNotFound is wrapped by lookups of a natural key that matched nothing.
var ErrNotFound = errors.New("not found")

// Error is a typed error carrying its kind and a user-facing message.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ParamError returns a KindParameter error.
func ParamError(format string, args ...any) *Error {
	return &Error{Kind: KindParameter, Message: fmt.Sprintf(format, args...)}
}

// ParamTypeError returns a KindParameterType error.
func ParamTypeError(format string, args ...any) *Error {
	return &Error{Kind: KindParameterType, Message: fmt.Sprintf(format, args...)}
}

// DatabaseError returns a KindDatabase error wrapping the driver error.
func DatabaseError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindDatabase, Message: fmt.Sprintf(format, args...), Err: err}
}

// NotFound returns a KindParameter error that matches ErrNotFound.
func NotFound(what string) *Error {
	return &Error{Kind: KindParameter, Message: what + " not found", Err: ErrNotFound}
}

// KindOf reports the kind of err, or zero when err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// IsNotFound reports whether err is a not-found lookup failure.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// message renders err for a Result. Typed errors render with their kind
// prefix; anything else is reported verbatim.
func message(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Error()
	}
	return err.Error()
}
