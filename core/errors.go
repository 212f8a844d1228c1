package core

import "github.com/pkg/errors"

var (
	ErrPermissionDenied = errors.New("permission denied")
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError is returned for malformed or out-of-range input. It is never retried.
type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		if len(err.Fields) > 0 {
			return err.Fields[0].Field + ": " + err.Fields[0].Error
		}
		return ""
	}
	return err.Err.Error()
}

// IsValidationError reports whether the root cause of err is a *ValidationError.
func IsValidationError(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

// State error codes.
const (
	StateNoOpTransition    = "no_op_transition"
	StateInvalidTransition = "invalid_transition"
	StateClassNotActive    = "class_not_active"
	StateSessionException  = "session_is_exception"
	StateConflict          = "conflict" // concurrent write, refresh and retry
)

// StateError signals a request that is well formed but not allowed in the current state.
// Callers may refresh and retry.
type StateError struct {
	Code string
	Err  error
}

func NewStateError(code, msg string) error {
	return &StateError{Code: code, Err: errors.New(msg)}
}

func (err StateError) Error() string {
	if err.Err == nil {
		return err.Code
	}
	return err.Err.Error()
}

// StateErrorCode returns the code of err's root cause, or "" if it is not a *StateError.
func StateErrorCode(err error) string {
	if sErr, ok := errors.Cause(err).(*StateError); ok {
		return sErr.Code
	}
	return ""
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
