package engine

import (
	"errors"
	"fmt"
)

// Error is a failure detected by the engine while processing a dispatch.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// ActionType is the type of the action being processed, if any.
	ActionType string

	// Namespace is the namespace the action was routed to, if known.
	Namespace string

	// Err is the underlying cause.
	Err error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// ErrCodeClosed indicates a dispatch after Close.
	ErrCodeClosed ErrorCode = "CLOSED"

	// ErrCodeUnknownNamespace indicates a register entry whose namespace
	// matches no model registration.
	ErrCodeUnknownNamespace ErrorCode = "UNKNOWN_NAMESPACE"

	// ErrCodeInvalidModelIndex indicates a register entry pointing past the
	// end of its model array.
	ErrCodeInvalidModelIndex ErrorCode = "INVALID_MODEL_INDEX"

	// ErrCodeReducerFailed indicates a model reducer failed on its draft.
	ErrCodeReducerFailed ErrorCode = "REDUCER_FAILED"

	// ErrCodeEffectPanic indicates an effect panicked.
	ErrCodeEffectPanic ErrorCode = "EFFECT_PANIC"
)

// ErrClosed is returned for dispatches made after Close.
var ErrClosed = &Error{Code: ErrCodeClosed, Message: "engine is closed"}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.ActionType != "" && e.Namespace != "":
		msg = fmt.Sprintf("%s (action=%s, namespace=%s)", msg, e.ActionType, e.Namespace)
	case e.ActionType != "":
		msg = fmt.Sprintf("%s (action=%s)", msg, e.ActionType)
	case e.Namespace != "":
		msg = fmt.Sprintf("%s (namespace=%s)", msg, e.Namespace)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code, so ErrClosed works with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// IsReducerError reports whether err is a reducer failure.
// Uses errors.As to handle wrapped errors.
func IsReducerError(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeReducerFailed
}

// IsEffectPanic reports whether err comes from a panicking effect.
func IsEffectPanic(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Code == ErrCodeEffectPanic
}
