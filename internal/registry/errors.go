package registry

import (
	"errors"
	"fmt"
)

// Error represents a registry or container contract violation.
//
// Errors are local precondition failures: they are returned to the caller
// that broke the contract and never swallowed.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Namespace identifies the affected namespace, when known.
	Namespace string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes registry errors.
type ErrorCode string

const (
	// CodeDuplicateModel indicates one model value was registered twice.
	CodeDuplicateModel ErrorCode = "DUPLICATE_MODEL"

	// CodeDuplicateNamespace indicates a base namespace was registered twice.
	CodeDuplicateNamespace ErrorCode = "DUPLICATE_NAMESPACE"

	// CodeDuplicateActionName indicates two leaves of one model resolve to
	// the same action name.
	CodeDuplicateActionName ErrorCode = "DUPLICATE_ACTION_NAME"

	// CodeModelNotRegistered indicates a lookup for an unknown model.
	CodeModelNotRegistered ErrorCode = "MODEL_NOT_REGISTERED"

	// CodeMissingKey indicates a dynamic model was looked up without a key.
	CodeMissingKey ErrorCode = "MISSING_KEY"

	// CodeUnexpectedKey indicates a static model was looked up with a key.
	CodeUnexpectedKey ErrorCode = "UNEXPECTED_KEY"

	// CodeAlreadyRegistered indicates register on an occupied namespace.
	CodeAlreadyRegistered ErrorCode = "ALREADY_REGISTERED"

	// CodeNamespaceConflict indicates access to a container whose namespace
	// is held by a different model.
	CodeNamespaceConflict ErrorCode = "NAMESPACE_CONFLICT"

	// CodeRequiredArgMissing indicates a required argument without a value.
	CodeRequiredArgMissing ErrorCode = "REQUIRED_ARG_MISSING"

	// CodeUnknownAction indicates an action name the model does not define.
	CodeUnknownAction ErrorCode = "UNKNOWN_ACTION"

	// CodeUnknownGetter indicates a getter path the model does not define.
	CodeUnknownGetter ErrorCode = "UNKNOWN_GETTER"

	// CodeSessionEnded indicates a workflow tried to act after its
	// container was unregistered.
	CodeSessionEnded ErrorCode = "SESSION_ENDED"
)

// Sentinels for errors.Is. An *Error matches a sentinel with the same code.
var (
	ErrDuplicateModel      = &Error{Code: CodeDuplicateModel}
	ErrDuplicateNamespace  = &Error{Code: CodeDuplicateNamespace}
	ErrDuplicateActionName = &Error{Code: CodeDuplicateActionName}
	ErrModelNotRegistered  = &Error{Code: CodeModelNotRegistered}
	ErrMissingKey          = &Error{Code: CodeMissingKey}
	ErrUnexpectedKey       = &Error{Code: CodeUnexpectedKey}
	ErrAlreadyRegistered   = &Error{Code: CodeAlreadyRegistered}
	ErrNamespaceConflict   = &Error{Code: CodeNamespaceConflict}
	ErrRequiredArgMissing  = &Error{Code: CodeRequiredArgMissing}
	ErrUnknownAction       = &Error{Code: CodeUnknownAction}
	ErrUnknownGetter       = &Error{Code: CodeUnknownGetter}
	ErrSessionEnded        = &Error{Code: CodeSessionEnded}
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Code)
	} else {
		msg = fmt.Sprintf("%s: %s", e.Code, msg)
	}
	if e.Namespace != "" {
		msg = fmt.Sprintf("%s (namespace=%s)", msg, e.Namespace)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "".
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var re *Error
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}

func newError(code ErrorCode, namespace, format string, args ...any) *Error {
	return &Error{
		Code:      code,
		Message:   fmt.Sprintf(format, args...),
		Namespace: namespace,
	}
}
