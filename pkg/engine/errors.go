// Package engine holds the pieces shared by the provisioning engines: the classified
// error taxonomy and the collaborator interfaces the job and backup pipelines depend on.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a failure so callers can decide how to surface or retry it.
type ErrorClass string

const (
	// ErrorClassNotFound marks a missing device, template, vendor, job or credential.
	ErrorClassNotFound ErrorClass = "not_found"

	// ErrorClassCredentialUnavailable marks an exhausted SSH credential fallback chain.
	ErrorClassCredentialUnavailable ErrorClass = "credential_unavailable"

	// ErrorClassTransport marks an SSH connect, auth or exec failure.
	ErrorClassTransport ErrorClass = "transport"

	// ErrorClassRender marks a template syntax or execution failure.
	ErrorClassRender ErrorClass = "render"

	// ErrorClassStorage marks an unreachable or failing persistence layer.
	ErrorClassStorage ErrorClass = "storage"

	// ErrorClassValidation marks rejected input, such as a reparent that would form a cycle
	// or a rendered config denied by policy.
	ErrorClassValidation ErrorClass = "validation"
)

// Error is a classified error with context.
// nolint:revive // engine.Error reads fine at call sites
type Error struct {
	// Class is the error classification.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Code is an optional error code for programmatic handling.
	Code string `json:"code,omitempty"`

	// Resource identifies the entity involved, e.g. "device/12".
	Resource string `json:"resource,omitempty"`

	// Operation is what was being attempted when the error occurred.
	Operation string `json:"operation,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := e.Message
	if e.Resource != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Resource)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", msg, e.Err.Error())
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error with the same class and code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Class == t.Class && e.Code == t.Code
}

func newError(class ErrorClass, message string, err error) *Error {
	return &Error{Class: class, Message: message, Err: err}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string, err error) *Error {
	return newError(ErrorClassNotFound, message, err).WithCode(ErrCodeNotFound)
}

// NewCredentialError creates a credential-unavailable error.
func NewCredentialError(message string, err error) *Error {
	return newError(ErrorClassCredentialUnavailable, message, err).WithCode(ErrCodeNoCredentials)
}

// NewTransportError creates a transport error.
func NewTransportError(message string, err error) *Error {
	return newError(ErrorClassTransport, message, err)
}

// NewRenderError creates a render error.
func NewRenderError(message string, err error) *Error {
	return newError(ErrorClassRender, message, err).WithCode(ErrCodeRender)
}

// NewStorageError creates a storage error.
func NewStorageError(message string, err error) *Error {
	return newError(ErrorClassStorage, message, err)
}

// NewValidationError creates a validation error.
func NewValidationError(message string, err error) *Error {
	return newError(ErrorClassValidation, message, err).WithCode(ErrCodeValidation)
}

// WithResource adds resource context to an error.
func (e *Error) WithResource(resource string) *Error {
	e.Resource = resource
	return e
}

// WithOperation adds operation context to an error.
func (e *Error) WithOperation(operation string) *Error {
	e.Operation = operation
	return e
}

// WithCode sets the error code.
func (e *Error) WithCode(code string) *Error {
	e.Code = code
	return e
}

// ClassOf returns the class of the first *Error in err's chain, or "" if there is none.
func ClassOf(err error) ErrorClass {
	var e *Error
	if errors.As(err, &e) {
		return e.Class
	}
	return ""
}

// IsNotFound reports whether err is classified as not found.
func IsNotFound(err error) bool { return ClassOf(err) == ErrorClassNotFound }

// IsCredentialUnavailable reports whether err is classified as credential unavailable.
func IsCredentialUnavailable(err error) bool {
	return ClassOf(err) == ErrorClassCredentialUnavailable
}

// IsTransport reports whether err is classified as a transport failure.
func IsTransport(err error) bool { return ClassOf(err) == ErrorClassTransport }

// IsRender reports whether err is classified as a render failure.
func IsRender(err error) bool { return ClassOf(err) == ErrorClassRender }

// IsStorage reports whether err is classified as a storage failure.
func IsStorage(err error) bool { return ClassOf(err) == ErrorClassStorage }

// IsValidation reports whether err is classified as a validation failure.
func IsValidation(err error) bool { return ClassOf(err) == ErrorClassValidation }

// Common error codes.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeNoCredentials = "NO_CREDENTIALS"
	ErrCodeRender        = "RENDER_FAILED"
	ErrCodeCycle         = "GROUP_CYCLE"
	ErrCodePolicyDenied  = "POLICY_DENIED"
	ErrCodeUnknownKind   = "UNKNOWN_JOB_KIND"
	ErrCodeExitStatus    = "EXIT_STATUS"
)
