package toolsdk

import (
	"errors"
	"fmt"
)

// ErrorCode is a machine-readable classification of a tool failure.
type ErrorCode string

const (
	CodeAuthentication      ErrorCode = "authentication_error"
	CodeConnection          ErrorCode = "connection_error"
	CodeCapabilityNotFound  ErrorCode = "capability_not_found"
	CodeParameterValidation ErrorCode = "parameter_validation_error"
	CodeExecution           ErrorCode = "execution_error"
	CodeTimeout             ErrorCode = "timeout_error"
)

// ToolError is the structured error type for all tool contract failures.
type ToolError struct {
	Code    ErrorCode
	ToolID  string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ToolError) Error() string {
	msg := e.Message
	if msg == "" && e.Cause != nil {
		msg = e.Cause.Error()
	}
	if e.ToolID != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.ToolID, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

// Unwrap returns the underlying cause.
func (e *ToolError) Unwrap() error {
	return e.Cause
}

// NewAuthenticationError reports invalid or rejected credentials on connect.
func NewAuthenticationError(toolID, msg string, cause error) *ToolError {
	return &ToolError{Code: CodeAuthentication, ToolID: toolID, Message: msg, Cause: cause}
}

// NewConnectionError reports an unreachable or failed backing service.
func NewConnectionError(toolID, msg string, cause error) *ToolError {
	return &ToolError{Code: CodeConnection, ToolID: toolID, Message: msg, Cause: cause}
}

// NewCapabilityNotFoundError reports an unknown capability name.
func NewCapabilityNotFoundError(toolID, capability string) *ToolError {
	return &ToolError{
		Code:    CodeCapabilityNotFound,
		ToolID:  toolID,
		Message: fmt.Sprintf("unknown capability %q", capability),
	}
}

// NewParameterValidationError reports invalid parameters. It is always
// raised before any side effect is attempted.
func NewParameterValidationError(toolID, msg string, cause error) *ToolError {
	return &ToolError{Code: CodeParameterValidation, ToolID: toolID, Message: msg, Cause: cause}
}

// NewExecutionError reports a failure during capability execution.
func NewExecutionError(toolID, msg string, cause error) *ToolError {
	return &ToolError{Code: CodeExecution, ToolID: toolID, Message: msg, Cause: cause}
}

// NewTimeoutError reports an invocation that exceeded its time bound.
func NewTimeoutError(toolID, msg string) *ToolError {
	return &ToolError{Code: CodeTimeout, ToolID: toolID, Message: msg}
}

// CodeOf extracts the error code from err, or CodeExecution if err is not a
// ToolError.
func CodeOf(err error) ErrorCode {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Code
	}
	return CodeExecution
}

// IsParameterValidation reports whether err is a pre-flight parameter error.
func IsParameterValidation(err error) bool {
	return CodeOf(err) == CodeParameterValidation
}
