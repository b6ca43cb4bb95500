package errors

import (
	"context"
	"errors"
	"fmt"
)

// New creates an error with no cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Newf creates an error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches code and message to err. It returns nil when err is nil so
// call sites can wrap unconditionally.
func Wrap(err error, code Code, message string) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Cause: err}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: err}
}

// Validation creates a CodeValidation error.
func Validation(message string) *Error {
	return New(CodeValidation, message)
}

// Validationf creates a CodeValidation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return Newf(CodeValidation, format, args...)
}

// NotFound creates a CodeNotFound error.
func NotFound(message string) *Error {
	return New(CodeNotFound, message)
}

// NotFoundf creates a CodeNotFound error with a formatted message.
func NotFoundf(format string, args ...any) *Error {
	return Newf(CodeNotFound, format, args...)
}

// Forbidden creates a CodeAuthorization error.
func Forbidden(message string) *Error {
	return New(CodeAuthorization, message)
}

// Forbiddenf creates a CodeAuthorizationDenied error with a formatted message.
func Forbiddenf(format string, args ...any) *Error {
	return Newf(CodeAuthorizationDenied, format, args...)
}

// Conflict creates a CodeConflict error.
func Conflict(message string) *Error {
	return New(CodeConflict, message)
}

// Internal creates a CodeInternal error.
func Internal(message string) *Error {
	return New(CodeInternal, message)
}

// Internalf creates a CodeInternal error with a formatted message.
func Internalf(format string, args ...any) *Error {
	return Newf(CodeInternal, format, args...)
}

// Unavailable creates a CodeUnavailable error.
func Unavailable(message string) *Error {
	return New(CodeUnavailable, message)
}

// Timeout creates a CodeTimeout error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// RateLimited creates a CodeRateLimited error.
func RateLimited(message string) *Error {
	return New(CodeRateLimited, message)
}

// ToolFailure wraps a failure raised while invoking the named tool. The
// tool name is kept in Details["tool"] and drives [TypeName].
func ToolFailure(tool string, cause error) *Error {
	return &Error{
		Code:    CodeToolExecution,
		Message: fmt.Sprintf("tool %q failed", tool),
		Cause:   cause,
		Details: map[string]any{"tool": tool},
	}
}

// UnknownTool reports a call to a tool name that is not registered.
func UnknownTool(tool string) *Error {
	return &Error{
		Code:    CodeToolNotFound,
		Message: fmt.Sprintf("tool %q is not registered", tool),
		Details: map[string]any{"tool": tool},
	}
}

// FromError returns err as an *Error, wrapping foreign errors as internal
// failures. Context cancellation and deadline errors keep their meaning.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := AsError(err); ok {
		return e
	}
	switch {
	case errors.Is(err, context.Canceled):
		return Wrap(err, CodeCanceled, "operation canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return Wrap(err, CodeTimeout, "operation deadline exceeded")
	}
	return Wrap(err, CodeInternal, "an unexpected error occurred")
}
