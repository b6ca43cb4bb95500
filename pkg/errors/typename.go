package errors

import (
	"context"
	"errors"
	"fmt"
)

// Error type names carried by failed agent results.
const (
	TypeValidation  = "ValidationError"
	TypeTool        = "ToolError"
	TypePermission  = "PermissionError"
	TypeSandbox     = "SandboxViolation"
	TypeCancelled   = "Cancelled"
	TypeTimeout     = "TimeoutError"
	TypeRateLimit   = "RateLimitError"
	TypeNotFound    = "NotFoundError"
	TypeConflict    = "ConflictError"
	TypeUnavailable = "UnavailableError"
	TypeInternal    = "InternalError"
	TypePanic       = "PanicError"
)

// TypeName returns the machine-readable error-type string for err.
//
// Platform errors map by category, with tool failures rendered as
// "ToolError:<tool>". Context cancellation maps to "Cancelled" and deadline
// expiry to "TimeoutError". Any other error is named after the Go type of
// the innermost error in its chain, e.g. "*errors.errorString".
func TypeName(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := AsError(err); ok {
		switch e.Code.Category() {
		case "VAL":
			return TypeValidation
		case "TOOL":
			if tool := e.Detail("tool"); tool != "" {
				return TypeTool + ":" + tool
			}
			return TypeTool
		case "AUTH", "AUTHZ":
			return TypePermission
		case "SBX":
			return TypeSandbox
		case "CANCEL":
			return TypeCancelled
		case "TIMEOUT":
			return TypeTimeout
		case "RATE":
			return TypeRateLimit
		case "NF":
			return TypeNotFound
		case "CONF":
			return TypeConflict
		case "UNAVAIL":
			return TypeUnavailable
		default:
			return TypeInternal
		}
	}
	switch {
	case errors.Is(err, context.Canceled):
		return TypeCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return TypeTimeout
	}
	inner := err
	for {
		next := errors.Unwrap(inner)
		if next == nil {
			break
		}
		inner = next
	}
	return fmt.Sprintf("%T", inner)
}
