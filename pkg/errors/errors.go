// Package errors defines the structured error type shared by every
// analytics platform package.
//
// An [Error] carries a machine-readable [Code] of the form CATEGORY_NNN, a
// human-readable message that is safe to surface to callers, an optional
// cause, and optional structured details. Agents convert errors into failed
// results using [TypeName], which yields the error-type strings carried in
// those results ("ValidationError", "ToolError:<tool>", "PermissionError",
// "SandboxViolation", ...).
//
// The package is conventionally imported under the alias sserr:
//
//	import sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
//
//	if err := registry.Validate(name, params); err != nil {
//	    return sserr.ToolFailure(name, err)
//	}
//
//	if sserr.IsRetryable(err) {
//	    // back off and try again
//	}
package errors
