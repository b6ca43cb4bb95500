package errors

import (
	"errors"
)

// AsError returns the outermost *Error in err's chain.
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// GetCode returns the code of the outermost *Error in err's chain, or ""
// when there is none.
func GetCode(err error) Code {
	if e, ok := AsError(err); ok {
		return e.Code
	}
	return ""
}

// HasCode reports whether the outermost *Error in err's chain has code.
func HasCode(err error, code Code) bool {
	return GetCode(err) == code
}

// HasCodeInChain reports whether any *Error in err's chain has code.
func HasCodeInChain(err error, code Code) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Code == code {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

func hasCategory(err error, category string) bool {
	e, ok := AsError(err)
	return ok && e.Code.Category() == category
}

// IsValidation reports a VAL_xxx error.
func IsValidation(err error) bool { return hasCategory(err, "VAL") }

// IsAuthentication reports an AUTH_xxx error.
func IsAuthentication(err error) bool { return hasCategory(err, "AUTH") }

// IsAuthorization reports an AUTHZ_xxx error.
func IsAuthorization(err error) bool { return hasCategory(err, "AUTHZ") }

// IsNotFound reports an NF_xxx error.
func IsNotFound(err error) bool { return hasCategory(err, "NF") }

// IsConflict reports a CONF_xxx error.
func IsConflict(err error) bool { return hasCategory(err, "CONF") }

// IsInternal reports an INT_xxx error.
func IsInternal(err error) bool { return hasCategory(err, "INT") }

// IsUnavailable reports an UNAVAIL_xxx error.
func IsUnavailable(err error) bool { return hasCategory(err, "UNAVAIL") }

// IsTimeout reports a TIMEOUT_xxx error.
func IsTimeout(err error) bool { return hasCategory(err, "TIMEOUT") }

// IsTool reports a TOOL_xxx error.
func IsTool(err error) bool { return hasCategory(err, "TOOL") }

// IsSandboxViolation reports an SBX_xxx error.
func IsSandboxViolation(err error) bool { return hasCategory(err, "SBX") }

// IsRateLimited reports a RATE_xxx error.
func IsRateLimited(err error) bool { return hasCategory(err, "RATE") }

// IsRetryable reports whether retrying the operation may succeed: timeouts,
// unavailable dependencies and upstream rate limiting.
func IsRetryable(err error) bool {
	e, ok := AsError(err)
	if !ok {
		return false
	}
	switch e.Code.Category() {
	case "TIMEOUT", "UNAVAIL", "RATE":
		return true
	default:
		return false
	}
}
