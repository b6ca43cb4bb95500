package errors

// Code is a machine-readable error code. Codes are stable once assigned
// and follow the pattern CATEGORY_NNN.
type Code string

// Code categories:
//
//	VAL     - malformed input
//	AUTH    - missing or invalid credentials
//	AUTHZ   - capability check failed
//	NF      - unknown agent, session, group or component
//	CONF    - state conflict (duplicate agent, invalid status transition)
//	INT     - unexpected internal failure
//	UNAVAIL - dependency or capacity unavailable
//	TIMEOUT - operation exceeded its deadline
//	TOOL    - tool invocation failure
//	SBX     - sandbox resource ceiling exceeded
//	RATE    - upstream rate limiting
//	CANCEL  - execution abandoned by its caller
const (
	CodeValidation         Code = "VAL_001"
	CodeValidationRequired Code = "VAL_002"
	CodeValidationFormat   Code = "VAL_003"
	CodeValidationRange    Code = "VAL_004"

	CodeAuthentication        Code = "AUTH_001"
	CodeAuthenticationExpired Code = "AUTH_002"
	CodeAuthenticationInvalid Code = "AUTH_003"

	CodeAuthorization       Code = "AUTHZ_001"
	CodeAuthorizationDenied Code = "AUTHZ_002"
	// CodeAuthorizationScope is returned when a caller acts outside the
	// organization an agent belongs to.
	CodeAuthorizationScope Code = "AUTHZ_003"

	CodeNotFound          Code = "NF_001"
	CodeNotFoundAgent     Code = "NF_002"
	CodeNotFoundComponent Code = "NF_003"

	CodeConflict              Code = "CONF_001"
	CodeConflictAlreadyExists Code = "CONF_002"
	CodeConflictState         Code = "CONF_003"

	CodeInternal              Code = "INT_001"
	CodeInternalDatabase      Code = "INT_002"
	CodeInternalConfiguration Code = "INT_003"

	CodeUnavailable           Code = "UNAVAIL_001"
	CodeUnavailableDependency Code = "UNAVAIL_002"
	CodeUnavailableOverloaded Code = "UNAVAIL_003"

	CodeTimeout           Code = "TIMEOUT_001"
	CodeTimeoutDatabase   Code = "TIMEOUT_002"
	CodeTimeoutDependency Code = "TIMEOUT_003"

	// CodeToolExecution marks an error raised by, or while invoking, a tool.
	CodeToolExecution Code = "TOOL_001"
	// CodeToolNotFound marks a call to a tool that was never registered.
	CodeToolNotFound Code = "TOOL_002"

	// CodeSandboxViolation marks a unit of work that exceeded one of its
	// declared resource ceilings.
	CodeSandboxViolation Code = "SBX_001"

	CodeRateLimited Code = "RATE_001"

	CodeCanceled Code = "CANCEL_001"
)

// String returns the code as a plain string.
func (c Code) String() string {
	return string(c)
}

// Category returns the prefix before the first underscore ("VAL", "TOOL").
func (c Code) Category() string {
	s := string(c)
	for i, r := range s {
		if r == '_' {
			return s[:i]
		}
	}
	return s
}
