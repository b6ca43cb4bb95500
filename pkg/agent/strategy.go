package agent

import (
	"context"
	"time"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// Strategy supplies the domain behavior of one agent type.
type Strategy interface {
	// Type names the agent type, e.g. "inventory".
	Type() string

	// InitializeTools returns the tools registered when the runtime is
	// built, in registration order.
	InitializeTools() []tool.Tool

	// SystemPrompt is prepended to language model conversations.
	SystemPrompt() string

	// Run is the core logic: read the input, call tools, accumulate
	// evidence and reasoning, and build the Result. A returned error fails
	// the execution.
	Run(ctx context.Context, rc *RunContext) (*Result, error)
}

// InputValidator is implemented by strategies with input requirements
// beyond being a JSON object.
type InputValidator interface {
	ValidateInput(input map[string]any) error
}

// PreExecutor is implemented by strategies needing a hook before Run.
type PreExecutor interface {
	PreExecute(ctx context.Context, ec *ExecutionContext) error
}

// PostExecutor is implemented by strategies needing a hook after Run.
type PostExecutor interface {
	PostExecute(ctx context.Context, ec *ExecutionContext, result *Result) error
}

// Request is the input of one execution.
type Request struct {
	// Input must be a map[string]any, or JSON bytes encoding an object.
	Input any

	OrgID     string
	UserID    string
	SessionID string
	// SessionToken is a signed capability naming a session. When set the
	// executor resolves it and it takes precedence over SessionID.
	SessionToken string
}

// Observer is notified of execution progress. Implementations must be
// quick and must not block: they are invoked inline.
type Observer interface {
	ExecutionStarted(agentID, agentType, executionID string)
	ExecutionFinished(agentID, agentType, executionID string, duration time.Duration, success bool, tokens int)
	ToolCalled(agentID, agentType, toolName string, duration time.Duration, success bool)
	LLMCalled(agentID, agentType string, resp *llm.Response)
}

// ToolAuthorizer decides whether a session may invoke a tool. A non-nil
// error denies the call.
type ToolAuthorizer interface {
	AuthorizeTool(ctx context.Context, sessionID, toolName string) error
}

type allowAll struct{}

func (allowAll) AuthorizeTool(context.Context, string, string) error { return nil }

// Sandbox runs a unit of work under resource ceilings. It returns the
// work's error or a sandbox violation.
type Sandbox interface {
	Execute(ctx context.Context, fn func(ctx context.Context) error) error
}

// TransitionHandler observes status transitions of every execution.
// Handlers run synchronously; panics are recovered.
type TransitionHandler func(executionID string, from, to Status)

// Config is the per-agent configuration passed at creation time.
type Config map[string]any

// Float returns the numeric value at key, or def.
func (c Config) Float(key string, def float64) float64 {
	switch v := c[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case int32:
		return float64(v)
	default:
		return def
	}
}

// Int returns the integer value at key, or def. Floats are truncated.
func (c Config) Int(key string, def int) int {
	if _, ok := c[key]; !ok {
		return def
	}
	return int(c.Float(key, float64(def)))
}

// String returns the string at key, or def.
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Bool returns the bool at key, or def.
func (c Config) Bool(key string, def bool) bool {
	if v, ok := c[key].(bool); ok {
		return v
	}
	return def
}
