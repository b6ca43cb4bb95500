// Package tool defines the capability contract agents invoke while they
// run: a named, schema-described operation returning a structured
// [Result].
//
// A [Registry] holds the tools of one agent, validates call parameters
// against each tool's JSON Schema before execution and advertises the
// schemas to language models through [Registry.Specs]. A [ResultCache]
// memoizes results of tools that declare themselves cacheable.
package tool

import (
	"context"
	"fmt"
	"time"
)

// Tool is a capability an agent can call. Implementations must be safe for
// concurrent use; the same tool instance serves every execution of the
// agent that registered it.
type Tool interface {
	// Name identifies the tool inside an agent's registry.
	Name() string

	// Description is advertised to language models.
	Description() string

	// Parameters describes the accepted parameters.
	Parameters() []Parameter

	// Execute runs the tool. params have already been validated and have
	// defaults applied. A returned error, or a Result with Success false,
	// counts as a failed call.
	Execute(ctx context.Context, inv Invocation, params map[string]any) (*Result, error)
}

// Cacheable is implemented by tools whose successful results may be reused
// for identical parameters within the returned TTL.
type Cacheable interface {
	CacheTTL() time.Duration
}

// Invocation identifies the execution a tool call belongs to.
type Invocation struct {
	ExecutionID string
	AgentID     string
	AgentType   string
	OrgID       string
	UserID      string
	SessionID   string
}

// Result is the outcome of a tool call. Data holds the payload type of the
// tool family (for example []analytics.StockItem); use [DataAs] to read it.
type Result struct {
	Success  bool           `json:"success"`
	Data     any            `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// OK returns a successful result carrying data.
func OK(data any) *Result {
	return &Result{Success: true, Data: data}
}

// Failed returns an unsuccessful result with a message.
func Failed(format string, args ...any) *Result {
	return &Result{Success: false, Error: fmt.Sprintf(format, args...)}
}

// WithMetadata sets a metadata entry and returns r.
func (r *Result) WithMetadata(key string, value any) *Result {
	if r.Metadata == nil {
		r.Metadata = make(map[string]any)
	}
	r.Metadata[key] = value
	return r
}

// DataAs returns the payload of r as a T. It fails when r is nil,
// unsuccessful, or carries a payload of another type.
func DataAs[T any](r *Result) (T, error) {
	var zero T
	if r == nil {
		return zero, fmt.Errorf("tool: nil result")
	}
	if !r.Success {
		return zero, fmt.Errorf("tool: result is unsuccessful: %s", r.Error)
	}
	v, ok := r.Data.(T)
	if !ok {
		return zero, fmt.Errorf("tool: result payload is %T, not %T", r.Data, zero)
	}
	return v, nil
}

// Func adapts a function to the [Tool] interface.
type Func struct {
	ToolName        string
	ToolDescription string
	Params          []Parameter
	Fn              func(ctx context.Context, inv Invocation, params map[string]any) (*Result, error)
}

var _ Tool = (*Func)(nil)

func (f *Func) Name() string            { return f.ToolName }
func (f *Func) Description() string     { return f.ToolDescription }
func (f *Func) Parameters() []Parameter { return f.Params }

// Execute calls Fn.
func (f *Func) Execute(ctx context.Context, inv Invocation, params map[string]any) (*Result, error) {
	return f.Fn(ctx, inv, params)
}
