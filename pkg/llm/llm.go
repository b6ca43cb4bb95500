// Package llm defines the provider-neutral language model contract agents
// consume. Vendor adapters translate this shape to and from a specific API
// and live outside this module.
package llm

import (
	"context"
	"time"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// Role of a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn of a conversation.
type Message struct {
	Role       Role   `json:"role"`
	Content    string `json:"content"`
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// Usage reports the tokens consumed by one completion. CostUSD is filled in
// by adapters that know their provider's pricing.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	TotalTokens      int     `json:"total_tokens"`
	CostUSD          float64 `json:"cost_usd"`
}

// ToolCall is a structured tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// Response is a normalized completion.
type Response struct {
	Content      string        `json:"content"`
	Model        string        `json:"model"`
	Provider     string        `json:"provider"`
	Usage        Usage         `json:"usage"`
	FinishReason string        `json:"finish_reason"`
	Latency      time.Duration `json:"latency"`
	ToolCalls    []ToolCall    `json:"tool_calls,omitempty"`
}

// Client is implemented by provider adapters.
type Client interface {
	// Provider names the backing provider, e.g. "anthropic".
	Provider() string

	// Complete returns a completion for messages.
	Complete(ctx context.Context, messages []Message) (*Response, error)

	// CompleteWithTools is Complete with tools advertised to the model.
	// The response may carry ToolCalls.
	CompleteWithTools(ctx context.Context, messages []Message, tools []tool.Spec) (*Response, error)
}

// Pinger is implemented by clients able to check provider reachability
// cheaply. The health checker uses it.
type Pinger interface {
	Ping(ctx context.Context) error
}
