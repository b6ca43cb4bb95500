package agent

import (
	"maps"
	"sync"
	"time"
)

// Evidence is a source-attributed data point gathered during a run.
type Evidence struct {
	Source     string    `json:"source"`
	Data       any       `json:"data"`
	Confidence float64   `json:"confidence"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToolUsage records one tool call.
type ToolUsage struct {
	Tool      string         `json:"tool"`
	Input     map[string]any `json:"input"`
	Output    any            `json:"output,omitempty"`
	Duration  time.Duration  `json:"duration"`
	Success   bool           `json:"success"`
	Timestamp time.Time      `json:"timestamp"`
}

// ErrorRecord is an error observed during a run.
type ErrorRecord struct {
	Type      string         `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Details   map[string]any `json:"details,omitempty"`
}

// Transition is one entry of the status audit trail. Metadata always
// carries "previous_state".
type Transition struct {
	From      Status         `json:"from_state"`
	To        Status         `json:"to_state"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata"`
}

// ExecutionContext is the scratch record of one execution. Its logs are
// append-only: entries are never modified or removed, and accessors return
// copies. One context exists per execution and is discarded afterwards.
type ExecutionContext struct {
	ExecutionID string
	AgentID     string
	AgentType   string
	OrgID       string
	UserID      string
	SessionID   string
	StartedAt   time.Time

	now func() time.Time

	mu          sync.Mutex
	completedAt time.Time
	input       map[string]any
	output      map[string]any
	evidence    []Evidence
	reasoning   []string
	toolUsage   []ToolUsage
	toolCalls   int
	errors      []ErrorRecord
	history     []Transition
	tokens      int
	costUSD     float64
}

// NewExecutionContext creates the context of execution executionID.
func NewExecutionContext(executionID, agentID, agentType string, now func() time.Time) *ExecutionContext {
	if now == nil {
		now = time.Now
	}
	return &ExecutionContext{
		ExecutionID: executionID,
		AgentID:     agentID,
		AgentType:   agentType,
		StartedAt:   now().UTC(),
		now:         now,
		input:       map[string]any{},
		output:      map[string]any{},
	}
}

func (c *ExecutionContext) stamp() time.Time {
	return c.now().UTC()
}

func (c *ExecutionContext) setInput(input map[string]any) {
	c.mu.Lock()
	c.input = maps.Clone(input)
	c.mu.Unlock()
}

// Input returns a shallow copy of the execution input.
func (c *ExecutionContext) Input() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.input)
}

// SetOutput records an output value.
func (c *ExecutionContext) SetOutput(key string, value any) {
	c.mu.Lock()
	c.output[key] = value
	c.mu.Unlock()
}

// Output returns a shallow copy of the output map.
func (c *ExecutionContext) Output() map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.output)
}

// AddEvidence appends an evidence entry. confidence is clamped to [0, 1].
func (c *ExecutionContext) AddEvidence(source string, data any, confidence float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evidence = append(c.evidence, Evidence{
		Source:     source,
		Data:       data,
		Confidence: clamp01(confidence),
		Timestamp:  c.stamp(),
	})
}

// AddReasoningStep appends a reasoning step.
func (c *ExecutionContext) AddReasoningStep(step string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reasoning = append(c.reasoning, step)
}

// TrackToolUsage appends a tool usage entry and increments the call count.
func (c *ExecutionContext) TrackToolUsage(u ToolUsage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if u.Timestamp.IsZero() {
		u.Timestamp = c.stamp()
	}
	u.Input = maps.Clone(u.Input)
	c.toolUsage = append(c.toolUsage, u)
	c.toolCalls++
}

// AddError appends an error record.
func (c *ExecutionContext) AddError(errType, message string, details map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, ErrorRecord{
		Type:      errType,
		Message:   message,
		Timestamp: c.stamp(),
		Details:   maps.Clone(details),
	})
}

func (c *ExecutionContext) recordTransition(from, to Status, metadata map[string]any) {
	meta := make(map[string]any, len(metadata)+1)
	maps.Copy(meta, metadata)
	meta["previous_state"] = string(from)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, Transition{From: from, To: to, Timestamp: c.stamp(), Metadata: meta})
}

func (c *ExecutionContext) addUsage(tokens int, costUSD float64) {
	c.mu.Lock()
	c.tokens += tokens
	c.costUSD += costUSD
	c.mu.Unlock()
}

func (c *ExecutionContext) complete() {
	c.mu.Lock()
	if c.completedAt.IsZero() {
		c.completedAt = c.stamp()
	}
	c.mu.Unlock()
}

// Evidence returns a copy of the evidence log.
func (c *ExecutionContext) Evidence() []Evidence {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Evidence(nil), c.evidence...)
}

// Reasoning returns a copy of the reasoning log.
func (c *ExecutionContext) Reasoning() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.reasoning...)
}

// ToolUsage returns a copy of the tool usage log.
func (c *ExecutionContext) ToolUsage() []ToolUsage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolUsage(nil), c.toolUsage...)
}

// ToolCallCount returns the number of tool calls made.
func (c *ExecutionContext) ToolCallCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.toolCalls
}

// Errors returns a copy of the error log.
func (c *ExecutionContext) Errors() []ErrorRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ErrorRecord(nil), c.errors...)
}

// StateHistory returns a copy of the status audit trail.
func (c *ExecutionContext) StateHistory() []Transition {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transition(nil), c.history...)
}

// Usage returns the tokens and cost accumulated by language model calls.
func (c *ExecutionContext) Usage() (tokens int, costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens, c.costUSD
}

// CompletedAt returns the completion time and whether the run finished.
func (c *ExecutionContext) CompletedAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.completedAt, !c.completedAt.IsZero()
}

// Duration is the elapsed time of the run, up to now while it is in flight.
func (c *ExecutionContext) Duration() time.Duration {
	c.mu.Lock()
	end := c.completedAt
	c.mu.Unlock()
	if end.IsZero() {
		end = c.stamp()
	}
	return end.Sub(c.StartedAt)
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
