package agent

import (
	"time"
)

// Priority of a recommended action.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Action is an operation the agent recommends carrying out.
type Action struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Priority    Priority       `json:"priority"`
	Params      map[string]any `json:"params,omitempty"`
}

// Recommendation is a titled suggestion with its expected impact.
type Recommendation struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
}

// Insight is a categorized observation.
type Insight struct {
	Category string `json:"category"`
	Message  string `json:"message"`
	Severity string `json:"severity"`
}

// ExecutionMetadata is stamped onto every Result by the runtime.
type ExecutionMetadata struct {
	ExecutionID string        `json:"execution_id"`
	AgentID     string        `json:"agent_id"`
	AgentType   string        `json:"agent_type"`
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	TokensUsed  int           `json:"tokens_used"`
	CostUSD     float64       `json:"cost_usd"`
	ToolsCalled []string      `json:"tools_called"`
}

// Result is the output of one execution. Strategies build it; the runtime
// then stamps Metadata and copies evidence and reasoning from the context.
type Result struct {
	Success         bool              `json:"success"`
	Message         string            `json:"message"`
	Data            map[string]any    `json:"data,omitempty"`
	Confidence      float64           `json:"confidence"`
	Evidence        []Evidence        `json:"evidence,omitempty"`
	Reasoning       []string          `json:"reasoning,omitempty"`
	Actions         []Action          `json:"actions,omitempty"`
	Recommendations []Recommendation  `json:"recommendations,omitempty"`
	Insights        []Insight         `json:"insights,omitempty"`
	Metadata        ExecutionMetadata `json:"metadata"`

	// ErrorType is set on failed results, e.g. "ValidationError".
	ErrorType string `json:"error_type,omitempty"`
}

// NewResult returns a result with an empty data map.
func NewResult(success bool, message string) *Result {
	return &Result{Success: success, Message: message, Data: map[string]any{}}
}

// Failure returns a failed result.
func Failure(errorType, message string) *Result {
	r := NewResult(false, message)
	r.ErrorType = errorType
	return r
}

// SetData sets a data entry and returns r.
func (r *Result) SetData(key string, value any) *Result {
	if r.Data == nil {
		r.Data = map[string]any{}
	}
	r.Data[key] = value
	return r
}

// SetConfidence sets the confidence, clamped to [0, 1].
func (r *Result) SetConfidence(c float64) *Result {
	r.Confidence = clamp01(c)
	return r
}

// AddAction appends a recommended action.
func (r *Result) AddAction(actionType, description string, priority Priority, params map[string]any) {
	r.Actions = append(r.Actions, Action{Type: actionType, Description: description, Priority: priority, Params: params})
}

// AddRecommendation appends a recommendation.
func (r *Result) AddRecommendation(title, description, impact string) {
	r.Recommendations = append(r.Recommendations, Recommendation{Title: title, Description: description, Impact: impact})
}

// AddInsight appends an insight.
func (r *Result) AddInsight(category, message, severity string) {
	r.Insights = append(r.Insights, Insight{Category: category, Message: message, Severity: severity})
}

// ActionsOfType returns the actions with the given type.
func (r *Result) ActionsOfType(actionType string) []Action {
	var out []Action
	for _, a := range r.Actions {
		if a.Type == actionType {
			out = append(out, a)
		}
	}
	return out
}
