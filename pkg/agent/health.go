package agent

import (
	"context"
	"fmt"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
)

// minHealthSamples is the number of executions required before the
// success rate counts against an agent's health.
const minHealthSamples = 5

// HealthReport describes the state of one agent instance.
type HealthReport struct {
	AgentID     string  `json:"agent_id"`
	AgentType   string  `json:"agent_type"`
	Healthy     bool    `json:"healthy"`
	Message     string  `json:"message"`
	SuccessRate float64 `json:"success_rate"`
	Tools       int     `json:"tools"`
	Totals      Totals  `json:"totals"`
	LLMProvider string  `json:"llm_provider,omitempty"`
	LLMError    string  `json:"llm_error,omitempty"`
}

// Health reports the instance as unhealthy when its success rate has
// fallen below half after a minimum number of executions, or when the
// language model client implements [llm.Pinger] and the ping fails.
func (r *Runtime) Health(ctx context.Context) HealthReport {
	totals := r.Totals()
	rep := HealthReport{
		AgentID:     r.id,
		AgentType:   r.strategy.Type(),
		Healthy:     true,
		Message:     "ok",
		SuccessRate: totals.SuccessRate(),
		Tools:       r.tools.Len(),
		Totals:      totals,
	}

	if totals.Executions >= minHealthSamples && rep.SuccessRate < 0.5 {
		rep.Healthy = false
		rep.Message = fmt.Sprintf("success rate %.0f%% over %d executions", rep.SuccessRate*100, totals.Executions)
	}

	if r.llm != nil {
		rep.LLMProvider = r.llm.Provider()
		if p, ok := r.llm.(llm.Pinger); ok {
			if err := p.Ping(ctx); err != nil {
				rep.Healthy = false
				rep.LLMError = err.Error()
				rep.Message = "language model unreachable"
			}
		}
	}
	return rep
}

// Err returns nil for a healthy report and an UNAVAIL error otherwise.
func (h HealthReport) Err() error {
	if h.Healthy {
		return nil
	}
	return sserr.Newf(sserr.CodeUnavailable, "agent %s: %s", h.AgentID, h.Message)
}
