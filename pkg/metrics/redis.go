package metrics

import (
	"context"
	"strconv"
	"time"
)

// HashWriter is the subset of the redis client used by RedisExporter.
type HashWriter interface {
	HSet(ctx context.Context, key string, values ...any) (int64, error)
	Expire(ctx context.Context, key string, expiration time.Duration) (bool, error)
}

// RedisExporter writes the system summary and every agent aggregate as
// redis hashes under Prefix, so dashboards can read live values.
//
//	<prefix>:system
//	<prefix>:agent:<agent_id>
type RedisExporter struct {
	Client HashWriter
	Prefix string
	// TTL expires the hashes of agents that stop reporting. Zero keeps
	// them forever.
	TTL time.Duration
}

func (r *RedisExporter) Name() string { return "redis" }

// Export implements Exporter.
func (r *RedisExporter) Export(ctx context.Context, s Snapshot) error {
	prefix := r.Prefix
	if prefix == "" {
		prefix = "analytics:metrics"
	}

	sys := s.System
	if err := r.write(ctx, prefix+":system",
		"total_agents", sys.TotalAgents,
		"active_agents", sys.ActiveAgents,
		"active_executions", sys.ActiveExecutions,
		"executions_today", sys.ExecutionsToday,
		"cost_today_usd", formatFloat(sys.CostTodayUSD),
		"success_rate", formatFloat(sys.SuccessRate),
		"generated_at", s.GeneratedAt.Format(time.RFC3339),
	); err != nil {
		return err
	}

	for _, a := range s.Agents {
		if err := r.write(ctx, prefix+":agent:"+a.AgentID,
			"agent_type", a.AgentType,
			"executions", a.Executions,
			"successes", a.Successes,
			"failures", a.Failures,
			"active", a.Active,
			"success_rate", formatFloat(a.SuccessRate()),
			"avg_duration_sec", formatFloat(a.AvgDurationSec),
			"total_tokens", a.TotalTokens,
			"total_cost_usd", formatFloat(a.TotalCostUSD),
			"tool_calls", a.ToolCalls,
			"tool_errors", a.ToolErrors,
			"last_seen", a.LastSeen.Format(time.RFC3339),
		); err != nil {
			return err
		}
	}
	return nil
}

func (r *RedisExporter) write(ctx context.Context, key string, values ...any) error {
	if _, err := r.Client.HSet(ctx, key, values...); err != nil {
		return err
	}
	if r.TTL > 0 {
		if _, err := r.Client.Expire(ctx, key, r.TTL); err != nil {
			return err
		}
	}
	return nil
}

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }
