package metrics

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/StricklySoft/stricklysoft-analytics/pkg/metrics"

// instruments mirror recorded points into OpenTelemetry.
type instruments struct {
	executions   metric.Int64Counter
	failures     metric.Int64Counter
	duration     metric.Float64Histogram
	tokens       metric.Int64Counter
	cost         metric.Float64Counter
	toolCalls    metric.Int64Counter
	toolDuration metric.Float64Histogram
}

// WithMeterProvider mirrors points into instruments of mp.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Collector) {
		inst, err := newInstruments(mp.Meter(meterName))
		if err != nil {
			c.logger.Warn("metrics: otel instruments unavailable", "error", err)
			return
		}
		c.inst = inst
	}
}

func newInstruments(meter metric.Meter) (*instruments, error) {
	i := &instruments{}
	var err error

	if i.executions, err = meter.Int64Counter("analytics.executions",
		metric.WithDescription("Agent executions started")); err != nil {
		return nil, err
	}
	if i.failures, err = meter.Int64Counter("analytics.executions.failed",
		metric.WithDescription("Agent executions that failed")); err != nil {
		return nil, err
	}
	if i.duration, err = meter.Float64Histogram("analytics.execution.duration",
		metric.WithDescription("Agent execution duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	if i.tokens, err = meter.Int64Counter("analytics.llm.tokens",
		metric.WithDescription("Language model tokens used")); err != nil {
		return nil, err
	}
	if i.cost, err = meter.Float64Counter("analytics.llm.cost",
		metric.WithDescription("Language model cost"), metric.WithUnit("USD")); err != nil {
		return nil, err
	}
	if i.toolCalls, err = meter.Int64Counter("analytics.tool.calls",
		metric.WithDescription("Tool calls")); err != nil {
		return nil, err
	}
	if i.toolDuration, err = meter.Float64Histogram("analytics.tool.duration",
		metric.WithDescription("Tool call duration"), metric.WithUnit("s")); err != nil {
		return nil, err
	}
	return i, nil
}

// mirror records p into the otel instruments, if configured.
func (c *Collector) mirror(p Point) {
	i := c.inst
	if i == nil {
		return
	}
	ctx := context.Background()
	attrs := metric.WithAttributes(
		attribute.String("agent.id", p.AgentID),
		attribute.String("agent.type", p.AgentType),
	)
	switch p.Name {
	case MetricExecutionStart:
		i.executions.Add(ctx, 1, attrs)
	case MetricExecutionFailure:
		i.failures.Add(ctx, 1, attrs)
	case MetricExecutionDuration:
		i.duration.Record(ctx, p.Value, attrs)
	case MetricTokensUsed:
		i.tokens.Add(ctx, int64(p.Value), attrs)
	case MetricLLMCost:
		i.cost.Add(ctx, p.Value, attrs, metric.WithAttributes(attribute.String("llm.provider", p.Tags[TagProvider])))
	case MetricToolCall:
		i.toolCalls.Add(ctx, 1, attrs, metric.WithAttributes(attribute.String("tool.name", p.Tags[TagTool])))
	case MetricToolDuration:
		i.toolDuration.Record(ctx, p.Value, attrs)
	}
}
