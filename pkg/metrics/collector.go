// Package metrics records agent execution, tool and language model
// observations and answers aggregate queries over them.
//
// A [Collector] keeps a retention-trimmed list of timestamped points and
// a per-agent aggregate updated through a fixed dispatch table keyed by
// metric name. It implements [agent.Observer], so a runtime built with
// WithObserver(collector) reports every execution, tool call and model
// call. Snapshots are periodically handed to [Exporter]s; export is
// best-effort and an interval lost to a crash is not recovered.
package metrics

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
)

// Metric names understood by the aggregate dispatch table. Other names
// are stored as points but do not change aggregates.
const (
	MetricExecutionStart    = "execution_start"
	MetricExecutionEnd      = "execution_end"
	MetricExecutionDuration = "execution_duration"
	MetricExecutionSuccess  = "execution_success"
	MetricExecutionFailure  = "execution_failure"
	MetricTokensUsed        = "tokens_used"
	MetricLLMCall           = "llm_call"
	MetricLLMCost           = "llm_cost"
	MetricLLMLatency        = "llm_latency"
	MetricToolCall          = "tool_call"
	MetricToolDuration      = "tool_duration"
	MetricToolError         = "tool_error"
)

// Tag keys.
const (
	TagExecutionID = "execution_id"
	TagProvider    = "provider"
	TagModel       = "model"
	TagTool        = "tool"
	TagSuccess     = "success"
)

const (
	defaultRetention = 24 * time.Hour
	defaultMaxPoints = 100_000
)

// Point is one recorded observation.
type Point struct {
	AgentID   string            `json:"agent_id"`
	AgentType string            `json:"agent_type"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Aggregate is the running summary of one agent.
type Aggregate struct {
	AgentID            string    `json:"agent_id"`
	AgentType          string    `json:"agent_type"`
	Executions         int64     `json:"executions"`
	Successes          int64     `json:"successes"`
	Failures           int64     `json:"failures"`
	Active             int64     `json:"active"`
	AvgDurationSec     float64   `json:"avg_duration_sec"`
	TotalTokens        int64     `json:"total_tokens"`
	TotalCostUSD       float64   `json:"total_cost_usd"`
	LLMCalls           int64     `json:"llm_calls"`
	AvgLLMLatencySec   float64   `json:"avg_llm_latency_sec"`
	ToolCalls          int64     `json:"tool_calls"`
	ToolErrors         int64     `json:"tool_errors"`
	AvgToolDurationSec float64   `json:"avg_tool_duration_sec"`
	LastSeen           time.Time `json:"last_seen"`

	durations     int64
	toolDurations int64
}

// SuccessRate is Successes over finished executions, or 1 before any.
func (a Aggregate) SuccessRate() float64 {
	finished := a.Successes + a.Failures
	if finished == 0 {
		return 1
	}
	return float64(a.Successes) / float64(finished)
}

// runningMean folds v into the mean of n previous values.
func runningMean(mean float64, n int64, v float64) float64 {
	return mean + (v-mean)/float64(n+1)
}

// aggregators is the dispatch table from metric name to aggregate update.
var aggregators = map[string]func(a *Aggregate, p Point){
	MetricExecutionStart: func(a *Aggregate, _ Point) {
		a.Executions++
		a.Active++
	},
	MetricExecutionEnd: func(a *Aggregate, _ Point) {
		if a.Active > 0 {
			a.Active--
		}
	},
	MetricExecutionSuccess: func(a *Aggregate, _ Point) { a.Successes++ },
	MetricExecutionFailure: func(a *Aggregate, _ Point) { a.Failures++ },
	MetricExecutionDuration: func(a *Aggregate, p Point) {
		a.AvgDurationSec = runningMean(a.AvgDurationSec, a.durations, p.Value)
		a.durations++
	},
	MetricTokensUsed: func(a *Aggregate, p Point) { a.TotalTokens += int64(p.Value) },
	MetricLLMCost:    func(a *Aggregate, p Point) { a.TotalCostUSD += p.Value },
	MetricLLMLatency: func(a *Aggregate, p Point) {
		a.AvgLLMLatencySec = runningMean(a.AvgLLMLatencySec, a.LLMCalls, p.Value)
		a.LLMCalls++
	},
	MetricToolCall:  func(a *Aggregate, _ Point) { a.ToolCalls++ },
	MetricToolError: func(a *Aggregate, _ Point) { a.ToolErrors++ },
	MetricToolDuration: func(a *Aggregate, p Point) {
		a.AvgToolDurationSec = runningMean(a.AvgToolDurationSec, a.toolDurations, p.Value)
		a.toolDurations++
	},
}

// Collector records metrics in memory. All methods are safe for
// concurrent use; every path takes the same mutex and no I/O happens
// while it is held.
type Collector struct {
	retention time.Duration
	maxPoints int
	interval  time.Duration
	exporters []Exporter
	inst      *instruments
	now       func() time.Time
	logger    *slog.Logger

	mu         sync.Mutex
	points     []Point
	aggregates map[string]*Aggregate

	loopMu sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Collector.
type Option func(*Collector)

// WithRetention sets how long points are kept.
func WithRetention(d time.Duration) Option {
	return func(c *Collector) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithMaxPoints caps the number of stored points; the oldest are dropped.
func WithMaxPoints(n int) Option {
	return func(c *Collector) {
		if n > 0 {
			c.maxPoints = n
		}
	}
}

// WithExporters sets the exporters and the export interval.
func WithExporters(interval time.Duration, exporters ...Exporter) Option {
	return func(c *Collector) {
		c.interval = interval
		c.exporters = append(c.exporters, exporters...)
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Collector) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) { c.logger = l }
}

// NewCollector returns an empty collector.
func NewCollector(opts ...Option) *Collector {
	c := &Collector{
		retention:  defaultRetention,
		maxPoints:  defaultMaxPoints,
		interval:   time.Minute,
		now:        time.Now,
		logger:     slog.Default(),
		aggregates: make(map[string]*Aggregate),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecordMetric appends a point and updates the agent aggregate.
func (c *Collector) RecordMetric(agentID, agentType, name string, value float64, unit string, tags map[string]string) {
	p := Point{
		AgentID:   agentID,
		AgentType: agentType,
		Name:      name,
		Value:     value,
		Unit:      unit,
		Tags:      maps.Clone(tags),
		Timestamp: c.now().UTC(),
	}

	c.mu.Lock()
	c.points = append(c.points, p)
	if over := len(c.points) - c.maxPoints; over > 0 {
		// Reslice instead of copying; append reallocates to the live window
		// once the backing array is exhausted.
		clear(c.points[:over])
		c.points = c.points[over:]
	}
	a, ok := c.aggregates[agentID]
	if !ok {
		a = &Aggregate{AgentID: agentID, AgentType: agentType}
		c.aggregates[agentID] = a
	}
	a.LastSeen = p.Timestamp
	if fn, ok := aggregators[name]; ok {
		fn(a, p)
	}
	c.mu.Unlock()

	c.mirror(p)
}

// RecordExecutionStart records the start of an execution.
func (c *Collector) RecordExecutionStart(agentID, agentType, executionID string) {
	c.RecordMetric(agentID, agentType, MetricExecutionStart, 1, "count",
		map[string]string{TagExecutionID: executionID})
}

// RecordExecutionEnd records the outcome of an execution.
func (c *Collector) RecordExecutionEnd(agentID, agentType, executionID string, duration time.Duration, success bool, tokens int) {
	tags := map[string]string{TagExecutionID: executionID, TagSuccess: boolTag(success)}
	c.RecordMetric(agentID, agentType, MetricExecutionEnd, 1, "count", tags)
	c.RecordMetric(agentID, agentType, MetricExecutionDuration, duration.Seconds(), "seconds", tags)
	if success {
		c.RecordMetric(agentID, agentType, MetricExecutionSuccess, 1, "count", tags)
	} else {
		c.RecordMetric(agentID, agentType, MetricExecutionFailure, 1, "count", tags)
	}
	if tokens > 0 {
		c.RecordMetric(agentID, agentType, MetricTokensUsed, float64(tokens), "tokens", tags)
	}
}

// RecordLLMCall records one language model call. Token usage is counted
// at execution end, so only cost and latency are aggregated here.
func (c *Collector) RecordLLMCall(agentID, agentType, provider, model string, tokens int, costUSD float64, latency time.Duration) {
	tags := map[string]string{TagProvider: provider, TagModel: model}
	c.RecordMetric(agentID, agentType, MetricLLMCall, float64(tokens), "tokens", tags)
	c.RecordMetric(agentID, agentType, MetricLLMCost, costUSD, "usd", tags)
	c.RecordMetric(agentID, agentType, MetricLLMLatency, latency.Seconds(), "seconds", tags)
}

// RecordToolCall records one tool call.
func (c *Collector) RecordToolCall(agentID, agentType, toolName string, duration time.Duration, success bool) {
	tags := map[string]string{TagTool: toolName, TagSuccess: boolTag(success)}
	c.RecordMetric(agentID, agentType, MetricToolCall, 1, "count", tags)
	c.RecordMetric(agentID, agentType, MetricToolDuration, duration.Seconds(), "seconds", tags)
	if !success {
		c.RecordMetric(agentID, agentType, MetricToolError, 1, "count", tags)
	}
}

// ExecutionStarted implements agent.Observer.
func (c *Collector) ExecutionStarted(agentID, agentType, executionID string) {
	c.RecordExecutionStart(agentID, agentType, executionID)
}

// ExecutionFinished implements agent.Observer.
func (c *Collector) ExecutionFinished(agentID, agentType, executionID string, d time.Duration, success bool, tokens int) {
	c.RecordExecutionEnd(agentID, agentType, executionID, d, success, tokens)
}

// ToolCalled implements agent.Observer.
func (c *Collector) ToolCalled(agentID, agentType, toolName string, d time.Duration, success bool) {
	c.RecordToolCall(agentID, agentType, toolName, d, success)
}

// LLMCalled implements agent.Observer.
func (c *Collector) LLMCalled(agentID, agentType string, resp *llm.Response) {
	c.RecordLLMCall(agentID, agentType, resp.Provider, resp.Model, resp.Usage.TotalTokens, resp.Usage.CostUSD, resp.Latency)
}

// Trim drops points older than the retention window and returns how many
// were dropped.
func (c *Collector) Trim() int {
	cutoff := c.now().UTC().Add(-c.retention)
	c.mu.Lock()
	defer c.mu.Unlock()
	i := 0
	for i < len(c.points) && c.points[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		c.points = append(c.points[:0:0], c.points[i:]...)
	}
	return i
}

// Len returns the number of stored points.
func (c *Collector) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.points)
}

// Points returns copies of the stored points matching filter, oldest
// first. A nil filter matches every point.
func (c *Collector) Points(filter func(Point) bool) []Point {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Point
	for _, p := range c.points {
		if filter == nil || filter(p) {
			out = append(out, p)
		}
	}
	return out
}

// RemoveAgent forgets the aggregate of agentID. Its points age out
// normally.
func (c *Collector) RemoveAgent(agentID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.aggregates, agentID)
}

func boolTag(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
