package metrics

import (
	"math"
	"slices"
	"strings"
	"time"
)

// AgentSummary returns the aggregate of agentID.
func (c *Collector) AgentSummary(agentID string) (Aggregate, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.aggregates[agentID]
	if !ok {
		return Aggregate{}, false
	}
	return *a, true
}

// Summaries returns every agent aggregate ordered by agent id.
func (c *Collector) Summaries() []Aggregate {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Aggregate, 0, len(c.aggregates))
	for _, a := range c.aggregates {
		out = append(out, *a)
	}
	slices.SortFunc(out, func(a, b Aggregate) int { return strings.Compare(a.AgentID, b.AgentID) })
	return out
}

// SystemSummary describes the whole platform.
type SystemSummary struct {
	TotalAgents      int       `json:"total_agents"`
	ActiveAgents     int       `json:"active_agents"`
	ActiveExecutions int64     `json:"active_executions"`
	ExecutionsToday  int       `json:"executions_today"`
	CostTodayUSD     float64   `json:"cost_today_usd"`
	TotalExecutions  int64     `json:"total_executions"`
	SuccessRate      float64   `json:"success_rate"`
	GeneratedAt      time.Time `json:"generated_at"`
}

// SystemSummary counts agents seen in the last hour as active and sums
// executions and cost since midnight UTC.
func (c *Collector) SystemSummary() SystemSummary {
	now := c.now().UTC()
	hourAgo := now.Add(-time.Hour)
	midnight := now.Truncate(24 * time.Hour)

	c.mu.Lock()
	defer c.mu.Unlock()

	s := SystemSummary{TotalAgents: len(c.aggregates), SuccessRate: 1, GeneratedAt: now}
	var succeeded, finished int64
	for _, a := range c.aggregates {
		if !a.LastSeen.Before(hourAgo) {
			s.ActiveAgents++
		}
		s.ActiveExecutions += a.Active
		s.TotalExecutions += a.Executions
		succeeded += a.Successes
		finished += a.Successes + a.Failures
	}
	if finished > 0 {
		s.SuccessRate = float64(succeeded) / float64(finished)
	}
	for _, p := range c.points {
		if p.Timestamp.Before(midnight) {
			continue
		}
		switch p.Name {
		case MetricExecutionStart:
			s.ExecutionsToday++
		case MetricLLMCost:
			s.CostTodayUSD += p.Value
		}
	}
	return s
}

// Direction of a trend.
const (
	DirectionIncreasing = "increasing"
	DirectionDecreasing = "decreasing"
	DirectionStable     = "stable"
	DirectionUnknown    = "unknown"
)

// trendTolerance is the relative change below which a trend is stable.
const trendTolerance = 0.05

// Bucket is one time slice of a trend.
type Bucket struct {
	Start time.Time `json:"start"`
	Count int       `json:"count"`
	Sum   float64   `json:"sum"`
	Avg   float64   `json:"avg"`
}

// Trend summarizes one metric over a trailing window.
type Trend struct {
	AgentID   string        `json:"agent_id"`
	Metric    string        `json:"metric"`
	Window    time.Duration `json:"window"`
	Buckets   []Bucket      `json:"buckets"`
	Count     int           `json:"count"`
	Min       float64       `json:"min"`
	Max       float64       `json:"max"`
	Avg       float64       `json:"avg"`
	Latest    float64       `json:"latest"`
	Direction string        `json:"direction"`
}

// Trend buckets the values of metric for agentID over the trailing
// window. An empty agentID covers every agent. Direction compares the
// average of the first and last non-empty buckets.
func (c *Collector) Trend(agentID, metric string, window time.Duration, buckets int) Trend {
	if buckets <= 0 {
		buckets = 1
	}
	now := c.now().UTC()
	start := now.Add(-window)
	width := window / time.Duration(buckets)
	if width <= 0 {
		width = 1
	}

	t := Trend{AgentID: agentID, Metric: metric, Window: window, Buckets: make([]Bucket, buckets), Direction: DirectionUnknown}
	for i := range t.Buckets {
		t.Buckets[i].Start = start.Add(time.Duration(i) * width)
	}

	points := c.Points(func(p Point) bool {
		return p.Name == metric && (agentID == "" || p.AgentID == agentID) && p.Timestamp.After(start)
	})
	if len(points) == 0 {
		return t
	}

	t.Min, t.Max = math.Inf(1), math.Inf(-1)
	var sum float64
	for _, p := range points {
		i := min(int(p.Timestamp.Sub(start)/width), buckets-1)
		b := &t.Buckets[i]
		b.Count++
		b.Sum += p.Value
		sum += p.Value
		t.Min = math.Min(t.Min, p.Value)
		t.Max = math.Max(t.Max, p.Value)
	}
	t.Count = len(points)
	t.Avg = sum / float64(len(points))
	t.Latest = points[len(points)-1].Value

	var first, last *Bucket
	for i := range t.Buckets {
		b := &t.Buckets[i]
		if b.Count == 0 {
			continue
		}
		b.Avg = b.Sum / float64(b.Count)
		if first == nil {
			first = b
		}
		last = b
	}
	t.Direction = direction(first.Avg, last.Avg, first == last)
	return t
}

func direction(from, to float64, single bool) string {
	if single {
		return DirectionStable
	}
	base := math.Max(math.Abs(from), 1e-9)
	switch change := (to - from) / base; {
	case change > trendTolerance:
		return DirectionIncreasing
	case change < -trendTolerance:
		return DirectionDecreasing
	default:
		return DirectionStable
	}
}

// UsagePatterns returns a histogram of execution starts by UTC hour of
// day over the trailing window. An empty agentID covers every agent.
func (c *Collector) UsagePatterns(agentID string, window time.Duration) [24]int {
	start := c.now().UTC().Add(-window)
	var hist [24]int
	for _, p := range c.Points(func(p Point) bool {
		return p.Name == MetricExecutionStart && (agentID == "" || p.AgentID == agentID) && p.Timestamp.After(start)
	}) {
		hist[p.Timestamp.Hour()]++
	}
	return hist
}

// CostReport groups language model cost over a window.
type CostReport struct {
	Window     time.Duration      `json:"window"`
	TotalUSD   float64            `json:"total_usd"`
	Calls      int                `json:"calls"`
	ByAgent    map[string]float64 `json:"by_agent"`
	ByProvider map[string]float64 `json:"by_provider"`
	ByModel    map[string]float64 `json:"by_model"`
}

// CostAnalysis groups language model cost by agent, provider and model
// over the trailing window.
func (c *Collector) CostAnalysis(window time.Duration) CostReport {
	start := c.now().UTC().Add(-window)
	r := CostReport{
		Window:     window,
		ByAgent:    make(map[string]float64),
		ByProvider: make(map[string]float64),
		ByModel:    make(map[string]float64),
	}
	for _, p := range c.Points(func(p Point) bool {
		return p.Name == MetricLLMCost && p.Timestamp.After(start)
	}) {
		r.Calls++
		r.TotalUSD += p.Value
		r.ByAgent[p.AgentID] += p.Value
		r.ByProvider[p.Tags[TagProvider]] += p.Value
		r.ByModel[p.Tags[TagModel]] += p.Value
	}
	return r
}
