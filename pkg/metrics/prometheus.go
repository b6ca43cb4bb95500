package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const promNamespace = "analytics"

// PrometheusCollector exposes collector aggregates as Prometheus metrics.
// Values are read at scrape time.
type PrometheusCollector struct {
	c *Collector

	executions  *prometheus.Desc
	active      *prometheus.Desc
	avgDuration *prometheus.Desc
	successRate *prometheus.Desc
	tokens      *prometheus.Desc
	cost        *prometheus.Desc
	toolCalls   *prometheus.Desc
	toolErrors  *prometheus.Desc
	points      *prometheus.Desc
}

// NewPrometheusCollector returns a prometheus.Collector over c.
func NewPrometheusCollector(c *Collector) *PrometheusCollector {
	labels := []string{"agent_id", "agent_type"}
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(promNamespace, "agent", name), help, labels, nil)
	}
	return &PrometheusCollector{
		c:           c,
		executions:  desc("executions_total", "Executions by agent and outcome.", []string{"agent_id", "agent_type", "outcome"}),
		active:      desc("active_executions", "Executions in progress.", labels),
		avgDuration: desc("avg_duration_seconds", "Mean execution duration.", labels),
		successRate: desc("success_rate", "Share of finished executions that succeeded.", labels),
		tokens:      desc("tokens_total", "Language model tokens used.", labels),
		cost:        desc("cost_usd_total", "Language model cost in USD.", labels),
		toolCalls:   desc("tool_calls_total", "Tool calls.", labels),
		toolErrors:  desc("tool_errors_total", "Failed tool calls.", labels),
		points: prometheus.NewDesc(prometheus.BuildFQName(promNamespace, "metrics", "points"),
			"Points held in memory.", nil, nil),
	}
}

// Describe implements prometheus.Collector.
func (p *PrometheusCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		p.executions, p.active, p.avgDuration, p.successRate,
		p.tokens, p.cost, p.toolCalls, p.toolErrors, p.points,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (p *PrometheusCollector) Collect(ch chan<- prometheus.Metric) {
	for _, a := range p.c.Summaries() {
		id, typ := a.AgentID, a.AgentType
		ch <- prometheus.MustNewConstMetric(p.executions, prometheus.CounterValue, float64(a.Successes), id, typ, "success")
		ch <- prometheus.MustNewConstMetric(p.executions, prometheus.CounterValue, float64(a.Failures), id, typ, "failure")
		ch <- prometheus.MustNewConstMetric(p.active, prometheus.GaugeValue, float64(a.Active), id, typ)
		ch <- prometheus.MustNewConstMetric(p.avgDuration, prometheus.GaugeValue, a.AvgDurationSec, id, typ)
		ch <- prometheus.MustNewConstMetric(p.successRate, prometheus.GaugeValue, a.SuccessRate(), id, typ)
		ch <- prometheus.MustNewConstMetric(p.tokens, prometheus.CounterValue, float64(a.TotalTokens), id, typ)
		ch <- prometheus.MustNewConstMetric(p.cost, prometheus.CounterValue, a.TotalCostUSD, id, typ)
		ch <- prometheus.MustNewConstMetric(p.toolCalls, prometheus.CounterValue, float64(a.ToolCalls), id, typ)
		ch <- prometheus.MustNewConstMetric(p.toolErrors, prometheus.CounterValue, float64(a.ToolErrors), id, typ)
	}
	ch <- prometheus.MustNewConstMetric(p.points, prometheus.GaugeValue, float64(p.c.Len()))
}
