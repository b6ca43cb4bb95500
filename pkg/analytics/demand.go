package analytics

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// ActionForecast is the demand agent's only action.
const ActionForecast = "forecast"

// Demand configuration keys.
const (
	ConfigDefaultHorizon = "default_horizon_days"
	ConfigDefaultMethod  = "default_method"
	ConfigHistoryDays    = "history_days"
	ConfigTrendThreshold = "trend_threshold"
)

// Demand trend directions.
const (
	TrendRising    = "rising"
	TrendFalling   = "falling"
	TrendStable    = "stable"
	defaultTrendAt = 0.2
)

// DemandStrategy forecasts demand of one SKU and flags material shifts.
type DemandStrategy struct {
	source DataSource
}

var _ agent.Strategy = (*DemandStrategy)(nil)

// NewDemandStrategy returns the demand strategy reading from src.
func NewDemandStrategy(src DataSource) *DemandStrategy {
	return &DemandStrategy{source: src}
}

func (s *DemandStrategy) Type() string { return TypeDemand }

func (s *DemandStrategy) InitializeTools() []tool.Tool {
	return []tool.Tool{DemandHistoryTool(s.source), DemandForecastTool(s.source)}
}

func (s *DemandStrategy) SystemPrompt() string {
	return "You are a demand planner. Explain the forecast and what it means for stock planning. Be brief."
}

// ValidateInput requires a sku. horizon_days must be positive and method
// a known forecast method when given.
func (s *DemandStrategy) ValidateInput(input map[string]any) error {
	if err := validateAction(input, ActionForecast); err != nil {
		return err
	}
	if sku, _ := input["sku"].(string); sku == "" {
		return fmt.Errorf("sku is required")
	}
	if _, ok := input["horizon_days"]; ok && intParam(input, "horizon_days", 0) <= 0 {
		return fmt.Errorf("horizon_days must be a positive integer")
	}
	if m, ok := input["method"]; ok {
		if name, _ := m.(string); !slices.Contains(Methods, name) {
			return fmt.Errorf("unknown method %v, expected one of %v", m, Methods)
		}
	}
	return nil
}

func (s *DemandStrategy) Run(ctx context.Context, rc *agent.RunContext) (*agent.Result, error) {
	cfg, input := rc.Config(), rc.Input()
	sku, _ := input["sku"].(string)
	horizon := intParam(input, "horizon_days", cfg.Int(ConfigDefaultHorizon, 30))
	method, _ := input["method"].(string)
	if method == "" {
		method = cfg.String(ConfigDefaultMethod, MethodExponentialSmoothing)
	}
	threshold := cfg.Float(ConfigTrendThreshold, defaultTrendAt)

	res, err := rc.CallTool(ctx, ToolDemandForecast, map[string]any{
		"sku":          sku,
		"horizon_days": horizon,
		"history_days": cfg.Int(ConfigHistoryDays, 90),
		"method":       method,
	})
	if err != nil {
		return nil, err
	}
	f, _ := res.Data.(Forecast)
	ec := rc.Execution()
	ec.AddEvidence(ToolDemandForecast, f, f.Confidence)
	ec.AddReasoningStep(fmt.Sprintf("Fitted %s on %v days of history, in-sample MAPE %.1f%%",
		method, res.Metadata["history_points"], f.MAPE*100))

	change, direction := demandTrend(f, threshold)
	out := agent.NewResult(true, fmt.Sprintf("%s demand forecast for %d days: %.0f units", sku, horizon, f.Total()))
	out.SetData("forecast", f)
	out.SetData("trend", direction)
	out.SetData("change", change)
	out.SetConfidence(f.Confidence)

	switch direction {
	case TrendRising:
		out.AddInsight("trend", fmt.Sprintf("Demand for %s is rising %.0f%% above its average", sku, change*100), SeverityWarning)
		out.AddAction("adjust_stock",
			fmt.Sprintf("Raise stock of %s to cover %.0f units over %d days", sku, math.Ceil(f.Total()), horizon),
			agent.PriorityMedium,
			map[string]any{"sku": sku, "expected_units": math.Ceil(f.Total()), "change": change})
	case TrendFalling:
		out.AddInsight("trend", fmt.Sprintf("Demand for %s is falling %.0f%% below its average", sku, -change*100), SeverityInfo)
		out.AddRecommendation("Slow replenishment of "+sku,
			"Reduce order quantities until demand recovers",
			"Avoids building overstock")
	default:
		out.AddInsight("trend", fmt.Sprintf("Demand for %s is stable", sku), SeverityInfo)
	}
	if f.Confidence < 0.5 {
		out.AddInsight("forecast_quality", fmt.Sprintf("History of %s is volatile, treat the forecast with care", sku), SeverityWarning)
	}
	addNarrative(ctx, rc, out)
	return out, nil
}

// demandTrend compares projected against historical mean demand.
func demandTrend(f Forecast, threshold float64) (float64, string) {
	base := f.HistoryAvg
	if base <= 0 {
		if f.Mean() > 0 {
			return 1, TrendRising
		}
		return 0, TrendStable
	}
	change := math.Round((f.Mean()-base)/base*1000) / 1000
	switch {
	case change > threshold:
		return change, TrendRising
	case change < -threshold:
		return change, TrendFalling
	default:
		return change, TrendStable
	}
}
