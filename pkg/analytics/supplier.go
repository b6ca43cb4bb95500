package analytics

import (
	"context"
	"fmt"
	"math"
	"slices"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// Supplier actions.
const (
	ActionEvaluate = "evaluate"
	ActionCompare  = "compare"
)

// Supplier score weights. They are normalized to sum to 1.
const (
	ConfigWeightOnTime   = "weight_on_time"
	ConfigWeightQuality  = "weight_quality"
	ConfigWeightLeadTime = "weight_lead_time"
	ConfigWeightPrice    = "weight_price"
)

// Supplier ratings, from best to worst.
const (
	RatingPreferred = "preferred"
	RatingApproved  = "approved"
	RatingWatch     = "watch"
	RatingAtRisk    = "at_risk"
)

// maxLeadTimeDays scores a lead time of this many days or more as zero.
const maxLeadTimeDays = 30.0

// SupplierScore is the weighted evaluation of one supplier.
type SupplierScore struct {
	SupplierID string             `json:"supplier_id"`
	Name       string             `json:"name"`
	Score      float64            `json:"score"`
	Rating     string             `json:"rating"`
	Components map[string]float64 `json:"components"`
	Orders     int                `json:"orders"`
}

type supplierWeights struct {
	onTime, quality, lead, price float64
}

func weightsFrom(cfg agent.Config) (supplierWeights, error) {
	w := supplierWeights{
		onTime:  cfg.Float(ConfigWeightOnTime, 0.35),
		quality: cfg.Float(ConfigWeightQuality, 0.35),
		lead:    cfg.Float(ConfigWeightLeadTime, 0.15),
		price:   cfg.Float(ConfigWeightPrice, 0.15),
	}
	sum := w.onTime + w.quality + w.lead + w.price
	if w.onTime < 0 || w.quality < 0 || w.lead < 0 || w.price < 0 || sum <= 0 {
		return w, sserr.New(sserr.CodeInternalConfiguration, "analytics: supplier weights must be non-negative with a positive sum")
	}
	w.onTime, w.quality, w.lead, w.price = w.onTime/sum, w.quality/sum, w.lead/sum, w.price/sum
	return w, nil
}

// ScoreSupplier rates m under the default weights.
func ScoreSupplier(m SupplierMetrics) SupplierScore {
	w, _ := weightsFrom(nil)
	return score(m, w)
}

func score(m SupplierMetrics, w supplierWeights) SupplierScore {
	comp := map[string]float64{
		"on_time":   clamp(m.OnTimeRate, 0, 1),
		"quality":   clamp(m.QualityRate, 0, 1),
		"lead_time": clamp(1-m.AvgLeadTimeDays/maxLeadTimeDays, 0, 1),
		"price":     clamp(2-m.PriceIndex, 0, 1),
	}
	total := w.onTime*comp["on_time"] + w.quality*comp["quality"] + w.lead*comp["lead_time"] + w.price*comp["price"]
	total = math.Round(total*1000) / 1000
	return SupplierScore{
		SupplierID: m.SupplierID,
		Name:       m.Name,
		Score:      total,
		Rating:     rating(total),
		Components: comp,
		Orders:     m.Orders,
	}
}

func rating(score float64) string {
	switch {
	case score >= 0.85:
		return RatingPreferred
	case score >= 0.7:
		return RatingApproved
	case score >= 0.5:
		return RatingWatch
	default:
		return RatingAtRisk
	}
}

// SupplierStrategy scores suppliers on delivery, quality, lead time and
// price.
type SupplierStrategy struct {
	source DataSource
}

var _ agent.Strategy = (*SupplierStrategy)(nil)

// NewSupplierStrategy returns the supplier strategy reading from src.
func NewSupplierStrategy(src DataSource) *SupplierStrategy {
	return &SupplierStrategy{source: src}
}

func (s *SupplierStrategy) Type() string { return TypeSupplier }

func (s *SupplierStrategy) InitializeTools() []tool.Tool {
	return []tool.Tool{SupplierMetricsTool(s.source)}
}

func (s *SupplierStrategy) SystemPrompt() string {
	return "You are a procurement analyst. Summarize supplier performance and risks for a buyer. Be brief and factual."
}

// ValidateInput accepts evaluate or compare. compare needs at least two
// supplier ids when ids are given.
func (s *SupplierStrategy) ValidateInput(input map[string]any) error {
	if err := validateAction(input, ActionEvaluate, ActionCompare); err != nil {
		return err
	}
	if ids, ok := input["supplier_ids"]; ok {
		list := stringList(ids)
		if list == nil {
			return fmt.Errorf("supplier_ids must be a list of strings")
		}
		if action(input, ActionEvaluate) == ActionCompare && len(list) == 1 {
			return fmt.Errorf("compare needs at least two suppliers")
		}
	}
	return nil
}

func (s *SupplierStrategy) Run(ctx context.Context, rc *agent.RunContext) (*agent.Result, error) {
	w, err := weightsFrom(rc.Config())
	if err != nil {
		return nil, err
	}
	input := rc.Input()
	params := map[string]any{}
	if ids := stringList(input["supplier_ids"]); len(ids) > 0 {
		params["supplier_ids"] = ids
	}
	res, err := rc.CallTool(ctx, ToolSupplierMetrics, params)
	if err != nil {
		return nil, err
	}
	sups, _ := res.Data.([]SupplierMetrics)
	ec := rc.Execution()
	ec.AddEvidence(ToolSupplierMetrics, sups, 0.85)

	scores := make([]SupplierScore, 0, len(sups))
	for _, m := range sups {
		scores = append(scores, score(m, w))
	}
	ec.AddReasoningStep(fmt.Sprintf("Scored %d suppliers on weights on_time=%.2f quality=%.2f lead_time=%.2f price=%.2f",
		len(scores), w.onTime, w.quality, w.lead, w.price))

	var out *agent.Result
	if action(input, ActionEvaluate) == ActionCompare {
		if len(scores) < 2 {
			return nil, sserr.Validationf("compare needs at least two suppliers, found %d", len(scores))
		}
		out = compareSuppliers(scores)
	} else {
		out = evaluateSuppliers(scores)
	}
	out.SetConfidence(supplierConfidence(sups))
	addNarrative(ctx, rc, out)
	return out, nil
}

func evaluateSuppliers(scores []SupplierScore) *agent.Result {
	out := agent.NewResult(true, fmt.Sprintf("Evaluated %d suppliers", len(scores)))
	counts := map[string]int{}
	for _, sc := range scores {
		counts[sc.Rating]++
		switch sc.Rating {
		case RatingAtRisk:
			out.AddAction("review_supplier",
				fmt.Sprintf("Review %s: score %.2f", sc.SupplierID, sc.Score),
				agent.PriorityHigh,
				map[string]any{"supplier_id": sc.SupplierID, "score": sc.Score})
			out.AddInsight("supplier_risk", fmt.Sprintf("%s is at risk (score %.2f)", sc.SupplierID, sc.Score), SeverityCritical)
		case RatingWatch:
			out.AddInsight("supplier_risk", fmt.Sprintf("%s needs monitoring (score %.2f)", sc.SupplierID, sc.Score), SeverityWarning)
		}
	}
	if counts[RatingAtRisk] > 0 {
		out.AddRecommendation("Diversify sourcing",
			fmt.Sprintf("Qualify alternatives for %d at-risk suppliers", counts[RatingAtRisk]),
			"Lowers exposure to late or defective deliveries")
	}
	out.SetData("scores", scores)
	out.SetData("ratings", counts)
	return out
}

func compareSuppliers(scores []SupplierScore) *agent.Result {
	ranked := slices.Clone(scores)
	slices.SortStableFunc(ranked, func(a, b SupplierScore) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		}
		return 0
	})
	best, worst := ranked[0], ranked[len(ranked)-1]
	out := agent.NewResult(true, fmt.Sprintf("%s ranks first of %d suppliers", best.SupplierID, len(ranked)))
	out.AddRecommendation("Prefer "+best.SupplierID,
		fmt.Sprintf("%s scores %.2f against %.2f for %s", best.SupplierID, best.Score, worst.Score, worst.SupplierID),
		"Shifts volume to the most reliable supplier")
	if gap := best.Score - worst.Score; gap >= 0.2 {
		out.AddInsight("supplier_gap", fmt.Sprintf("Score spread of %.2f between best and worst supplier", gap), SeverityWarning)
	}
	out.SetData("ranking", ranked)
	out.SetData("best_supplier", best.SupplierID)
	return out
}

// supplierConfidence grows with the order history behind the metrics.
func supplierConfidence(sups []SupplierMetrics) float64 {
	if len(sups) == 0 {
		return 0.5
	}
	orders := 0
	for _, m := range sups {
		orders += m.Orders
	}
	avg := float64(orders) / float64(len(sups))
	return clamp(0.5+avg/100, 0.5, 0.95)
}
