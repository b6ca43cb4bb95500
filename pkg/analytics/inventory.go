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

// Inventory actions.
const (
	ActionMonitor = "monitor"
	ActionReorder = "reorder"
	ActionAnalyze = "analyze"
)

// Inventory configuration keys and their defaults.
const (
	ConfigCriticalDays  = "critical_threshold_days"
	ConfigWarningDays   = "warning_threshold_days"
	ConfigTargetDays    = "target_coverage_days"
	ConfigOverstockDays = "overstock_threshold_days"
	// ConfigExportDir, when set, makes the reorder action write its
	// purchase orders into this directory.
	ConfigExportDir = "export_dir"

	DefaultCriticalDays  = 3.0
	DefaultWarningDays   = 7.0
	DefaultTargetDays    = 30.0
	DefaultOverstockDays = 90.0
)

// Risk severities.
const (
	SeverityCritical = "critical"
	SeverityWarning  = "warning"
	SeverityInfo     = "info"
)

// StockoutRisk flags an item that runs out before the warning horizon.
type StockoutRisk struct {
	SKU           string  `json:"sku"`
	Name          string  `json:"name"`
	Warehouse     string  `json:"warehouse"`
	OnHand        int     `json:"on_hand"`
	DaysRemaining float64 `json:"days_remaining"`
	Severity      string  `json:"severity"`
}

// ReorderLine is a suggested purchase bringing an item back to the target
// coverage.
type ReorderLine struct {
	SKU        string `json:"sku"`
	Warehouse  string `json:"warehouse"`
	SupplierID string `json:"supplier_id,omitempty"`
	Quantity   int    `json:"quantity"`
	Reason     string `json:"reason"`
}

// InventoryStrategy monitors stock coverage, proposes reorders and
// analyzes stock health.
type InventoryStrategy struct {
	source DataSource
}

var _ agent.Strategy = (*InventoryStrategy)(nil)

// NewInventoryStrategy returns the inventory strategy reading from src.
func NewInventoryStrategy(src DataSource) *InventoryStrategy {
	return &InventoryStrategy{source: src}
}

func (s *InventoryStrategy) Type() string { return TypeInventory }

func (s *InventoryStrategy) InitializeTools() []tool.Tool {
	return []tool.Tool{InventoryLevelsTool(s.source), DemandHistoryTool(s.source), ExportPurchaseOrdersTool(nil)}
}

func (s *InventoryStrategy) SystemPrompt() string {
	return "You are an inventory analyst. Explain stock risks and reorder needs to an operations manager in plain language. Be brief and concrete."
}

// ValidateInput accepts an optional action among monitor, reorder and
// analyze.
func (s *InventoryStrategy) ValidateInput(input map[string]any) error {
	return validateAction(input, ActionMonitor, ActionReorder, ActionAnalyze)
}

type inventoryThresholds struct {
	critical, warning, target, overstock float64
}

func thresholdsFrom(cfg agent.Config) (inventoryThresholds, error) {
	th := inventoryThresholds{
		critical:  cfg.Float(ConfigCriticalDays, DefaultCriticalDays),
		warning:   cfg.Float(ConfigWarningDays, DefaultWarningDays),
		target:    cfg.Float(ConfigTargetDays, DefaultTargetDays),
		overstock: cfg.Float(ConfigOverstockDays, DefaultOverstockDays),
	}
	if th.critical <= 0 || th.warning < th.critical {
		return th, sserr.Newf(sserr.CodeInternalConfiguration,
			"analytics: %s (%g) must be positive and not above %s (%g)",
			ConfigCriticalDays, th.critical, ConfigWarningDays, th.warning)
	}
	if th.target < th.warning {
		th.target = th.warning
	}
	return th, nil
}

func (s *InventoryStrategy) Run(ctx context.Context, rc *agent.RunContext) (*agent.Result, error) {
	th, err := thresholdsFrom(rc.Config())
	if err != nil {
		return nil, err
	}
	input := rc.Input()
	params := map[string]any{}
	if skus := stringList(input["skus"]); len(skus) > 0 {
		params["skus"] = skus
	}
	if wh, _ := input["warehouse"].(string); wh != "" {
		params["warehouse"] = wh
	}

	res, err := rc.CallTool(ctx, ToolInventoryLevels, params)
	if err != nil {
		return nil, err
	}
	items, _ := res.Data.([]StockItem)
	ec := rc.Execution()
	ec.AddEvidence(ToolInventoryLevels, items, 0.9)
	ec.AddReasoningStep(fmt.Sprintf("Loaded %d stock positions", len(items)))

	var out *agent.Result
	switch action(input, ActionMonitor) {
	case ActionReorder:
		out = s.reorder(rc, items, th)
		if err := s.export(ctx, rc, out); err != nil {
			return nil, err
		}
	case ActionAnalyze:
		out = s.analyze(rc, items, th)
	default:
		out = s.monitor(rc, items, th)
	}
	out.SetData("items_analyzed", len(items))
	out.SetConfidence(coverageConfidence(items))
	addNarrative(ctx, rc, out)
	return out, nil
}

func (s *InventoryStrategy) monitor(rc *agent.RunContext, items []StockItem, th inventoryThresholds) *agent.Result {
	risks := stockoutRisks(items, th)
	out := agent.NewResult(true, fmt.Sprintf("%d of %d items at stockout risk", len(risks), len(items)))
	critical := 0
	for _, r := range risks {
		priority := agent.PriorityMedium
		if r.Severity == SeverityCritical {
			priority = agent.PriorityHigh
			critical++
		}
		out.AddAction(ActionReorder,
			fmt.Sprintf("Reorder %s at %s: %.1f days of stock left", r.SKU, r.Warehouse, r.DaysRemaining),
			priority,
			map[string]any{"sku": r.SKU, "warehouse": r.Warehouse, "days_remaining": r.DaysRemaining})
		out.AddInsight("stockout_risk", fmt.Sprintf("%s runs out in %.1f days", r.SKU, r.DaysRemaining), r.Severity)
	}
	rc.Execution().AddReasoningStep(fmt.Sprintf(
		"Classified coverage against %g/%g day thresholds: %d critical, %d warning",
		th.critical, th.warning, critical, len(risks)-critical))
	out.SetData("stockout_risks", risks)
	out.SetData("critical_count", critical)
	out.SetData("warning_count", len(risks)-critical)
	return out
}

func (s *InventoryStrategy) reorder(rc *agent.RunContext, items []StockItem, th inventoryThresholds) *agent.Result {
	var lines []ReorderLine
	for _, it := range items {
		days, ok := it.DaysRemaining()
		if !ok {
			continue
		}
		horizon := th.warning + float64(it.LeadTimeDays)
		belowPoint := it.ReorderPoint > 0 && it.OnHand <= it.ReorderPoint
		if days >= horizon && !belowPoint {
			continue
		}
		qty := int(math.Ceil(th.target*it.DailyDemand)) - it.OnHand
		if qty <= 0 {
			continue
		}
		reason := fmt.Sprintf("%.1f days left, lead time %d days", days, it.LeadTimeDays)
		if belowPoint {
			reason = fmt.Sprintf("on hand %d at or below reorder point %d", it.OnHand, it.ReorderPoint)
		}
		lines = append(lines, ReorderLine{SKU: it.SKU, Warehouse: it.Warehouse, SupplierID: it.SupplierID, Quantity: qty, Reason: reason})
	}

	out := agent.NewResult(true, fmt.Sprintf("%d purchase orders proposed", len(lines)))
	total := 0
	for _, l := range lines {
		total += l.Quantity
		out.AddAction("create_purchase_order",
			fmt.Sprintf("Order %d x %s for %s", l.Quantity, l.SKU, l.Warehouse),
			agent.PriorityHigh,
			map[string]any{"sku": l.SKU, "warehouse": l.Warehouse, "quantity": l.Quantity, "supplier_id": l.SupplierID})
	}
	if len(lines) > 0 {
		out.AddRecommendation("Replenish low stock",
			fmt.Sprintf("Order %d units across %d SKUs to restore %g days of coverage", total, len(lines), th.target),
			"Avoids stockouts during supplier lead time")
	}
	rc.Execution().AddReasoningStep(fmt.Sprintf("Sized orders to %g days of coverage", th.target))
	out.SetData("reorders", lines)
	out.SetData("total_units", total)
	return out
}

// export writes the proposed orders of out when an export directory is
// configured and there is anything to order.
func (s *InventoryStrategy) export(ctx context.Context, rc *agent.RunContext, out *agent.Result) error {
	dir := rc.Config().String(ConfigExportDir, "")
	lines, _ := out.Data["reorders"].([]ReorderLine)
	if dir == "" || len(lines) == 0 {
		return nil
	}
	res, err := rc.CallTool(ctx, ToolExportPurchaseOrders, map[string]any{"dir": dir, "lines": lines})
	if err != nil {
		return err
	}
	path, _ := res.Data.(string)
	rc.Execution().AddReasoningStep("Exported purchase orders to " + path)
	out.SetData("export_path", path)
	return nil
}

func (s *InventoryStrategy) analyze(rc *agent.RunContext, items []StockItem, th inventoryThresholds) *agent.Result {
	var overstock, dead []string
	units := 0
	for _, it := range items {
		units += it.OnHand
		days, ok := it.DaysRemaining()
		switch {
		case !ok && it.OnHand > 0:
			dead = append(dead, it.SKU)
		case ok && days > th.overstock:
			overstock = append(overstock, it.SKU)
		}
	}
	risks := stockoutRisks(items, th)

	out := agent.NewResult(true, fmt.Sprintf("Analyzed %d items", len(items)))
	if len(overstock) > 0 {
		out.AddInsight("overstock", fmt.Sprintf("%d items hold more than %g days of stock", len(overstock), th.overstock), SeverityWarning)
		out.AddRecommendation("Reduce overstock",
			fmt.Sprintf("Pause replenishment of %v", overstock),
			"Frees working capital and storage")
	}
	if len(dead) > 0 {
		out.AddInsight("dead_stock", fmt.Sprintf("%d items have stock but no demand", len(dead)), SeverityWarning)
		out.AddRecommendation("Clear dead stock", fmt.Sprintf("Discount or return %v", dead), "Recovers cost of unsold goods")
	}
	if len(risks) > 0 {
		out.AddInsight("stockout_risk", fmt.Sprintf("%d items below %g days of coverage", len(risks), th.warning), worstSeverity(risks))
	}
	if len(out.Insights) == 0 {
		out.AddInsight("health", "Stock levels are balanced", SeverityInfo)
	}
	rc.Execution().AddReasoningStep("Checked overstock, dead stock and stockout exposure")
	out.SetData("total_units", units)
	out.SetData("overstock_skus", nonNil(overstock))
	out.SetData("dead_stock_skus", nonNil(dead))
	out.SetData("stockout_risks", risks)
	return out
}

// stockoutRisks returns the items below the warning horizon, most urgent
// first.
func stockoutRisks(items []StockItem, th inventoryThresholds) []StockoutRisk {
	risks := []StockoutRisk{}
	for _, it := range items {
		days, ok := it.DaysRemaining()
		if !ok || days >= th.warning {
			continue
		}
		sev := SeverityWarning
		if days < th.critical {
			sev = SeverityCritical
		}
		risks = append(risks, StockoutRisk{
			SKU:           it.SKU,
			Name:          it.Name,
			Warehouse:     it.Warehouse,
			OnHand:        it.OnHand,
			DaysRemaining: math.Round(days*10) / 10,
			Severity:      sev,
		})
	}
	slices.SortStableFunc(risks, func(a, b StockoutRisk) int {
		switch {
		case a.DaysRemaining < b.DaysRemaining:
			return -1
		case a.DaysRemaining > b.DaysRemaining:
			return 1
		}
		return 0
	})
	return risks
}

func worstSeverity(risks []StockoutRisk) string {
	for _, r := range risks {
		if r.Severity == SeverityCritical {
			return SeverityCritical
		}
	}
	return SeverityWarning
}

// coverageConfidence is the share of items with usable demand data,
// floored so an empty answer still carries some weight.
func coverageConfidence(items []StockItem) float64 {
	if len(items) == 0 {
		return 0.5
	}
	known := 0
	for _, it := range items {
		if it.DailyDemand > 0 {
			known++
		}
	}
	return 0.5 + 0.45*float64(known)/float64(len(items))
}
