// Package analytics implements the business-analytics agents: inventory
// monitoring, supplier evaluation and demand forecasting, together with
// the tools they call and the data sources behind those tools.
package analytics

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// Agent types registered with the executor.
const (
	TypeInventory = "inventory"
	TypeSupplier  = "supplier"
	TypeDemand    = "demand"
)

// StockItem is the stock position of one SKU in one warehouse.
type StockItem struct {
	SKU          string  `json:"sku"`
	Name         string  `json:"name"`
	Warehouse    string  `json:"warehouse"`
	OnHand       int     `json:"on_hand"`
	DailyDemand  float64 `json:"daily_demand"`
	ReorderPoint int     `json:"reorder_point"`
	LeadTimeDays int     `json:"lead_time_days"`
	SupplierID   string  `json:"supplier_id,omitempty"`
}

// DaysRemaining is how long the stock on hand lasts at the current daily
// demand. It reports false when there is no demand.
func (s StockItem) DaysRemaining() (float64, bool) {
	if s.DailyDemand <= 0 {
		return 0, false
	}
	return float64(s.OnHand) / s.DailyDemand, true
}

// SupplierMetrics are the delivery statistics of one supplier. Rates are
// in [0, 1]; a PriceIndex of 1 is the market price.
type SupplierMetrics struct {
	SupplierID      string  `json:"supplier_id"`
	Name            string  `json:"name"`
	OnTimeRate      float64 `json:"on_time_rate"`
	QualityRate     float64 `json:"quality_rate"`
	AvgLeadTimeDays float64 `json:"avg_lead_time_days"`
	PriceIndex      float64 `json:"price_index"`
	Orders          int     `json:"orders"`
}

// DemandPoint is the quantity of a SKU sold on one day.
type DemandPoint struct {
	SKU      string    `json:"sku"`
	Date     time.Time `json:"date"`
	Quantity float64   `json:"quantity"`
}

// DataSource provides the data the tools read. Every call is scoped to an
// organization.
type DataSource interface {
	// StockLevels returns the stock of skus, or of every SKU when skus is
	// empty, ordered by SKU.
	StockLevels(ctx context.Context, orgID string, skus []string) ([]StockItem, error)

	// SupplierMetrics returns the named suppliers, or all of them,
	// ordered by supplier id.
	SupplierMetrics(ctx context.Context, orgID string, supplierIDs []string) ([]SupplierMetrics, error)

	// DemandHistory returns up to the last days daily points of sku,
	// oldest first.
	DemandHistory(ctx context.Context, orgID, sku string, days int) ([]DemandPoint, error)
}

// action returns the requested action, or def when none was given.
func action(input map[string]any, def string) string {
	if a, _ := input["action"].(string); a != "" {
		return a
	}
	return def
}

func validateAction(input map[string]any, allowed ...string) error {
	raw, present := input["action"]
	if !present {
		return nil
	}
	a, ok := raw.(string)
	if !ok {
		return fmt.Errorf("action must be a string, got %T", raw)
	}
	if !slices.Contains(allowed, a) {
		return fmt.Errorf("unknown action %q, expected one of %v", a, allowed)
	}
	return nil
}
