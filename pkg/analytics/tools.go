package analytics

import (
	"context"
	"fmt"
	"time"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// Tool names.
const (
	ToolInventoryLevels = "inventory_levels"
	ToolSupplierMetrics = "supplier_metrics"
	ToolDemandHistory   = "demand_history"
	ToolDemandForecast  = "demand_forecast"
)

const (
	stockCacheTTL    = 30 * time.Second
	supplierCacheTTL = 5 * time.Minute
)

type cachedFunc struct {
	tool.Func
	ttl time.Duration
}

func (c *cachedFunc) CacheTTL() time.Duration { return c.ttl }

// InventoryLevelsTool returns the inventory_levels tool. Its payload is
// []StockItem.
func InventoryLevelsTool(src DataSource) tool.Tool {
	return &cachedFunc{ttl: stockCacheTTL, Func: tool.Func{
		ToolName:        ToolInventoryLevels,
		ToolDescription: "Current stock on hand, daily demand and reorder points, optionally limited to some SKUs.",
		Params: []tool.Parameter{
			{Name: "skus", Type: tool.TypeArray, Description: "SKUs to include; all when omitted"},
			{Name: "warehouse", Type: tool.TypeString, Description: "Only items stored in this warehouse"},
		},
		Fn: func(ctx context.Context, inv tool.Invocation, params map[string]any) (*tool.Result, error) {
			items, err := src.StockLevels(ctx, inv.OrgID, stringList(params["skus"]))
			if err != nil {
				return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "read stock levels")
			}
			if wh, _ := params["warehouse"].(string); wh != "" {
				filtered := items[:0:0]
				for _, it := range items {
					if it.Warehouse == wh {
						filtered = append(filtered, it)
					}
				}
				items = filtered
			}
			return tool.OK(items).WithMetadata("count", len(items)), nil
		},
	}}
}

// SupplierMetricsTool returns the supplier_metrics tool. Its payload is
// []SupplierMetrics.
func SupplierMetricsTool(src DataSource) tool.Tool {
	return &cachedFunc{ttl: supplierCacheTTL, Func: tool.Func{
		ToolName:        ToolSupplierMetrics,
		ToolDescription: "Delivery, quality, lead time and price statistics per supplier.",
		Params: []tool.Parameter{
			{Name: "supplier_ids", Type: tool.TypeArray, Description: "Suppliers to include; all when omitted"},
		},
		Fn: func(ctx context.Context, inv tool.Invocation, params map[string]any) (*tool.Result, error) {
			sups, err := src.SupplierMetrics(ctx, inv.OrgID, stringList(params["supplier_ids"]))
			if err != nil {
				return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "read supplier metrics")
			}
			return tool.OK(sups).WithMetadata("count", len(sups)), nil
		},
	}}
}

// DemandHistoryTool returns the demand_history tool. Its payload is
// []DemandPoint.
func DemandHistoryTool(src DataSource) tool.Tool {
	return &tool.Func{
		ToolName:        ToolDemandHistory,
		ToolDescription: "Daily sold quantities of one SKU, oldest first.",
		Params: []tool.Parameter{
			{Name: "sku", Type: tool.TypeString, Description: "SKU to read", Required: true},
			{Name: "days", Type: tool.TypeInteger, Description: "Number of most recent days", Default: 90},
		},
		Fn: func(ctx context.Context, inv tool.Invocation, params map[string]any) (*tool.Result, error) {
			sku, _ := params["sku"].(string)
			pts, err := src.DemandHistory(ctx, inv.OrgID, sku, intParam(params, "days", 90))
			if err != nil {
				return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "read demand history")
			}
			return tool.OK(pts).WithMetadata("count", len(pts)), nil
		},
	}
}

// DemandForecastTool returns the demand_forecast tool. Its payload is a
// Forecast. Too little history yields an unsuccessful result.
func DemandForecastTool(src DataSource) tool.Tool {
	return &tool.Func{
		ToolName:        ToolDemandForecast,
		ToolDescription: "Projects daily demand of one SKU with the chosen method.",
		Params: []tool.Parameter{
			{Name: "sku", Type: tool.TypeString, Description: "SKU to forecast", Required: true},
			{Name: "horizon_days", Type: tool.TypeInteger, Description: "Days to project", Default: 30},
			{Name: "history_days", Type: tool.TypeInteger, Description: "Days of history to fit", Default: 90},
			{Name: "method", Type: tool.TypeString, Description: "Forecast method", Default: MethodExponentialSmoothing,
				Enum: []any{MethodMovingAverage, MethodExponentialSmoothing, MethodARIMA, MethodNeuralNetwork}},
		},
		Fn: func(ctx context.Context, inv tool.Invocation, params map[string]any) (*tool.Result, error) {
			sku, _ := params["sku"].(string)
			method, _ := params["method"].(string)
			pts, err := src.DemandHistory(ctx, inv.OrgID, sku, intParam(params, "history_days", 90))
			if err != nil {
				return nil, sserr.Wrap(err, sserr.CodeUnavailableDependency, "read demand history")
			}
			series := make([]float64, len(pts))
			for i, p := range pts {
				series[i] = p.Quantity
			}
			f, err := ForecastDemand(sku, series, intParam(params, "horizon_days", 30), method)
			if err != nil {
				return tool.Failed("%v", err), nil
			}
			return tool.OK(f).WithMetadata("history_points", len(series)), nil
		},
	}
}

func intParam(params map[string]any, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func stringList(v any) []string {
	switch s := v.(type) {
	case []string:
		return s
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			out = append(out, fmt.Sprint(e))
		}
		return out
	default:
		return nil
	}
}
