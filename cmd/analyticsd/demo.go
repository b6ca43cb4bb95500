package main

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/analytics"
)

const (
	demoOrg  = "demo-org"
	demoUser = "demo-user"
)

// demoSource returns an in-memory data set with one SKU below its reorder
// point, one supplier at risk and a month of rising demand.
func demoSource(now time.Time) *analytics.MemorySource {
	src := analytics.NewMemorySource()
	src.PutStock(demoOrg,
		analytics.StockItem{SKU: "SKU-A", Name: "Widget", Warehouse: "main", OnHand: 20, DailyDemand: 10, ReorderPoint: 30, LeadTimeDays: 5, SupplierID: "S1"},
		analytics.StockItem{SKU: "SKU-B", Name: "Gadget", Warehouse: "main", OnHand: 400, DailyDemand: 8, ReorderPoint: 60, LeadTimeDays: 7, SupplierID: "S2"},
	)
	src.PutSuppliers(demoOrg,
		analytics.SupplierMetrics{SupplierID: "S1", Name: "Reliable Parts", OnTimeRate: 0.97, QualityRate: 0.99, AvgLeadTimeDays: 4, PriceIndex: 1.05, Orders: 120},
		analytics.SupplierMetrics{SupplierID: "S2", Name: "Late Freight", OnTimeRate: 0.62, QualityRate: 0.9, AvgLeadTimeDays: 12, PriceIndex: 0.9, Orders: 45},
	)
	day := now.UTC().Truncate(24 * time.Hour)
	for i := 30; i >= 1; i-- {
		q := 10 + float64(30-i)*0.5 + 2*math.Sin(float64(i))
		src.AddDemand(demoOrg, analytics.DemandPoint{SKU: "SKU-A", Date: day.AddDate(0, 0, -i), Quantity: math.Round(q)})
	}
	return src
}

// runDemo creates one agent of each type and runs them once: inventory
// inline, supplier and demand through the job queue.
func (a *app) runDemo(ctx context.Context) error {
	agents := []struct {
		id, typ string
		input   map[string]any
	}{
		{"demo-inventory", analytics.TypeInventory, map[string]any{"action": "monitor"}},
		{"demo-supplier", analytics.TypeSupplier, map[string]any{"action": "compare", "supplier_ids": []any{"S1", "S2"}}},
		{"demo-demand", analytics.TypeDemand, map[string]any{"sku": "SKU-A", "horizon_days": 14}},
	}
	for _, ag := range agents {
		if _, err := a.executor.CreateAgent(ctx, ag.id, ag.typ, demoOrg, agent.Config{}); err != nil {
			return fmt.Errorf("create %s: %w", ag.id, err)
		}
	}

	res, err := a.executor.ExecuteAgent(ctx, agents[0].id, agents[0].input, demoOrg, demoUser)
	if err != nil {
		return err
	}
	a.logResult(agents[0].id, res)

	for _, ag := range agents[1:] {
		res, err := a.submitDemo(ctx, ag.id, agent.Request{Input: ag.input, OrgID: demoOrg, UserID: demoUser})
		if err != nil {
			return err
		}
		a.logResult(ag.id, res)
	}

	sys := a.collector.SystemSummary()
	a.logger.Info("analyticsd: demo finished",
		"executions_today", sys.ExecutionsToday,
		"success_rate", sys.SuccessRate,
		"error_groups", a.tracker.Summary().Groups,
	)
	if a.store != nil {
		recs, err := a.store.ListExecutions(ctx, demoOrg, 10)
		if err != nil {
			return err
		}
		a.logger.Info("analyticsd: stored executions", "org_id", demoOrg, "count", len(recs))
	}
	return nil
}

// submitDemo runs req through the job queue. With token signing configured
// the job carries a session token instead of creating its own session.
func (a *app) submitDemo(ctx context.Context, id string, req agent.Request) (*agent.Result, error) {
	if a.cfg.Security.TokenKey != "" {
		sessionID, token, err := a.executor.OpenSession(id, req.UserID)
		if err != nil {
			return nil, err
		}
		defer a.executor.CloseSession(sessionID)
		req.SessionToken = token
	}
	job, err := a.executor.Submit(ctx, id, req, a.cfg.Executor.JobTimeout)
	if err != nil {
		return nil, err
	}
	return job.Wait(ctx)
}

func (a *app) logResult(agentID string, res *agent.Result) {
	a.logger.Info("analyticsd: demo execution",
		"agent_id", agentID,
		"success", res.Success,
		"message", res.Message,
		"actions", len(res.Actions),
		"recommendations", len(res.Recommendations),
		"error_type", res.ErrorType,
	)
}
