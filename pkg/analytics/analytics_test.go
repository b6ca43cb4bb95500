package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/StricklySoft/stricklysoft-analytics/pkg/agent"
	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/llm"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/security"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// ===== Fixtures =====

var day0 = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func stockFixture() *MemorySource {
	src := NewMemorySource()
	src.PutStock("acme",
		StockItem{SKU: "SKU-A", Name: "Widget", Warehouse: "east", OnHand: 20, DailyDemand: 10, LeadTimeDays: 5, SupplierID: "S1"},
		StockItem{SKU: "SKU-B", Name: "Gadget", Warehouse: "west", OnHand: 50, DailyDemand: 10, LeadTimeDays: 5},
		StockItem{SKU: "SKU-C", Name: "Gizmo", Warehouse: "east", OnHand: 500, DailyDemand: 10, LeadTimeDays: 5},
		StockItem{SKU: "SKU-D", Name: "Relic", Warehouse: "east", OnHand: 100},
		StockItem{SKU: "SKU-E", Name: "Bulk", Warehouse: "west", OnHand: 1000, DailyDemand: 5, LeadTimeDays: 10},
	)
	src.PutStock("globex", StockItem{SKU: "SKU-A", Warehouse: "north", OnHand: 1, DailyDemand: 1})
	return src
}

func supplierFixture() *MemorySource {
	src := NewMemorySource()
	src.PutSuppliers("acme",
		SupplierMetrics{SupplierID: "S3", Name: "Slowpoke", OnTimeRate: 0.3, QualityRate: 0.5, AvgLeadTimeDays: 28, PriceIndex: 1.5, Orders: 12},
		SupplierMetrics{SupplierID: "S1", Name: "Reliable", OnTimeRate: 0.98, QualityRate: 0.99, AvgLeadTimeDays: 3, PriceIndex: 0.95, Orders: 40},
		SupplierMetrics{SupplierID: "S2", Name: "Average", OnTimeRate: 0.5, QualityRate: 0.6, AvgLeadTimeDays: 20, PriceIndex: 1.3, Orders: 20},
	)
	src.PutSuppliers("solo", SupplierMetrics{SupplierID: "S9", OnTimeRate: 1, QualityRate: 1, PriceIndex: 1})
	return src
}

// series adds one point per day for sku, starting at day0.
func series(src *MemorySource, org, sku string, quantities ...float64) {
	pts := make([]DemandPoint, len(quantities))
	for i, q := range quantities {
		pts[i] = DemandPoint{SKU: sku, Date: day0.AddDate(0, 0, i), Quantity: q}
	}
	src.AddDemand(org, pts...)
}

func repeat(v float64, n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = v
	}
	return out
}

func newRuntime(t *testing.T, s agent.Strategy, cfg agent.Config, client llm.Client) *agent.Runtime {
	t.Helper()
	b := agent.NewRuntimeBuilder("test-"+s.Type(), s).
		WithConfig(cfg).
		WithLogger(slog.New(slog.DiscardHandler))
	if client != nil {
		b = b.WithLLM(client)
	}
	rt, err := b.Build()
	require.NoError(t, err)
	return rt
}

func execute(t *testing.T, rt *agent.Runtime, input map[string]any) *agent.Result {
	t.Helper()
	return rt.Execute(context.Background(), agent.Request{Input: input, OrgID: "acme", UserID: "u-1"})
}

type failingSource struct{ MemorySource }

func (*failingSource) StockLevels(context.Context, string, []string) ([]StockItem, error) {
	return nil, errors.New("connection refused")
}

// ===== Memory source =====

func TestMemorySource_ScopesByOrgAndSorts(t *testing.T) {
	t.Parallel()
	src := stockFixture()
	ctx := context.Background()

	items, err := src.StockLevels(ctx, "acme", nil)
	require.NoError(t, err)
	require.Len(t, items, 5)
	assert.Equal(t, "SKU-A", items[0].SKU)
	assert.Equal(t, "east", items[0].Warehouse)

	items, err = src.StockLevels(ctx, "acme", []string{"SKU-E", "SKU-B"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "SKU-B", items[0].SKU)

	items, err = src.StockLevels(ctx, "globex", nil)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "north", items[0].Warehouse)

	items, err = src.StockLevels(ctx, "nobody", nil)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestMemorySource_DemandHistoryKeepsMostRecentDays(t *testing.T) {
	t.Parallel()
	src := NewMemorySource()
	series(src, "acme", "SKU-A", 1, 2, 3, 4, 5)

	pts, err := src.DemandHistory(context.Background(), "acme", "SKU-A", 3)
	require.NoError(t, err)
	require.Len(t, pts, 3)
	assert.Equal(t, 3.0, pts[0].Quantity)
	assert.Equal(t, 5.0, pts[2].Quantity)
	assert.True(t, pts[0].Date.Before(pts[2].Date))
}

func TestMemorySource_HonoursCanceledContext(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := stockFixture().StockLevels(ctx, "acme", nil)
	assert.ErrorIs(t, err, context.Canceled)
}

// ===== Postgres source =====

func TestPostgresSource_StockLevels(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	supplier := "S1"
	mock.ExpectQuery(regexp.QuoteMeta("FROM inventory_levels")).
		WithArgs("acme", pgxmock.AnyArg()).
		WillReturnRows(mock.NewRows([]string{"sku", "name", "warehouse", "on_hand", "daily_demand", "reorder_point", "lead_time_days", "supplier_id"}).
			AddRow("SKU-A", "Widget", "east", 20, 10.0, 5, 3, &supplier).
			AddRow("SKU-B", "Gadget", "west", 0, 0.0, 0, 0, nil))

	items, err := NewPostgresSource(mock).StockLevels(context.Background(), "acme", nil)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "S1", items[0].SupplierID)
	assert.Equal(t, 20, items[0].OnHand)
	assert.Empty(t, items[1].SupplierID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_DemandHistoryIsOldestFirst(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM demand_history")).
		WithArgs("acme", "SKU-A", 2).
		WillReturnRows(mock.NewRows([]string{"sku", "day", "quantity"}).
			AddRow("SKU-A", day0.AddDate(0, 0, 1), 7.0).
			AddRow("SKU-A", day0, 3.0))

	pts, err := NewPostgresSource(mock).DemandHistory(context.Background(), "acme", "SKU-A", 2)
	require.NoError(t, err)
	require.Len(t, pts, 2)
	assert.Equal(t, 3.0, pts[0].Quantity)
	assert.Equal(t, 7.0, pts[1].Quantity)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresSource_QueryError(t *testing.T) {
	t.Parallel()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(regexp.QuoteMeta("FROM supplier_metrics")).
		WithArgs("acme", pgxmock.AnyArg()).
		WillReturnError(errors.New("relation does not exist"))

	_, err = NewPostgresSource(mock).SupplierMetrics(context.Background(), "acme", []string{"S1"})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

// ===== Forecasting =====

func TestForecastDemand_RejectsBadInput(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		history []float64
		horizon int
		method  string
		code    sserr.Code
	}{
		{"short history", []float64{1, 2}, 5, MethodMovingAverage, sserr.CodeValidationRange},
		{"zero horizon", []float64{1, 2, 3}, 0, MethodMovingAverage, sserr.CodeValidationRange},
		{"unknown method", []float64{1, 2, 3}, 5, "crystal_ball", sserr.CodeValidationFormat},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ForecastDemand("SKU-A", tc.history, tc.horizon, tc.method)
			assert.True(t, sserr.HasCode(err, tc.code), "got %v", err)
		})
	}
}

func TestForecastDemand_FlatHistoryIsExact(t *testing.T) {
	t.Parallel()
	for _, m := range Methods {
		f, err := ForecastDemand("SKU-A", repeat(10, 20), 5, m)
		require.NoError(t, err, m)
		assert.Len(t, f.Values, 5, m)
		assert.InDelta(t, 10, f.Values[4], 1e-9, m)
		assert.InDelta(t, f.Values[0], f.Lower[0], 1e-9, m)
		assert.InDelta(t, 0.95, f.Confidence, 1e-9, m)
		assert.InDelta(t, 50, f.Total(), 1e-9, m)
	}
}

func TestForecastDemand_Methods(t *testing.T) {
	t.Parallel()
	linear := []float64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}

	arima, err := ForecastDemand("SKU-A", linear, 3, MethodARIMA)
	require.NoError(t, err)
	assert.InDelta(t, 11, arima.Values[0], 1e-9)
	assert.InDelta(t, 13, arima.Values[2], 1e-9)

	ma, err := ForecastDemand("SKU-A", linear, 1, MethodMovingAverage)
	require.NoError(t, err)
	assert.InDelta(t, 7, ma.Values[0], 1e-9)

	nn, err := ForecastDemand("SKU-A", linear, 1, MethodNeuralNetwork)
	require.NoError(t, err)
	assert.InDelta(t, 8, nn.Values[0], 1e-9)

	assert.InDelta(t, 5.5, ma.HistoryAvg, 1e-9)
	assert.Greater(t, ma.MAPE, 0.0)
	assert.Greater(t, ma.Upper[0], ma.Values[0])
}

func TestForecastDemand_NeverNegative(t *testing.T) {
	t.Parallel()
	f, err := ForecastDemand("SKU-A", []float64{10, 8, 6, 4, 2, 0}, 10, MethodARIMA)
	require.NoError(t, err)
	for _, v := range f.Values {
		assert.GreaterOrEqual(t, v, 0.0)
	}
}

// ===== Tools =====

func TestInventoryLevelsTool_FiltersWarehouseAndCaches(t *testing.T) {
	t.Parallel()
	tl := InventoryLevelsTool(stockFixture())
	c, ok := tl.(tool.Cacheable)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, c.CacheTTL())

	res, err := tl.Execute(context.Background(), tool.Invocation{OrgID: "acme"}, map[string]any{"warehouse": "west"})
	require.NoError(t, err)
	items := res.Data.([]StockItem)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Equal(t, "west", it.Warehouse)
	}
	assert.Equal(t, 2, res.Metadata["count"])
}

func TestInventoryLevelsTool_SourceFailureIsUnavailable(t *testing.T) {
	t.Parallel()
	tl := InventoryLevelsTool(&failingSource{})
	_, err := tl.Execute(context.Background(), tool.Invocation{OrgID: "acme"}, map[string]any{})
	assert.True(t, sserr.IsUnavailable(err))
}

func TestDemandForecastTool_ShortHistoryFails(t *testing.T) {
	t.Parallel()
	src := NewMemorySource()
	series(src, "acme", "SKU-A", 1, 2)
	res, err := DemandForecastTool(src).Execute(context.Background(), tool.Invocation{OrgID: "acme"},
		map[string]any{"sku": "SKU-A", "method": MethodMovingAverage})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "at least 3 days")
}

// ===== Inventory strategy =====

func TestInventoryStrategy_MonitorFlagsCriticalStock(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), agent.Config{ConfigCriticalDays: 3}, nil)

	res := execute(t, rt, map[string]any{"action": "monitor"})
	require.True(t, res.Success, res.Message)

	risks := res.Data["stockout_risks"].([]StockoutRisk)
	require.Len(t, risks, 2)
	assert.Equal(t, "SKU-A", risks[0].SKU)
	assert.Equal(t, SeverityCritical, risks[0].Severity)
	assert.InDelta(t, 2.0, risks[0].DaysRemaining, 1e-9)
	assert.Equal(t, "SKU-B", risks[1].SKU)
	assert.Equal(t, SeverityWarning, risks[1].Severity)

	reorders := res.ActionsOfType(ActionReorder)
	require.Len(t, reorders, 2)
	assert.Equal(t, agent.PriorityHigh, reorders[0].Priority)
	assert.Equal(t, "SKU-A", reorders[0].Params["sku"])
	assert.Equal(t, agent.PriorityMedium, reorders[1].Priority)

	assert.Equal(t, 1, res.Data["critical_count"])
	assert.Equal(t, 5, res.Data["items_analyzed"])
	assert.InDelta(t, 0.86, res.Confidence, 1e-9)
	assert.Equal(t, []string{ToolInventoryLevels}, res.Metadata.ToolsCalled)
	assert.NotEmpty(t, res.Evidence)
}

func TestInventoryStrategy_ThresholdsFromConfig(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()),
		agent.Config{ConfigCriticalDays: 1, ConfigWarningDays: 3}, nil)

	res := execute(t, rt, map[string]any{"action": "monitor"})
	require.True(t, res.Success)
	risks := res.Data["stockout_risks"].([]StockoutRisk)
	require.Len(t, risks, 1)
	assert.Equal(t, SeverityWarning, risks[0].Severity)
}

func TestInventoryStrategy_BadThresholdsFail(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()),
		agent.Config{ConfigCriticalDays: 10, ConfigWarningDays: 3}, nil)

	res := execute(t, rt, map[string]any{"action": "monitor"})
	assert.False(t, res.Success)
	assert.Equal(t, sserr.TypeInternal, res.ErrorType)
}

func TestInventoryStrategy_ReorderSizesToTargetCoverage(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), nil, nil)

	res := execute(t, rt, map[string]any{"action": "reorder"})
	require.True(t, res.Success)
	lines := res.Data["reorders"].([]ReorderLine)
	require.Len(t, lines, 2)
	assert.Equal(t, "SKU-A", lines[0].SKU)
	assert.Equal(t, 280, lines[0].Quantity)
	assert.Equal(t, "S1", lines[0].SupplierID)
	assert.Equal(t, 250, lines[1].Quantity)
	assert.Equal(t, 530, res.Data["total_units"])
	assert.Len(t, res.ActionsOfType("create_purchase_order"), 2)
	assert.Len(t, res.Recommendations, 1)
}

func TestInventoryStrategy_ReorderExportsPurchaseOrders(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), agent.Config{ConfigExportDir: dir}, nil)

	res := execute(t, rt, map[string]any{"action": "reorder"})
	require.True(t, res.Success, res.Message)
	path, ok := res.Data["export_path"].(string)
	require.True(t, ok)
	assert.Equal(t, dir, filepath.Dir(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc purchaseOrderFile
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Equal(t, "acme", doc.OrgID)
	assert.Equal(t, res.Metadata.ExecutionID, doc.ExecutionID)
	require.Len(t, doc.Lines, 2)
	assert.Equal(t, "SKU-A", doc.Lines[0].SKU)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging file is renamed into place")
}

func TestInventoryStrategy_ExportCountsAgainstSandbox(t *testing.T) {
	t.Parallel()
	build := func(limits security.Limits, dir string) *agent.Runtime {
		rt, err := agent.NewRuntimeBuilder("inv", NewInventoryStrategy(stockFixture())).
			WithConfig(agent.Config{ConfigExportDir: dir}).
			WithSandbox(security.NewSandbox(limits, security.WithPollInterval(0))).
			WithLogger(slog.New(slog.DiscardHandler)).
			Build()
		require.NoError(t, err)
		return rt
	}

	dir := t.TempDir()
	res := execute(t, build(security.Limits{MaxFileOps: 10, MaxFileSize: 1 << 20}, dir), map[string]any{"action": "reorder"})
	require.True(t, res.Success, res.Message)
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	for name, limits := range map[string]security.Limits{
		"file size": {MaxFileSize: 16},
		"file ops":  {MaxFileOps: 1},
	} {
		dir := t.TempDir()
		res := execute(t, build(limits, dir), map[string]any{"action": "reorder"})
		assert.False(t, res.Success, name)
		assert.Equal(t, sserr.TypeSandbox, res.ErrorType, name)
		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Empty(t, entries, name)
	}
}

func TestInventoryStrategy_Analyze(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), nil, nil)

	res := execute(t, rt, map[string]any{"action": "analyze"})
	require.True(t, res.Success)
	assert.Equal(t, []string{"SKU-E"}, res.Data["overstock_skus"])
	assert.Equal(t, []string{"SKU-D"}, res.Data["dead_stock_skus"])
	assert.Equal(t, 1670, res.Data["total_units"])

	categories := map[string]string{}
	for _, in := range res.Insights {
		categories[in.Category] = in.Severity
	}
	assert.Equal(t, SeverityWarning, categories["overstock"])
	assert.Equal(t, SeverityWarning, categories["dead_stock"])
	assert.Equal(t, SeverityCritical, categories["stockout_risk"])
}

func TestInventoryStrategy_DefaultsToMonitor(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), nil, nil)
	res := execute(t, rt, map[string]any{})
	require.True(t, res.Success)
	assert.Contains(t, res.Data, "stockout_risks")
}

func TestInventoryStrategy_RejectsUnknownAction(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), nil, nil)
	res := execute(t, rt, map[string]any{"action": "liquidate"})
	assert.False(t, res.Success)
	assert.Equal(t, sserr.TypeValidation, res.ErrorType)
}

func TestInventoryStrategy_SourceOutageFailsExecution(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewInventoryStrategy(&failingSource{}), nil, nil)
	res := execute(t, rt, map[string]any{"action": "monitor"})
	assert.False(t, res.Success)
	assert.True(t, strings.HasPrefix(res.ErrorType, sserr.TypeTool), res.ErrorType)
}

// ===== Supplier strategy =====

func TestScoreSupplier_Ratings(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		m    SupplierMetrics
		want string
	}{
		{"excellent", SupplierMetrics{OnTimeRate: 0.98, QualityRate: 0.99, AvgLeadTimeDays: 3, PriceIndex: 0.95}, RatingPreferred},
		{"solid", SupplierMetrics{OnTimeRate: 0.8, QualityRate: 0.8, AvgLeadTimeDays: 10, PriceIndex: 1.1}, RatingApproved},
		{"middling", SupplierMetrics{OnTimeRate: 0.5, QualityRate: 0.6, AvgLeadTimeDays: 20, PriceIndex: 1.3}, RatingWatch},
		{"poor", SupplierMetrics{OnTimeRate: 0.3, QualityRate: 0.5, AvgLeadTimeDays: 28, PriceIndex: 1.5}, RatingAtRisk},
		{"expensive and slow", SupplierMetrics{AvgLeadTimeDays: 60, PriceIndex: 3}, RatingAtRisk},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			sc := ScoreSupplier(tc.m)
			assert.Equal(t, tc.want, sc.Rating, "score %.3f", sc.Score)
			assert.GreaterOrEqual(t, sc.Score, 0.0)
			assert.LessOrEqual(t, sc.Score, 1.0)
		})
	}
}

func TestSupplierStrategy_EvaluateFlagsAtRisk(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewSupplierStrategy(supplierFixture()), nil, nil)

	res := execute(t, rt, map[string]any{"action": "evaluate"})
	require.True(t, res.Success, res.Message)
	scores := res.Data["scores"].([]SupplierScore)
	require.Len(t, scores, 3)
	assert.Equal(t, "S1", scores[0].SupplierID)

	reviews := res.ActionsOfType("review_supplier")
	require.Len(t, reviews, 1)
	assert.Equal(t, "S3", reviews[0].Params["supplier_id"])
	assert.Equal(t, agent.PriorityHigh, reviews[0].Priority)
	assert.Equal(t, map[string]int{RatingPreferred: 1, RatingWatch: 1, RatingAtRisk: 1}, res.Data["ratings"])
	assert.Len(t, res.Recommendations, 1)
}

func TestSupplierStrategy_CompareRanksBestFirst(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewSupplierStrategy(supplierFixture()), nil, nil)

	res := execute(t, rt, map[string]any{"action": "compare", "supplier_ids": []any{"S2", "S3"}})
	require.True(t, res.Success, res.Message)
	ranked := res.Data["ranking"].([]SupplierScore)
	require.Len(t, ranked, 2)
	assert.Equal(t, "S2", ranked[0].SupplierID)
	assert.Equal(t, "S2", res.Data["best_supplier"])
}

func TestSupplierStrategy_CompareNeedsTwo(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewSupplierStrategy(supplierFixture()), nil, nil)

	res := execute(t, rt, map[string]any{"action": "compare", "supplier_ids": []any{"S1"}})
	assert.False(t, res.Success)
	assert.Equal(t, sserr.TypeValidation, res.ErrorType)

	res = rt.Execute(context.Background(), agent.Request{Input: map[string]any{"action": "compare"}, OrgID: "solo"})
	assert.False(t, res.Success)
	assert.Equal(t, sserr.TypeValidation, res.ErrorType)
}

func TestSupplierStrategy_WeightsFromConfig(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewSupplierStrategy(supplierFixture()),
		agent.Config{ConfigWeightOnTime: 0, ConfigWeightQuality: 0, ConfigWeightLeadTime: 0, ConfigWeightPrice: 1}, nil)

	res := execute(t, rt, map[string]any{"supplier_ids": []any{"S1"}})
	require.True(t, res.Success)
	scores := res.Data["scores"].([]SupplierScore)
	require.Len(t, scores, 1)
	assert.InDelta(t, 1.0, scores[0].Score, 1e-9)

	bad := newRuntime(t, NewSupplierStrategy(supplierFixture()), agent.Config{ConfigWeightPrice: -1}, nil)
	assert.False(t, execute(t, bad, map[string]any{}).Success)
}

// ===== Demand strategy =====

func TestDemandStrategy_RisingDemandAdjustsStock(t *testing.T) {
	t.Parallel()
	src := NewMemorySource()
	series(src, "acme", "SKU-A", append(repeat(10, 20), repeat(30, 10)...)...)
	rt := newRuntime(t, NewDemandStrategy(src), nil, nil)

	res := execute(t, rt, map[string]any{"sku": "SKU-A", "horizon_days": 14})
	require.True(t, res.Success, res.Message)
	assert.Equal(t, TrendRising, res.Data["trend"])
	f := res.Data["forecast"].(Forecast)
	assert.Equal(t, MethodExponentialSmoothing, f.Method)
	assert.Len(t, f.Values, 14)

	adjust := res.ActionsOfType("adjust_stock")
	require.Len(t, adjust, 1)
	assert.Equal(t, agent.PriorityMedium, adjust[0].Priority)
}

func TestDemandStrategy_FallingAndStable(t *testing.T) {
	t.Parallel()
	src := NewMemorySource()
	series(src, "acme", "FALL", append(repeat(30, 20), repeat(5, 10)...)...)
	series(src, "acme", "FLAT", repeat(10, 30)...)
	rt := newRuntime(t, NewDemandStrategy(src), nil, nil)

	res := execute(t, rt, map[string]any{"sku": "FALL"})
	require.True(t, res.Success)
	assert.Equal(t, TrendFalling, res.Data["trend"])
	assert.Empty(t, res.Actions)
	assert.Len(t, res.Recommendations, 1)

	res = execute(t, rt, map[string]any{"sku": "FLAT", "method": MethodMovingAverage})
	require.True(t, res.Success)
	assert.Equal(t, TrendStable, res.Data["trend"])
	assert.InDelta(t, 0.95, res.Confidence, 1e-9)
}

func TestDemandStrategy_ConfigDefaults(t *testing.T) {
	t.Parallel()
	src := NewMemorySource()
	series(src, "acme", "SKU-A", repeat(4, 10)...)
	rt := newRuntime(t, NewDemandStrategy(src),
		agent.Config{ConfigDefaultHorizon: 7, ConfigDefaultMethod: MethodARIMA}, nil)

	res := execute(t, rt, map[string]any{"sku": "SKU-A"})
	require.True(t, res.Success)
	f := res.Data["forecast"].(Forecast)
	assert.Equal(t, 7, f.Horizon)
	assert.Equal(t, MethodARIMA, f.Method)
}

func TestDemandStrategy_InputValidation(t *testing.T) {
	t.Parallel()
	rt := newRuntime(t, NewDemandStrategy(NewMemorySource()), nil, nil)
	for _, input := range []map[string]any{
		{},
		{"sku": ""},
		{"sku": "SKU-A", "horizon_days": 0},
		{"sku": "SKU-A", "method": "tea_leaves"},
		{"sku": "SKU-A", "action": "monitor"},
	} {
		res := execute(t, rt, input)
		assert.False(t, res.Success, "%v", input)
		assert.Equal(t, sserr.TypeValidation, res.ErrorType, "%v", input)
	}
}

func TestDemandStrategy_ShortHistoryIsToolError(t *testing.T) {
	t.Parallel()
	src := NewMemorySource()
	series(src, "acme", "SKU-A", 5, 6)
	rt := newRuntime(t, NewDemandStrategy(src), nil, nil)

	res := execute(t, rt, map[string]any{"sku": "SKU-A"})
	assert.False(t, res.Success)
	assert.Equal(t, sserr.TypeTool+":"+ToolDemandForecast, res.ErrorType)
}

// ===== Narrative =====

func TestNarrative_AddsInsightAndAccountsTokens(t *testing.T) {
	t.Parallel()
	client := llm.NewScripted("scripted").Enqueue(&llm.Response{
		Content: "  Two items need reordering this week.  ",
		Usage:   llm.Usage{TotalTokens: 42, CostUSD: 0.01},
	})
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), nil, client)

	res := execute(t, rt, map[string]any{"action": "monitor"})
	require.True(t, res.Success)
	var narrative []string
	for _, in := range res.Insights {
		if in.Category == "narrative" {
			narrative = append(narrative, in.Message)
		}
	}
	assert.Equal(t, []string{"Two items need reordering this week."}, narrative)
	assert.Equal(t, 42, res.Metadata.TokensUsed)

	calls := client.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, llm.RoleSystem, calls[0][0].Role)
	assert.Contains(t, calls[0][1].Content, "SKU-A")
}

func TestNarrative_DisabledByConfig(t *testing.T) {
	t.Parallel()
	client := llm.NewScripted("scripted")
	rt := newRuntime(t, NewSupplierStrategy(supplierFixture()), agent.Config{ConfigLLMInsights: false}, client)

	res := execute(t, rt, map[string]any{})
	require.True(t, res.Success)
	assert.Empty(t, client.Calls())
}

func TestNarrative_FailureIsNotFatal(t *testing.T) {
	t.Parallel()
	client := llm.NewScripted("scripted").EnqueueError(sserr.Unavailable("provider down"))
	rt := newRuntime(t, NewInventoryStrategy(stockFixture()), nil, client)

	res := execute(t, rt, map[string]any{"action": "analyze"})
	require.True(t, res.Success)
	for _, in := range res.Insights {
		assert.NotEqual(t, "narrative", in.Category)
	}
	assert.Contains(t, res.Reasoning, "Narrative skipped: language model unavailable")
}
