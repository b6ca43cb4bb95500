package tool

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
)

func newFunc(name, description string, params ...Parameter) *Func {
	return &Func{
		ToolName:        name,
		ToolDescription: description,
		Params:          params,
		Fn: func(_ context.Context, _ Invocation, p map[string]any) (*Result, error) {
			return OK(p), nil
		},
	}
}

var forecastParams = []Parameter{
	{Name: "product_id", Type: TypeString, Required: true, Description: "product to forecast"},
	{Name: "horizon_days", Type: TypeInteger, Default: 14},
	{Name: "method", Type: TypeString, Enum: []any{"moving_average", "exponential_smoothing"}, Default: "moving_average"},
}

// ===== Registry =====

func TestRegistry_ReRegisterReplacesAndKeepsOrder(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("inventory_levels", "v1")))
	require.NoError(t, r.Register(newFunc("supplier_metrics", "suppliers")))
	require.NoError(t, r.Register(newFunc("inventory_levels", "v2")))

	assert.Equal(t, 2, r.Len())
	assert.Equal(t, []string{"inventory_levels", "supplier_metrics"}, r.Names())
	assert.Equal(t, []string{"inventory_levels: v2", "supplier_metrics: suppliers"}, r.Descriptions())

	got, ok := r.Get("inventory_levels")
	require.True(t, ok)
	assert.Equal(t, "v2", got.Description())
}

func TestRegistry_DescriptionsFollowRegistrationOrder(t *testing.T) {
	t.Parallel()
	a, b := NewRegistry(), NewRegistry()
	require.NoError(t, a.Register(newFunc("x", "first")))
	require.NoError(t, a.Register(newFunc("y", "second")))
	require.NoError(t, b.Register(newFunc("y", "second")))
	require.NoError(t, b.Register(newFunc("x", "first")))

	assert.NotEqual(t, a.Descriptions(), b.Descriptions())
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	t.Parallel()
	err := NewRegistry().Register(newFunc("", "nameless"))
	assert.True(t, sserr.IsValidation(err))
}

func TestRegistry_Specs(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("demand_forecast", "forecast demand", forecastParams...)))

	specs := r.Specs()
	require.Len(t, specs, 1)
	assert.Equal(t, "object", specs[0].Parameters["type"])
	assert.Equal(t, []any{"product_id"}, specs[0].Parameters["required"])
}

// ===== Validation =====

func TestRegistry_ValidateAppliesDefaults(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("demand_forecast", "", forecastParams...)))

	params, err := r.Validate("demand_forecast", map[string]any{"product_id": "sku-1"})
	require.NoError(t, err)
	assert.Equal(t, 14, params["horizon_days"])
	assert.Equal(t, "moving_average", params["method"])
}

func TestRegistry_ValidateFailures(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	require.NoError(t, r.Register(newFunc("demand_forecast", "", forecastParams...)))

	tests := map[string]map[string]any{
		"missing required": {"horizon_days": 7},
		"wrong type":       {"product_id": "sku-1", "horizon_days": "soon"},
		"not in enum":      {"product_id": "sku-1", "method": "crystal_ball"},
		"fractional int":   {"product_id": "sku-1", "horizon_days": 1.5},
	}
	for name, params := range tests {
		_, err := r.Validate("demand_forecast", params)
		require.Error(t, err, name)
		assert.True(t, sserr.HasCode(err, sserr.CodeValidation), name)
	}
}

func TestRegistry_ValidateUnknownTool(t *testing.T) {
	t.Parallel()
	_, err := NewRegistry().Validate("ghost", nil)
	assert.True(t, sserr.HasCode(err, sserr.CodeToolNotFound))
}

// ===== Result =====

func TestDataAs(t *testing.T) {
	t.Parallel()
	levels, err := DataAs[[]int](OK([]int{1, 2}))
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, levels)

	_, err = DataAs[string](OK(42))
	assert.Error(t, err)

	_, err = DataAs[int](Failed("warehouse %s offline", "east"))
	assert.ErrorContains(t, err, "warehouse east offline")

	_, err = DataAs[int](nil)
	assert.Error(t, err)
}

func TestResult_WithMetadata(t *testing.T) {
	t.Parallel()
	r := OK(nil).WithMetadata("rows", 3)
	assert.Equal(t, 3, r.Metadata["rows"])
}

// ===== Cache =====

func TestKey_IndependentOfMapOrder(t *testing.T) {
	t.Parallel()
	k1, ok := Key("acme", "t", map[string]any{"a": 1, "b": 2})
	require.True(t, ok)
	k2, _ := Key("acme", "t", map[string]any{"b": 2, "a": 1})
	assert.Equal(t, k1, k2)

	k3, _ := Key("globex", "t", map[string]any{"a": 1, "b": 2})
	assert.NotEqual(t, k1, k3, "organizations never share entries")

	_, ok = Key("acme", "t", map[string]any{"fn": func() {}})
	assert.False(t, ok)
}

func TestResultCache_HoldsUpToMaxEntries(t *testing.T) {
	t.Parallel()
	const n = 50
	c, err := NewResultCache(64)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	for i := range n {
		c.Set(fmt.Sprintf("k%d", i), OK(i), time.Minute)
		c.Wait()
	}
	hits := 0
	for i := range n {
		if got, ok := c.Get(fmt.Sprintf("k%d", i)); ok {
			assert.Equal(t, i, got.Data)
			hits++
		}
	}
	assert.Equal(t, n, hits)
}

func TestResultCache_SetGetClear(t *testing.T) {
	t.Parallel()
	c, err := NewResultCache(16)
	require.NoError(t, err)
	t.Cleanup(c.Close)

	c.Set("k", OK("cached"), time.Minute)
	c.Wait()
	got, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, "cached", got.Data)

	c.Clear()
	_, ok = c.Get("k")
	assert.False(t, ok)
}
