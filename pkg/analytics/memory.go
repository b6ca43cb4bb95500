package analytics

import (
	"context"
	"slices"
	"sort"
	"sync"
)

// MemorySource is an in-memory DataSource.
type MemorySource struct {
	mu        sync.RWMutex
	stock     map[string]map[string]StockItem
	suppliers map[string]map[string]SupplierMetrics
	demand    map[string]map[string][]DemandPoint
}

var _ DataSource = (*MemorySource)(nil)

// NewMemorySource returns an empty source.
func NewMemorySource() *MemorySource {
	return &MemorySource{
		stock:     make(map[string]map[string]StockItem),
		suppliers: make(map[string]map[string]SupplierMetrics),
		demand:    make(map[string]map[string][]DemandPoint),
	}
}

// PutStock adds or replaces stock items of orgID.
func (m *MemorySource) PutStock(orgID string, items ...StockItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stock[orgID] == nil {
		m.stock[orgID] = make(map[string]StockItem)
	}
	for _, it := range items {
		m.stock[orgID][it.SKU] = it
	}
}

// PutSuppliers adds or replaces suppliers of orgID.
func (m *MemorySource) PutSuppliers(orgID string, suppliers ...SupplierMetrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suppliers[orgID] == nil {
		m.suppliers[orgID] = make(map[string]SupplierMetrics)
	}
	for _, s := range suppliers {
		m.suppliers[orgID][s.SupplierID] = s
	}
}

// AddDemand appends demand points of orgID.
func (m *MemorySource) AddDemand(orgID string, points ...DemandPoint) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.demand[orgID] == nil {
		m.demand[orgID] = make(map[string][]DemandPoint)
	}
	for _, p := range points {
		m.demand[orgID][p.SKU] = append(m.demand[orgID][p.SKU], p)
	}
	for sku := range m.demand[orgID] {
		pts := m.demand[orgID][sku]
		sort.SliceStable(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })
	}
}

// StockLevels implements DataSource.
func (m *MemorySource) StockLevels(ctx context.Context, orgID string, skus []string) ([]StockItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []StockItem
	for sku, it := range m.stock[orgID] {
		if len(skus) == 0 || slices.Contains(skus, sku) {
			out = append(out, it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SKU < out[j].SKU })
	return out, nil
}

// SupplierMetrics implements DataSource.
func (m *MemorySource) SupplierMetrics(ctx context.Context, orgID string, ids []string) ([]SupplierMetrics, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []SupplierMetrics
	for id, s := range m.suppliers[orgID] {
		if len(ids) == 0 || slices.Contains(ids, id) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SupplierID < out[j].SupplierID })
	return out, nil
}

// DemandHistory implements DataSource.
func (m *MemorySource) DemandHistory(ctx context.Context, orgID, sku string, days int) ([]DemandPoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	pts := m.demand[orgID][sku]
	if days > 0 && len(pts) > days {
		pts = pts[len(pts)-days:]
	}
	return slices.Clone(pts), nil
}
