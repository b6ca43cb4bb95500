package analytics

import (
	"context"
	"slices"

	"github.com/jackc/pgx/v5"
)

// Querier runs read queries. *postgres.Client satisfies it.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// PostgresSource reads analytics data from PostgreSQL. The tables are
// created by store.Postgres.EnsureSchema.
type PostgresSource struct {
	db Querier
}

var _ DataSource = (*PostgresSource)(nil)

// NewPostgresSource returns a source querying db.
func NewPostgresSource(db Querier) *PostgresSource {
	return &PostgresSource{db: db}
}

const (
	stockSQL = `SELECT sku, name, warehouse, on_hand, daily_demand, reorder_point, lead_time_days, supplier_id
FROM inventory_levels
WHERE org_id = $1 AND (cardinality($2::text[]) = 0 OR sku = ANY($2))
ORDER BY sku`

	supplierSQL = `SELECT supplier_id, name, on_time_rate, quality_rate, avg_lead_time_days, price_index, orders
FROM supplier_metrics
WHERE org_id = $1 AND (cardinality($2::text[]) = 0 OR supplier_id = ANY($2))
ORDER BY supplier_id`

	demandSQL = `SELECT sku, day, quantity
FROM demand_history
WHERE org_id = $1 AND sku = $2
ORDER BY day DESC
LIMIT $3`
)

// StockLevels implements DataSource.
func (p *PostgresSource) StockLevels(ctx context.Context, orgID string, skus []string) ([]StockItem, error) {
	rows, err := p.db.Query(ctx, stockSQL, orgID, nonNil(skus))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []StockItem
	for rows.Next() {
		var it StockItem
		var supplier *string
		if err := rows.Scan(&it.SKU, &it.Name, &it.Warehouse, &it.OnHand, &it.DailyDemand,
			&it.ReorderPoint, &it.LeadTimeDays, &supplier); err != nil {
			return nil, err
		}
		if supplier != nil {
			it.SupplierID = *supplier
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// SupplierMetrics implements DataSource.
func (p *PostgresSource) SupplierMetrics(ctx context.Context, orgID string, ids []string) ([]SupplierMetrics, error) {
	rows, err := p.db.Query(ctx, supplierSQL, orgID, nonNil(ids))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SupplierMetrics
	for rows.Next() {
		var s SupplierMetrics
		if err := rows.Scan(&s.SupplierID, &s.Name, &s.OnTimeRate, &s.QualityRate,
			&s.AvgLeadTimeDays, &s.PriceIndex, &s.Orders); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DemandHistory implements DataSource.
func (p *PostgresSource) DemandHistory(ctx context.Context, orgID, sku string, days int) ([]DemandPoint, error) {
	if days <= 0 {
		days = 365
	}
	rows, err := p.db.Query(ctx, demandSQL, orgID, sku, days)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DemandPoint
	for rows.Next() {
		var d DemandPoint
		if err := rows.Scan(&d.SKU, &d.Date, &d.Quantity); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(out)
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
