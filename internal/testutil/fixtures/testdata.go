// Package fixtures holds identities and seed data shared by unit and
// integration tests.
package fixtures

// Tenant and caller identities.
const (
	OrgID     = "acme"
	AltOrgID  = "globex"
	UserID    = "user-001"
	SessionID = "session-001"
	AgentID   = "inventory-001"
)

// Database settings for the integration containers.
const (
	DBName     = "analytics_test"
	DBUser     = "testuser"
	DBPassword = "testpassword"
)

// SeedSQL loads a small data set into the analytics tables. It assumes
// the schema from store.Postgres.EnsureSchema.
//
// SKU-A covers 2 days and is critical, SKU-B covers 5 days and is a
// warning, SKU-C covers 50 days.
const SeedSQL = `
INSERT INTO inventory_levels (org_id, sku, name, warehouse, on_hand, daily_demand, reorder_point, lead_time_days, supplier_id) VALUES
  ('acme', 'SKU-A', 'Widget', 'WH1', 20, 10, 30, 5, 'S1'),
  ('acme', 'SKU-B', 'Gadget', 'WH1', 50, 10, 0, 3, NULL),
  ('acme', 'SKU-C', 'Gizmo', 'WH2', 500, 10, 0, 3, 'S2'),
  ('globex', 'SKU-A', 'Other widget', 'WH9', 1, 10, 0, 3, NULL);

INSERT INTO supplier_metrics (org_id, supplier_id, name, on_time_rate, quality_rate, avg_lead_time_days, price_index, orders) VALUES
  ('acme', 'S1', 'Reliable Parts', 0.98, 0.97, 4, 0.95, 40),
  ('acme', 'S2', 'Late Freight', 0.55, 0.60, 20, 1.10, 12);

INSERT INTO demand_history (org_id, sku, day, quantity)
SELECT 'acme', 'SKU-A', DATE '2026-01-01' + g, 10 + (g % 3)
FROM generate_series(0, 29) AS g;
`
