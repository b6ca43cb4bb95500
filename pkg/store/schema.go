package store

// schema creates every table the service reads or writes. Statements are
// idempotent so EnsureSchema can run on each start.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_levels (
	org_id          TEXT NOT NULL,
	sku             TEXT NOT NULL,
	name            TEXT NOT NULL DEFAULT '',
	warehouse       TEXT NOT NULL DEFAULT '',
	on_hand         INTEGER NOT NULL DEFAULT 0,
	daily_demand    DOUBLE PRECISION NOT NULL DEFAULT 0,
	reorder_point   INTEGER NOT NULL DEFAULT 0,
	lead_time_days  INTEGER NOT NULL DEFAULT 0,
	supplier_id     TEXT,
	PRIMARY KEY (org_id, sku, warehouse)
)`,
	`CREATE TABLE IF NOT EXISTS supplier_metrics (
	org_id              TEXT NOT NULL,
	supplier_id         TEXT NOT NULL,
	name                TEXT NOT NULL DEFAULT '',
	on_time_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	quality_rate        DOUBLE PRECISION NOT NULL DEFAULT 0,
	avg_lead_time_days  DOUBLE PRECISION NOT NULL DEFAULT 0,
	price_index         DOUBLE PRECISION NOT NULL DEFAULT 1,
	orders              INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (org_id, supplier_id)
)`,
	`CREATE TABLE IF NOT EXISTS demand_history (
	org_id    TEXT NOT NULL,
	sku       TEXT NOT NULL,
	day       DATE NOT NULL,
	quantity  DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (org_id, sku, day)
)`,
	`CREATE TABLE IF NOT EXISTS executions (
	id             TEXT PRIMARY KEY,
	agent_id       TEXT NOT NULL,
	agent_type     TEXT NOT NULL,
	org_id         TEXT NOT NULL,
	user_id        TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	start_time     TIMESTAMPTZ NOT NULL,
	end_time       TIMESTAMPTZ,
	tokens_used    INTEGER NOT NULL DEFAULT 0,
	cost_usd       DOUBLE PRECISION NOT NULL DEFAULT 0,
	tool_calls     TEXT[] NOT NULL DEFAULT '{}',
	error_type     TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	metadata       JSONB NOT NULL DEFAULT '{}',
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS executions_org_start_idx ON executions (org_id, start_time DESC)`,
	`CREATE TABLE IF NOT EXISTS error_groups (
	id                  TEXT PRIMARY KEY,
	error_type          TEXT NOT NULL,
	message             TEXT NOT NULL,
	normalized_message  TEXT NOT NULL,
	normalized_stack    TEXT NOT NULL DEFAULT '',
	category            TEXT NOT NULL,
	severity            TEXT NOT NULL,
	status              TEXT NOT NULL,
	retryable           BOOLEAN NOT NULL DEFAULT FALSE,
	hint                TEXT NOT NULL DEFAULT '',
	count               BIGINT NOT NULL,
	first_seen          TIMESTAMPTZ NOT NULL,
	last_seen           TIMESTAMPTZ NOT NULL,
	resolved_at         TIMESTAMPTZ,
	components          TEXT[] NOT NULL DEFAULT '{}',
	users               TEXT[] NOT NULL DEFAULT '{}',
	orgs                TEXT[] NOT NULL DEFAULT '{}'
)`,
	`CREATE TABLE IF NOT EXISTS error_instances (
	id            TEXT PRIMARY KEY,
	group_id      TEXT NOT NULL REFERENCES error_groups (id) ON DELETE CASCADE,
	message       TEXT NOT NULL,
	stack         TEXT NOT NULL DEFAULT '',
	component     TEXT NOT NULL DEFAULT '',
	user_id       TEXT NOT NULL DEFAULT '',
	org_id        TEXT NOT NULL DEFAULT '',
	execution_id  TEXT NOT NULL DEFAULT '',
	context       JSONB NOT NULL DEFAULT '{}',
	occurred_at   TIMESTAMPTZ NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS recovery_attempts (
	id           TEXT PRIMARY KEY,
	component    TEXT NOT NULL,
	action       TEXT NOT NULL,
	reason       TEXT NOT NULL DEFAULT '',
	success      BOOLEAN NOT NULL,
	error        TEXT NOT NULL DEFAULT '',
	started_at   TIMESTAMPTZ NOT NULL,
	duration_ms  BIGINT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS health_results (
	component    TEXT NOT NULL,
	status       TEXT NOT NULL,
	message      TEXT NOT NULL DEFAULT '',
	details      JSONB NOT NULL DEFAULT '{}',
	duration_ms  BIGINT NOT NULL,
	checked_at   TIMESTAMPTZ NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS health_results_checked_idx ON health_results (checked_at)`,
}
