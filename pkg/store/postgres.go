// Package store persists the service's operational records in
// PostgreSQL: execution records, error groups and instances, recovery
// attempts and health results. It also owns the schema of the analytics
// tables read by analytics.PostgresSource.
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/errortrack"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/executor"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/health"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/models"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/recovery"
)

// DB is the part of *postgres.Client the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Postgres is the PostgreSQL store. It is safe for concurrent use.
type Postgres struct {
	db     DB
	logger *slog.Logger
}

var (
	_ errortrack.Store       = (*Postgres)(nil)
	_ recovery.AttemptSink   = (*Postgres)(nil)
	_ executor.ExecutionSink = (*Postgres)(nil)
)

// Option configures a Postgres store.
type Option func(*Postgres)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(p *Postgres) { p.logger = l } }

// NewPostgres returns a store writing to db.
func NewPostgres(db DB, opts ...Option) *Postgres {
	p := &Postgres{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// EnsureSchema creates missing tables and indexes.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := p.db.Exec(ctx, stmt); err != nil {
			return wrap(err, "store: failed to create schema")
		}
	}
	p.logger.Info("store: schema ready", "statements", len(schema))
	return nil
}

const upsertExecutionSQL = `INSERT INTO executions
	(id, agent_id, agent_type, org_id, user_id, status, start_time, end_time,
	 tokens_used, cost_usd, tool_calls, error_type, error_message, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	end_time = EXCLUDED.end_time,
	tokens_used = EXCLUDED.tokens_used,
	cost_usd = EXCLUDED.cost_usd,
	tool_calls = EXCLUDED.tool_calls,
	error_type = EXCLUDED.error_type,
	error_message = EXCLUDED.error_message,
	metadata = EXCLUDED.metadata,
	updated_at = EXCLUDED.updated_at`

// SaveExecution inserts rec or updates its outcome. Invalid records are
// rejected with a validation error before touching the database.
func (p *Postgres) SaveExecution(ctx context.Context, rec *models.ExecutionRecord) error {
	if rec == nil {
		return sserr.New(sserr.CodeValidationRequired, "store: execution record is nil")
	}
	if err := rec.Validate(); err != nil {
		return sserr.Wrap(err, sserr.CodeValidation, "store: invalid execution record")
	}
	_, err := p.db.Exec(ctx, upsertExecutionSQL,
		rec.ID, rec.AgentID, rec.AgentType, rec.OrgID, rec.UserID, string(rec.Status),
		rec.StartTime, rec.EndTime, rec.TokensUsed, rec.CostUSD, strs(rec.ToolCalls),
		rec.ErrorType, rec.ErrorMessage, obj(rec.Metadata), rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return wrap(err, "store: failed to save execution").WithDetail("execution_id", rec.ID)
	}
	return nil
}

const listExecutionsSQL = `SELECT id, agent_id, agent_type, org_id, user_id, status, start_time, end_time,
	tokens_used, cost_usd, tool_calls, error_type, error_message, metadata, created_at, updated_at
FROM executions
WHERE org_id = $1
ORDER BY start_time DESC
LIMIT $2`

// ListExecutions returns the most recent executions of one organization,
// newest first.
func (p *Postgres) ListExecutions(ctx context.Context, orgID string, limit int) ([]models.ExecutionRecord, error) {
	if orgID == "" {
		return nil, sserr.New(sserr.CodeValidationRequired, "store: org id is required")
	}
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.db.Query(ctx, listExecutionsSQL, orgID, limit)
	if err != nil {
		return nil, wrap(err, "store: failed to list executions")
	}
	defer rows.Close()

	var out []models.ExecutionRecord
	for rows.Next() {
		var r models.ExecutionRecord
		var status string
		if err := rows.Scan(&r.ID, &r.AgentID, &r.AgentType, &r.OrgID, &r.UserID, &status,
			&r.StartTime, &r.EndTime, &r.TokensUsed, &r.CostUSD, &r.ToolCalls,
			&r.ErrorType, &r.ErrorMessage, &r.Metadata, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, wrap(err, "store: failed to scan execution")
		}
		r.Status = models.ExecutionStatus(status)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(err, "store: failed to list executions")
	}
	return out, nil
}

const upsertGroupSQL = `INSERT INTO error_groups
	(id, error_type, message, normalized_message, normalized_stack, category, severity, status,
	 retryable, hint, count, first_seen, last_seen, resolved_at, components, users, orgs)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
ON CONFLICT (id) DO UPDATE SET
	message = EXCLUDED.message,
	severity = EXCLUDED.severity,
	status = EXCLUDED.status,
	count = EXCLUDED.count,
	last_seen = EXCLUDED.last_seen,
	resolved_at = EXCLUDED.resolved_at,
	components = EXCLUDED.components,
	users = EXCLUDED.users,
	orgs = EXCLUDED.orgs`

// SaveErrorGroups upserts groups in one transaction.
func (p *Postgres) SaveErrorGroups(ctx context.Context, groups []errortrack.Group) error {
	return p.inTx(ctx, "store: failed to save error groups", func(tx pgx.Tx) error {
		for _, g := range groups {
			if _, err := tx.Exec(ctx, upsertGroupSQL,
				g.ID, g.ErrorType, g.Message, g.NormalizedMessage, g.NormalizedStack,
				string(g.Category), string(g.Severity), string(g.Status), g.Retryable, g.Hint,
				g.Count, g.FirstSeen, g.LastSeen, g.ResolvedAt,
				strs(g.Components), strs(g.Users), strs(g.Orgs)); err != nil {
				return err
			}
		}
		return nil
	}, len(groups))
}

const insertInstanceSQL = `INSERT INTO error_instances
	(id, group_id, message, stack, component, user_id, org_id, execution_id, context, occurred_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO NOTHING`

// SaveErrorInstances inserts instances in one transaction. Instances
// already stored are skipped.
func (p *Postgres) SaveErrorInstances(ctx context.Context, instances []errortrack.Instance) error {
	return p.inTx(ctx, "store: failed to save error instances", func(tx pgx.Tx) error {
		for _, in := range instances {
			if _, err := tx.Exec(ctx, insertInstanceSQL,
				in.ID, in.GroupID, in.Message, in.Stack, in.Component, in.UserID, in.OrgID,
				in.ExecutionID, obj(in.Context), in.Timestamp); err != nil {
				return err
			}
		}
		return nil
	}, len(instances))
}

const insertAttemptSQL = `INSERT INTO recovery_attempts
	(id, component, action, reason, success, error, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// SaveRecoveryAttempt records one recovery attempt.
func (p *Postgres) SaveRecoveryAttempt(ctx context.Context, a recovery.Attempt) error {
	if _, err := p.db.Exec(ctx, insertAttemptSQL,
		a.ID, a.Component, string(a.Action), a.Reason, a.Success, a.Error,
		a.StartedAt, a.Duration.Milliseconds()); err != nil {
		return wrap(err, "store: failed to save recovery attempt").WithDetail("component", a.Component)
	}
	return nil
}

const insertHealthSQL = `INSERT INTO health_results
	(component, status, message, details, duration_ms, checked_at)
VALUES ($1, $2, $3, $4, $5, $6)`

// SaveHealthReport stores every component result of a sweep.
func (p *Postgres) SaveHealthReport(ctx context.Context, r health.Report) error {
	return p.inTx(ctx, "store: failed to save health report", func(tx pgx.Tx) error {
		for _, c := range r.Components {
			at := c.CheckedAt
			if at.IsZero() {
				at = r.CheckedAt
			}
			if _, err := tx.Exec(ctx, insertHealthSQL,
				c.Component, string(c.Status), c.Message, obj(c.Details),
				c.Duration.Milliseconds(), at); err != nil {
				return err
			}
		}
		return nil
	}, len(r.Components))
}

// PruneHealthResults deletes results checked before cutoff and returns
// how many were removed.
func (p *Postgres) PruneHealthResults(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM health_results WHERE checked_at < $1`, cutoff)
	if err != nil {
		return 0, wrap(err, "store: failed to prune health results")
	}
	return tag.RowsAffected(), nil
}

// inTx runs fn in a transaction. n is the number of rows fn writes; zero
// skips the transaction entirely.
func (p *Postgres) inTx(ctx context.Context, msg string, fn func(tx pgx.Tx) error, n int) error {
	if n == 0 {
		return nil
	}
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return wrap(err, msg)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			p.logger.Warn("store: rollback failed", "error", rbErr)
		}
		return wrap(err, msg)
	}
	if err := tx.Commit(ctx); err != nil {
		return wrap(err, msg)
	}
	return nil
}

// wrap keeps the code of platform errors, so database timeouts stay
// retryable, and classifies everything else as INT_002.
func wrap(err error, msg string) *sserr.Error {
	code := sserr.CodeInternalDatabase
	if e, ok := sserr.AsError(err); ok {
		code = e.Code
	}
	return sserr.Wrap(err, code, msg)
}

func strs(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func obj(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
