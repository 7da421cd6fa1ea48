package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/claimwatch/claimwatch/internal/db"
	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests and by callers
// that manage the pool lifecycle themselves.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for use by subsystems that need
// direct query access (e.g., the claim history reader).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id              BIGSERIAL PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	payer           TEXT NOT NULL,
	procedure_group TEXT NOT NULL,
	submitted_date  TIMESTAMPTZ NOT NULL,
	decided_date    TIMESTAMPTZ,
	outcome         TEXT,
	paid_amount     DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_claims_tenant_decided ON claims(tenant_id, decided_date);
CREATE INDEX IF NOT EXISTS idx_claims_tenant_payer_group ON claims(tenant_id, payer, procedure_group);

CREATE TABLE IF NOT EXISTS baselines (
	tenant_id                  TEXT NOT NULL,
	payer                      TEXT NOT NULL,
	procedure_group            TEXT NOT NULL,
	denial_rate                DOUBLE PRECISION NOT NULL,
	mean_decision_latency_days DOUBLE PRECISION NOT NULL,
	sample_size                INTEGER NOT NULL,
	confidence_tier            TEXT NOT NULL,
	computed_at                TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (tenant_id, payer, procedure_group)
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	baseline_start TIMESTAMPTZ NOT NULL,
	baseline_end   TIMESTAMPTZ NOT NULL,
	current_start  TIMESTAMPTZ NOT NULL,
	current_end    TIMESTAMPTZ NOT NULL,
	started_at     TIMESTAMPTZ NOT NULL,
	completed_at   TIMESTAMPTZ,
	error          TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_runs_tenant_started ON runs(tenant_id, started_at DESC);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);

CREATE TABLE IF NOT EXISTS drift_findings (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	run_id          TEXT NOT NULL REFERENCES runs(id),
	payer           TEXT NOT NULL,
	procedure_group TEXT NOT NULL,
	drift_type      TEXT NOT NULL,
	severity        TEXT NOT NULL,
	magnitude       DOUBLE PRECISION NOT NULL,
	evidence        JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_findings_signal
	ON drift_findings(tenant_id, run_id, payer, procedure_group, drift_type);
CREATE INDEX IF NOT EXISTS idx_findings_tenant_created ON drift_findings(tenant_id, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Begin opens a unit of work for one detection pass.
func (s *PostgresStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "postgres: begin"))
	}
	return &postgresTx{tx: tx}, nil
}

// postgresTx wraps a pgx transaction. The tenant lock is a transaction-level
// advisory lock, so Postgres releases it on commit or rollback; there is no
// code path where the lock outlives the unit of work.
type postgresTx struct {
	tx pgx.Tx
}

func (t *postgresTx) AcquireTenantLock(ctx context.Context, tenantID string, wait time.Duration) error {
	// lock_timeout bounds only the advisory lock wait; it is reset right
	// after so later statements in the pass keep the server default.
	if _, err := t.tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", wait.Milliseconds())); err != nil {
		return eris.Wrap(err, "postgres: set lock_timeout")
	}
	if _, err := t.tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, tenantID); err != nil {
		return resilience.NewTransientError(eris.Wrapf(err, "postgres: acquire tenant lock %s", tenantID))
	}
	if _, err := t.tx.Exec(ctx, "SET LOCAL lock_timeout = DEFAULT"); err != nil {
		return eris.Wrap(err, "postgres: reset lock_timeout")
	}
	return nil
}

func (t *postgresTx) UpsertBaseline(ctx context.Context, b model.Baseline) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO baselines (tenant_id, payer, procedure_group, denial_rate, mean_decision_latency_days, sample_size, confidence_tier, computed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (tenant_id, payer, procedure_group) DO UPDATE SET
		 	denial_rate = EXCLUDED.denial_rate,
		 	mean_decision_latency_days = EXCLUDED.mean_decision_latency_days,
		 	sample_size = EXCLUDED.sample_size,
		 	confidence_tier = EXCLUDED.confidence_tier,
		 	computed_at = EXCLUDED.computed_at`,
		b.TenantID, b.Payer, b.ProcedureGroup, b.DenialRate, b.MeanDecisionLatencyDays,
		b.SampleSize, string(b.ConfidenceTier), b.ComputedAt,
	)
	return eris.Wrapf(err, "postgres: upsert baseline %s/%s", b.Payer, b.ProcedureGroup)
}

func (t *postgresTx) CreateRun(ctx context.Context, r model.Run) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO runs (id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.ID, r.TenantID, string(r.Status),
		r.BaselineWindow.Start, r.BaselineWindow.End,
		r.CurrentWindow.Start, r.CurrentWindow.End,
		r.StartedAt,
	)
	return eris.Wrapf(err, "postgres: insert run %s", r.ID)
}

func (t *postgresTx) CompleteRun(ctx context.Context, runID string, completedAt time.Time) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE runs SET status = $1, completed_at = $2 WHERE id = $3`,
		string(model.RunStatusComplete), completedAt, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (t *postgresTx) TryInsertFinding(ctx context.Context, f model.DriftFinding) (bool, error) {
	evidenceJSON, err := json.Marshal(f.Evidence)
	if err != nil {
		return false, eris.Wrap(err, "postgres: marshal evidence")
	}

	tag, err := t.tx.Exec(ctx,
		`INSERT INTO drift_findings (id, tenant_id, run_id, payer, procedure_group, drift_type, severity, magnitude, evidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (tenant_id, run_id, payer, procedure_group, drift_type) DO NOTHING`,
		f.ID, f.TenantID, f.RunID, f.Payer, f.ProcedureGroup,
		string(f.DriftType), string(f.Severity), f.Magnitude, evidenceJSON, f.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: insert finding %s/%s/%s", f.Payer, f.ProcedureGroup, f.DriftType)
	}
	return tag.RowsAffected() == 1, nil
}

func (t *postgresTx) Commit(ctx context.Context) error {
	return eris.Wrap(t.tx.Commit(ctx), "postgres: commit")
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	err := t.tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return eris.Wrap(err, "postgres: rollback")
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at, completed_at, error
		 FROM runs WHERE id = $1`, runID)
	r, err := scanRun(row)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	return r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at, completed_at, error
	          FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.TenantID != "" {
		query += fmt.Sprintf(` AND tenant_id = $%d`, argIdx)
		args = append(args, filter.TenantID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.StartedAfter)
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "postgres: iterate runs")
}

func (s *PostgresStore) ListFindings(ctx context.Context, tenantID string, since time.Time) ([]model.DriftFinding, error) {
	query := `SELECT id, tenant_id, run_id, payer, procedure_group, drift_type, severity, magnitude, evidence, created_at
	          FROM drift_findings WHERE created_at >= $1`
	args := []any{since}
	if tenantID != "" {
		query += ` AND tenant_id = $2`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC, payer, procedure_group, drift_type`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list findings")
	}
	defer rows.Close()

	var findings []model.DriftFinding
	for rows.Next() {
		var f model.DriftFinding
		var evidenceJSON []byte
		if err := rows.Scan(&f.ID, &f.TenantID, &f.RunID, &f.Payer, &f.ProcedureGroup,
			&f.DriftType, &f.Severity, &f.Magnitude, &evidenceJSON, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan finding")
		}
		if err := json.Unmarshal(evidenceJSON, &f.Evidence); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal evidence")
		}
		findings = append(findings, f)
	}
	return findings, eris.Wrap(rows.Err(), "postgres: iterate findings")
}

func (s *PostgresStore) ListBaselines(ctx context.Context, tenantID string) ([]model.Baseline, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT tenant_id, payer, procedure_group, denial_rate, mean_decision_latency_days, sample_size, confidence_tier, computed_at
		 FROM baselines WHERE tenant_id = $1
		 ORDER BY payer, procedure_group`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list baselines")
	}
	defer rows.Close()

	var baselines []model.Baseline
	for rows.Next() {
		var b model.Baseline
		if err := rows.Scan(&b.TenantID, &b.Payer, &b.ProcedureGroup, &b.DenialRate,
			&b.MeanDecisionLatencyDays, &b.SampleSize, &b.ConfidenceTier, &b.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan baseline")
		}
		baselines = append(baselines, b)
	}
	return baselines, eris.Wrap(rows.Err(), "postgres: iterate baselines")
}

// RecordFailedRun upserts a FAILED run marker. Upsert rather than insert:
// the run row from the failed pass was rolled back with everything else, but
// a retried pass may race the marker write.
func (s *PostgresStore) RecordFailedRun(ctx context.Context, r model.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at, completed_at, error)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET status = EXCLUDED.status, completed_at = EXCLUDED.completed_at, error = EXCLUDED.error`,
		r.ID, r.TenantID, string(model.RunStatusFailed),
		r.BaselineWindow.Start, r.BaselineWindow.End,
		r.CurrentWindow.Start, r.CurrentWindow.End,
		r.StartedAt, r.CompletedAt, r.Error,
	)
	return eris.Wrapf(err, "postgres: record failed run %s", r.ID)
}

// scanRun reads one run row. Works for both QueryRow and Query since pgx.Row
// and pgx.Rows share Scan.
func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	if err := row.Scan(&r.ID, &r.TenantID, &r.Status,
		&r.BaselineWindow.Start, &r.BaselineWindow.End,
		&r.CurrentWindow.Start, &r.CurrentWindow.End,
		&r.StartedAt, &r.CompletedAt, &r.Error); err != nil {
		return nil, err
	}
	return &r, nil
}
