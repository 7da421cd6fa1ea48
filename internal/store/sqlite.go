package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite. The SQLite backend
// targets single-process deployments, so the tenant lock is an in-process
// semaphore rather than a database lock.
type SQLiteStore struct {
	db    *sql.DB
	locks *tenantLocks
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, locks: newTenantLocks()}, nil
}

// DB returns the underlying database handle for use by subsystems that need
// direct query access (e.g., the claim history reader).
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// tenantLocks is a per-tenant binary semaphore set.
type tenantLocks struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

func newTenantLocks() *tenantLocks {
	return &tenantLocks{slots: make(map[string]chan struct{})}
}

func (l *tenantLocks) slot(tenantID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[tenantID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[tenantID] = ch
	}
	return ch
}

func (l *tenantLocks) acquire(ctx context.Context, tenantID string, wait time.Duration) error {
	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case l.slot(tenantID) <- struct{}{}:
		return nil
	case <-timer.C:
		return resilience.NewTransientError(eris.Errorf("sqlite: tenant lock timeout for %s after %s", tenantID, wait))
	case <-ctx.Done():
		return eris.Wrap(ctx.Err(), "sqlite: acquire tenant lock")
	}
}

func (l *tenantLocks) release(tenantID string) {
	<-l.slot(tenantID)
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS claims (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id       TEXT NOT NULL,
	payer           TEXT NOT NULL,
	procedure_group TEXT NOT NULL,
	submitted_date  DATETIME NOT NULL,
	decided_date    DATETIME,
	outcome         TEXT,
	paid_amount     REAL NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_claims_tenant_decided ON claims(tenant_id, decided_date);
CREATE INDEX IF NOT EXISTS idx_claims_tenant_payer_group ON claims(tenant_id, payer, procedure_group);

CREATE TABLE IF NOT EXISTS baselines (
	tenant_id                  TEXT NOT NULL,
	payer                      TEXT NOT NULL,
	procedure_group            TEXT NOT NULL,
	denial_rate                REAL NOT NULL,
	mean_decision_latency_days REAL NOT NULL,
	sample_size                INTEGER NOT NULL,
	confidence_tier            TEXT NOT NULL,
	computed_at                DATETIME NOT NULL,
	PRIMARY KEY (tenant_id, payer, procedure_group)
);

CREATE TABLE IF NOT EXISTS runs (
	id             TEXT PRIMARY KEY,
	tenant_id      TEXT NOT NULL,
	status         TEXT NOT NULL DEFAULT 'IN_PROGRESS',
	baseline_start DATETIME NOT NULL,
	baseline_end   DATETIME NOT NULL,
	current_start  DATETIME NOT NULL,
	current_end    DATETIME NOT NULL,
	started_at     DATETIME NOT NULL,
	completed_at   DATETIME,
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
	magnitude       REAL NOT NULL,
	evidence        TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_findings_signal
	ON drift_findings(tenant_id, run_id, payer, procedure_group, drift_type);
CREATE INDEX IF NOT EXISTS idx_findings_tenant_created ON drift_findings(tenant_id, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Begin opens a unit of work for one detection pass. Write serialization
// between passes comes from the tenant lock; the busy_timeout pragma covers
// any other writer on the same file.
func (s *SQLiteStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "sqlite: begin"))
	}
	return &sqliteTx{tx: tx, locks: s.locks}, nil
}

type sqliteTx struct {
	tx     *sql.Tx
	locks  *tenantLocks
	tenant string
}

func (t *sqliteTx) AcquireTenantLock(ctx context.Context, tenantID string, wait time.Duration) error {
	if t.tenant != "" {
		return eris.Errorf("sqlite: tenant lock already held for %s", t.tenant)
	}
	if err := t.locks.acquire(ctx, tenantID, wait); err != nil {
		return err
	}
	t.tenant = tenantID
	return nil
}

// finish releases the tenant lock exactly once, whichever of Commit or
// Rollback runs first.
func (t *sqliteTx) finish() {
	if t.tenant != "" {
		t.locks.release(t.tenant)
		t.tenant = ""
	}
}

func (t *sqliteTx) UpsertBaseline(ctx context.Context, b model.Baseline) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO baselines (tenant_id, payer, procedure_group, denial_rate, mean_decision_latency_days, sample_size, confidence_tier, computed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, payer, procedure_group) DO UPDATE SET
		 	denial_rate = excluded.denial_rate,
		 	mean_decision_latency_days = excluded.mean_decision_latency_days,
		 	sample_size = excluded.sample_size,
		 	confidence_tier = excluded.confidence_tier,
		 	computed_at = excluded.computed_at`,
		b.TenantID, b.Payer, b.ProcedureGroup, b.DenialRate, b.MeanDecisionLatencyDays,
		b.SampleSize, string(b.ConfidenceTier), b.ComputedAt,
	)
	return eris.Wrapf(err, "sqlite: upsert baseline %s/%s", b.Payer, b.ProcedureGroup)
}

func (t *sqliteTx) CreateRun(ctx context.Context, r model.Run) error {
	_, err := t.tx.ExecContext(ctx,
		`INSERT INTO runs (id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, string(r.Status),
		r.BaselineWindow.Start, r.BaselineWindow.End,
		r.CurrentWindow.Start, r.CurrentWindow.End,
		r.StartedAt,
	)
	return eris.Wrapf(err, "sqlite: insert run %s", r.ID)
}

func (t *sqliteTx) CompleteRun(ctx context.Context, runID string, completedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx,
		`UPDATE runs SET status = ?, completed_at = ? WHERE id = ?`,
		string(model.RunStatusComplete), completedAt, runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (t *sqliteTx) TryInsertFinding(ctx context.Context, f model.DriftFinding) (bool, error) {
	evidenceJSON, err := json.Marshal(f.Evidence)
	if err != nil {
		return false, eris.Wrap(err, "sqlite: marshal evidence")
	}

	res, err := t.tx.ExecContext(ctx,
		`INSERT INTO drift_findings (id, tenant_id, run_id, payer, procedure_group, drift_type, severity, magnitude, evidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (tenant_id, run_id, payer, procedure_group, drift_type) DO NOTHING`,
		f.ID, f.TenantID, f.RunID, f.Payer, f.ProcedureGroup,
		string(f.DriftType), string(f.Severity), f.Magnitude, string(evidenceJSON), f.CreatedAt,
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: insert finding %s/%s/%s", f.Payer, f.ProcedureGroup, f.DriftType)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, eris.Wrap(err, "sqlite: rows affected")
	}
	return n == 1, nil
}

func (t *sqliteTx) Commit(ctx context.Context) error {
	defer t.finish()
	return eris.Wrap(t.tx.Commit(), "sqlite: commit")
}

func (t *sqliteTx) Rollback(ctx context.Context) error {
	defer t.finish()
	err := t.tx.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return eris.Wrap(err, "sqlite: rollback")
	}
	return nil
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at, completed_at, error
		 FROM runs WHERE id = ?`, runID)
	r, err := scanSQLiteRun(row.Scan)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get run %s", runID)
	}
	return r, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at, completed_at, error
	          FROM runs WHERE true`
	args := []any{}

	if filter.TenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, filter.TenantID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.StartedAfter)
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanSQLiteRun(rows.Scan)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan run")
		}
		runs = append(runs, *r)
	}
	return runs, eris.Wrap(rows.Err(), "sqlite: iterate runs")
}

func (s *SQLiteStore) ListFindings(ctx context.Context, tenantID string, since time.Time) ([]model.DriftFinding, error) {
	query := `SELECT id, tenant_id, run_id, payer, procedure_group, drift_type, severity, magnitude, evidence, created_at
	          FROM drift_findings WHERE created_at >= ?`
	args := []any{since}
	if tenantID != "" {
		query += ` AND tenant_id = ?`
		args = append(args, tenantID)
	}
	query += ` ORDER BY created_at DESC, payer, procedure_group, drift_type`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list findings")
	}
	defer rows.Close()

	var findings []model.DriftFinding
	for rows.Next() {
		var f model.DriftFinding
		var evidenceJSON string
		if err := rows.Scan(&f.ID, &f.TenantID, &f.RunID, &f.Payer, &f.ProcedureGroup,
			&f.DriftType, &f.Severity, &f.Magnitude, &evidenceJSON, &f.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan finding")
		}
		if err := json.Unmarshal([]byte(evidenceJSON), &f.Evidence); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal evidence")
		}
		findings = append(findings, f)
	}
	return findings, eris.Wrap(rows.Err(), "sqlite: iterate findings")
}

func (s *SQLiteStore) ListBaselines(ctx context.Context, tenantID string) ([]model.Baseline, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tenant_id, payer, procedure_group, denial_rate, mean_decision_latency_days, sample_size, confidence_tier, computed_at
		 FROM baselines WHERE tenant_id = ?
		 ORDER BY payer, procedure_group`,
		tenantID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list baselines")
	}
	defer rows.Close()

	var baselines []model.Baseline
	for rows.Next() {
		var b model.Baseline
		if err := rows.Scan(&b.TenantID, &b.Payer, &b.ProcedureGroup, &b.DenialRate,
			&b.MeanDecisionLatencyDays, &b.SampleSize, &b.ConfidenceTier, &b.ComputedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan baseline")
		}
		baselines = append(baselines, b)
	}
	return baselines, eris.Wrap(rows.Err(), "sqlite: iterate baselines")
}

func (s *SQLiteStore) RecordFailedRun(ctx context.Context, r model.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, tenant_id, status, baseline_start, baseline_end, current_start, current_end, started_at, completed_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET status = excluded.status, completed_at = excluded.completed_at, error = excluded.error`,
		r.ID, r.TenantID, string(model.RunStatusFailed),
		r.BaselineWindow.Start, r.BaselineWindow.End,
		r.CurrentWindow.Start, r.CurrentWindow.End,
		r.StartedAt, r.CompletedAt, r.Error,
	)
	return eris.Wrapf(err, "sqlite: record failed run %s", r.ID)
}

func scanSQLiteRun(scan func(dest ...any) error) (*model.Run, error) {
	var r model.Run
	var completedAt sql.NullTime
	if err := scan(&r.ID, &r.TenantID, &r.Status,
		&r.BaselineWindow.Start, &r.BaselineWindow.End,
		&r.CurrentWindow.Start, &r.CurrentWindow.End,
		&r.StartedAt, &completedAt, &r.Error); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		t := completedAt.Time
		r.CompletedAt = &t
	}
	return &r, nil
}

func checkRowsAffected(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", kind, id)
	}
	return nil
}
