package ingest

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/claimwatch/claimwatch/internal/db"
)

// Loader writes claim records to the claims table.
type Loader interface {
	Load(ctx context.Context, records []ClaimRecord) (int64, error)
}

// PGLoader bulk-loads claims over the COPY protocol.
type PGLoader struct {
	pool db.Pool
}

// NewPGLoader creates a PGLoader over the given pool.
func NewPGLoader(pool db.Pool) *PGLoader {
	return &PGLoader{pool: pool}
}

func (l *PGLoader) Load(ctx context.Context, records []ClaimRecord) (int64, error) {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{
			r.TenantID, r.Payer, r.ProcedureGroup,
			r.SubmittedDate, r.DecidedDate, nullableString(r.Outcome), r.PaidAmount,
		})
	}
	n, err := db.CopyFrom(ctx, l.pool, "claims", csvColumns, rows)
	return n, eris.Wrap(err, "ingest: load claims")
}

// SQLiteLoader batch-inserts claims inside one transaction.
type SQLiteLoader struct {
	db *sql.DB
}

// NewSQLiteLoader creates a SQLiteLoader over an open database handle.
func NewSQLiteLoader(database *sql.DB) *SQLiteLoader {
	return &SQLiteLoader{db: database}
}

func (l *SQLiteLoader) Load(ctx context.Context, records []ClaimRecord) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO claims (tenant_id, payer, procedure_group, submitted_date, decided_date, outcome, paid_amount)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, eris.Wrap(err, "ingest: prepare insert")
	}
	defer stmt.Close() //nolint:errcheck

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx,
			r.TenantID, r.Payer, r.ProcedureGroup,
			r.SubmittedDate, r.DecidedDate, nullableString(r.Outcome), r.PaidAmount,
		); err != nil {
			return 0, eris.Wrap(err, "ingest: insert claim")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "ingest: commit")
	}
	return int64(len(records)), nil
}

// nullableString maps an empty string to SQL NULL so pending claims store
// NULL outcomes rather than empty text.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
