package history

import (
	"context"
	"database/sql"

	"github.com/rotisserie/eris"

	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/resilience"
)

// SQLiteReader implements Reader against the claims table in SQLite.
type SQLiteReader struct {
	db *sql.DB
}

// NewSQLiteReader creates a SQLiteReader over an open database handle.
func NewSQLiteReader(db *sql.DB) *SQLiteReader {
	return &SQLiteReader{db: db}
}

func (r *SQLiteReader) Fetch(ctx context.Context, q Query) ([]model.ClaimObservation, Stats, error) {
	var stats Stats
	w := clampWindow(q.Window)

	query := `SELECT tenant_id, payer, procedure_group, submitted_date, decided_date, outcome, paid_amount
	          FROM claims
	          WHERE tenant_id = ? AND decided_date IS NOT NULL AND outcome IS NOT NULL
	            AND decided_date >= ? AND decided_date < ?`
	args := []any{q.TenantID, w.Start, w.End}

	if q.Payer != "" {
		query += ` AND payer = ?`
		args = append(args, q.Payer)
	}
	if q.ProcedureGroup != "" {
		query += ` AND procedure_group = ?`
		args = append(args, q.ProcedureGroup)
	}
	query += ` ORDER BY decided_date, payer, procedure_group`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, stats, resilience.NewTransientError(eris.Wrap(err, "history: query claims"))
	}
	defer rows.Close()

	var claims []model.ClaimObservation
	for rows.Next() {
		var c model.ClaimObservation
		if err := rows.Scan(&c.TenantID, &c.Payer, &c.ProcedureGroup,
			&c.SubmittedDate, &c.DecidedDate, &c.Outcome, &c.PaidAmount); err != nil {
			return nil, stats, resilience.NewTransientError(eris.Wrap(err, "history: scan claim"))
		}
		claims = admit(claims, &stats, c)
	}
	if err := rows.Err(); err != nil {
		return nil, stats, resilience.NewTransientError(eris.Wrap(err, "history: iterate claims"))
	}
	return claims, stats, nil
}

// ListTenants returns the distinct tenant IDs present in the claims table.
func (r *SQLiteReader) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT tenant_id FROM claims ORDER BY tenant_id`)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(err, "history: list tenants"))
	}
	defer rows.Close()

	var tenants []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, resilience.NewTransientError(eris.Wrap(err, "history: scan tenant"))
		}
		tenants = append(tenants, id)
	}
	return tenants, eris.Wrap(rows.Err(), "history: iterate tenants")
}
