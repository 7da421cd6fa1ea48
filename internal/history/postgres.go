package history

import (
	"context"
	"fmt"

	"github.com/rotisserie/eris"

	"github.com/claimwatch/claimwatch/internal/db"
	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/resilience"
)

// PGReader implements Reader against the claims table via a pgx pool.
type PGReader struct {
	pool db.Pool
}

// NewPGReader creates a PGReader backed by the given connection pool.
func NewPGReader(pool db.Pool) *PGReader {
	return &PGReader{pool: pool}
}

// Fetch returns decided claims for the tenant within the window, ordered by
// decision date. Read errors are wrapped as transient: the pass aborts
// cleanly and the caller may retry.
func (r *PGReader) Fetch(ctx context.Context, q Query) ([]model.ClaimObservation, Stats, error) {
	var stats Stats
	w := clampWindow(q.Window)

	query := `SELECT tenant_id, payer, procedure_group, submitted_date, decided_date, outcome, paid_amount
	          FROM claims
	          WHERE tenant_id = $1 AND decided_date IS NOT NULL AND outcome IS NOT NULL
	            AND decided_date >= $2 AND decided_date < $3`
	args := []any{q.TenantID, w.Start, w.End}
	argIdx := 4

	if q.Payer != "" {
		query += fmt.Sprintf(` AND payer = $%d`, argIdx)
		args = append(args, q.Payer)
		argIdx++
	}
	if q.ProcedureGroup != "" {
		query += fmt.Sprintf(` AND procedure_group = $%d`, argIdx)
		args = append(args, q.ProcedureGroup)
		argIdx++
	}
	query += ` ORDER BY decided_date, payer, procedure_group`

	rows, err := r.pool.Query(ctx, query, args...)
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
// Used by the batch detect command to fan out across tenants.
func (r *PGReader) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT tenant_id FROM claims ORDER BY tenant_id`)
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
