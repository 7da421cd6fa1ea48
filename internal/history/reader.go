// Package history provides read-only access to adjudicated claim records.
// Claims are owned by the ingestion pipeline; this package never writes them.
package history

import (
	"context"
	"time"

	"github.com/claimwatch/claimwatch/internal/model"
)

// Query filters the claims returned by a Reader. TenantID and the window are
// required; Payer and ProcedureGroup narrow the result when set.
type Query struct {
	TenantID       string
	Payer          string
	ProcedureGroup string
	Window         model.Window
}

// Stats carries diagnostic counters for one fetch. Excluded counts rows that
// were skipped because they were malformed or incomplete; a skipped row never
// fails the pass.
type Stats struct {
	Fetched  int
	Excluded int
}

// Reader fetches decided claims within a window. Implementations must only
// return claims with a valid outcome and a decision date not before the
// submission date; anything else increments Stats.Excluded.
type Reader interface {
	Fetch(ctx context.Context, q Query) ([]model.ClaimObservation, Stats, error)
}

// admit validates a scanned row and either appends it or counts it excluded.
// Shared by the postgres and sqlite readers so both apply the same hygiene.
func admit(claims []model.ClaimObservation, stats *Stats, c model.ClaimObservation) []model.ClaimObservation {
	if !c.Outcome.Valid() || c.DecidedDate.Before(c.SubmittedDate) {
		stats.Excluded++
		return claims
	}
	stats.Fetched++
	return append(claims, c)
}

// clampWindow guards against zero-value windows producing full-table scans.
func clampWindow(w model.Window) model.Window {
	if w.End.IsZero() {
		w.End = time.Now().UTC()
	}
	return w
}
