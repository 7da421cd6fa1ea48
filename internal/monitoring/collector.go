// Package monitoring exposes a point-in-time health snapshot of the drift
// engine. How a snapshot is delivered or acted on is out of scope; this
// package only collects.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/store"
)

// MetricsSnapshot holds a point-in-time view of engine health.
type MetricsSnapshot struct {
	// Run metrics (within lookback window).
	RunsTotal      int     `json:"runs_total"`
	RunsComplete   int     `json:"runs_complete"`
	RunsFailed     int     `json:"runs_failed"`
	RunsInProgress int     `json:"runs_in_progress"`
	RunFailRate    float64 `json:"run_fail_rate"`

	// Finding metrics (within lookback window).
	FindingsTotal      int            `json:"findings_total"`
	FindingsBySeverity map[string]int `json:"findings_by_severity"`

	// Metadata.
	TenantID      string    `json:"tenant_id,omitempty"`
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers metrics from the store.
type Collector struct {
	store store.Store
}

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

// Collect gathers a snapshot over the given lookback window. An empty
// tenantID spans all tenants.
func (c *Collector) Collect(ctx context.Context, tenantID string, lookbackHours int) (*MetricsSnapshot, error) {
	snap := &MetricsSnapshot{
		FindingsBySeverity: make(map[string]int),
		TenantID:           tenantID,
		LookbackHours:      lookbackHours,
		CollectedAt:        time.Now().UTC(),
	}

	cutoff := time.Now().UTC().Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		TenantID:     tenantID,
		StartedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.RunsTotal = len(runs)
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusInProgress:
			snap.RunsInProgress++
		}
	}
	// Fail rate over finished runs only: an in-flight pass is not a failure.
	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.RunFailRate = float64(snap.RunsFailed) / float64(finished)
	}

	findings, err := c.store.ListFindings(ctx, tenantID, cutoff)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list findings")
	}
	snap.FindingsTotal = len(findings)
	for _, f := range findings {
		snap.FindingsBySeverity[string(f.Severity)]++
	}

	return snap, nil
}
