// Package store persists baselines, runs, and drift findings. Both backends
// share the same semantics: per-tenant advisory locking, upserted baselines,
// and a unique index that makes finding inserts idempotent.
package store

import (
	"context"
	"time"

	"github.com/claimwatch/claimwatch/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	TenantID     string          `json:"tenant_id,omitempty"`
	Status       model.RunStatus `json:"status,omitempty"`
	StartedAfter time.Time       `json:"started_after,omitempty"`
	Limit        int             `json:"limit,omitempty"`
	Offset       int             `json:"offset,omitempty"`
}

// Tx is one detection pass's unit of work. Everything written through a Tx
// becomes visible atomically at Commit; Rollback discards all of it. The
// tenant lock acquired through a Tx is released when the Tx ends, whichever
// way it ends.
type Tx interface {
	// AcquireTenantLock serializes detection passes for one tenant. It
	// blocks up to wait for a competing pass to finish; on timeout it
	// returns a transient error so the caller can retry.
	AcquireTenantLock(ctx context.Context, tenantID string, wait time.Duration) error

	UpsertBaseline(ctx context.Context, b model.Baseline) error
	CreateRun(ctx context.Context, r model.Run) error
	CompleteRun(ctx context.Context, runID string, completedAt time.Time) error

	// TryInsertFinding inserts a finding unless one already exists for the
	// same (tenant, run, payer, procedure-group, drift-type). It reports
	// whether a row was actually written; a duplicate is not an error.
	TryInsertFinding(ctx context.Context, f model.DriftFinding) (bool, error)

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store defines the persistence interface for the drift engine.
type Store interface {
	Begin(ctx context.Context) (Tx, error)

	// Reads. ListFindings with an empty tenantID spans all tenants; the
	// monitoring snapshot uses that form.
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	ListFindings(ctx context.Context, tenantID string, since time.Time) ([]model.DriftFinding, error)
	ListBaselines(ctx context.Context, tenantID string) ([]model.Baseline, error)

	// RecordFailedRun writes a FAILED run marker outside any transaction.
	// Used after a pass rolls back, so the failure stays visible even
	// though everything else from the pass was discarded.
	RecordFailedRun(ctx context.Context, r model.Run) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
