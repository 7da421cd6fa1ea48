// Package engine coordinates one drift-detection pass: lock the tenant, read
// claim history, recompute baselines, detect drift, and persist everything as
// a single unit of work.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/baseline"
	"github.com/claimwatch/claimwatch/internal/drift"
	"github.com/claimwatch/claimwatch/internal/history"
	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/store"
)

// RunResult summarizes one completed detection pass.
type RunResult struct {
	RunID             string          `json:"run_id"`
	TenantID          string          `json:"tenant_id"`
	Status            model.RunStatus `json:"status"`
	BaselinesUpserted int             `json:"baselines_upserted"`
	FindingsCreated   int             `json:"findings_created"`
	DuplicatesSkipped int             `json:"duplicates_skipped"`
	Excluded          int             `json:"excluded"`
}

// Coordinator runs detection passes. Safe for concurrent use: per-tenant
// serialization happens in the store's tenant lock, not here.
type Coordinator struct {
	store       store.Store
	reader      history.Reader
	calc        *baseline.Calculator
	detector    *drift.Detector
	lockTimeout time.Duration
	logger      *zap.Logger
}

// NewCoordinator wires a Coordinator from its parts.
func NewCoordinator(s store.Store, r history.Reader, calc *baseline.Calculator, det *drift.Detector, lockTimeout time.Duration) *Coordinator {
	return &Coordinator{
		store:       s,
		reader:      r,
		calc:        calc,
		detector:    det,
		lockTimeout: lockTimeout,
		logger:      zap.L().With(zap.String("component", "engine")),
	}
}

// RunDriftDetection executes one pass for the tenant as of the given instant.
// The pass holds the tenant lock from before the first read until commit, so
// two passes for the same tenant are totally ordered. On any failure the
// whole pass rolls back and a FAILED run marker is written outside the
// transaction; transient causes (lock timeout, connectivity) keep their
// classification so the caller can retry.
func (c *Coordinator) RunDriftDetection(ctx context.Context, tenantID string, asOf time.Time) (*RunResult, error) {
	if tenantID == "" {
		return nil, eris.New("engine: tenant id is required")
	}
	asOf = asOf.UTC()
	log := c.logger.With(zap.String("tenant", tenantID), zap.Time("as_of", asOf))

	run := model.Run{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Status:         model.RunStatusInProgress,
		BaselineWindow: c.calc.BaselineWindow(asOf),
		CurrentWindow:  c.calc.CurrentWindow(asOf),
		StartedAt:      time.Now().UTC(),
	}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, c.fail(ctx, log, run, err)
	}
	defer tx.Rollback(ctx)

	if err := tx.AcquireTenantLock(ctx, tenantID, c.lockTimeout); err != nil {
		// A timed-out lock means another pass is running; that is
		// contention, not failure, so no FAILED marker is written.
		log.Warn("tenant lock not acquired", zap.Error(err))
		return nil, err
	}

	result, err := c.runLocked(ctx, log, tx, run)
	if err != nil {
		// The marker upsert targets the same run id the open transaction
		// may hold, so the rollback must land before fail() writes it.
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			log.Warn("rollback failed", zap.Error(rbErr))
		}
		return nil, c.fail(ctx, log, run, err)
	}
	return result, nil
}

// runLocked is the body of the pass, executed with the tenant lock held.
func (c *Coordinator) runLocked(ctx context.Context, log *zap.Logger, tx store.Tx, run model.Run) (*RunResult, error) {
	baselineClaims, bStats, err := c.reader.Fetch(ctx, history.Query{
		TenantID: run.TenantID,
		Window:   run.BaselineWindow,
	})
	if err != nil {
		return nil, eris.Wrap(err, "engine: read baseline window")
	}

	currentClaims, cStats, err := c.reader.Fetch(ctx, history.Query{
		TenantID: run.TenantID,
		Window:   run.CurrentWindow,
	})
	if err != nil {
		return nil, eris.Wrap(err, "engine: read current window")
	}

	baselines := c.calc.Compute(run.TenantID, baselineClaims, run.StartedAt)
	for _, b := range baselines {
		if err := tx.UpsertBaseline(ctx, b); err != nil {
			return nil, eris.Wrap(err, "engine: upsert baseline")
		}
	}

	if err := tx.CreateRun(ctx, run); err != nil {
		return nil, eris.Wrap(err, "engine: create run")
	}

	result := &RunResult{
		RunID:             run.ID,
		TenantID:          run.TenantID,
		Status:            model.RunStatusComplete,
		BaselinesUpserted: len(baselines),
		Excluded:          bStats.Excluded + cStats.Excluded,
	}

	now := time.Now().UTC()
	for _, f := range c.detector.Detect(run.TenantID, baselines, currentClaims) {
		f.ID = uuid.New().String()
		f.RunID = run.ID
		f.CreatedAt = now

		inserted, err := tx.TryInsertFinding(ctx, f)
		if err != nil {
			return nil, eris.Wrap(err, "engine: insert finding")
		}
		if !inserted {
			log.Debug("duplicate finding skipped",
				zap.String("payer", f.Payer),
				zap.String("procedure_group", f.ProcedureGroup),
				zap.String("drift_type", string(f.DriftType)),
			)
			result.DuplicatesSkipped++
			continue
		}
		result.FindingsCreated++
	}

	if err := tx.CompleteRun(ctx, run.ID, now); err != nil {
		return nil, eris.Wrap(err, "engine: complete run")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, eris.Wrap(err, "engine: commit")
	}

	log.Info("detection pass complete",
		zap.String("run_id", run.ID),
		zap.Int("baselines", result.BaselinesUpserted),
		zap.Int("findings", result.FindingsCreated),
		zap.Int("duplicates", result.DuplicatesSkipped),
		zap.Int("excluded", result.Excluded),
	)
	return result, nil
}

// fail records a FAILED run marker after the transaction rolled back. The
// marker write is best effort: the pass's error is what the caller sees.
func (c *Coordinator) fail(ctx context.Context, log *zap.Logger, run model.Run, cause error) error {
	now := time.Now().UTC()
	run.Status = model.RunStatusFailed
	run.CompletedAt = &now
	run.Error = eris.ToString(cause, false)

	if err := c.store.RecordFailedRun(ctx, run); err != nil {
		log.Warn("failed-run marker not recorded", zap.Error(err))
	}
	log.Error("detection pass failed", zap.String("run_id", run.ID), zap.Error(cause))
	return cause
}
