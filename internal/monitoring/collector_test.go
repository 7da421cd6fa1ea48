package monitoring

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/model"
	"github.com/claimwatch/claimwatch/internal/store"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func seedRun(t *testing.T, s *store.SQLiteStore, tenantID string, status model.RunStatus, startedAt time.Time, findings ...model.DriftFinding) {
	t.Helper()
	ctx := context.Background()

	run := model.Run{
		ID:             uuid.New().String(),
		TenantID:       tenantID,
		Status:         model.RunStatusInProgress,
		BaselineWindow: model.Window{Start: startedAt.AddDate(0, 0, -97), End: startedAt.AddDate(0, 0, -7)},
		CurrentWindow:  model.Window{Start: startedAt.AddDate(0, 0, -7), End: startedAt},
		StartedAt:      startedAt,
	}

	if status == model.RunStatusFailed {
		run.Error = "injected"
		require.NoError(t, s.RecordFailedRun(ctx, run))
		return
	}

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.CreateRun(ctx, run))
	for _, f := range findings {
		f.ID = uuid.New().String()
		f.TenantID = tenantID
		f.RunID = run.ID
		f.CreatedAt = startedAt
		inserted, err := tx.TryInsertFinding(ctx, f)
		require.NoError(t, err)
		require.True(t, inserted)
	}
	if status == model.RunStatusComplete {
		require.NoError(t, tx.CompleteRun(ctx, run.ID, startedAt))
	}
	require.NoError(t, tx.Commit(ctx))
}

func finding(payer string, dt model.DriftType, sev model.Severity) model.DriftFinding {
	return model.DriftFinding{
		Payer:          payer,
		ProcedureGroup: "Imaging",
		DriftType:      dt,
		Severity:       sev,
		Magnitude:      1.0,
	}
}

func TestCollect(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))

	now := time.Now().UTC()
	recent := now.Add(-1 * time.Hour)
	stale := now.Add(-48 * time.Hour)

	seedRun(t, s, "t1", model.RunStatusComplete, recent,
		finding("BCBS", model.DriftDenialRate, model.SeverityHigh),
		finding("Aetna", model.DriftDenialStreak, model.SeverityMedium),
	)
	seedRun(t, s, "t1", model.RunStatusFailed, recent)
	seedRun(t, s, "t2", model.RunStatusComplete, recent,
		finding("UHC", model.DriftDecisionTime, model.SeverityHigh),
	)
	// Outside the lookback window: invisible to the snapshot.
	seedRun(t, s, "t1", model.RunStatusComplete, stale,
		finding("Cigna", model.DriftDenialRate, model.SeverityCritical),
	)

	c := NewCollector(s)

	snap, err := c.Collect(context.Background(), "", 24)
	require.NoError(t, err)
	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 2, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.InDelta(t, 1.0/3.0, snap.RunFailRate, 1e-9)
	assert.Equal(t, 3, snap.FindingsTotal)
	assert.Equal(t, 2, snap.FindingsBySeverity["HIGH"])
	assert.Equal(t, 1, snap.FindingsBySeverity["MEDIUM"])
	assert.Zero(t, snap.FindingsBySeverity["CRITICAL"])

	// Tenant-scoped snapshot.
	snap, err = c.Collect(context.Background(), "t1", 24)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 2, snap.FindingsTotal)
}

func TestCollect_EmptyStore(t *testing.T) {
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "monitoring.db"))
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))

	snap, err := NewCollector(s).Collect(context.Background(), "", 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.RunFailRate)
	assert.Empty(t, snap.FindingsBySeverity)
}
