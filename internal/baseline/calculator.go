// Package baseline computes rolling statistical baselines per
// (payer, procedure-group) key from adjudicated claim history.
package baseline

import (
	"time"

	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/config"
	"github.com/claimwatch/claimwatch/internal/model"
)

// Calculator derives per-key baselines over a trailing window. It is pure:
// persistence of the resulting baselines belongs to the run coordinator.
type Calculator struct {
	baselineDays int
	gapDays      int
	currentDays  int
	mediumMin    int
	highMin      int
}

// NewCalculator creates a Calculator from window and confidence config.
func NewCalculator(win config.WindowConfig, conf config.ConfidenceConfig) *Calculator {
	return &Calculator{
		baselineDays: win.BaselineDays,
		gapDays:      win.GapDays,
		currentDays:  win.CurrentDays,
		mediumMin:    conf.MediumMin,
		highMin:      conf.HighMin,
	}
}

// BaselineWindow returns the trailing baseline window ending gapDays before
// asOf. The gap keeps the most recent days out of the baseline so it is not
// contaminated by the drift being measured.
func (c *Calculator) BaselineWindow(asOf time.Time) model.Window {
	end := asOf.AddDate(0, 0, -c.gapDays)
	return model.Window{Start: end.AddDate(0, 0, -c.baselineDays), End: end}
}

// CurrentWindow returns the trailing observation window ending at asOf.
func (c *Calculator) CurrentWindow(asOf time.Time) model.Window {
	return model.Window{Start: asOf.AddDate(0, 0, -c.currentDays), End: asOf}
}

// TierFor maps a sample size to a confidence tier. The mapping is a
// monotonic step function of the sample size.
func (c *Calculator) TierFor(sampleSize int) model.ConfidenceTier {
	switch {
	case sampleSize >= c.highMin:
		return model.ConfidenceHigh
	case sampleSize >= c.mediumMin:
		return model.ConfidenceMedium
	default:
		return model.ConfidenceLow
	}
}

// Compute aggregates baseline-window claims into one Baseline per key.
// Keys with zero samples simply produce no entry; that is not an error, and
// any previously stored baseline for such a key is left untouched.
func (c *Calculator) Compute(tenantID string, claims []model.ClaimObservation, computedAt time.Time) map[model.GroupKey]model.Baseline {
	type agg struct {
		total      int
		denied     int
		latencySum float64
	}
	aggs := make(map[model.GroupKey]*agg)

	for _, cl := range claims {
		k := cl.Key()
		a := aggs[k]
		if a == nil {
			a = &agg{}
			aggs[k] = a
		}
		a.total++
		if cl.Outcome == model.OutcomeDenied {
			a.denied++
		}
		a.latencySum += cl.DecisionLatencyDays()
	}

	baselines := make(map[model.GroupKey]model.Baseline, len(aggs))
	for k, a := range aggs {
		if a.total == 0 {
			continue
		}
		baselines[k] = model.Baseline{
			TenantID:                tenantID,
			Payer:                   k.Payer,
			ProcedureGroup:          k.ProcedureGroup,
			DenialRate:              float64(a.denied) / float64(a.total),
			MeanDecisionLatencyDays: a.latencySum / float64(a.total),
			SampleSize:              a.total,
			ConfidenceTier:          c.TierFor(a.total),
			ComputedAt:              computedAt,
		}
	}

	zap.L().Debug("baseline: computed",
		zap.String("tenant", tenantID),
		zap.Int("claims", len(claims)),
		zap.Int("keys", len(baselines)),
	)
	return baselines
}
