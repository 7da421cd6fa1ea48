package drift

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/config"
	"github.com/claimwatch/claimwatch/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testDriftConfig() config.DriftConfig {
	return config.DriftConfig{
		RelativeDenialThreshold:  0.5,
		RelativeLatencyThreshold: 0.2,
		MinLatencyDeltaDays:      3,
		MinCurrentSample:         5,
		StreakThreshold:          3,
		AllowLowConfidence:       false,
		MagnitudeWeight:          0.7,
		AmountWeight:             0.3,
		MagnitudeCeiling:         2.0,
		AmountCeilingUSD:         50000,
	}
}

func baselineFor(payer, group string, rate, latency float64, sample int, tier model.ConfidenceTier) map[model.GroupKey]model.Baseline {
	k := model.GroupKey{Payer: payer, ProcedureGroup: group}
	return map[model.GroupKey]model.Baseline{k: {
		TenantID:                "t1",
		Payer:                   payer,
		ProcedureGroup:          group,
		DenialRate:              rate,
		MeanDecisionLatencyDays: latency,
		SampleSize:              sample,
		ConfidenceTier:          tier,
	}}
}

// currentClaims builds n claims for one key with the given number of denials
// and a uniform decision latency.
func currentClaims(payer, group string, n, denied int, latencyDays int, paidEach float64) []model.ClaimObservation {
	submitted := time.Date(2026, 8, 14, 0, 0, 0, 0, time.UTC)
	claims := make([]model.ClaimObservation, 0, n)
	for i := 0; i < n; i++ {
		outcome := model.OutcomePaid
		if i < denied {
			outcome = model.OutcomeDenied
		}
		claims = append(claims, model.ClaimObservation{
			TenantID:       "t1",
			Payer:          payer,
			ProcedureGroup: group,
			SubmittedDate:  submitted,
			DecidedDate:    submitted.AddDate(0, 0, latencyDays),
			Outcome:        outcome,
			PaidAmount:     paidEach,
		})
	}
	return claims
}

func TestDetect_DenialRateDrift(t *testing.T) {
	d := NewDetector(testDriftConfig())

	// Baseline 0.10 over 40 claims, current 0.20 over 10: relative drift
	// (0.20-0.10)/0.10 = 1.0 clears the 0.5 threshold and the sample floor.
	baselines := baselineFor("BCBS", "Imaging", 0.10, 10, 40, model.ConfidenceHigh)
	current := currentClaims("BCBS", "Imaging", 10, 2, 10, 100)

	findings := d.Detect("t1", baselines, current)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, model.DriftDenialRate, f.DriftType)
	assert.Equal(t, "BCBS", f.Payer)
	assert.Equal(t, "Imaging", f.ProcedureGroup)
	assert.InDelta(t, 1.0, f.Magnitude, 1e-9)
	assert.InDelta(t, 0.10, f.Evidence.BaselineValue, 1e-9)
	assert.InDelta(t, 0.20, f.Evidence.CurrentValue, 1e-9)
	assert.InDelta(t, 0.10, f.Evidence.Delta, 1e-9)
	assert.Equal(t, 40, f.Evidence.BaselineSampleSize)
	assert.Equal(t, 10, f.Evidence.CurrentSampleSize)
	assert.Equal(t, 2, f.Evidence.AffectedClaims)
	assert.InDelta(t, 1000, f.Evidence.AffectedAmountUSD, 1e-9)
}

func TestDetect_BelowSampleFloorIsSilent(t *testing.T) {
	d := NewDetector(testDriftConfig())

	// Same relative drift but only 3 current claims: below the floor, no
	// baseline-relative finding. Not enough denials for a streak either.
	baselines := baselineFor("BCBS", "Imaging", 0.10, 10, 40, model.ConfidenceHigh)
	current := currentClaims("BCBS", "Imaging", 3, 1, 10, 100)

	findings := d.Detect("t1", baselines, current)
	assert.Empty(t, findings)
}

func TestDetect_LowConfidenceBaselineIsGated(t *testing.T) {
	cfg := testDriftConfig()
	d := NewDetector(cfg)

	baselines := baselineFor("Aetna", "E&M", 0.05, 10, 6, model.ConfidenceLow)
	current := currentClaims("Aetna", "E&M", 10, 2, 10, 100)

	assert.Empty(t, d.Detect("t1", baselines, current))

	// The same inputs alert once low-confidence baselines are allowed.
	cfg.AllowLowConfidence = true
	findings := NewDetector(cfg).Detect("t1", baselines, current)
	require.Len(t, findings, 1)
	assert.Equal(t, model.DriftDenialRate, findings[0].DriftType)
}

func TestDetect_DecisionTimeDrift(t *testing.T) {
	d := NewDetector(testDriftConfig())

	// Latency 10 -> 15 days: +50% relative and +5 absolute, both clear.
	baselines := baselineFor("UHC", "Surgery", 0.05, 10, 40, model.ConfidenceHigh)
	current := currentClaims("UHC", "Surgery", 8, 0, 15, 200)

	findings := d.Detect("t1", baselines, current)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, model.DriftDecisionTime, f.DriftType)
	assert.InDelta(t, 0.5, f.Magnitude, 1e-9)
	assert.InDelta(t, 5, f.Evidence.Delta, 1e-9)
	assert.Equal(t, 8, f.Evidence.AffectedClaims)
}

func TestDetect_DecisionTimeNeedsAbsoluteDelta(t *testing.T) {
	d := NewDetector(testDriftConfig())

	// Latency 2 -> 4 days: +100% relative but only +2 absolute, below the
	// 3-day minimum. A short baseline must not alert on small wobbles.
	baselines := baselineFor("UHC", "Labs", 0.05, 2, 40, model.ConfidenceHigh)
	current := currentClaims("UHC", "Labs", 8, 0, 4, 50)

	assert.Empty(t, d.Detect("t1", baselines, current))
}

func TestDetect_StreakFiresWithoutBaseline(t *testing.T) {
	d := NewDetector(testDriftConfig())

	// No baseline at all and only 3 claims: the streak rule still fires
	// because it is exempt from the sample floor and the confidence gate.
	current := currentClaims("Cigna", "DME", 3, 3, 5, 75)

	findings := d.Detect("t1", nil, current)
	require.Len(t, findings, 1)

	f := findings[0]
	assert.Equal(t, model.DriftDenialStreak, f.DriftType)
	assert.InDelta(t, 3, f.Evidence.CurrentValue, 1e-9)
	assert.Equal(t, 3, f.Evidence.AffectedClaims)
}

func TestDetect_StreakBelowThresholdIsSilent(t *testing.T) {
	d := NewDetector(testDriftConfig())
	current := currentClaims("Cigna", "DME", 4, 2, 5, 75)
	assert.Empty(t, d.Detect("t1", nil, current))
}

func TestDetect_Deterministic(t *testing.T) {
	d := NewDetector(testDriftConfig())

	baselines := map[model.GroupKey]model.Baseline{}
	for k, b := range baselineFor("BCBS", "Imaging", 0.10, 10, 40, model.ConfidenceHigh) {
		baselines[k] = b
	}
	for k, b := range baselineFor("Aetna", "E&M", 0.10, 10, 40, model.ConfidenceHigh) {
		baselines[k] = b
	}

	var current []model.ClaimObservation
	current = append(current, currentClaims("BCBS", "Imaging", 10, 4, 10, 100)...)
	current = append(current, currentClaims("Aetna", "E&M", 10, 4, 10, 100)...)

	first := d.Detect("t1", baselines, current)
	require.NotEmpty(t, first)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, d.Detect("t1", baselines, current))
	}

	// Keys come out in sorted order.
	assert.Equal(t, "Aetna", first[0].Payer)
}

func TestDetect_AtMostOneFindingPerTypeAndKey(t *testing.T) {
	d := NewDetector(testDriftConfig())

	// Inputs hot enough to trip every rule at once for a single key.
	baselines := baselineFor("BCBS", "Imaging", 0.05, 5, 40, model.ConfidenceHigh)
	current := currentClaims("BCBS", "Imaging", 10, 5, 12, 500)

	findings := d.Detect("t1", baselines, current)
	require.Len(t, findings, 3)

	seen := map[model.DriftType]bool{}
	for _, f := range findings {
		assert.False(t, seen[f.DriftType], "duplicate finding for %s", f.DriftType)
		seen[f.DriftType] = true
	}
}

func TestScorer_Monotonic(t *testing.T) {
	s := NewScorer(testDriftConfig())

	// Raising magnitude with amount fixed never lowers severity.
	prev := -1
	for m := 0.0; m <= 4.0; m += 0.05 {
		rank := s.Severity(m, 10000).Rank()
		require.GreaterOrEqual(t, rank, prev, "severity dropped at magnitude %f", m)
		prev = rank
	}

	// Raising amount with magnitude fixed never lowers severity.
	prev = -1
	for a := 0.0; a <= 100000; a += 1000 {
		rank := s.Severity(1.0, a).Rank()
		require.GreaterOrEqual(t, rank, prev, "severity dropped at amount %f", a)
		prev = rank
	}
}

func TestScorer_Bands(t *testing.T) {
	s := NewScorer(testDriftConfig())

	assert.Equal(t, model.SeverityLow, s.Band(0.0))
	assert.Equal(t, model.SeverityMedium, s.Band(0.25))
	assert.Equal(t, model.SeverityHigh, s.Band(0.50))
	assert.Equal(t, model.SeverityCritical, s.Band(0.75))
	assert.Equal(t, model.SeverityCritical, s.Band(1.0))
}
