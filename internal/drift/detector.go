// Package drift compares a current observation window against stored
// baselines and emits severity-ranked findings. Detection is pure and
// deterministic: the same baselines and claims always produce the same
// findings in the same order.
package drift

import (
	"sort"

	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/config"
	"github.com/claimwatch/claimwatch/internal/model"
)

// epsilon guards the relative-increase denominator when the baseline value
// is zero. A zero baseline with any current movement reads as a very large
// relative increase, which is the intended behavior.
const epsilon = 1e-9

// Detector applies the drift rules to one tenant's current window.
type Detector struct {
	cfg    config.DriftConfig
	scorer *Scorer
}

// NewDetector creates a Detector from drift config.
func NewDetector(cfg config.DriftConfig) *Detector {
	return &Detector{cfg: cfg, scorer: NewScorer(cfg)}
}

// window aggregates the current-window claims for one (payer, group) key.
type window struct {
	total      int
	denied     int
	latencySum float64
	amountUSD  float64
}

func (w *window) denialRate() float64 {
	return float64(w.denied) / float64(w.total)
}

func (w *window) meanLatencyDays() float64 {
	return w.latencySum / float64(w.total)
}

func relativeIncrease(current, baseline float64) float64 {
	base := baseline
	if base < epsilon {
		base = epsilon
	}
	return (current - baseline) / base
}

// Detect runs the three drift rules over every (payer, procedure-group) key
// present in the current window. Keys are processed in sorted order and the
// rules in a fixed order, so output ordering is deterministic. Run and ID
// fields on the returned findings are left for the coordinator to assign.
func (d *Detector) Detect(tenantID string, baselines map[model.GroupKey]model.Baseline, current []model.ClaimObservation) []model.DriftFinding {
	windows := make(map[model.GroupKey]*window)
	for _, c := range current {
		k := c.Key()
		w := windows[k]
		if w == nil {
			w = &window{}
			windows[k] = w
		}
		w.total++
		if c.Outcome == model.OutcomeDenied {
			w.denied++
		}
		w.latencySum += c.DecisionLatencyDays()
		w.amountUSD += c.PaidAmount
	}

	keys := make([]model.GroupKey, 0, len(windows))
	for k := range windows {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })

	var findings []model.DriftFinding
	for _, k := range keys {
		w := windows[k]
		b, hasBaseline := baselines[k]

		if hasBaseline && d.baselineUsable(b) && w.total >= d.cfg.MinCurrentSample {
			if f, ok := d.denialRateRule(tenantID, k, b, w); ok {
				findings = append(findings, f)
			}
			if f, ok := d.decisionTimeRule(tenantID, k, b, w); ok {
				findings = append(findings, f)
			}
		}

		// The streak rule is exempt from the sample floor and the
		// confidence gate, and needs no baseline at all: it exists to
		// catch acute recent problems a long-run baseline averages away.
		if f, ok := d.streakRule(tenantID, k, w); ok {
			findings = append(findings, f)
		}
	}

	zap.L().Debug("drift: detected",
		zap.String("tenant", tenantID),
		zap.Int("keys", len(keys)),
		zap.Int("findings", len(findings)),
	)
	return findings
}

// baselineUsable gates the baseline-relative rules on confidence. LOW-tier
// baselines are too noisy to alert on unless explicitly allowed.
func (d *Detector) baselineUsable(b model.Baseline) bool {
	return b.ConfidenceTier != model.ConfidenceLow || d.cfg.AllowLowConfidence
}

func (d *Detector) denialRateRule(tenantID string, k model.GroupKey, b model.Baseline, w *window) (model.DriftFinding, bool) {
	currentRate := w.denialRate()
	rel := relativeIncrease(currentRate, b.DenialRate)
	if rel < d.cfg.RelativeDenialThreshold {
		return model.DriftFinding{}, false
	}
	return d.finding(tenantID, k, model.DriftDenialRate, rel, w, model.Evidence{
		BaselineValue:      b.DenialRate,
		CurrentValue:       currentRate,
		Delta:              currentRate - b.DenialRate,
		BaselineSampleSize: b.SampleSize,
		CurrentSampleSize:  w.total,
		AffectedClaims:     w.denied,
		AffectedAmountUSD:  w.amountUSD,
	}), true
}

// decisionTimeRule flags a material slowdown in adjudication. It requires
// both a relative increase and a minimum absolute delta so that short
// baselines (say, 2 days) cannot alert on a half-day wobble.
func (d *Detector) decisionTimeRule(tenantID string, k model.GroupKey, b model.Baseline, w *window) (model.DriftFinding, bool) {
	currentLatency := w.meanLatencyDays()
	delta := currentLatency - b.MeanDecisionLatencyDays
	rel := relativeIncrease(currentLatency, b.MeanDecisionLatencyDays)
	if rel < d.cfg.RelativeLatencyThreshold || delta < d.cfg.MinLatencyDeltaDays {
		return model.DriftFinding{}, false
	}
	return d.finding(tenantID, k, model.DriftDecisionTime, rel, w, model.Evidence{
		BaselineValue:      b.MeanDecisionLatencyDays,
		CurrentValue:       currentLatency,
		Delta:              delta,
		BaselineSampleSize: b.SampleSize,
		CurrentSampleSize:  w.total,
		AffectedClaims:     w.total,
		AffectedAmountUSD:  w.amountUSD,
	}), true
}

func (d *Detector) streakRule(tenantID string, k model.GroupKey, w *window) (model.DriftFinding, bool) {
	if w.denied < d.cfg.StreakThreshold {
		return model.DriftFinding{}, false
	}
	// Magnitude for a streak is the denial count scaled against twice the
	// threshold, so exceeding the bar keeps raising severity.
	magnitude := float64(w.denied) / float64(2*d.cfg.StreakThreshold) * d.cfg.MagnitudeCeiling
	return d.finding(tenantID, k, model.DriftDenialStreak, magnitude, w, model.Evidence{
		BaselineValue:     float64(d.cfg.StreakThreshold),
		CurrentValue:      float64(w.denied),
		Delta:             float64(w.denied - d.cfg.StreakThreshold),
		CurrentSampleSize: w.total,
		AffectedClaims:    w.denied,
		AffectedAmountUSD: w.amountUSD,
	}), true
}

func (d *Detector) finding(tenantID string, k model.GroupKey, dt model.DriftType, magnitude float64, w *window, ev model.Evidence) model.DriftFinding {
	return model.DriftFinding{
		TenantID:       tenantID,
		Payer:          k.Payer,
		ProcedureGroup: k.ProcedureGroup,
		DriftType:      dt,
		Severity:       d.scorer.Severity(magnitude, w.amountUSD),
		Magnitude:      magnitude,
		Evidence:       ev,
	}
}
