package model

import "time"

// ConfidenceTier classifies how statistically trustworthy a baseline is,
// derived from its sample size.
type ConfidenceTier string

const (
	ConfidenceLow    ConfidenceTier = "LOW"
	ConfidenceMedium ConfidenceTier = "MEDIUM"
	ConfidenceHigh   ConfidenceTier = "HIGH"
)

// Rank returns the ordering of the tier: LOW < MEDIUM < HIGH.
func (t ConfidenceTier) Rank() int {
	switch t {
	case ConfidenceLow:
		return 0
	case ConfidenceMedium:
		return 1
	case ConfidenceHigh:
		return 2
	default:
		return -1
	}
}

// Baseline holds the rolling statistics for one (tenant, payer,
// procedure-group) key. It is a derived cache, overwritten on each
// recomputation, never appended to.
type Baseline struct {
	TenantID                string         `json:"tenant_id"`
	Payer                   string         `json:"payer"`
	ProcedureGroup          string         `json:"procedure_group"`
	DenialRate              float64        `json:"denial_rate"`
	MeanDecisionLatencyDays float64        `json:"mean_decision_latency_days"`
	SampleSize              int            `json:"sample_size"`
	ConfidenceTier          ConfidenceTier `json:"confidence_tier"`
	ComputedAt              time.Time      `json:"computed_at"`
}

// Key returns the grouping key of the baseline.
func (b Baseline) Key() GroupKey {
	return GroupKey{Payer: b.Payer, ProcedureGroup: b.ProcedureGroup}
}
