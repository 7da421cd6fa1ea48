package model

import "time"

// DriftType identifies which rule produced a finding.
type DriftType string

const (
	DriftDenialRate   DriftType = "DENIAL_RATE_DRIFT"
	DriftDecisionTime DriftType = "DECISION_TIME_DRIFT"
	DriftDenialStreak DriftType = "DENIAL_STREAK"
)

// Severity is the operator-facing ranking of a finding.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
	SeverityLow      Severity = "LOW"
)

// Rank returns the ordering of the severity: LOW < MEDIUM < HIGH < CRITICAL.
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 0
	case SeverityMedium:
		return 1
	case SeverityHigh:
		return 2
	case SeverityCritical:
		return 3
	default:
		return -1
	}
}

// Evidence is the structured payload attached to a finding so downstream
// consumers can reconstruct why it fired without re-querying claims.
type Evidence struct {
	BaselineValue      float64 `json:"baseline_value"`
	CurrentValue       float64 `json:"current_value"`
	Delta              float64 `json:"delta"`
	BaselineSampleSize int     `json:"baseline_sample_size"`
	CurrentSampleSize  int     `json:"current_sample_size"`
	AffectedClaims     int     `json:"affected_claims"`
	AffectedAmountUSD  float64 `json:"affected_amount_usd"`
}

// DriftFinding is a single persisted detection result. At most one finding
// exists per (tenant, run, payer, procedure-group, drift-type); the store
// enforces this with a unique index and the detector never emits two findings
// of the same key within one pass.
type DriftFinding struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	RunID          string    `json:"run_id"`
	Payer          string    `json:"payer"`
	ProcedureGroup string    `json:"procedure_group"`
	DriftType      DriftType `json:"drift_type"`
	Severity       Severity  `json:"severity"`
	Magnitude      float64   `json:"magnitude"`
	Evidence       Evidence  `json:"evidence"`
	CreatedAt      time.Time `json:"created_at"`
}

// Key returns the grouping key of the finding.
func (f DriftFinding) Key() GroupKey {
	return GroupKey{Payer: f.Payer, ProcedureGroup: f.ProcedureGroup}
}
