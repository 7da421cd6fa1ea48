// Package model defines the core domain types for drift detection.
package model

import "time"

// Outcome is the adjudicated result of a claim.
type Outcome string

const (
	OutcomePaid   Outcome = "PAID"
	OutcomeDenied Outcome = "DENIED"
)

// Valid reports whether the outcome is one of the known adjudicated states.
func (o Outcome) Valid() bool {
	return o == OutcomePaid || o == OutcomeDenied
}

// ClaimObservation is a single adjudicated claim as handed over by the
// ingestion pipeline. It is immutable input: the engine never writes claims.
type ClaimObservation struct {
	TenantID       string    `json:"tenant_id"`
	Payer          string    `json:"payer"`
	ProcedureGroup string    `json:"procedure_group"`
	SubmittedDate  time.Time `json:"submitted_date"`
	DecidedDate    time.Time `json:"decided_date"`
	Outcome        Outcome   `json:"outcome"`
	PaidAmount     float64   `json:"paid_amount"`
}

// Key returns the grouping key the claim aggregates under.
func (c ClaimObservation) Key() GroupKey {
	return GroupKey{Payer: c.Payer, ProcedureGroup: c.ProcedureGroup}
}

// DecisionLatencyDays is the number of days between submission and decision.
func (c ClaimObservation) DecisionLatencyDays() float64 {
	return c.DecidedDate.Sub(c.SubmittedDate).Hours() / 24
}

// GroupKey identifies a (payer, procedure-code-group) pair within a tenant.
type GroupKey struct {
	Payer          string `json:"payer"`
	ProcedureGroup string `json:"procedure_group"`
}

// Less orders keys lexicographically, payer first. Used wherever a stable
// iteration order is required for deterministic output.
func (k GroupKey) Less(other GroupKey) bool {
	if k.Payer != other.Payer {
		return k.Payer < other.Payer
	}
	return k.ProcedureGroup < other.ProcedureGroup
}

// Window is a half-open time interval [Start, End).
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Contains reports whether t falls inside the window.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}
