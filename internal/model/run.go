package model

import "time"

// RunStatus represents the lifecycle state of one detection pass.
type RunStatus string

const (
	RunStatusInProgress RunStatus = "IN_PROGRESS"
	RunStatusComplete   RunStatus = "COMPLETE"
	RunStatusFailed     RunStatus = "FAILED"
)

// Run records one detection pass for one tenant. A run reaches COMPLETE only
// when every finding produced by the pass has been durably written in the
// same transaction; a FAILED run leaves nothing behind but this marker.
type Run struct {
	ID             string     `json:"id"`
	TenantID       string     `json:"tenant_id"`
	Status         RunStatus  `json:"status"`
	BaselineWindow Window     `json:"baseline_window"`
	CurrentWindow  Window     `json:"current_window"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}
