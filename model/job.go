package model

import (
	"encoding/json"
	"time"
)

const (
	JobStatusScheduled = "scheduled"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusCancelled = "cancelled"
	JobStatusFailed    = "failed"
)

// Job types dispatched through the scheduler's handler registry.
const (
	JobTypeAutomationSend = "automation_send"
	JobTypeCampaignSend   = "campaign_send"
)

// ScheduledJob is one delayed or immediate unit of work tied to a business
// entity. Only the scheduler mutates execution state; orchestrators create
// and cancel. The scheduled -> running transition happens exactly once, via
// the atomic claim in the database layer.
type ScheduledJob struct {
	JobID       string          `json:"job_id"`
	TenantID    string          `json:"tenant_id"`
	EntityType  string          `json:"entity_type"`
	EntityID    string          `json:"entity_id"`
	JobType     string          `json:"job_type"`
	RunAt       time.Time       `json:"run_at"`
	Status      string          `json:"status"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClaimedAt   time.Time       `json:"claimed_at,omitempty"`
	CancelledAt time.Time       `json:"cancelled_at,omitempty"`
}

// IsTerminal reports whether the job can no longer change state.
func (j *ScheduledJob) IsTerminal() bool {
	switch j.Status {
	case JobStatusCompleted, JobStatusCancelled, JobStatusFailed:
		return true
	}
	return false
}

// AutomationPayload is the self-contained payload carried by automation send
// jobs so the handler does not re-fetch mutable state at fire time.
type AutomationPayload struct {
	TenantID   string `json:"tenant_id"`
	TemplateID string `json:"template_id"`
	ContactID  string `json:"contact_id"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}
