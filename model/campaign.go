package model

import (
	"fmt"
	"time"
)

const (
	CampaignStatusDraft     = "draft"
	CampaignStatusScheduled = "scheduled"
	CampaignStatusPaused    = "paused"
	CampaignStatusSending   = "sending"
	CampaignStatusCompleted = "completed"
	CampaignStatusFailed    = "failed"
	CampaignStatusCancelled = "cancelled"
)

// Campaign is a tenant-scoped SMS campaign. Status moves through the state
// machine enforced by CanEnqueue/CanCancel and the conditional updates in the
// database layer; counters are only ever mutated through atomic increments.
type Campaign struct {
	CampaignID     string                 `json:"campaign_id"`
	TenantID       string                 `json:"tenant_id"`
	Name           string                 `json:"name"`
	TemplateID     string                 `json:"template_id"`
	Status         string                 `json:"status"`
	Audience       AudienceSelector       `json:"audience"`
	RecipientCount int                    `json:"recipient_count"`
	AcceptedCount  int                    `json:"accepted_count"`
	FailedCount    int                    `json:"failed_count"`
	ScheduleAt     time.Time              `json:"schedule_at,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
	MetaData       map[string]interface{} `json:"meta_data,omitempty"`
}

// EnqueueableStatuses are the statuses a campaign may be enqueued from.
// Paused campaigns are re-enterable.
var EnqueueableStatuses = []string{CampaignStatusDraft, CampaignStatusScheduled, CampaignStatusPaused}

// CancellableStatuses are the statuses a campaign may be cancelled from.
// A campaign that has started sending runs to a terminal state.
var CancellableStatuses = []string{CampaignStatusDraft, CampaignStatusScheduled}

func statusIn(status string, set []string) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

// CanEnqueue reports whether the campaign is in a status that permits
// enqueueing for send.
func (c *Campaign) CanEnqueue() bool {
	return statusIn(c.Status, EnqueueableStatuses)
}

// CanCancel reports whether the campaign may still be cancelled.
func (c *Campaign) CanCancel() bool {
	return statusIn(c.Status, CancellableStatuses)
}

// IsTerminal reports whether the campaign has reached a terminal status.
func (c *Campaign) IsTerminal() bool {
	switch c.Status {
	case CampaignStatusCompleted, CampaignStatusFailed, CampaignStatusCancelled:
		return true
	}
	return false
}

// EstimateCost returns the prepaid credits required to send the campaign to
// every recipient. Credits are whole integers, never fractional.
func (c *Campaign) EstimateCost(costPerMessage int64) int64 {
	return int64(c.RecipientCount) * costPerMessage
}

// OutcomesKnown reports whether every recipient-level send has reported back.
func (c *Campaign) OutcomesKnown() bool {
	return c.AcceptedCount+c.FailedCount >= c.RecipientCount
}

// ValidateStatusTransition checks a proposed status change against the state
// machine. The database layer enforces the same rules with conditional
// updates; this gives callers a readable error before touching storage.
func ValidateStatusTransition(from, to string) error {
	allowed := map[string][]string{
		CampaignStatusDraft:     {CampaignStatusScheduled, CampaignStatusSending, CampaignStatusCancelled},
		CampaignStatusScheduled: {CampaignStatusSending, CampaignStatusCancelled},
		CampaignStatusPaused:    {CampaignStatusSending, CampaignStatusCancelled},
		CampaignStatusSending:   {CampaignStatusCompleted, CampaignStatusFailed},
	}
	for _, next := range allowed[from] {
		if next == to {
			return nil
		}
	}
	return fmt.Errorf("campaign status cannot move from %s to %s", from, to)
}
