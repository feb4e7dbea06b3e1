package model

import (
	"encoding/json"
	"time"
)

const (
	WebhookEventStatusProcessing = "processing"
	WebhookEventStatusProcessed  = "processed"
	WebhookEventStatusFailed     = "failed"
)

// WebhookEvent records one inbound event from an external provider.
// (provider, external_event_id) is unique at the storage layer because two
// process instances can race on the same redelivery; the loser of the insert
// race sees a duplicate and must not run business side effects.
type WebhookEvent struct {
	EventID         string          `json:"event_id"`
	Provider        string          `json:"provider"`
	ExternalEventID string          `json:"external_event_id"`
	TenantID        string          `json:"tenant_id"`
	EventType       string          `json:"event_type,omitempty"`
	Status          string          `json:"status"`
	Result          json.RawMessage `json:"result,omitempty"`
	LastError       string          `json:"last_error,omitempty"`
	ProcessedAt     time.Time       `json:"processed_at,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
