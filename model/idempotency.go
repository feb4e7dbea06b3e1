package model

import (
	"encoding/json"
	"time"
)

const (
	IdempotencyStatusPending   = "pending"
	IdempotencyStatusCompleted = "completed"
	IdempotencyStatusFailed    = "failed"
)

// IdempotencyRecord tracks one client-initiated action under a
// (tenant, scope, key) tuple. The first request inserts it as pending; the
// worker that executed the action moves it to completed or failed and caches
// the result, which is what later duplicates are answered with. Records are
// never deleted.
type IdempotencyRecord struct {
	RecordID       string          `json:"record_id"`
	TenantID       string          `json:"tenant_id"`
	ScopeKey       string          `json:"scope_key"`
	IdempotencyKey string          `json:"idempotency_key"`
	Status         string          `json:"status"`
	Result         json.RawMessage `json:"result,omitempty"`
	OwnerToken     string          `json:"owner_token"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// IsTerminal reports whether the record has reached completed or failed.
func (r *IdempotencyRecord) IsTerminal() bool {
	return r.Status == IdempotencyStatusCompleted || r.Status == IdempotencyStatusFailed
}

// Stale reports whether a pending record has outlived the lease and is
// eligible for reclaim by a new attempt. Terminal records are never stale.
func (r *IdempotencyRecord) Stale(lease time.Duration, now time.Time) bool {
	if r.IsTerminal() {
		return false
	}
	return now.Sub(r.UpdatedAt) > lease
}
