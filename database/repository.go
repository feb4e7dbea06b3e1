package database

import (
	"context"
	"encoding/json"
	"time"

	"github.com/relaysms/relay/model"
)

// IDataSource defines the interface for data source operations, grouping related functionalities.
type IDataSource interface {
	idempotency  // Interface for idempotency ledger operations
	wallet       // Interface for wallet ledger operations
	webhookEvent // Interface for webhook replay guard operations
	scheduledJob // Interface for durable job scheduling operations
	campaign     // Interface for campaign operations
}

// idempotency defines methods for the idempotency ledger.
type idempotency interface {
	ClaimIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord, lease time.Duration) (*model.IdempotencyRecord, bool, error) // Claims or returns the existing record for a key
	ResolveIdempotencyRecord(ctx context.Context, recordID, ownerToken, status string, result json.RawMessage) error                          // Moves a claimed record to a terminal status
	GetIdempotencyRecord(ctx context.Context, tenantID, scopeKey, idempotencyKey string) (*model.IdempotencyRecord, error)                    // Retrieves a record by its composite key
}

// wallet defines methods for the tenant credit wallet.
type wallet interface {
	GetWalletBalance(ctx context.Context, tenantID string) (*model.WalletBalance, error)                                // Retrieves a tenant balance, zero when absent
	ApplyWalletTransaction(ctx context.Context, txn *model.CreditTransaction) (*model.CreditTransaction, error)         // Applies a signed credit movement atomically
	GetWalletTransactions(ctx context.Context, tenantID string, limit, offset int) ([]model.CreditTransaction, error)   // Retrieves transaction history for a tenant
	GetWalletTransactionByKey(ctx context.Context, tenantID, idempotencyKey string) (*model.CreditTransaction, error)   // Retrieves a transaction by idempotency key
}

// webhookEvent defines methods for the webhook replay guard.
type webhookEvent interface {
	ClaimWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error)        // Claims an external event or returns the existing row
	ResolveWebhookEvent(ctx context.Context, eventID, status string, result json.RawMessage, lastError string) error // Records the processing outcome of a claimed event
	GetWebhookEvent(ctx context.Context, provider, externalEventID string) (*model.WebhookEvent, error)         // Retrieves an event by its provider identity
}

// scheduledJob defines methods for durable delayed jobs.
type scheduledJob interface {
	CreateScheduledJob(ctx context.Context, job *model.ScheduledJob) (*model.ScheduledJob, error)                       // Persists a new scheduled job
	GetScheduledJob(ctx context.Context, jobID string) (*model.ScheduledJob, error)                                     // Retrieves a job by ID
	CancelScheduledJob(ctx context.Context, jobID string) error                                                         // Cancels a job that has not started running
	CancelScheduledJobsFor(ctx context.Context, tenantID, entityType, entityID, jobType string) (int64, error)          // Cancels all pending jobs for an entity
	ClaimDueJobs(ctx context.Context, batchSize int) ([]*model.ScheduledJob, error)                                     // Claims a batch of due jobs for execution
	CompleteScheduledJob(ctx context.Context, jobID string) error                                                       // Marks a running job completed
	FailScheduledJob(ctx context.Context, jobID, lastError string) error                                                // Marks a running job failed
}

// campaign defines methods for campaign state and counters.
type campaign interface {
	CreateCampaign(ctx context.Context, campaign *model.Campaign) (*model.Campaign, error)                 // Persists a new campaign
	GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error)                           // Retrieves a campaign by ID
	GetAllCampaigns(ctx context.Context, tenantID string, limit, offset int) ([]model.Campaign, error)     // Retrieves campaigns for a tenant
	TransitionCampaignStatus(ctx context.Context, campaignID, from, to string) (bool, error)               // Conditionally moves a campaign between statuses
	SetCampaignRecipientCount(ctx context.Context, campaignID string, count int) error                     // Records the resolved audience size
	IncrementCampaignOutcome(ctx context.Context, campaignID string, accepted bool) (*model.Campaign, error) // Bumps accepted or failed counters and returns fresh counts
	ListDueScheduledCampaigns(ctx context.Context, asOf time.Time, limit int) ([]*model.Campaign, error)   // Lists scheduled campaigns whose send time has passed
}
