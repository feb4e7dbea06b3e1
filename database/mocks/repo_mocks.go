package mocks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/relaysms/relay/model"
)

// MockDataSource is a mock implementation of the IDataSource interface
type MockDataSource struct {
	mock.Mock
}

// Idempotency ledger methods

func (m *MockDataSource) ClaimIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord, lease time.Duration) (*model.IdempotencyRecord, bool, error) {
	args := m.Called(ctx, record, lease)
	var rec *model.IdempotencyRecord
	if args.Get(0) != nil {
		rec = args.Get(0).(*model.IdempotencyRecord)
	}
	return rec, args.Bool(1), args.Error(2)
}

func (m *MockDataSource) ResolveIdempotencyRecord(ctx context.Context, recordID, ownerToken, status string, result json.RawMessage) error {
	args := m.Called(ctx, recordID, ownerToken, status, result)
	return args.Error(0)
}

func (m *MockDataSource) GetIdempotencyRecord(ctx context.Context, tenantID, scopeKey, idempotencyKey string) (*model.IdempotencyRecord, error) {
	args := m.Called(ctx, tenantID, scopeKey, idempotencyKey)
	var rec *model.IdempotencyRecord
	if args.Get(0) != nil {
		rec = args.Get(0).(*model.IdempotencyRecord)
	}
	return rec, args.Error(1)
}

// Wallet methods

func (m *MockDataSource) GetWalletBalance(ctx context.Context, tenantID string) (*model.WalletBalance, error) {
	args := m.Called(ctx, tenantID)
	var balance *model.WalletBalance
	if args.Get(0) != nil {
		balance = args.Get(0).(*model.WalletBalance)
	}
	return balance, args.Error(1)
}

func (m *MockDataSource) ApplyWalletTransaction(ctx context.Context, txn *model.CreditTransaction) (*model.CreditTransaction, error) {
	args := m.Called(ctx, txn)
	var applied *model.CreditTransaction
	if args.Get(0) != nil {
		applied = args.Get(0).(*model.CreditTransaction)
	}
	return applied, args.Error(1)
}

func (m *MockDataSource) GetWalletTransactions(ctx context.Context, tenantID string, limit, offset int) ([]model.CreditTransaction, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	var txns []model.CreditTransaction
	if args.Get(0) != nil {
		txns = args.Get(0).([]model.CreditTransaction)
	}
	return txns, args.Error(1)
}

func (m *MockDataSource) GetWalletTransactionByKey(ctx context.Context, tenantID, idempotencyKey string) (*model.CreditTransaction, error) {
	args := m.Called(ctx, tenantID, idempotencyKey)
	var txn *model.CreditTransaction
	if args.Get(0) != nil {
		txn = args.Get(0).(*model.CreditTransaction)
	}
	return txn, args.Error(1)
}

// Webhook replay guard methods

func (m *MockDataSource) ClaimWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error) {
	args := m.Called(ctx, event)
	var evt *model.WebhookEvent
	if args.Get(0) != nil {
		evt = args.Get(0).(*model.WebhookEvent)
	}
	return evt, args.Bool(1), args.Error(2)
}

func (m *MockDataSource) ResolveWebhookEvent(ctx context.Context, eventID, status string, result json.RawMessage, lastError string) error {
	args := m.Called(ctx, eventID, status, result, lastError)
	return args.Error(0)
}

func (m *MockDataSource) GetWebhookEvent(ctx context.Context, provider, externalEventID string) (*model.WebhookEvent, error) {
	args := m.Called(ctx, provider, externalEventID)
	var evt *model.WebhookEvent
	if args.Get(0) != nil {
		evt = args.Get(0).(*model.WebhookEvent)
	}
	return evt, args.Error(1)
}

// Scheduled job methods

func (m *MockDataSource) CreateScheduledJob(ctx context.Context, job *model.ScheduledJob) (*model.ScheduledJob, error) {
	args := m.Called(ctx, job)
	var created *model.ScheduledJob
	if args.Get(0) != nil {
		created = args.Get(0).(*model.ScheduledJob)
	}
	return created, args.Error(1)
}

func (m *MockDataSource) GetScheduledJob(ctx context.Context, jobID string) (*model.ScheduledJob, error) {
	args := m.Called(ctx, jobID)
	var job *model.ScheduledJob
	if args.Get(0) != nil {
		job = args.Get(0).(*model.ScheduledJob)
	}
	return job, args.Error(1)
}

func (m *MockDataSource) CancelScheduledJob(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockDataSource) CancelScheduledJobsFor(ctx context.Context, tenantID, entityType, entityID, jobType string) (int64, error) {
	args := m.Called(ctx, tenantID, entityType, entityID, jobType)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockDataSource) ClaimDueJobs(ctx context.Context, batchSize int) ([]*model.ScheduledJob, error) {
	args := m.Called(ctx, batchSize)
	var jobs []*model.ScheduledJob
	if args.Get(0) != nil {
		jobs = args.Get(0).([]*model.ScheduledJob)
	}
	return jobs, args.Error(1)
}

func (m *MockDataSource) CompleteScheduledJob(ctx context.Context, jobID string) error {
	args := m.Called(ctx, jobID)
	return args.Error(0)
}

func (m *MockDataSource) FailScheduledJob(ctx context.Context, jobID, lastError string) error {
	args := m.Called(ctx, jobID, lastError)
	return args.Error(0)
}

// Campaign methods

func (m *MockDataSource) CreateCampaign(ctx context.Context, campaign *model.Campaign) (*model.Campaign, error) {
	args := m.Called(ctx, campaign)
	var created *model.Campaign
	if args.Get(0) != nil {
		created = args.Get(0).(*model.Campaign)
	}
	return created, args.Error(1)
}

func (m *MockDataSource) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	args := m.Called(ctx, campaignID)
	var campaign *model.Campaign
	if args.Get(0) != nil {
		campaign = args.Get(0).(*model.Campaign)
	}
	return campaign, args.Error(1)
}

func (m *MockDataSource) GetAllCampaigns(ctx context.Context, tenantID string, limit, offset int) ([]model.Campaign, error) {
	args := m.Called(ctx, tenantID, limit, offset)
	var campaigns []model.Campaign
	if args.Get(0) != nil {
		campaigns = args.Get(0).([]model.Campaign)
	}
	return campaigns, args.Error(1)
}

func (m *MockDataSource) TransitionCampaignStatus(ctx context.Context, campaignID, from, to string) (bool, error) {
	args := m.Called(ctx, campaignID, from, to)
	return args.Bool(0), args.Error(1)
}

func (m *MockDataSource) SetCampaignRecipientCount(ctx context.Context, campaignID string, count int) error {
	args := m.Called(ctx, campaignID, count)
	return args.Error(0)
}

func (m *MockDataSource) IncrementCampaignOutcome(ctx context.Context, campaignID string, accepted bool) (*model.Campaign, error) {
	args := m.Called(ctx, campaignID, accepted)
	var campaign *model.Campaign
	if args.Get(0) != nil {
		campaign = args.Get(0).(*model.Campaign)
	}
	return campaign, args.Error(1)
}

func (m *MockDataSource) ListDueScheduledCampaigns(ctx context.Context, asOf time.Time, limit int) ([]*model.Campaign, error) {
	args := m.Called(ctx, asOf, limit)
	var campaigns []*model.Campaign
	if args.Get(0) != nil {
		campaigns = args.Get(0).([]*model.Campaign)
	}
	return campaigns, args.Error(1)
}
