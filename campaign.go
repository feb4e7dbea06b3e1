package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/internal/apierror"
	redlock "github.com/relaysms/relay/internal/lock"
	"github.com/relaysms/relay/internal/notification"
	"github.com/relaysms/relay/model"
)

// ScopeCampaignEnqueue is the idempotency ledger scope for campaign enqueues.
const ScopeCampaignEnqueue = "campaign_enqueue"

// EnqueueResult is the durable outcome of a campaign enqueue, cached in the
// idempotency ledger and replayed to duplicate requests.
type EnqueueResult struct {
	CampaignID     string `json:"campaign_id"`
	Status         string `json:"status"`
	RecipientCount int    `json:"recipient_count"`
	CreditsCharged int64  `json:"credits_charged"`
}

// CreateCampaign persists a new draft campaign. A campaign created with a
// future schedule time starts out scheduled and is picked up by the sweeper.
func (r *Relay) CreateCampaign(ctx context.Context, campaign *model.Campaign) (*model.Campaign, error) {
	if campaign.TenantID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Tenant ID is required", nil)
	}
	if campaign.TemplateID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Template ID is required", nil)
	}
	if campaign.Audience.Kind == "" {
		campaign.Audience = model.AllContacts()
	}
	if err := campaign.Audience.Validate(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), err)
	}

	campaign.CampaignID = model.GenerateUUIDWithSuffix("cmp")
	campaign.Status = model.CampaignStatusDraft
	if !campaign.ScheduleAt.IsZero() {
		campaign.Status = model.CampaignStatusScheduled
	}

	return r.datasource.CreateCampaign(ctx, campaign)
}

// GetCampaign retrieves a campaign by ID.
func (r *Relay) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	return r.datasource.GetCampaign(ctx, campaignID)
}

// GetAllCampaigns lists a tenant's campaigns, newest first.
func (r *Relay) GetAllCampaigns(ctx context.Context, tenantID string, limit, offset int) ([]model.Campaign, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.datasource.GetAllCampaigns(ctx, tenantID, limit, offset)
}

// EnqueueCampaign runs the campaign send pipeline exactly once per
// idempotency key: resolve the audience, charge the wallet, flip the campaign
// to sending, and fan one task per recipient out to the send queue.
//
// Duplicate requests get the recorded result of the first attempt. A request
// arriving while the first is still running gets a conflict.
func (r *Relay) EnqueueCampaign(ctx context.Context, tenantID, campaignID, idempotencyKey string) (*EnqueueResult, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	if idempotencyKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	}

	record, owned, err := r.datasource.ClaimIdempotencyRecord(ctx, &model.IdempotencyRecord{
		RecordID:       model.GenerateUUIDWithSuffix("idem"),
		TenantID:       tenantID,
		ScopeKey:       ScopeCampaignEnqueue,
		IdempotencyKey: idempotencyKey,
		OwnerToken:     model.GenerateUUIDWithSuffix("own"),
	}, cnf.IdempotencyLease())
	if err != nil {
		return nil, err
	}
	if !owned {
		return replayEnqueueResult(record)
	}

	result, runErr := r.runEnqueue(ctx, tenantID, campaignID)
	if runErr != nil {
		// Record the failure so replays are answered deterministically
		// instead of re-running side effects.
		failure, _ := json.Marshal(map[string]string{"error": runErr.Error(), "code": string(apierror.CodeOf(runErr))})
		if resolveErr := r.datasource.ResolveIdempotencyRecord(ctx, record.RecordID, record.OwnerToken, model.IdempotencyStatusFailed, failure); resolveErr != nil {
			logrus.Warnf("failed to record enqueue failure for %s: %v", campaignID, resolveErr)
		}
		return nil, runErr
	}

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal enqueue result", err)
	}
	if err := r.datasource.ResolveIdempotencyRecord(ctx, record.RecordID, record.OwnerToken, model.IdempotencyStatusCompleted, payload); err != nil {
		// The work happened; losing the claim here means a reclaimer raced
		// us. Surface the result anyway.
		logrus.Warnf("failed to resolve enqueue record for %s: %v", campaignID, err)
	}

	return result, nil
}

// replayEnqueueResult turns an existing ledger record into a response for a
// duplicate request.
func replayEnqueueResult(record *model.IdempotencyRecord) (*EnqueueResult, error) {
	switch record.Status {
	case model.IdempotencyStatusCompleted:
		var result EnqueueResult
		if err := json.Unmarshal(record.Result, &result); err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to unmarshal recorded result", err)
		}
		return &result, nil
	case model.IdempotencyStatusFailed:
		var failure struct {
			Error string `json:"error"`
			Code  string `json:"code"`
		}
		_ = json.Unmarshal(record.Result, &failure)
		code := apierror.ErrorCode(failure.Code)
		if code == "" {
			code = apierror.ErrBadRequest
		}
		return nil, apierror.NewAPIError(code, failure.Error, nil)
	default:
		return nil, apierror.NewAPIError(apierror.ErrConflict, "A request with this idempotency key is still in progress", nil)
	}
}

func (r *Relay) runEnqueue(ctx context.Context, tenantID, campaignID string) (*EnqueueResult, error) {
	cnf, err := config.Fetch()
	if err != nil {
		return nil, err
	}

	locker := redlock.NewLocker(r.redis, redlock.CampaignKey(campaignID))
	if err := locker.WaitLock(ctx, 2*time.Minute, 30*time.Second); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrConflict, "Campaign is being processed by another request", err)
	}
	defer func() {
		if err := locker.Unlock(context.Background()); err != nil {
			logrus.Warnf("failed to release campaign lock for %s: %v", campaignID, err)
		}
	}()

	campaign, err := r.datasource.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.TenantID != tenantID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Campaign with ID '%s' not found", campaignID), nil)
	}
	if !campaign.CanEnqueue() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidStatus, fmt.Sprintf("Campaign in status '%s' cannot be enqueued", campaign.Status), nil)
	}

	recipients, err := r.resolver.Resolve(ctx, tenantID, campaign.Audience)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve campaign audience", err)
	}
	if len(recipients) == 0 {
		return nil, apierror.NewAPIError(apierror.ErrNoRecipients, "Campaign audience resolved to zero recipients", nil)
	}

	campaign.RecipientCount = len(recipients)
	cost := campaign.EstimateCost(cnf.Billing.CostPerMessage)

	// Charge before flipping status. The charge key is derived from the
	// campaign, so a crash between charge and fan-out cannot double-bill on
	// the retry.
	chargeKey := model.HashIdempotencyKey(ReasonCampaignSend, campaignID)
	if _, err := r.ChargeWallet(ctx, tenantID, cost, chargeKey, ReasonCampaignSend); err != nil {
		return nil, err
	}

	moved, err := r.datasource.TransitionCampaignStatus(ctx, campaignID, campaign.Status, model.CampaignStatusSending)
	if err != nil {
		return nil, err
	}
	if !moved {
		// The campaign was cancelled between the charge and the transition.
		// Hand the credits back before failing the attempt.
		refundKey := model.HashIdempotencyKey(ReasonCampaignRefund, campaignID, "enqueue_reverted")
		if _, refundErr := r.TopUpWallet(ctx, tenantID, cost, refundKey, ReasonCampaignRefund); refundErr != nil {
			notification.NotifyError(fmt.Errorf("failed to refund reverted enqueue for campaign %s: %w", campaignID, refundErr))
		}
		return nil, apierror.NewAPIError(apierror.ErrInvalidStatus, "Campaign status changed while enqueueing", nil)
	}
	if err := r.datasource.SetCampaignRecipientCount(ctx, campaignID, campaign.RecipientCount); err != nil {
		return nil, err
	}

	var enqueued int
	for _, recipient := range recipients {
		task := &SendTask{
			CampaignID:  campaignID,
			TenantID:    tenantID,
			ContactID:   recipient.ContactID,
			TemplateID:  campaign.TemplateID,
			PhoneNumber: recipient.PhoneNumber,
		}
		if err := r.queue.EnqueueRecipientSend(ctx, task); err != nil {
			// A recipient that never reaches the queue still needs an
			// outcome, or the campaign would wait on it forever.
			notification.NotifyError(fmt.Errorf("failed to enqueue send for campaign %s contact %s: %w", campaignID, recipient.ContactID, err))
			if outcomeErr := r.RecordSendOutcome(ctx, campaignID, recipient.ContactID, false); outcomeErr != nil {
				logrus.Warnf("failed to record enqueue failure outcome for campaign %s contact %s: %v", campaignID, recipient.ContactID, outcomeErr)
			}
			continue
		}
		enqueued++
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"tenant_id":   tenantID,
		"recipients":  campaign.RecipientCount,
		"enqueued":    enqueued,
		"credits":     cost,
	}).Info("campaign enqueued for send")

	return &EnqueueResult{
		CampaignID:     campaignID,
		Status:         model.CampaignStatusSending,
		RecipientCount: campaign.RecipientCount,
		CreditsCharged: cost,
	}, nil
}

// CancelCampaign cancels a campaign that has not started sending. Sending
// campaigns run to a terminal status and cannot be recalled, because the
// recipient tasks are already with the provider.
func (r *Relay) CancelCampaign(ctx context.Context, tenantID, campaignID string) (*model.Campaign, error) {
	campaign, err := r.datasource.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	if campaign.TenantID != tenantID {
		return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Campaign with ID '%s' not found", campaignID), nil)
	}
	if !campaign.CanCancel() {
		return nil, apierror.NewAPIError(apierror.ErrInvalidStatus, fmt.Sprintf("Campaign in status '%s' cannot be cancelled", campaign.Status), nil)
	}

	moved, err := r.datasource.TransitionCampaignStatus(ctx, campaignID, campaign.Status, model.CampaignStatusCancelled)
	if err != nil {
		return nil, err
	}
	if !moved {
		return nil, apierror.NewAPIError(apierror.ErrInvalidStatus, "Campaign status changed before it could be cancelled", nil)
	}

	// Deferred sends for this campaign must not fire after the cancel.
	if cancelled, err := r.datasource.CancelScheduledJobsFor(ctx, tenantID, EntityTypeCampaign, campaignID, model.JobTypeCampaignSend); err != nil {
		logrus.Warnf("failed to cancel scheduled jobs for campaign %s: %v", campaignID, err)
	} else if cancelled > 0 {
		logrus.WithFields(logrus.Fields{
			"campaign_id": campaignID,
			"cancelled":   cancelled,
		}).Info("pending campaign send jobs cancelled")
	}

	campaign.Status = model.CampaignStatusCancelled
	return campaign, nil
}

// ProcessRecipientSend renders and sends one recipient's message, then
// records the outcome. This is the body of the asynq send task handler.
func (r *Relay) ProcessRecipientSend(ctx context.Context, task *SendTask) error {
	recipient := model.Recipient{ContactID: task.ContactID, PhoneNumber: task.PhoneNumber}

	body, err := r.renderer.Render(ctx, task.TenantID, task.TemplateID, recipient)
	if err != nil {
		return r.RecordSendOutcome(ctx, task.CampaignID, task.ContactID, false)
	}

	_, sendErr := r.transport.Send(ctx, &model.OutboundMessage{
		TenantID:    task.TenantID,
		CampaignID:  task.CampaignID,
		ContactID:   task.ContactID,
		PhoneNumber: task.PhoneNumber,
		Body:        body,
	})

	return r.RecordSendOutcome(ctx, task.CampaignID, task.ContactID, sendErr == nil)
}

// RecordSendOutcome bumps the campaign's accepted or failed counter. When the
// last outcome arrives the campaign is closed out: unused credits for failed
// sends are refunded and the status moves to completed, or to failed when
// nothing was accepted.
func (r *Relay) RecordSendOutcome(ctx context.Context, campaignID, contactID string, accepted bool) error {
	campaign, err := r.datasource.IncrementCampaignOutcome(ctx, campaignID, accepted)
	if err != nil {
		return err
	}

	if !campaign.OutcomesKnown() || campaign.Status != model.CampaignStatusSending {
		return nil
	}

	terminal := model.CampaignStatusCompleted
	if campaign.AcceptedCount == 0 {
		terminal = model.CampaignStatusFailed
	}

	moved, err := r.datasource.TransitionCampaignStatus(ctx, campaignID, model.CampaignStatusSending, terminal)
	if err != nil {
		return err
	}
	if !moved {
		// Another outcome writer closed the campaign first.
		return nil
	}

	if campaign.FailedCount > 0 {
		if err := r.refundFailedSends(ctx, campaign); err != nil {
			notification.NotifyError(fmt.Errorf("failed to refund campaign %s: %w", campaignID, err))
		}
	}

	if err := r.queue.EnqueueWebhookNotification(ctx, map[string]interface{}{
		"event":       "campaign." + terminal,
		"campaign_id": campaignID,
		"tenant_id":   campaign.TenantID,
		"accepted":    campaign.AcceptedCount,
		"failed":      campaign.FailedCount,
	}); err != nil {
		logrus.Warnf("failed to queue completion notification for %s: %v", campaignID, err)
	}

	logrus.WithFields(logrus.Fields{
		"campaign_id": campaignID,
		"status":      terminal,
		"accepted":    campaign.AcceptedCount,
		"failed":      campaign.FailedCount,
	}).Info("campaign reached terminal status")
	return nil
}

// refundFailedSends returns the credits charged for sends the provider never
// accepted. The refund key is derived from the campaign, so it applies once.
func (r *Relay) refundFailedSends(ctx context.Context, campaign *model.Campaign) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}
	refund := int64(campaign.FailedCount) * cnf.Billing.CostPerMessage
	refundKey := model.HashIdempotencyKey(ReasonCampaignRefund, campaign.CampaignID)
	_, err = r.TopUpWallet(ctx, campaign.TenantID, refund, refundKey, ReasonCampaignRefund)
	return err
}

// ProcessDueCampaigns sweeps scheduled campaigns whose send time has arrived
// and enqueues them. The idempotency key is derived from the campaign and its
// schedule time, so overlapping sweeper instances cannot double-send.
func (r *Relay) ProcessDueCampaigns(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	due, err := r.datasource.ListDueScheduledCampaigns(ctx, time.Now(), cnf.Scheduler.BatchSize)
	if err != nil {
		return err
	}

	for _, campaign := range due {
		key := fmt.Sprintf("sched:%s:%d", campaign.CampaignID, campaign.ScheduleAt.Unix())
		if _, err := r.EnqueueCampaign(ctx, campaign.TenantID, campaign.CampaignID, key); err != nil {
			// Conflicts are expected when another sweeper got there first.
			if apierror.CodeOf(err) == apierror.ErrConflict {
				continue
			}
			logrus.WithFields(logrus.Fields{
				"campaign_id": campaign.CampaignID,
			}).Warnf("scheduled campaign enqueue failed: %v", err)
		}
	}

	return nil
}
