package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

// Entity types automations hang off of.
const (
	EntityTypeCheckout = "checkout"
	EntityTypeCampaign = "campaign"
)

// ScheduleAutomation queues a single automation send to fire after the given
// delay. The payload is frozen at trigger time.
func (r *Relay) ScheduleAutomation(ctx context.Context, tenantID, entityType, entityID string, payload model.AutomationPayload, delay time.Duration) (*model.ScheduledJob, error) {
	if tenantID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Tenant ID is required", nil)
	}
	if payload.ContactID == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Automation payload requires a contact", nil)
	}
	if delay < 0 {
		delay = 0
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal automation payload", err)
	}

	job, err := r.datasource.CreateScheduledJob(ctx, &model.ScheduledJob{
		JobID:      model.GenerateUUIDWithSuffix("job"),
		TenantID:   tenantID,
		EntityType: entityType,
		EntityID:   entityID,
		JobType:    model.JobTypeAutomationSend,
		RunAt:      time.Now().Add(delay),
		Payload:    payloadJSON,
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"job_id":      job.JobID,
		"tenant_id":   tenantID,
		"entity_type": entityType,
		"entity_id":   entityID,
		"run_at":      job.RunAt,
	}).Info("automation scheduled")
	return job, nil
}

// GetAutomation looks up a single scheduled automation job.
func (r *Relay) GetAutomation(ctx context.Context, jobID string) (*model.ScheduledJob, error) {
	return r.datasource.GetScheduledJob(ctx, jobID)
}

// CancelAutomation cancels a single pending automation job. Cancelling a job
// that already finished is a no-op.
func (r *Relay) CancelAutomation(ctx context.Context, jobID string) error {
	return r.datasource.CancelScheduledJob(ctx, jobID)
}

// CancelAutomationsFor cancels every pending automation hanging off an
// entity, for example when the checkout that triggered them converts into an
// order. Returns the number of jobs cancelled.
func (r *Relay) CancelAutomationsFor(ctx context.Context, tenantID, entityType, entityID string) (int64, error) {
	cancelled, err := r.datasource.CancelScheduledJobsFor(ctx, tenantID, entityType, entityID, model.JobTypeAutomationSend)
	if err != nil {
		return 0, err
	}
	if cancelled > 0 {
		logrus.WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"entity_type": entityType,
			"entity_id":   entityID,
			"cancelled":   cancelled,
		}).Info("pending automations cancelled")
	}
	return cancelled, nil
}

// ProcessAutomationJob charges one message's worth of credits, renders the
// template, and sends. Used as the automation_send handler in the scheduler.
// The charge key is derived from the job ID, so a retried job never bills
// twice.
func (r *Relay) ProcessAutomationJob(ctx context.Context, job *model.ScheduledJob) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	var payload model.AutomationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("invalid automation payload for job %s: %w", job.JobID, err)
	}

	chargeKey := model.HashIdempotencyKey(ReasonAutomationSend, job.JobID)
	if _, err := r.ChargeWallet(ctx, job.TenantID, cnf.Billing.CostPerMessage, chargeKey, ReasonAutomationSend); err != nil {
		return err
	}

	recipient := model.Recipient{ContactID: payload.ContactID}
	body, err := r.renderer.Render(ctx, job.TenantID, payload.TemplateID, recipient)
	if err != nil {
		return fmt.Errorf("failed to render automation template %s: %w", payload.TemplateID, err)
	}

	if _, err := r.transport.Send(ctx, &model.OutboundMessage{
		TenantID:  job.TenantID,
		ContactID: payload.ContactID,
		Body:      body,
	}); err != nil {
		return fmt.Errorf("automation send failed for job %s: %w", job.JobID, err)
	}

	return nil
}
