package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

// WebhookHandler runs the business side effects for one inbound provider
// event and returns a result payload worth recording.
type WebhookHandler func(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (json.RawMessage, error)

// ProcessWebhookOnce runs handler for the given provider event at most once
// across all process instances. Redeliveries and concurrent duplicates get
// the recorded outcome of the first delivery; the boolean reports whether
// this call was a replay.
//
// Handler failures are recorded too, so the provider's retry reaches a failed
// row and can be re-attempted only by an operator resetting it, never by the
// provider hammering the endpoint.
func (r *Relay) ProcessWebhookOnce(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage, handler WebhookHandler) (*model.WebhookEvent, bool, error) {
	if event.Provider == "" || event.ExternalEventID == "" {
		return nil, false, apierror.NewAPIError(apierror.ErrInvalidInput, "Provider and external event ID are required", nil)
	}

	event.EventID = model.GenerateUUIDWithSuffix("whe")
	claimed, owned, err := r.datasource.ClaimWebhookEvent(ctx, event)
	if err != nil {
		return nil, false, err
	}
	if !owned {
		return claimed, true, nil
	}

	result, handlerErr := handler(ctx, claimed, payload)
	if handlerErr != nil {
		if resolveErr := r.datasource.ResolveWebhookEvent(ctx, claimed.EventID, model.WebhookEventStatusFailed, nil, handlerErr.Error()); resolveErr != nil {
			logrus.Warnf("failed to record webhook failure for %s/%s: %v", event.Provider, event.ExternalEventID, resolveErr)
		}
		claimed.Status = model.WebhookEventStatusFailed
		claimed.LastError = handlerErr.Error()
		return claimed, false, handlerErr
	}

	if err := r.datasource.ResolveWebhookEvent(ctx, claimed.EventID, model.WebhookEventStatusProcessed, result, ""); err != nil {
		return nil, false, err
	}
	claimed.Status = model.WebhookEventStatusProcessed
	claimed.Result = result
	return claimed, false, nil
}

// HandleProviderEvent routes an inbound event to its built-in handler through
// the replay guard. Unknown event types are recorded and acknowledged so the
// provider does not retry them forever.
func (r *Relay) HandleProviderEvent(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (*model.WebhookEvent, bool, error) {
	return r.ProcessWebhookOnce(ctx, event, payload, func(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (json.RawMessage, error) {
		switch event.EventType {
		case "checkouts/abandoned":
			return r.handleCheckoutAbandoned(ctx, event, payload)
		case "orders/create":
			return r.handleOrderCreated(ctx, event, payload)
		default:
			logrus.WithFields(logrus.Fields{
				"provider":   event.Provider,
				"event_type": event.EventType,
			}).Info("ignoring unhandled webhook event type")
			return json.RawMessage(`{"handled":false}`), nil
		}
	})
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	ContactID  string `json:"contact_id"`
	TemplateID string `json:"template_id"`
	DelayMin   int    `json:"delay_min"`
}

// handleCheckoutAbandoned schedules an abandoned-checkout automation send.
func (r *Relay) handleCheckoutAbandoned(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (json.RawMessage, error) {
	var checkout checkoutEvent
	if err := json.Unmarshal(payload, &checkout); err != nil {
		return nil, fmt.Errorf("invalid checkout payload: %w", err)
	}
	if checkout.CheckoutID == "" || checkout.ContactID == "" {
		return nil, fmt.Errorf("checkout payload missing checkout_id or contact_id")
	}
	if checkout.DelayMin <= 0 {
		checkout.DelayMin = 60
	}

	job, err := r.ScheduleAutomation(ctx, event.TenantID, EntityTypeCheckout, checkout.CheckoutID, model.AutomationPayload{
		TenantID:    event.TenantID,
		TemplateID:  checkout.TemplateID,
		ContactID:   checkout.ContactID,
		TriggeredBy: event.EventType,
	}, time.Duration(checkout.DelayMin)*time.Minute)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"job_id": job.JobID})
}

type orderEvent struct {
	CheckoutID string `json:"checkout_id"`
}

// handleOrderCreated cancels automations queued against the checkout that
// just converted. Messaging someone who already bought is worse than not
// messaging at all.
func (r *Relay) handleOrderCreated(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (json.RawMessage, error) {
	var order orderEvent
	if err := json.Unmarshal(payload, &order); err != nil {
		return nil, fmt.Errorf("invalid order payload: %w", err)
	}
	if order.CheckoutID == "" {
		return json.RawMessage(`{"cancelled_jobs":0}`), nil
	}

	cancelled, err := r.CancelAutomationsFor(ctx, event.TenantID, EntityTypeCheckout, order.CheckoutID)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]int64{"cancelled_jobs": cancelled})
}
