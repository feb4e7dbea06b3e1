package relay

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/relaysms/relay/database/mocks"
	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

func TestProcessWebhookOnce_RunsHandlerAndRecordsResult(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	event := &model.WebhookEvent{
		Provider:        "shopify",
		ExternalEventID: "evt_1",
		TenantID:        "tenant_1",
	}
	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{
			EventID:         "whe_1",
			Provider:        "shopify",
			ExternalEventID: "evt_1",
			Status:          model.WebhookEventStatusProcessing,
		}, true, nil)
	ds.On("ResolveWebhookEvent", mock.Anything, "whe_1", model.WebhookEventStatusProcessed, mock.Anything, "").
		Return(nil)

	var handlerCalls int
	processed, replayed, err := r.ProcessWebhookOnce(context.Background(), event, json.RawMessage(`{}`), func(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (json.RawMessage, error) {
		handlerCalls++
		return json.RawMessage(`{"ok":true}`), nil
	})
	assert.NoError(t, err)
	assert.False(t, replayed)
	assert.Equal(t, 1, handlerCalls)
	assert.Equal(t, model.WebhookEventStatusProcessed, processed.Status)
	assert.JSONEq(t, `{"ok":true}`, string(processed.Result))
	ds.AssertExpectations(t)
}

func TestProcessWebhookOnce_RedeliveryReturnsRecordedOutcome(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{
			EventID:         "whe_1",
			Provider:        "shopify",
			ExternalEventID: "evt_1",
			Status:          model.WebhookEventStatusProcessed,
			Result:          json.RawMessage(`{"job_id":"job_1"}`),
		}, false, nil)

	event := &model.WebhookEvent{Provider: "shopify", ExternalEventID: "evt_1"}
	processed, replayed, err := r.ProcessWebhookOnce(context.Background(), event, nil, func(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (json.RawMessage, error) {
		t.Fatal("handler must not run on a redelivery")
		return nil, nil
	})
	assert.NoError(t, err)
	assert.True(t, replayed)
	assert.JSONEq(t, `{"job_id":"job_1"}`, string(processed.Result))
	ds.AssertNotCalled(t, "ResolveWebhookEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWebhookOnce_HandlerFailureIsRecorded(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{EventID: "whe_1", Provider: "shopify", ExternalEventID: "evt_1"}, true, nil)
	ds.On("ResolveWebhookEvent", mock.Anything, "whe_1", model.WebhookEventStatusFailed, mock.Anything, "downstream broke").
		Return(nil)

	event := &model.WebhookEvent{Provider: "shopify", ExternalEventID: "evt_1"}
	processed, replayed, err := r.ProcessWebhookOnce(context.Background(), event, nil, func(ctx context.Context, event *model.WebhookEvent, payload json.RawMessage) (json.RawMessage, error) {
		return nil, errors.New("downstream broke")
	})
	assert.Error(t, err)
	assert.False(t, replayed)
	assert.Equal(t, model.WebhookEventStatusFailed, processed.Status)
	assert.Equal(t, "downstream broke", processed.LastError)
	ds.AssertExpectations(t)
}

func TestProcessWebhookOnce_RequiresIdentity(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	_, _, err := r.ProcessWebhookOnce(context.Background(), &model.WebhookEvent{Provider: "shopify"}, nil, nil)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))

	_, _, err = r.ProcessWebhookOnce(context.Background(), &model.WebhookEvent{ExternalEventID: "evt_1"}, nil, nil)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
}

func TestHandleProviderEvent_CheckoutAbandonedSchedulesAutomation(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{
			EventID:         "whe_1",
			Provider:        "shopify",
			ExternalEventID: "evt_1",
			TenantID:        "tenant_1",
			EventType:       "checkouts/abandoned",
		}, true, nil)
	ds.On("CreateScheduledJob", mock.Anything, mock.MatchedBy(func(job *model.ScheduledJob) bool {
		return job.TenantID == "tenant_1" &&
			job.EntityType == EntityTypeCheckout &&
			job.EntityID == "chk_1" &&
			job.JobType == model.JobTypeAutomationSend
	})).Return(&model.ScheduledJob{JobID: "job_1"}, nil)
	ds.On("ResolveWebhookEvent", mock.Anything, "whe_1", model.WebhookEventStatusProcessed, mock.Anything, "").
		Return(nil)

	payload := json.RawMessage(`{"checkout_id":"chk_1","contact_id":"ct_1","template_id":"tpl_1","delay_min":30}`)
	event := &model.WebhookEvent{
		Provider:        "shopify",
		ExternalEventID: "evt_1",
		TenantID:        "tenant_1",
		EventType:       "checkouts/abandoned",
	}
	processed, replayed, err := r.HandleProviderEvent(context.Background(), event, payload)
	assert.NoError(t, err)
	assert.False(t, replayed)
	assert.JSONEq(t, `{"job_id":"job_1"}`, string(processed.Result))
	ds.AssertExpectations(t)
}

func TestHandleProviderEvent_OrderCreatedCancelsAutomations(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{
			EventID:         "whe_2",
			Provider:        "shopify",
			ExternalEventID: "evt_2",
			TenantID:        "tenant_1",
			EventType:       "orders/create",
		}, true, nil)
	ds.On("CancelScheduledJobsFor", mock.Anything, "tenant_1", EntityTypeCheckout, "chk_1", model.JobTypeAutomationSend).
		Return(int64(2), nil)
	ds.On("ResolveWebhookEvent", mock.Anything, "whe_2", model.WebhookEventStatusProcessed, mock.Anything, "").
		Return(nil)

	event := &model.WebhookEvent{
		Provider:        "shopify",
		ExternalEventID: "evt_2",
		TenantID:        "tenant_1",
		EventType:       "orders/create",
	}
	processed, _, err := r.HandleProviderEvent(context.Background(), event, json.RawMessage(`{"checkout_id":"chk_1"}`))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"cancelled_jobs":2}`, string(processed.Result))
	ds.AssertExpectations(t)
}

func TestHandleProviderEvent_UnknownTypeAcknowledged(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{
			EventID:         "whe_3",
			Provider:        "shopify",
			ExternalEventID: "evt_3",
			EventType:       "products/update",
		}, true, nil)
	ds.On("ResolveWebhookEvent", mock.Anything, "whe_3", model.WebhookEventStatusProcessed, mock.Anything, "").
		Return(nil)

	event := &model.WebhookEvent{Provider: "shopify", ExternalEventID: "evt_3", EventType: "products/update"}
	processed, _, err := r.HandleProviderEvent(context.Background(), event, json.RawMessage(`{}`))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"handled":false}`, string(processed.Result))
	ds.AssertExpectations(t)
}
