package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/relaysms/relay"
	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/database/mocks"
	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

type TestRequest struct {
	Payload  io.Reader
	Router   *gin.Engine
	Response interface{}
	Method   string
	Route    string
	Header   map[string]string
}

func SetUpTestRequest(s TestRequest) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(s.Method, s.Route, s.Payload)
	for key, value := range s.Header {
		req.Header.Set(key, value)
	}
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	s.Router.ServeHTTP(resp, req)

	if s.Response != nil {
		if err := json.NewDecoder(resp.Body).Decode(s.Response); err != nil {
			return nil, err
		}
	}
	return resp, nil
}

func setupRouter(t *testing.T) (*gin.Engine, *mocks.MockDataSource) {
	t.Helper()

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	config.MockConfig(&config.Configuration{
		ProjectName: "Relay Test",
		Redis:       config.RedisConfig{Dns: mr.Addr()},
		DataSource:  config.DataSourceConfig{Dns: "test-dns"},
		Queue: config.QueueConfig{
			SendQueue:      "relay:send",
			WebhookQueue:   "relay:webhook",
			NumberOfQueues: 2,
		},
		Scheduler:   config.SchedulerConfig{PollIntervalSec: 1, BatchSize: 10},
		Idempotency: config.IdempotencyConfig{LeaseDurationMin: 15},
		Billing:     config.BillingConfig{CostPerMessage: 1},
	})

	ds := new(mocks.MockDataSource)
	newRelay, err := relay.NewRelay(ds)
	require.NoError(t, err)

	return NewAPI(newRelay).Router(), ds
}

func TestCreateCampaignAPI(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("CreateCampaign", mock.Anything, mock.MatchedBy(func(campaign *model.Campaign) bool {
		return campaign.TenantID == "tenant_1" && campaign.TemplateID == "tpl_1"
	})).Return(&model.Campaign{
		CampaignID: "cmp_1",
		TenantID:   "tenant_1",
		TemplateID: "tpl_1",
		Status:     model.CampaignStatusDraft,
	}, nil)

	payload, _ := json.Marshal(map[string]interface{}{
		"tenant_id":   "tenant_1",
		"name":        "Spring Sale",
		"template_id": "tpl_1",
	})

	var response model.Campaign
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(payload),
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/campaigns",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.Code)
	assert.Equal(t, "cmp_1", response.CampaignID)
	ds.AssertExpectations(t)
}

func TestCreateCampaignAPI_ValidationError(t *testing.T) {
	router, ds := setupRouter(t)

	payload, _ := json.Marshal(map[string]interface{}{"name": "No tenant"})
	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBuffer(payload),
		Method:  http.MethodPost,
		Route:   "/campaigns",
		Router:  router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "CreateCampaign", mock.Anything, mock.Anything)
}

func TestGetCampaignAPI_NotFound(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetCampaign", mock.Anything, "cmp_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Campaign not found", nil))

	var response struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   http.MethodGet,
		Route:    "/campaigns/cmp_missing",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, string(apierror.ErrNotFound), response.Code)
	assert.Equal(t, "Campaign not found", response.Message)
}

func TestEnqueueCampaignAPI_RequiresIdempotencyKey(t *testing.T) {
	router, ds := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Method: http.MethodPost,
		Route:  "/campaigns/cmp_1/enqueue?tenant_id=tenant_1",
		Router: router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "ClaimIdempotencyRecord", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnqueueCampaignAPI_ReplaysRecordedOutcome(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("ClaimIdempotencyRecord", mock.Anything, mock.MatchedBy(func(rec *model.IdempotencyRecord) bool {
		return rec.IdempotencyKey == "req-123" && rec.TenantID == "tenant_1"
	}), mock.Anything).
		Return(&model.IdempotencyRecord{
			RecordID: "idem_1",
			Status:   model.IdempotencyStatusCompleted,
			Result:   []byte(`{"campaign_id":"cmp_1","status":"sending","recipient_count":5,"credits_charged":5}`),
		}, false, nil)

	var response relay.EnqueueResult
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/campaigns/cmp_1/enqueue?tenant_id=tenant_1",
		Router:   router,
		Header:   map[string]string{"Idempotency-Key": "req-123"},
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, 5, response.RecipientCount)
	assert.Equal(t, int64(5), response.CreditsCharged)
	ds.AssertExpectations(t)
}

func TestCancelCampaignAPI_Conflict(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetCampaign", mock.Anything, "cmp_1").
		Return(&model.Campaign{CampaignID: "cmp_1", TenantID: "tenant_1", Status: model.CampaignStatusSending}, nil)

	var response struct {
		Code string `json:"code"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/campaigns/cmp_1/cancel?tenant_id=tenant_1",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(apierror.ErrInvalidStatus), response.Code)
}

func TestTopUpWalletAPI(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("ApplyWalletTransaction", mock.Anything, mock.MatchedBy(func(txn *model.CreditTransaction) bool {
		return txn.TenantID == "tenant_1" && txn.Amount == 1000 && txn.IdempotencyKey == "topup-1"
	})).Return(&model.CreditTransaction{
		TransactionID: "txn_1",
		TenantID:      "tenant_1",
		Amount:        1000,
		BalanceAfter:  1000,
	}, nil)

	payload, _ := json.Marshal(map[string]interface{}{
		"tenant_id":       "tenant_1",
		"amount":          1000,
		"idempotency_key": "topup-1",
	})

	var response model.CreditTransaction
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBuffer(payload),
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/wallet/topup",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(1000), response.BalanceAfter)
	ds.AssertExpectations(t)
}

func TestTopUpWalletAPI_ValidationError(t *testing.T) {
	router, ds := setupRouter(t)

	payload, _ := json.Marshal(map[string]interface{}{"tenant_id": "tenant_1", "amount": 0})
	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBuffer(payload),
		Method:  http.MethodPost,
		Route:   "/wallet/topup",
		Router:  router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "ApplyWalletTransaction", mock.Anything, mock.Anything)
}

func TestGetWalletBalanceAPI(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetWalletBalance", mock.Anything, "tenant_1").
		Return(&model.WalletBalance{TenantID: "tenant_1", Balance: 250}, nil)

	var response model.WalletBalance
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   http.MethodGet,
		Route:    "/wallet?tenant_id=tenant_1",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, int64(250), response.Balance)
}

func TestWebhookAPI_RequiresEventID(t *testing.T) {
	router, ds := setupRouter(t)

	resp, err := SetUpTestRequest(TestRequest{
		Payload: bytes.NewBufferString(`{}`),
		Method:  http.MethodPost,
		Route:   "/webhooks/shopify?tenant_id=tenant_1",
		Router:  router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.Code)
	ds.AssertNotCalled(t, "ClaimWebhookEvent", mock.Anything, mock.Anything)
}

func TestWebhookAPI_OrderCreatedCancelsAutomations(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{
			EventID:         "whe_1",
			Provider:        "shopify",
			ExternalEventID: "evt_1",
			TenantID:        "tenant_1",
			EventType:       "orders/create",
		}, true, nil)
	ds.On("CancelScheduledJobsFor", mock.Anything, "tenant_1", "checkout", "chk_1", model.JobTypeAutomationSend).
		Return(int64(1), nil)
	ds.On("ResolveWebhookEvent", mock.Anything, "whe_1", model.WebhookEventStatusProcessed, mock.Anything, "").
		Return(nil)

	var response struct {
		Event    model.WebhookEvent `json:"event"`
		Replayed bool               `json:"replayed"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBufferString(`{"checkout_id":"chk_1"}`),
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/webhooks/shopify?tenant_id=tenant_1",
		Router:   router,
		Header: map[string]string{
			"X-Event-ID":   "evt_1",
			"X-Event-Type": "orders/create",
		},
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.False(t, response.Replayed)
	assert.JSONEq(t, `{"cancelled_jobs":1}`, string(response.Event.Result))
	ds.AssertExpectations(t)
}

func TestGetAutomationAPI_NotFound(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("GetScheduledJob", mock.Anything, "job_missing").
		Return(nil, apierror.NewAPIError(apierror.ErrNotFound, "Scheduled job with ID 'job_missing' not found", nil))

	var response struct {
		Code string `json:"code"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   http.MethodGet,
		Route:    "/automations/job_missing",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, string(apierror.ErrNotFound), response.Code)
}

func TestCancelAutomationAPI(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("CancelScheduledJob", mock.Anything, "job_1").Return(nil)
	ds.On("GetScheduledJob", mock.Anything, "job_1").
		Return(&model.ScheduledJob{JobID: "job_1", TenantID: "tenant_1", Status: model.JobStatusCancelled}, nil)

	var response model.ScheduledJob
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   http.MethodDelete,
		Route:    "/automations/job_1",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, model.JobStatusCancelled, response.Status)
	ds.AssertExpectations(t)
}

func TestCancelAutomationAPI_RunningJobConflicts(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("CancelScheduledJob", mock.Anything, "job_1").
		Return(apierror.NewAPIError(apierror.ErrConflict, "Job 'job_1' is running and cannot be cancelled", nil))

	var response struct {
		Code string `json:"code"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Response: &response,
		Method:   http.MethodDelete,
		Route:    "/automations/job_1",
		Router:   router,
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, string(apierror.ErrConflict), response.Code)
	ds.AssertNotCalled(t, "GetScheduledJob", mock.Anything, mock.Anything)
}

func TestWebhookAPI_RedeliveryReturnsRecordedOutcome(t *testing.T) {
	router, ds := setupRouter(t)

	ds.On("ClaimWebhookEvent", mock.Anything, mock.Anything).
		Return(&model.WebhookEvent{
			EventID:         "whe_1",
			Provider:        "shopify",
			ExternalEventID: "evt_1",
			Status:          model.WebhookEventStatusProcessed,
			Result:          json.RawMessage(`{"job_id":"job_1"}`),
		}, false, nil)

	var response struct {
		Event    model.WebhookEvent `json:"event"`
		Replayed bool               `json:"replayed"`
	}
	resp, err := SetUpTestRequest(TestRequest{
		Payload:  bytes.NewBufferString(`{}`),
		Response: &response,
		Method:   http.MethodPost,
		Route:    "/webhooks/shopify?tenant_id=tenant_1",
		Router:   router,
		Header:   map[string]string{"X-Event-ID": "evt_1"},
	})
	assert.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Code)
	assert.True(t, response.Replayed)
	assert.JSONEq(t, `{"job_id":"job_1"}`, string(response.Event.Result))
	ds.AssertNotCalled(t, "ResolveWebhookEvent", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}
