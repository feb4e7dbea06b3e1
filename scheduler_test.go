package relay

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/relaysms/relay/database/mocks"
	"github.com/relaysms/relay/model"
)

func TestSchedulerTick_DispatchesAndCompletes(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)
	s := NewScheduler(r)

	job := &model.ScheduledJob{JobID: "job_1", JobType: "reindex", Status: model.JobStatusRunning}
	ds.On("ClaimDueJobs", mock.Anything, 10).Return([]*model.ScheduledJob{job}, nil)
	ds.On("CompleteScheduledJob", mock.Anything, "job_1").Return(nil)
	ds.On("ListDueScheduledCampaigns", mock.Anything, mock.Anything, 10).Return([]*model.Campaign{}, nil)

	var handled []string
	s.RegisterHandler("reindex", func(ctx context.Context, job *model.ScheduledJob) error {
		handled = append(handled, job.JobID)
		return nil
	})

	err := s.Tick(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []string{"job_1"}, handled)
	ds.AssertExpectations(t)
}

func TestSchedulerTick_HandlerFailureMarksJobFailed(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)
	s := NewScheduler(r)

	job := &model.ScheduledJob{JobID: "job_1", JobType: "reindex"}
	ds.On("ClaimDueJobs", mock.Anything, 10).Return([]*model.ScheduledJob{job}, nil)
	ds.On("FailScheduledJob", mock.Anything, "job_1", "index unavailable").Return(nil)
	ds.On("ListDueScheduledCampaigns", mock.Anything, mock.Anything, 10).Return([]*model.Campaign{}, nil)

	s.RegisterHandler("reindex", func(ctx context.Context, job *model.ScheduledJob) error {
		return errors.New("index unavailable")
	})

	err := s.Tick(context.Background())
	assert.NoError(t, err)
	ds.AssertNotCalled(t, "CompleteScheduledJob", mock.Anything, mock.Anything)
	ds.AssertExpectations(t)
}

func TestSchedulerTick_MissingHandlerFailsJob(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)
	s := NewScheduler(r)

	job := &model.ScheduledJob{JobID: "job_1", JobType: "unknown_type"}
	ds.On("ClaimDueJobs", mock.Anything, 10).Return([]*model.ScheduledJob{job}, nil)
	ds.On("FailScheduledJob", mock.Anything, "job_1", mock.MatchedBy(func(lastError string) bool {
		return lastError != ""
	})).Return(nil)
	ds.On("ListDueScheduledCampaigns", mock.Anything, mock.Anything, 10).Return([]*model.Campaign{}, nil)

	err := s.Tick(context.Background())
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}

func TestSchedulerTick_ClaimErrorStopsTick(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)
	s := NewScheduler(r)

	ds.On("ClaimDueJobs", mock.Anything, 10).Return(nil, errors.New("connection reset"))

	err := s.Tick(context.Background())
	assert.Error(t, err)
	ds.AssertNotCalled(t, "ListDueScheduledCampaigns", mock.Anything, mock.Anything, mock.Anything)
}

func TestSchedulerCampaignSendJob_UsesJobDerivedKey(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)
	s := NewScheduler(r)

	// The enqueue replays through the ledger, so asserting on the claim key
	// is enough to pin the job -> idempotency key mapping.
	ds.On("ClaimIdempotencyRecord", mock.Anything, mock.MatchedBy(func(rec *model.IdempotencyRecord) bool {
		return rec.IdempotencyKey == "job:job_1" && rec.TenantID == "tenant_1"
	}), mock.Anything).
		Return(&model.IdempotencyRecord{
			RecordID: "idem_1",
			Status:   model.IdempotencyStatusCompleted,
			Result:   []byte(`{"campaign_id":"cmp_1","recipient_count":3,"status":"sending"}`),
		}, false, nil)

	job := &model.ScheduledJob{
		JobID:      "job_1",
		TenantID:   "tenant_1",
		EntityType: EntityTypeCampaign,
		EntityID:   "cmp_1",
		JobType:    model.JobTypeCampaignSend,
	}
	err := s.handleCampaignSendJob(context.Background(), job)
	assert.NoError(t, err)
	ds.AssertExpectations(t)
}
