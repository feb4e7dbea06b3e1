package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaysms/relay/config"
	"github.com/relaysms/relay/internal/notification"
	"github.com/relaysms/relay/model"
)

// JobHandler executes one claimed scheduled job.
type JobHandler func(ctx context.Context, job *model.ScheduledJob) error

// Scheduler polls the durable job table and dispatches due jobs to registered
// handlers. Multiple instances can run concurrently; the claim query hands
// each one a disjoint batch.
type Scheduler struct {
	relay    *Relay
	handlers map[string]JobHandler
}

// NewScheduler builds a scheduler with the built-in handlers registered.
func NewScheduler(r *Relay) *Scheduler {
	s := &Scheduler{
		relay:    r,
		handlers: make(map[string]JobHandler),
	}
	s.RegisterHandler(model.JobTypeAutomationSend, r.ProcessAutomationJob)
	s.RegisterHandler(model.JobTypeCampaignSend, s.handleCampaignSendJob)
	return s
}

// RegisterHandler binds a handler to a job type, replacing any previous one.
func (s *Scheduler) RegisterHandler(jobType string, handler JobHandler) {
	s.handlers[jobType] = handler
}

// Run polls until the context is cancelled. Each tick claims one batch of due
// jobs and sweeps scheduled campaigns.
func (s *Scheduler) Run(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	ticker := time.NewTicker(time.Duration(cnf.Scheduler.PollIntervalSec) * time.Second)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"poll_interval": cnf.Scheduler.PollIntervalSec,
		"batch_size":    cnf.Scheduler.BatchSize,
	}).Info("scheduler started")

	for {
		select {
		case <-ctx.Done():
			logrus.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				notification.NotifyError(fmt.Errorf("scheduler tick failed: %w", err))
			}
		}
	}
}

// Tick claims and dispatches one batch of due jobs, then sweeps due
// scheduled campaigns. Exposed separately so tests and one-shot invocations
// can drive the scheduler without the ticker.
func (s *Scheduler) Tick(ctx context.Context) error {
	cnf, err := config.Fetch()
	if err != nil {
		return err
	}

	jobs, err := s.relay.datasource.ClaimDueJobs(ctx, cnf.Scheduler.BatchSize)
	if err != nil {
		return err
	}

	for _, job := range jobs {
		s.dispatch(ctx, job)
	}

	return s.relay.ProcessDueCampaigns(ctx)
}

func (s *Scheduler) dispatch(ctx context.Context, job *model.ScheduledJob) {
	handler, ok := s.handlers[job.JobType]
	if !ok {
		if err := s.relay.datasource.FailScheduledJob(ctx, job.JobID, fmt.Sprintf("no handler registered for job type %q", job.JobType)); err != nil {
			logrus.Warnf("failed to mark job %s failed: %v", job.JobID, err)
		}
		return
	}

	if err := handler(ctx, job); err != nil {
		logrus.WithFields(logrus.Fields{
			"job_id":   job.JobID,
			"job_type": job.JobType,
		}).Warnf("job handler failed: %v", err)
		notification.NotifyError(fmt.Errorf("job %s (%s) failed: %w", job.JobID, job.JobType, err))
		if failErr := s.relay.datasource.FailScheduledJob(ctx, job.JobID, err.Error()); failErr != nil {
			logrus.Warnf("failed to mark job %s failed: %v", job.JobID, failErr)
		}
		return
	}

	if err := s.relay.datasource.CompleteScheduledJob(ctx, job.JobID); err != nil {
		logrus.Warnf("failed to mark job %s completed: %v", job.JobID, err)
	}
}

// handleCampaignSendJob enqueues a campaign whose send was deferred through
// the job table rather than the campaign sweeper. The idempotency key is
// derived from the job, so a re-dispatched job replays instead of resending.
func (s *Scheduler) handleCampaignSendJob(ctx context.Context, job *model.ScheduledJob) error {
	key := fmt.Sprintf("job:%s", job.JobID)
	_, err := s.relay.EnqueueCampaign(ctx, job.TenantID, job.EntityID, key)
	return err
}
