package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

func (d Datasource) CreateScheduledJob(ctx context.Context, job *model.ScheduledJob) (*model.ScheduledJob, error) {
	job.Status = model.JobStatusScheduled
	job.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO relay.scheduled_jobs (job_id, tenant_id, entity_type, entity_id, job_type, run_at, status, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, job.JobID, job.TenantID, job.EntityType, job.EntityID, job.JobType, job.RunAt, job.Status, []byte(job.Payload), job.CreatedAt)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create scheduled job", err)
	}

	return job, nil
}

func (d Datasource) GetScheduledJob(ctx context.Context, jobID string) (*model.ScheduledJob, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT job_id, tenant_id, entity_type, entity_id, job_type, run_at, status, payload, last_error, created_at, claimed_at, cancelled_at
		FROM relay.scheduled_jobs
		WHERE job_id = $1
	`, jobID)

	job, err := scanScheduledJob(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Scheduled job with ID '%s' not found", jobID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve scheduled job", err)
	}

	return job, nil
}

// CancelScheduledJob cancels a job that has not been claimed yet. Cancelling
// a job that is already terminal is a no-op; a running job cannot be
// cancelled and is a conflict.
func (d Datasource) CancelScheduledJob(ctx context.Context, jobID string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.scheduled_jobs
		SET status = 'cancelled', cancelled_at = NOW()
		WHERE job_id = $1 AND status = 'scheduled'
	`, jobID)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel scheduled job", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		job, err := d.GetScheduledJob(ctx, jobID)
		if err != nil {
			return err
		}
		if job.IsTerminal() {
			return nil
		}
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Job '%s' is running and cannot be cancelled", jobID), nil)
	}

	return nil
}

// CancelScheduledJobsFor cancels every pending job tied to an entity, for
// example all automation sends queued against an abandoned checkout. An empty
// jobType matches jobs of every type. Returns the number of jobs cancelled;
// zero is not an error.
func (d Datasource) CancelScheduledJobsFor(ctx context.Context, tenantID, entityType, entityID, jobType string) (int64, error) {
	query := `
		UPDATE relay.scheduled_jobs
		SET status = 'cancelled', cancelled_at = NOW()
		WHERE tenant_id = $1 AND entity_type = $2 AND entity_id = $3 AND status = 'scheduled'
	`
	args := []interface{}{tenantID, entityType, entityID}
	if jobType != "" {
		query += ` AND job_type = $4`
		args = append(args, jobType)
	}

	result, err := d.Conn.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to cancel scheduled jobs", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected, nil
}

// ClaimDueJobs atomically moves a batch of due jobs to running and returns
// them. SKIP LOCKED lets concurrent scheduler instances claim disjoint
// batches without blocking each other.
func (d Datasource) ClaimDueJobs(ctx context.Context, batchSize int) ([]*model.ScheduledJob, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		UPDATE relay.scheduled_jobs
		SET status = 'running', claimed_at = NOW()
		WHERE job_id IN (
			SELECT job_id FROM relay.scheduled_jobs
			WHERE status = 'scheduled' AND run_at <= NOW()
			ORDER BY run_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING job_id, tenant_id, entity_type, entity_id, job_type, run_at, status, payload, last_error, created_at, claimed_at, cancelled_at
	`, batchSize)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim due jobs", err)
	}
	defer rows.Close()

	var jobs []*model.ScheduledJob
	for rows.Next() {
		job, err := scanScheduledJob(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan scheduled job", err)
		}
		jobs = append(jobs, job)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over claimed jobs", err)
	}

	return jobs, nil
}

func (d Datasource) CompleteScheduledJob(ctx context.Context, jobID string) error {
	return d.finishScheduledJob(ctx, jobID, model.JobStatusCompleted, "")
}

func (d Datasource) FailScheduledJob(ctx context.Context, jobID, lastError string) error {
	return d.finishScheduledJob(ctx, jobID, model.JobStatusFailed, lastError)
}

func (d Datasource) finishScheduledJob(ctx context.Context, jobID, status, lastError string) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.scheduled_jobs
		SET status = $2, last_error = $3
		WHERE job_id = $1 AND status = 'running'
	`, jobID, status, lastError)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to finish scheduled job", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Job '%s' is not running", jobID), nil)
	}

	return nil
}

func scanScheduledJob(scan func(dest ...interface{}) error) (*model.ScheduledJob, error) {
	job := &model.ScheduledJob{}
	var payloadJSON []byte
	var lastError sql.NullString
	var claimedAt, cancelledAt sql.NullTime
	err := scan(&job.JobID, &job.TenantID, &job.EntityType, &job.EntityID, &job.JobType, &job.RunAt, &job.Status, &payloadJSON, &lastError, &job.CreatedAt, &claimedAt, &cancelledAt)
	if err != nil {
		return nil, err
	}
	if len(payloadJSON) > 0 {
		job.Payload = json.RawMessage(payloadJSON)
	}
	job.LastError = lastError.String
	if claimedAt.Valid {
		job.ClaimedAt = claimedAt.Time
	}
	if cancelledAt.Valid {
		job.CancelledAt = cancelledAt.Time
	}
	return job, nil
}
