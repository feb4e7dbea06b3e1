package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

func (d Datasource) CreateCampaign(ctx context.Context, campaign *model.Campaign) (*model.Campaign, error) {
	if campaign.Status == "" {
		campaign.Status = model.CampaignStatusDraft
	}
	campaign.CreatedAt = time.Now()
	campaign.UpdatedAt = campaign.CreatedAt

	audienceJSON, err := campaign.Audience.MarshalJSONB()
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal audience", err)
	}
	metaDataJSON, err := json.Marshal(campaign.MetaData)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to marshal metadata", err)
	}

	var scheduleAt interface{}
	if !campaign.ScheduleAt.IsZero() {
		scheduleAt = campaign.ScheduleAt
	}

	_, err = d.Conn.ExecContext(ctx, `
		INSERT INTO relay.campaigns (campaign_id, tenant_id, name, template_id, status, audience, recipient_count, accepted_count, failed_count, schedule_at, created_at, updated_at, meta_data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, campaign.CampaignID, campaign.TenantID, campaign.Name, campaign.TemplateID, campaign.Status, audienceJSON, campaign.RecipientCount, campaign.AcceptedCount, campaign.FailedCount, scheduleAt, campaign.CreatedAt, campaign.UpdatedAt, metaDataJSON)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			return nil, apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Campaign with ID '%s' already exists", campaign.CampaignID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to create campaign", err)
	}

	return campaign, nil
}

func (d Datasource) GetCampaign(ctx context.Context, campaignID string) (*model.Campaign, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT campaign_id, tenant_id, name, template_id, status, audience, recipient_count, accepted_count, failed_count, schedule_at, created_at, updated_at, meta_data
		FROM relay.campaigns
		WHERE campaign_id = $1
	`, campaignID)

	campaign, err := scanCampaign(row.Scan)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Campaign with ID '%s' not found", campaignID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve campaign", err)
	}

	return campaign, nil
}

func (d Datasource) GetAllCampaigns(ctx context.Context, tenantID string, limit, offset int) ([]model.Campaign, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT campaign_id, tenant_id, name, template_id, status, audience, recipient_count, accepted_count, failed_count, schedule_at, created_at, updated_at, meta_data
		FROM relay.campaigns
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve campaigns", err)
	}
	defer rows.Close()

	var campaigns []model.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan campaign data", err)
		}
		campaigns = append(campaigns, *campaign)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over campaigns", err)
	}

	return campaigns, nil
}

// TransitionCampaignStatus moves a campaign from one status to another only
// if it is still in the expected source status. Returns false without error
// when another writer got there first; the caller decides whether that is a
// conflict or a benign race.
func (d Datasource) TransitionCampaignStatus(ctx context.Context, campaignID, from, to string) (bool, error) {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.campaigns
		SET status = $3, updated_at = NOW()
		WHERE campaign_id = $1 AND status = $2
	`, campaignID, from, to)
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update campaign status", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}

	return rowsAffected == 1, nil
}

func (d Datasource) SetCampaignRecipientCount(ctx context.Context, campaignID string, count int) error {
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.campaigns
		SET recipient_count = $2, updated_at = NOW()
		WHERE campaign_id = $1
	`, campaignID, count)
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to set recipient count", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Campaign with ID '%s' not found", campaignID), nil)
	}

	return nil
}

// IncrementCampaignOutcome bumps the accepted or failed counter atomically
// and returns the fresh counts so the caller can detect completion without a
// second read.
func (d Datasource) IncrementCampaignOutcome(ctx context.Context, campaignID string, accepted bool) (*model.Campaign, error) {
	column := "failed_count"
	if accepted {
		column = "accepted_count"
	}

	row := d.Conn.QueryRowContext(ctx, fmt.Sprintf(`
		UPDATE relay.campaigns
		SET %s = %s + 1, updated_at = NOW()
		WHERE campaign_id = $1
		RETURNING campaign_id, tenant_id, status, recipient_count, accepted_count, failed_count
	`, column, column), campaignID)

	campaign := &model.Campaign{}
	err := row.Scan(&campaign.CampaignID, &campaign.TenantID, &campaign.Status, &campaign.RecipientCount, &campaign.AcceptedCount, &campaign.FailedCount)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Campaign with ID '%s' not found", campaignID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to increment campaign outcome", err)
	}

	return campaign, nil
}

// ListDueScheduledCampaigns returns scheduled campaigns whose send time has
// arrived, oldest first. The sweeper rechecks status on transition, so a
// campaign cancelled between list and claim is skipped harmlessly.
func (d Datasource) ListDueScheduledCampaigns(ctx context.Context, asOf time.Time, limit int) ([]*model.Campaign, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT campaign_id, tenant_id, name, template_id, status, audience, recipient_count, accepted_count, failed_count, schedule_at, created_at, updated_at, meta_data
		FROM relay.campaigns
		WHERE status = 'scheduled' AND schedule_at IS NOT NULL AND schedule_at <= $1
		ORDER BY schedule_at ASC
		LIMIT $2
	`, asOf, limit)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to list due campaigns", err)
	}
	defer rows.Close()

	var campaigns []*model.Campaign
	for rows.Next() {
		campaign, err := scanCampaign(rows.Scan)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan campaign data", err)
		}
		campaigns = append(campaigns, campaign)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over due campaigns", err)
	}

	return campaigns, nil
}

func scanCampaign(scan func(dest ...interface{}) error) (*model.Campaign, error) {
	campaign := &model.Campaign{}
	var audienceJSON, metaDataJSON []byte
	var scheduleAt sql.NullTime
	err := scan(&campaign.CampaignID, &campaign.TenantID, &campaign.Name, &campaign.TemplateID, &campaign.Status, &audienceJSON, &campaign.RecipientCount, &campaign.AcceptedCount, &campaign.FailedCount, &scheduleAt, &campaign.CreatedAt, &campaign.UpdatedAt, &metaDataJSON)
	if err != nil {
		return nil, err
	}

	if err := campaign.Audience.UnmarshalJSONB(audienceJSON); err != nil {
		return nil, err
	}
	if len(metaDataJSON) > 0 {
		if err := json.Unmarshal(metaDataJSON, &campaign.MetaData); err != nil {
			return nil, err
		}
	}
	if scheduleAt.Valid {
		campaign.ScheduleAt = scheduleAt.Time
	}

	return campaign, nil
}
