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

// ClaimWebhookEvent inserts a processing row for an external event. A replay
// of the same (provider, external event id) pair loses the insert and gets
// the original row back with claimed=false.
func (d Datasource) ClaimWebhookEvent(ctx context.Context, event *model.WebhookEvent) (*model.WebhookEvent, bool, error) {
	event.Status = model.WebhookEventStatusProcessing
	event.CreatedAt = time.Now()

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO relay.webhook_events (event_id, provider, external_event_id, tenant_id, event_type, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, event.EventID, event.Provider, event.ExternalEventID, event.TenantID, event.EventType, event.Status, event.CreatedAt)
	if err == nil {
		return event, true, nil
	}

	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code.Name() != "unique_violation" {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim webhook event", err)
	}

	existing, err := d.GetWebhookEvent(ctx, event.Provider, event.ExternalEventID)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

// ResolveWebhookEvent records the terminal outcome of a claimed event.
func (d Datasource) ResolveWebhookEvent(ctx context.Context, eventID, status string, result json.RawMessage, lastError string) error {
	if status != model.WebhookEventStatusProcessed && status != model.WebhookEventStatusFailed {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid terminal status '%s'", status), nil)
	}

	res, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.webhook_events
		SET status = $2, result = $3, last_error = $4, processed_at = $5
		WHERE event_id = $1 AND status = 'processing'
	`, eventID, status, []byte(result), lastError, time.Now())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve webhook event", err)
	}

	rowsAffected, err := res.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Webhook event '%s' is not in processing state", eventID), nil)
	}

	return nil
}

func (d Datasource) GetWebhookEvent(ctx context.Context, provider, externalEventID string) (*model.WebhookEvent, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT event_id, provider, external_event_id, tenant_id, event_type, status, result, last_error, processed_at, created_at
		FROM relay.webhook_events
		WHERE provider = $1 AND external_event_id = $2
	`, provider, externalEventID)

	event := &model.WebhookEvent{}
	var resultJSON []byte
	var tenantID, eventType, lastError sql.NullString
	var processedAt sql.NullTime
	err := row.Scan(&event.EventID, &event.Provider, &event.ExternalEventID, &tenantID, &eventType, &event.Status, &resultJSON, &lastError, &processedAt, &event.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Webhook event '%s/%s' not found", provider, externalEventID), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve webhook event", err)
	}
	if len(resultJSON) > 0 {
		event.Result = json.RawMessage(resultJSON)
	}
	event.TenantID = tenantID.String
	event.EventType = eventType.String
	event.LastError = lastError.String
	if processedAt.Valid {
		event.ProcessedAt = processedAt.Time
	}

	return event, nil
}
