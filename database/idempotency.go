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

// ClaimIdempotencyRecord inserts a pending record for the given key. When a
// row already exists the unique constraint fires and the existing record is
// returned instead. A pending record whose lease has expired is reclaimed for
// the caller; the conditional update makes sure only one contender wins.
//
// The boolean return reports whether the caller now owns the claim.
func (d Datasource) ClaimIdempotencyRecord(ctx context.Context, record *model.IdempotencyRecord, lease time.Duration) (*model.IdempotencyRecord, bool, error) {
	record.Status = model.IdempotencyStatusPending
	record.CreatedAt = time.Now()
	record.UpdatedAt = record.CreatedAt

	_, err := d.Conn.ExecContext(ctx, `
		INSERT INTO relay.idempotency_records (record_id, tenant_id, scope_key, idempotency_key, status, owner_token, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, record.RecordID, record.TenantID, record.ScopeKey, record.IdempotencyKey, record.Status, record.OwnerToken, record.CreatedAt, record.UpdatedAt)
	if err == nil {
		return record, true, nil
	}

	pqErr, ok := err.(*pq.Error)
	if !ok || pqErr.Code.Name() != "unique_violation" {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to claim idempotency record", err)
	}

	// Lost the insert race or the key was seen before. Fetch whoever holds it.
	existing, err := d.GetIdempotencyRecord(ctx, record.TenantID, record.ScopeKey, record.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	if existing.IsTerminal() {
		return existing, false, nil
	}
	if !existing.Stale(lease, time.Now()) {
		return existing, false, nil
	}

	// The previous owner went quiet past the lease. Take over the pending row,
	// guarded by the old owner token so concurrent reclaimers cannot both win.
	result, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.idempotency_records
		SET owner_token = $3, updated_at = $4
		WHERE record_id = $1 AND status = 'pending' AND owner_token = $2
	`, existing.RecordID, existing.OwnerToken, record.OwnerToken, time.Now())
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to reclaim idempotency record", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, false, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		// Someone else reclaimed or resolved it first.
		existing, err = d.GetIdempotencyRecord(ctx, record.TenantID, record.ScopeKey, record.IdempotencyKey)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	existing.OwnerToken = record.OwnerToken
	existing.UpdatedAt = time.Now()
	return existing, true, nil
}

// ResolveIdempotencyRecord moves a pending record to completed or failed. The
// owner token guard rejects writers whose lease was reclaimed while they ran.
func (d Datasource) ResolveIdempotencyRecord(ctx context.Context, recordID, ownerToken, status string, resultPayload json.RawMessage) error {
	if status != model.IdempotencyStatusCompleted && status != model.IdempotencyStatusFailed {
		return apierror.NewAPIError(apierror.ErrInvalidInput, fmt.Sprintf("Invalid terminal status '%s'", status), nil)
	}

	result, err := d.Conn.ExecContext(ctx, `
		UPDATE relay.idempotency_records
		SET status = $3, result = $4, updated_at = $5
		WHERE record_id = $1 AND owner_token = $2 AND status = 'pending'
	`, recordID, ownerToken, status, []byte(resultPayload), time.Now())
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to resolve idempotency record", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return apierror.NewAPIError(apierror.ErrInternalServer, "Failed to get rows affected", err)
	}
	if rowsAffected == 0 {
		return apierror.NewAPIError(apierror.ErrConflict, fmt.Sprintf("Record '%s' is not pending or the claim was reclaimed", recordID), nil)
	}

	return nil
}

func (d Datasource) GetIdempotencyRecord(ctx context.Context, tenantID, scopeKey, idempotencyKey string) (*model.IdempotencyRecord, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT record_id, tenant_id, scope_key, idempotency_key, status, result, owner_token, created_at, updated_at
		FROM relay.idempotency_records
		WHERE tenant_id = $1 AND scope_key = $2 AND idempotency_key = $3
	`, tenantID, scopeKey, idempotencyKey)

	record := &model.IdempotencyRecord{}
	var resultJSON []byte
	err := row.Scan(&record.RecordID, &record.TenantID, &record.ScopeKey, &record.IdempotencyKey, &record.Status, &resultJSON, &record.OwnerToken, &record.CreatedAt, &record.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Idempotency record for key '%s' not found", idempotencyKey), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve idempotency record", err)
	}
	if len(resultJSON) > 0 {
		record.Result = json.RawMessage(resultJSON)
	}

	return record, nil
}
