package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"

	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

func TestClaimIdempotencyRecord_FirstClaim(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	record := &model.IdempotencyRecord{
		RecordID:       "idem_1",
		TenantID:       "tenant_1",
		ScopeKey:       "campaign_enqueue",
		IdempotencyKey: "key-1",
		OwnerToken:     "owner-a",
	}

	mock.ExpectExec("INSERT INTO relay.idempotency_records").
		WithArgs("idem_1", "tenant_1", "campaign_enqueue", "key-1", "pending", "owner-a", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	claimed, owned, err := ds.ClaimIdempotencyRecord(context.Background(), record, 15*time.Minute)
	assert.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, model.IdempotencyStatusPending, claimed.Status)
}

func TestClaimIdempotencyRecord_DuplicateReturnsExisting(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()

	record := &model.IdempotencyRecord{
		RecordID:       "idem_2",
		TenantID:       "tenant_1",
		ScopeKey:       "campaign_enqueue",
		IdempotencyKey: "key-1",
		OwnerToken:     "owner-b",
	}

	mock.ExpectExec("INSERT INTO relay.idempotency_records").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})
	mock.ExpectQuery("SELECT record_id, tenant_id, scope_key, idempotency_key, status, result, owner_token, created_at, updated_at").
		WithArgs("tenant_1", "campaign_enqueue", "key-1").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "tenant_id", "scope_key", "idempotency_key", "status", "result", "owner_token", "created_at", "updated_at"}).
			AddRow("idem_1", "tenant_1", "campaign_enqueue", "key-1", "completed", []byte(`{"campaign_id":"cmp_1"}`), "owner-a", now, now))

	existing, owned, err := ds.ClaimIdempotencyRecord(context.Background(), record, 15*time.Minute)
	assert.NoError(t, err)
	assert.False(t, owned)
	assert.Equal(t, "idem_1", existing.RecordID)
	assert.Equal(t, model.IdempotencyStatusCompleted, existing.Status)
	assert.JSONEq(t, `{"campaign_id":"cmp_1"}`, string(existing.Result))
}

func TestClaimIdempotencyRecord_ReclaimsStalePending(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	stale := time.Now().Add(-30 * time.Minute)

	record := &model.IdempotencyRecord{
		RecordID:       "idem_3",
		TenantID:       "tenant_1",
		ScopeKey:       "campaign_enqueue",
		IdempotencyKey: "key-2",
		OwnerToken:     "owner-new",
	}

	mock.ExpectExec("INSERT INTO relay.idempotency_records").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})
	mock.ExpectQuery("SELECT record_id, tenant_id, scope_key, idempotency_key, status, result, owner_token, created_at, updated_at").
		WithArgs("tenant_1", "campaign_enqueue", "key-2").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "tenant_id", "scope_key", "idempotency_key", "status", "result", "owner_token", "created_at", "updated_at"}).
			AddRow("idem_old", "tenant_1", "campaign_enqueue", "key-2", "pending", nil, "owner-dead", stale, stale))
	mock.ExpectExec("UPDATE relay.idempotency_records").
		WithArgs("idem_old", "owner-dead", "owner-new", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	reclaimed, owned, err := ds.ClaimIdempotencyRecord(context.Background(), record, 15*time.Minute)
	assert.NoError(t, err)
	assert.True(t, owned)
	assert.Equal(t, "idem_old", reclaimed.RecordID)
	assert.Equal(t, "owner-new", reclaimed.OwnerToken)
}

func TestClaimIdempotencyRecord_FreshPendingNotReclaimed(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	now := time.Now()

	record := &model.IdempotencyRecord{
		RecordID:       "idem_4",
		TenantID:       "tenant_1",
		ScopeKey:       "campaign_enqueue",
		IdempotencyKey: "key-3",
		OwnerToken:     "owner-late",
	}

	mock.ExpectExec("INSERT INTO relay.idempotency_records").
		WillReturnError(&pq.Error{Code: "23505", Message: "unique_violation"})
	mock.ExpectQuery("SELECT record_id, tenant_id, scope_key, idempotency_key, status, result, owner_token, created_at, updated_at").
		WithArgs("tenant_1", "campaign_enqueue", "key-3").
		WillReturnRows(sqlmock.NewRows([]string{"record_id", "tenant_id", "scope_key", "idempotency_key", "status", "result", "owner_token", "created_at", "updated_at"}).
			AddRow("idem_live", "tenant_1", "campaign_enqueue", "key-3", "pending", nil, "owner-live", now, now))

	existing, owned, err := ds.ClaimIdempotencyRecord(context.Background(), record, 15*time.Minute)
	assert.NoError(t, err)
	assert.False(t, owned)
	assert.Equal(t, "owner-live", existing.OwnerToken)
}

func TestResolveIdempotencyRecord_Success(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}
	result := json.RawMessage(`{"campaign_id":"cmp_1","status":"sending"}`)

	mock.ExpectExec("UPDATE relay.idempotency_records").
		WithArgs("idem_1", "owner-a", "completed", []byte(result), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err = ds.ResolveIdempotencyRecord(context.Background(), "idem_1", "owner-a", model.IdempotencyStatusCompleted, result)
	assert.NoError(t, err)
}

func TestResolveIdempotencyRecord_LostClaim(t *testing.T) {
	db, mock, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	mock.ExpectExec("UPDATE relay.idempotency_records").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = ds.ResolveIdempotencyRecord(context.Background(), "idem_1", "owner-reclaimed", model.IdempotencyStatusCompleted, nil)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrConflict, apiErr.Code)
}

func TestResolveIdempotencyRecord_RejectsNonTerminalStatus(t *testing.T) {
	db, _, err := sqlmock.New()
	assert.NoError(t, err)
	defer db.Close()

	ds := Datasource{Conn: db}

	err = ds.ResolveIdempotencyRecord(context.Background(), "idem_1", "owner-a", model.IdempotencyStatusPending, nil)
	assert.Error(t, err)
	apiErr, ok := err.(apierror.APIError)
	assert.True(t, ok)
	assert.Equal(t, apierror.ErrInvalidInput, apiErr.Code)
}
