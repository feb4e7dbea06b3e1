package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

// GetWalletBalance reads a tenant's balance. A tenant with no wallet row yet
// reads as zero credits rather than an error.
func (d Datasource) GetWalletBalance(ctx context.Context, tenantID string) (*model.WalletBalance, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT tenant_id, balance, created_at, updated_at
		FROM relay.wallet_balances
		WHERE tenant_id = $1
	`, tenantID)

	balance := &model.WalletBalance{}
	err := row.Scan(&balance.TenantID, &balance.Balance, &balance.CreatedAt, &balance.UpdatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			now := time.Now()
			return &model.WalletBalance{TenantID: tenantID, Balance: 0, CreatedAt: now, UpdatedAt: now}, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve wallet balance", err)
	}

	return balance, nil
}

// ApplyWalletTransaction applies a signed credit movement inside a single
// database transaction. The balance row is locked for the duration, debits
// that would push the balance negative are rejected, and replays on the same
// idempotency key return the original movement unchanged.
func (d Datasource) ApplyWalletTransaction(ctx context.Context, txn *model.CreditTransaction) (*model.CreditTransaction, error) {
	if txn.Amount == 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Transaction amount cannot be zero", nil)
	}

	tx, err := d.Conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to begin transaction", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Replay check before touching the balance row.
	existing, err := getWalletTransactionByKeyTx(ctx, tx, txn.TenantID, txn.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	// Make sure the balance row exists so the lock below has something to
	// grab. Losing this insert race is fine.
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relay.wallet_balances (tenant_id, balance)
		VALUES ($1, 0)
		ON CONFLICT (tenant_id) DO NOTHING
	`, txn.TenantID)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to initialize wallet balance", err)
	}

	var balance int64
	err = tx.QueryRowContext(ctx, `
		SELECT balance FROM relay.wallet_balances
		WHERE tenant_id = $1
		FOR UPDATE
	`, txn.TenantID).Scan(&balance)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to lock wallet balance", err)
	}

	newBalance := balance + txn.Amount
	if newBalance < 0 {
		return nil, apierror.NewAPIError(apierror.ErrInsufficientCredits, fmt.Sprintf("Balance %d is insufficient for debit of %d", balance, -txn.Amount), nil)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE relay.wallet_balances
		SET balance = $2, updated_at = NOW()
		WHERE tenant_id = $1
	`, txn.TenantID, newBalance)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to update wallet balance", err)
	}

	txn.BalanceAfter = newBalance
	txn.CreatedAt = time.Now()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO relay.credit_transactions (transaction_id, tenant_id, amount, reason, idempotency_key, balance_after, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, txn.TransactionID, txn.TenantID, txn.Amount, txn.Reason, txn.IdempotencyKey, txn.BalanceAfter, txn.CreatedAt)
	if err != nil {
		pqErr, ok := err.(*pq.Error)
		if ok && pqErr.Code.Name() == "unique_violation" {
			// A concurrent caller with the same key committed first. Their
			// movement is the one that happened; return it instead of an error.
			_ = tx.Rollback()
			return d.GetWalletTransactionByKey(ctx, txn.TenantID, txn.IdempotencyKey)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to record credit transaction", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to commit transaction", err)
	}

	return txn, nil
}

func (d Datasource) GetWalletTransactions(ctx context.Context, tenantID string, limit, offset int) ([]model.CreditTransaction, error) {
	rows, err := d.Conn.QueryContext(ctx, `
		SELECT transaction_id, tenant_id, amount, reason, idempotency_key, balance_after, created_at
		FROM relay.credit_transactions
		WHERE tenant_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, tenantID, limit, offset)
	if err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit transactions", err)
	}
	defer rows.Close()

	var transactions []model.CreditTransaction
	for rows.Next() {
		txn := model.CreditTransaction{}
		err = rows.Scan(&txn.TransactionID, &txn.TenantID, &txn.Amount, &txn.Reason, &txn.IdempotencyKey, &txn.BalanceAfter, &txn.CreatedAt)
		if err != nil {
			return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to scan credit transaction", err)
		}
		transactions = append(transactions, txn)
	}

	if err = rows.Err(); err != nil {
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Error occurred while iterating over credit transactions", err)
	}

	return transactions, nil
}

func (d Datasource) GetWalletTransactionByKey(ctx context.Context, tenantID, idempotencyKey string) (*model.CreditTransaction, error) {
	row := d.Conn.QueryRowContext(ctx, `
		SELECT transaction_id, tenant_id, amount, reason, idempotency_key, balance_after, created_at
		FROM relay.credit_transactions
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, idempotencyKey)

	txn := &model.CreditTransaction{}
	err := row.Scan(&txn.TransactionID, &txn.TenantID, &txn.Amount, &txn.Reason, &txn.IdempotencyKey, &txn.BalanceAfter, &txn.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apierror.NewAPIError(apierror.ErrNotFound, fmt.Sprintf("Transaction with idempotency key '%s' not found", idempotencyKey), err)
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to retrieve credit transaction", err)
	}

	return txn, nil
}

func getWalletTransactionByKeyTx(ctx context.Context, tx *sql.Tx, tenantID, idempotencyKey string) (*model.CreditTransaction, error) {
	row := tx.QueryRowContext(ctx, `
		SELECT transaction_id, tenant_id, amount, reason, idempotency_key, balance_after, created_at
		FROM relay.credit_transactions
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, idempotencyKey)

	txn := &model.CreditTransaction{}
	err := row.Scan(&txn.TransactionID, &txn.TenantID, &txn.Amount, &txn.Reason, &txn.IdempotencyKey, &txn.BalanceAfter, &txn.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, apierror.NewAPIError(apierror.ErrInternalServer, "Failed to check for existing transaction", err)
	}

	return txn, nil
}
