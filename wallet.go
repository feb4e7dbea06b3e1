package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

const (
	ReasonTopUp          = "topup"
	ReasonCampaignSend   = "campaign_send"
	ReasonCampaignRefund = "campaign_refund"
	ReasonAutomationSend = "automation_send"
)

// TopUpWallet adds prepaid credits to a tenant's wallet. Replays on the same
// idempotency key return the original transaction without applying again.
func (r *Relay) TopUpWallet(ctx context.Context, tenantID string, amount int64, idempotencyKey, reason string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Top-up amount must be positive", nil)
	}
	if reason == "" {
		reason = ReasonTopUp
	}
	return r.applyWalletTransaction(ctx, tenantID, amount, idempotencyKey, reason)
}

// ChargeWallet debits credits from a tenant's wallet. A debit that would push
// the balance negative is rejected with an insufficient-credits error and
// leaves the wallet untouched.
func (r *Relay) ChargeWallet(ctx context.Context, tenantID string, amount int64, idempotencyKey, reason string) (*model.CreditTransaction, error) {
	if amount <= 0 {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Charge amount must be positive", nil)
	}
	return r.applyWalletTransaction(ctx, tenantID, -amount, idempotencyKey, reason)
}

func (r *Relay) applyWalletTransaction(ctx context.Context, tenantID string, amount int64, idempotencyKey, reason string) (*model.CreditTransaction, error) {
	if idempotencyKey == "" {
		return nil, apierror.NewAPIError(apierror.ErrInvalidInput, "Idempotency key is required", nil)
	}

	txn, err := r.datasource.ApplyWalletTransaction(ctx, &model.CreditTransaction{
		TransactionID:  model.GenerateUUIDWithSuffix("txn"),
		TenantID:       tenantID,
		Amount:         amount,
		Reason:         reason,
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return nil, err
	}

	r.invalidateWalletCache(ctx, tenantID)

	logrus.WithFields(logrus.Fields{
		"tenant_id":     tenantID,
		"amount":        txn.Amount,
		"reason":        txn.Reason,
		"balance_after": txn.BalanceAfter,
	}).Info("wallet transaction applied")
	return txn, nil
}

// GetWalletBalance reads a tenant's balance through the cache. A miss falls
// through to the database and repopulates the cache.
func (r *Relay) GetWalletBalance(ctx context.Context, tenantID string) (*model.WalletBalance, error) {
	if r.cache != nil {
		var cached model.WalletBalance
		if err := r.cache.Get(ctx, walletCacheKey(tenantID), &cached); err == nil && cached.TenantID != "" {
			return &cached, nil
		}
	}

	balance, err := r.datasource.GetWalletBalance(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		if err := r.cache.Set(ctx, walletCacheKey(tenantID), balance, 5*time.Minute); err != nil {
			logrus.Warnf("failed to cache wallet balance for %s: %v", tenantID, err)
		}
	}
	return balance, nil
}

// GetWalletTransactions lists a tenant's wallet history, newest first.
func (r *Relay) GetWalletTransactions(ctx context.Context, tenantID string, limit, offset int) ([]model.CreditTransaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.datasource.GetWalletTransactions(ctx, tenantID, limit, offset)
}

func (r *Relay) invalidateWalletCache(ctx context.Context, tenantID string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.Delete(ctx, walletCacheKey(tenantID)); err != nil {
		logrus.Warnf("failed to invalidate wallet cache for %s: %v", tenantID, err)
	}
}

func walletCacheKey(tenantID string) string {
	return fmt.Sprintf("relay:wallet:%s", tenantID)
}
