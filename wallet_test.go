package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/relaysms/relay/database/mocks"
	"github.com/relaysms/relay/internal/apierror"
	"github.com/relaysms/relay/model"
)

func TestTopUpWallet(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ApplyWalletTransaction", mock.Anything, mock.MatchedBy(func(txn *model.CreditTransaction) bool {
		return txn.TenantID == "tenant_1" &&
			txn.Amount == 500 &&
			txn.Reason == ReasonTopUp &&
			txn.IdempotencyKey == "key_1"
	})).Return(&model.CreditTransaction{
		TransactionID: "txn_1",
		TenantID:      "tenant_1",
		Amount:        500,
		BalanceAfter:  500,
		Reason:        ReasonTopUp,
	}, nil)

	txn, err := r.TopUpWallet(context.Background(), "tenant_1", 500, "key_1", "")
	assert.NoError(t, err)
	assert.Equal(t, int64(500), txn.BalanceAfter)
	ds.AssertExpectations(t)
}

func TestTopUpWallet_RejectsNonPositiveAmount(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	_, err := r.TopUpWallet(context.Background(), "tenant_1", 0, "key_1", "")
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))

	_, err = r.TopUpWallet(context.Background(), "tenant_1", -10, "key_1", "")
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
	ds.AssertNotCalled(t, "ApplyWalletTransaction", mock.Anything, mock.Anything)
}

func TestChargeWallet_NegatesAmount(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ApplyWalletTransaction", mock.Anything, mock.MatchedBy(func(txn *model.CreditTransaction) bool {
		return txn.Amount == -25 && txn.Reason == ReasonCampaignSend
	})).Return(&model.CreditTransaction{
		TransactionID: "txn_2",
		TenantID:      "tenant_1",
		Amount:        -25,
		BalanceAfter:  75,
		Reason:        ReasonCampaignSend,
	}, nil)

	txn, err := r.ChargeWallet(context.Background(), "tenant_1", 25, "key_2", ReasonCampaignSend)
	assert.NoError(t, err)
	assert.Equal(t, int64(-25), txn.Amount)
	ds.AssertExpectations(t)
}

func TestChargeWallet_InsufficientCredits(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("ApplyWalletTransaction", mock.Anything, mock.Anything).
		Return(nil, apierror.NewAPIError(apierror.ErrInsufficientCredits, "Insufficient credits", nil))

	_, err := r.ChargeWallet(context.Background(), "tenant_1", 100, "key_3", ReasonCampaignSend)
	assert.Equal(t, apierror.ErrInsufficientCredits, apierror.CodeOf(err))
}

func TestWalletTransaction_RequiresIdempotencyKey(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	_, err := r.TopUpWallet(context.Background(), "tenant_1", 100, "", "")
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))

	_, err = r.ChargeWallet(context.Background(), "tenant_1", 100, "", ReasonCampaignSend)
	assert.Equal(t, apierror.ErrInvalidInput, apierror.CodeOf(err))
	ds.AssertNotCalled(t, "ApplyWalletTransaction", mock.Anything, mock.Anything)
}

func TestGetWalletBalance_FallsThroughToDatabase(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("GetWalletBalance", mock.Anything, "tenant_1").
		Return(&model.WalletBalance{TenantID: "tenant_1", Balance: 42}, nil)

	balance, err := r.GetWalletBalance(context.Background(), "tenant_1")
	assert.NoError(t, err)
	assert.Equal(t, int64(42), balance.Balance)
	ds.AssertExpectations(t)
}

func TestGetWalletTransactions_DefaultsLimit(t *testing.T) {
	ds := new(mocks.MockDataSource)
	r, _ := newTestRelay(t, ds)

	ds.On("GetWalletTransactions", mock.Anything, "tenant_1", 50, 0).
		Return([]model.CreditTransaction{{TransactionID: "txn_1"}}, nil)

	txns, err := r.GetWalletTransactions(context.Background(), "tenant_1", 0, 0)
	assert.NoError(t, err)
	assert.Len(t, txns, 1)
	ds.AssertExpectations(t)
}
