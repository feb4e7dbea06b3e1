package model

import "time"

// WalletBalance is the single prepaid-credit balance row for a tenant,
// created lazily at zero. The balance is only ever mutated inside the same
// database transaction that appends the matching CreditTransaction, so
// balance == sum(transactions.amount) holds at all times.
type WalletBalance struct {
	TenantID  string    `json:"tenant_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CreditTransaction is one append-only entry in a tenant's wallet log.
// Amount is signed: positive for credits, negative for debits. The
// (tenant_id, idempotency_key) pair is unique, which is what guarantees
// at-most-one application of a logically identical debit or credit.
type CreditTransaction struct {
	TransactionID  string    `json:"transaction_id"`
	TenantID       string    `json:"tenant_id"`
	Amount         int64     `json:"amount"`
	Reason         string    `json:"reason"`
	IdempotencyKey string    `json:"idempotency_key"`
	BalanceAfter   int64     `json:"balance_after"`
	CreatedAt      time.Time `json:"created_at"`
}
