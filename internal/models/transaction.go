package models

import (
	"time"
)

// Transaction types
const (
	TransactionTypeCredit     = "credit"
	TransactionTypeDebit      = "debit"
	TransactionTypeTransfer   = "transfer"
	TransactionTypeRefund     = "refund"
	TransactionTypeCommission = "commission"
	TransactionTypeBonus      = "bonus"
	TransactionTypeWithdrawal = "withdrawal"
)

// Transaction statuses
const (
	TransactionStatusPending   = "pending"
	TransactionStatusCompleted = "completed"
	TransactionStatusFailed    = "failed"
	TransactionStatusReversed  = "reversed"
)

// Transaction is one append-only ledger entry for a wallet. Amount is
// signed: positive entries add to the available bucket, negative entries
// remove from it. Completed entries are never mutated; corrections append
// a reversing entry instead.
type Transaction struct {
	ID            uint    `gorm:"primarykey" json:"-"`
	TransactionID string  `gorm:"uniqueIndex;not null" json:"transaction_id"`
	WalletID      uint    `gorm:"not null;index" json:"wallet_id"`
	Type          string  `gorm:"not null;index" json:"type"`
	Amount        float64 `gorm:"not null" json:"amount"`
	BalanceBefore float64 `gorm:"not null" json:"balance_before"`
	BalanceAfter  float64 `gorm:"not null" json:"balance_after"`
	Status        string  `gorm:"not null;default:'pending';index" json:"status"`
	Description   string  `json:"description"`

	// ExternalRef correlates the entry with a gateway checkout, a
	// withdrawal record, or the other half of a transfer. It carries the
	// idempotency check for callback replays.
	ExternalRef string `gorm:"index" json:"external_ref,omitempty"`

	// CounterpartyID is the other wallet of a transfer pair, when any.
	CounterpartyID *uint `json:"counterparty_id,omitempty"`

	Metadata  JSON      `gorm:"type:jsonb" json:"metadata,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// IsTerminal reports whether the entry reached a final status.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusReversed:
		return true
	}
	return false
}
