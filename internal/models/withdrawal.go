package models

import (
	"time"
)

// Withdrawal methods
const (
	WithdrawalMethodMpesa = "mpesa"
	WithdrawalMethodBank  = "bank"
)

// Withdrawal statuses
const (
	WithdrawalStatusPending    = "pending"
	WithdrawalStatusProcessing = "processing"
	WithdrawalStatusCompleted  = "completed"
	WithdrawalStatusFailed     = "failed"
	WithdrawalStatusCancelled  = "cancelled"
)

// Withdrawal records one payout request. Its lifecycle is coupled to the
// wallet: creation moves the amount from available into locked, and only
// a terminal resolution releases the lock again.
type Withdrawal struct {
	ID           uint    `gorm:"primarykey" json:"-"`
	WithdrawalID string  `gorm:"uniqueIndex;not null" json:"withdrawal_id"`
	WalletID     uint    `gorm:"not null;index" json:"wallet_id"`
	Amount       float64 `gorm:"not null" json:"amount"`
	Method       string  `gorm:"not null" json:"method"`

	// Destination payload: phone number for mpesa, bank account details
	// for bank transfers.
	Destination JSON `gorm:"type:jsonb" json:"destination"`

	Status           string `gorm:"not null;default:'pending';index" json:"status"`
	FailureReason    string `json:"failure_reason,omitempty"`
	ConfirmationCode string `json:"confirmation_code,omitempty"`

	RequestedAt time.Time  `json:"requested_at"`
	ProcessedAt *time.Time `json:"processed_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// IsTerminal reports whether the withdrawal reached a final status.
func (w *Withdrawal) IsTerminal() bool {
	switch w.Status {
	case WithdrawalStatusCompleted, WithdrawalStatusFailed, WithdrawalStatusCancelled:
		return true
	}
	return false
}
