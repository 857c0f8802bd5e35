package models

import (
	"time"

	"gorm.io/gorm"
)

// Wallet statuses
const (
	WalletStatusActive    = "active"
	WalletStatusFrozen    = "frozen"
	WalletStatusSuspended = "suspended"
	WalletStatusClosed    = "closed"
)

// Wallet holds one user's balance buckets and security state. The three
// buckets must each stay non-negative; their sum equals the net of all
// applied ledger deltas since creation.
type Wallet struct {
	ID           uint    `gorm:"primarykey" json:"id"`
	UserID       uint    `gorm:"uniqueIndex;not null" json:"user_id"`
	Available    float64 `gorm:"not null;default:0" json:"available"`
	Pending      float64 `gorm:"not null;default:0" json:"pending"`
	Locked       float64 `gorm:"not null;default:0" json:"locked"`
	Currency     string  `gorm:"default:'KES'" json:"currency"`
	Status       string  `gorm:"default:'active'" json:"status"`
	StatusReason string  `gorm:"default:''" json:"status_reason,omitempty"`

	// Per-operation limits, evaluated against rolling ledger windows
	DailyWithdrawalLimit float64 `gorm:"default:140000" json:"daily_withdrawal_limit"`
	DailyTransferLimit   float64 `gorm:"default:300000" json:"daily_transfer_limit"`
	MinimumWithdrawal    float64 `gorm:"default:50" json:"minimum_withdrawal"`

	// Security state. The PIN is stored hashed, never in plaintext.
	PinHash          string `json:"-"`
	PinEnabled       bool   `gorm:"default:false" json:"pin_enabled"`
	TwoFactorEnabled bool   `gorm:"default:false" json:"two_factor_enabled"`

	// Lifetime statistics
	TotalCredited     float64 `gorm:"default:0" json:"total_credited"`
	TotalDebited      float64 `gorm:"default:0" json:"total_debited"`
	TotalWithdrawn    float64 `gorm:"default:0" json:"total_withdrawn"`
	WithdrawalCount   int     `gorm:"default:0" json:"withdrawal_count"`
	FailedWithdrawals int     `gorm:"default:0" json:"failed_withdrawals"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (w *Wallet) BeforeCreate(tx *gorm.DB) error {
	// Every wallet starts empty regardless of what the caller set
	w.Available = 0
	w.Pending = 0
	w.Locked = 0
	return nil
}

// Balance is the sum of all three buckets.
func (w *Wallet) Balance() float64 {
	return w.Available + w.Pending + w.Locked
}

// IsActive reports whether the wallet may move money.
func (w *Wallet) IsActive() bool {
	return w.Status == WalletStatusActive
}
