// Package repositories provides the data access layer. Every balance
// mutation is expressed as a single conditional UPDATE so the database
// itself rejects overlapping unsafe writes; there is no read-modify-write
// of balance buckets anywhere above this package.
package repositories

import (
	"context"
	"time"

	"malipo/internal/models"
)

// HistoryFilter narrows a transaction history query.
type HistoryFilter struct {
	Type   string
	From   *time.Time
	To     *time.Time
	Limit  int
	Offset int
}

// WalletRepository defines wallet and ledger database operations.
//
// The *Available/Lock/Settle methods are atomic conditional updates: they
// apply only when the wallet is active and the guarded bucket covers the
// amount, and they return the refreshed wallet row on success. A rejected
// guard surfaces as ErrInsufficientBalance / ErrWalletNotActive /
// ErrWalletNotFound, never as a silent partial write.
type WalletRepository interface {
	// Core wallet operations
	Create(wallet *models.Wallet) error
	GetByID(id uint) (*models.Wallet, error)
	GetByUserID(userID uint) (*models.Wallet, error)
	UpdateStatus(walletID uint, status, reason string) error
	SetPin(walletID uint, pinHash string) error

	// Atomic balance-bucket mutations
	CreditAvailable(walletID uint, amount float64) (*models.Wallet, error)
	DebitAvailable(walletID uint, amount float64) (*models.Wallet, error)
	LockAmount(walletID uint, amount float64) (*models.Wallet, error)
	ReleaseLockToAvailable(walletID uint, amount float64) (*models.Wallet, error)
	SettleLockedWithdrawal(walletID uint, amount float64) (*models.Wallet, error)
	IncrementFailedWithdrawals(walletID uint) error

	// Ledger operations
	CreateTransaction(tx *models.Transaction) error
	UpdateTransactionStatus(transactionID, status string) error
	GetTransactionByRef(walletID uint, externalRef, txType string) (*models.Transaction, error)
	GetTransactionHistory(ctx context.Context, walletID uint, filter HistoryFilter) ([]models.Transaction, int64, error)
	// SumOutflowsByTypeSince totals the absolute value of negative
	// (outgoing) entries of the given types, pending included, so an
	// in-flight hold still counts against its rolling-window limit.
	SumOutflowsByTypeSince(ctx context.Context, walletID uint, txTypes []string, since time.Time) (float64, error)

	// ExecuteInTransaction runs fn against a repository bound to one
	// database transaction; the ledger append and the bucket update of a
	// single delta always share such a unit.
	ExecuteInTransaction(fn func(WalletRepository) error) error
}
