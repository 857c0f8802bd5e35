package ledger

import (
	"context"

	"malipo/internal/models"
)

// Outcome is the terminal result of a withdrawal lock.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// TransferResult carries both halves of a completed transfer.
type TransferResult struct {
	Reference string              `json:"reference"`
	Debit     *models.Transaction `json:"debit"`
	Credit    *models.Transaction `json:"credit"`
}

// Service is the only code path allowed to mutate wallet balances. Each
// operation appends exactly one ledger entry per touched wallet inside
// the same atomic unit as the bucket update.
//
// Operations that carry an externalRef are idempotent: when a terminal
// entry with the same wallet, reference and type already exists, the call
// returns that entry together with ErrDuplicateOperation instead of
// applying the delta again.
type Service interface {
	// Apply records a raw signed delta of the given type.
	Apply(ctx context.Context, walletID uint, txType string, amount float64, description, externalRef string) (*models.Transaction, error)

	// Named intents
	Credit(ctx context.Context, walletID uint, amount float64, description, externalRef string) (*models.Transaction, error)
	Debit(ctx context.Context, walletID uint, amount float64, description, externalRef string) (*models.Transaction, error)
	Transfer(ctx context.Context, fromWalletID, toWalletID uint, amount float64, description string) (*TransferResult, error)

	// Withdrawal lock lifecycle, used exclusively by the withdrawal
	// state machine. Locking moves funds from available to locked;
	// releasing settles or refunds the locked amount.
	LockForWithdrawal(ctx context.Context, walletID uint, amount float64, withdrawalRef string) (*models.Transaction, error)
	ReleaseLock(ctx context.Context, walletID uint, amount float64, withdrawalRef string, outcome Outcome) error
}

// MetricsCollector receives ledger operation metrics.
type MetricsCollector interface {
	RecordTransaction(txType string, amount float64)
	RecordError(operation, errType string)
}
