package ledger

import (
	"context"
	"errors"
	"math"
	"time"

	apperr "malipo/internal/errors"
	"malipo/internal/models"
	"malipo/internal/repositories"
	"malipo/internal/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type service struct {
	repo    repositories.WalletRepository
	metrics MetricsCollector
	log     *logrus.Entry
}

// NewService creates a new ledger service.
func NewService(repo repositories.WalletRepository, metrics MetricsCollector) Service {
	if repo == nil {
		panic("repo is required")
	}
	if metrics == nil {
		metrics = &NoopMetricsCollector{}
	}
	return &service{
		repo:    repo,
		metrics: metrics,
		log:     logrus.WithField("component", "ledger"),
	}
}

type applyParams struct {
	walletID     uint
	txType       string
	amount       float64
	description  string
	externalRef  string
	counterparty *uint
	status       string
}

// apply converts a typed intent into one atomic ledger append plus bucket
// update. The conditional update and the append share one database
// transaction, so a rejected guard leaves no partial state behind.
func (s *service) apply(p applyParams) (*models.Transaction, error) {
	if p.amount == 0 || math.IsNaN(p.amount) || math.IsInf(p.amount, 0) {
		return nil, apperr.ErrInvalidInput.WithDetail("amount must be a finite non-zero number")
	}
	if p.status == "" {
		p.status = models.TransactionStatusCompleted
	}

	if p.externalRef != "" {
		if existing, err := s.repo.GetTransactionByRef(p.walletID, p.externalRef, p.txType); err == nil && existing.IsTerminal() {
			return existing, apperr.ErrDuplicateOperation
		}
	}

	var entry *models.Transaction
	err := s.repo.ExecuteInTransaction(func(r repositories.WalletRepository) error {
		var wallet *models.Wallet
		var err error
		if p.amount > 0 {
			wallet, err = r.CreditAvailable(p.walletID, p.amount)
		} else {
			wallet, err = r.DebitAvailable(p.walletID, -p.amount)
		}
		if err != nil {
			return err
		}

		entry = &models.Transaction{
			TransactionID:  utils.NewLedgerID("TXN"),
			WalletID:       p.walletID,
			Type:           p.txType,
			Amount:         p.amount,
			BalanceBefore:  wallet.Available - p.amount,
			BalanceAfter:   wallet.Available,
			Status:         p.status,
			Description:    p.description,
			ExternalRef:    p.externalRef,
			CounterpartyID: p.counterparty,
		}
		return r.CreateTransaction(entry)
	})
	if err != nil {
		// A concurrent delivery can slip past the replay check above and
		// lose the race on the unique reference index. The transaction
		// rolled back, so hand the caller the entry that won.
		if p.externalRef != "" && errors.Is(err, apperr.ErrDuplicateOperation) {
			if existing, lookupErr := s.repo.GetTransactionByRef(p.walletID, p.externalRef, p.txType); lookupErr == nil {
				return existing, apperr.ErrDuplicateOperation
			}
		}
		s.metrics.RecordError(p.txType, errType(err))
		return nil, err
	}

	s.metrics.RecordTransaction(p.txType, math.Abs(p.amount))
	return entry, nil
}

func (s *service) Apply(ctx context.Context, walletID uint, txType string, amount float64, description, externalRef string) (*models.Transaction, error) {
	return s.apply(applyParams{
		walletID:    walletID,
		txType:      txType,
		amount:      amount,
		description: description,
		externalRef: externalRef,
	})
}

func (s *service) Credit(ctx context.Context, walletID uint, amount float64, description, externalRef string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidInput.WithDetail("credit amount must be positive")
	}
	return s.apply(applyParams{
		walletID:    walletID,
		txType:      models.TransactionTypeCredit,
		amount:      amount,
		description: description,
		externalRef: externalRef,
	})
}

func (s *service) Debit(ctx context.Context, walletID uint, amount float64, description, externalRef string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidInput.WithDetail("debit amount must be positive")
	}
	return s.apply(applyParams{
		walletID:    walletID,
		txType:      models.TransactionTypeDebit,
		amount:      -amount,
		description: description,
		externalRef: externalRef,
	})
}

// Transfer moves funds between two wallets as a linked debit/credit pair.
// Each half applies atomically on its own wallet; when the credit half
// fails after the debit succeeded, the debit is compensated by a
// reversing entry rather than rolled back across wallets.
func (s *service) Transfer(ctx context.Context, fromWalletID, toWalletID uint, amount float64, description string) (*TransferResult, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidInput.WithDetail("transfer amount must be positive")
	}
	if fromWalletID == toWalletID {
		return nil, apperr.ErrInvalidInput.WithDetail("cannot transfer to self")
	}

	sender, err := s.repo.GetByID(fromWalletID)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetByID(toWalletID); err != nil {
		return nil, err
	}

	if err := s.checkDailyTransferLimit(ctx, sender, amount); err != nil {
		return nil, err
	}

	ref := uuid.NewString()

	debit, err := s.apply(applyParams{
		walletID:     fromWalletID,
		txType:       models.TransactionTypeTransfer,
		amount:       -amount,
		description:  description,
		externalRef:  ref,
		counterparty: &toWalletID,
	})
	if err != nil {
		return nil, err
	}

	credit, err := s.apply(applyParams{
		walletID:     toWalletID,
		txType:       models.TransactionTypeTransfer,
		amount:       amount,
		description:  description,
		externalRef:  ref,
		counterparty: &fromWalletID,
	})
	if err != nil {
		// Compensate the sender; the pair must never stay one-sided.
		if _, rbErr := s.apply(applyParams{
			walletID:     fromWalletID,
			txType:       models.TransactionTypeRefund,
			amount:       amount,
			description:  "transfer reversal",
			externalRef:  ref,
			counterparty: &toWalletID,
		}); rbErr != nil {
			s.log.WithFields(logrus.Fields{
				"reference":      ref,
				"from_wallet_id": fromWalletID,
				"to_wallet_id":   toWalletID,
			}).WithError(rbErr).Error("transfer compensation failed, ledger needs manual repair")
		}
		return nil, err
	}

	return &TransferResult{Reference: ref, Debit: debit, Credit: credit}, nil
}

// LockForWithdrawal moves amount from available into locked and appends a
// pending withdrawal entry carrying the withdrawal reference.
func (s *service) LockForWithdrawal(ctx context.Context, walletID uint, amount float64, withdrawalRef string) (*models.Transaction, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidInput.WithDetail("withdrawal amount must be positive")
	}

	if existing, err := s.repo.GetTransactionByRef(walletID, withdrawalRef, models.TransactionTypeWithdrawal); err == nil && existing != nil {
		return existing, apperr.ErrDuplicateOperation
	}

	var entry *models.Transaction
	err := s.repo.ExecuteInTransaction(func(r repositories.WalletRepository) error {
		wallet, err := r.LockAmount(walletID, amount)
		if err != nil {
			return err
		}

		entry = &models.Transaction{
			TransactionID: utils.NewLedgerID("TXN"),
			WalletID:      walletID,
			Type:          models.TransactionTypeWithdrawal,
			Amount:        -amount,
			BalanceBefore: wallet.Available + amount,
			BalanceAfter:  wallet.Available,
			Status:        models.TransactionStatusPending,
			Description:   "withdrawal hold",
			ExternalRef:   withdrawalRef,
		}
		return r.CreateTransaction(entry)
	})
	if err != nil {
		if errors.Is(err, apperr.ErrDuplicateOperation) {
			if existing, lookupErr := s.repo.GetTransactionByRef(walletID, withdrawalRef, models.TransactionTypeWithdrawal); lookupErr == nil {
				return existing, apperr.ErrDuplicateOperation
			}
		}
		s.metrics.RecordError("withdrawal_lock", errType(err))
		return nil, err
	}

	s.metrics.RecordTransaction(models.TransactionTypeWithdrawal, amount)
	return entry, nil
}

// ReleaseLock settles a withdrawal hold. A completed outcome removes the
// locked funds from the system; failure or cancellation refunds them to
// available. The pending ledger entry is finalized in the same unit.
func (s *service) ReleaseLock(ctx context.Context, walletID uint, amount float64, withdrawalRef string, outcome Outcome) error {
	entry, err := s.repo.GetTransactionByRef(walletID, withdrawalRef, models.TransactionTypeWithdrawal)
	if err != nil {
		return err
	}
	if entry.IsTerminal() {
		return apperr.ErrDuplicateOperation
	}

	return s.repo.ExecuteInTransaction(func(r repositories.WalletRepository) error {
		switch outcome {
		case OutcomeCompleted:
			if _, err := r.SettleLockedWithdrawal(walletID, amount); err != nil {
				return err
			}
			return r.UpdateTransactionStatus(entry.TransactionID, models.TransactionStatusCompleted)
		case OutcomeFailed:
			if _, err := r.ReleaseLockToAvailable(walletID, amount); err != nil {
				return err
			}
			if err := r.IncrementFailedWithdrawals(walletID); err != nil {
				return err
			}
			return r.UpdateTransactionStatus(entry.TransactionID, models.TransactionStatusFailed)
		case OutcomeCancelled:
			if _, err := r.ReleaseLockToAvailable(walletID, amount); err != nil {
				return err
			}
			return r.UpdateTransactionStatus(entry.TransactionID, models.TransactionStatusReversed)
		default:
			return apperr.ErrInvalidInput.WithDetail("unknown lock outcome %q", outcome)
		}
	})
}

// checkDailyTransferLimit recomputes today's transfer volume from the
// ledger itself; there is no separately maintained counter to drift.
func (s *service) checkDailyTransferLimit(ctx context.Context, sender *models.Wallet, amount float64) error {
	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)

	total, err := s.repo.SumOutflowsByTypeSince(ctx, sender.ID, []string{models.TransactionTypeTransfer}, startOfDay)
	if err != nil {
		return err
	}
	if total+amount > sender.DailyTransferLimit {
		return apperr.ErrLimitExceeded.WithDetail("daily transfer limit of %.2f exceeded", sender.DailyTransferLimit)
	}
	return nil
}

func errType(err error) string {
	if de, ok := err.(*apperr.DomainError); ok {
		return de.Code
	}
	return "INTERNAL"
}
