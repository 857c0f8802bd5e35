// Package withdrawal implements the payout state machine. A request
// locks funds immediately; the locked amount leaves the wallet only on a
// completed resolution and returns to available on failure or
// cancellation. Terminal states resolve exactly once.
package withdrawal

import (
	"context"
	"errors"
	"time"

	apperr "malipo/internal/errors"
	"malipo/internal/models"
	"malipo/internal/repositories"
	"malipo/internal/services/audit"
	"malipo/internal/services/ledger"
	"malipo/internal/utils"
	"malipo/internal/validation"

	"github.com/sirupsen/logrus"
)

// Request carries a new withdrawal submission.
type Request struct {
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
	Phone         string  `json:"phone,omitempty"`
	AccountNumber string  `json:"account_number,omitempty"`
	BankCode      string  `json:"bank_code,omitempty"`
}

// Resolution carries the terminal outcome reported by an operator or a
// payout provider callback.
type Resolution struct {
	Status           string `json:"status"`
	ConfirmationCode string `json:"confirmation_code,omitempty"`
	FailureReason    string `json:"failure_reason,omitempty"`
}

// Service drives withdrawals through their lifecycle.
type Service interface {
	RequestWithdrawal(ctx context.Context, userID uint, req Request) (*models.Withdrawal, error)
	GetWithdrawal(ctx context.Context, withdrawalID string) (*models.Withdrawal, error)
	ListWithdrawals(ctx context.Context, walletID uint, limit, offset int) ([]models.Withdrawal, int64, error)
	MarkProcessing(ctx context.Context, withdrawalID string) error
	Resolve(ctx context.Context, withdrawalID string, res Resolution) (*models.Withdrawal, error)
	Cancel(ctx context.Context, userID uint, withdrawalID string) (*models.Withdrawal, error)
}

type service struct {
	wallets     repositories.WalletRepository
	withdrawals repositories.WithdrawalRepository
	ledger      ledger.Service
	audit       audit.Service
	log         *logrus.Entry
}

// NewService creates a new withdrawal service.
func NewService(wallets repositories.WalletRepository, withdrawals repositories.WithdrawalRepository, ledgerSvc ledger.Service, auditSvc audit.Service) Service {
	if wallets == nil || withdrawals == nil || ledgerSvc == nil {
		panic("wallets, withdrawals and ledger are required")
	}
	if auditSvc == nil {
		auditSvc = audit.NewService()
	}
	return &service{
		wallets:     wallets,
		withdrawals: withdrawals,
		ledger:      ledgerSvc,
		audit:       auditSvc,
		log:         logrus.WithField("component", "withdrawal"),
	}
}

// RequestWithdrawal validates the request against the live wallet, locks
// the amount and records the pending withdrawal. The lock and the hold
// entry are one atomic ledger operation; the withdrawal row is written
// after it, keyed by the same reference.
func (s *service) RequestWithdrawal(ctx context.Context, userID uint, req Request) (*models.Withdrawal, error) {
	v := validation.New()
	v.Withdrawal(req.Amount, req.Method, req.Phone, req.AccountNumber)
	if !v.Valid() {
		return nil, apperr.ErrInvalidInput.WithDetail(v.Error())
	}

	wallet, err := s.wallets.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	if err := s.canWithdraw(ctx, wallet, req.Amount); err != nil {
		return nil, err
	}

	withdrawalID := utils.NewLedgerID("WDR")
	if _, err := s.ledger.LockForWithdrawal(ctx, wallet.ID, req.Amount, withdrawalID); err != nil {
		return nil, err
	}

	w := &models.Withdrawal{
		WithdrawalID: withdrawalID,
		WalletID:     wallet.ID,
		Amount:       req.Amount,
		Method:       req.Method,
		Destination:  destinationFor(req),
		Status:       models.WithdrawalStatusPending,
		RequestedAt:  time.Now(),
	}
	if err := s.withdrawals.Create(w); err != nil {
		// The hold exists without its withdrawal row. Refund it so funds
		// are not stranded in locked.
		if rbErr := s.ledger.ReleaseLock(ctx, wallet.ID, req.Amount, withdrawalID, ledger.OutcomeCancelled); rbErr != nil {
			s.log.WithField("withdrawal_id", withdrawalID).WithError(rbErr).
				Error("failed to release orphaned withdrawal hold")
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:   "withdrawal.requested",
		UserID:   userID,
		WalletID: wallet.ID,
		Details: map[string]interface{}{
			"withdrawal_id": withdrawalID,
			"amount":        req.Amount,
			"method":        req.Method,
		},
	})
	return w, nil
}

func (s *service) GetWithdrawal(ctx context.Context, withdrawalID string) (*models.Withdrawal, error) {
	return s.withdrawals.GetByWithdrawalID(withdrawalID)
}

func (s *service) ListWithdrawals(ctx context.Context, walletID uint, limit, offset int) ([]models.Withdrawal, int64, error) {
	return s.withdrawals.ListByWalletID(walletID, limit, offset)
}

// MarkProcessing moves a pending withdrawal to processing. Only pending
// withdrawals qualify; anything else reports a duplicate operation.
func (s *service) MarkProcessing(ctx context.Context, withdrawalID string) error {
	return s.withdrawals.MarkProcessing(withdrawalID)
}

// Resolve finalizes a withdrawal. The status row flips first under a
// not-yet-terminal guard, so a concurrent duplicate resolution loses the
// race before any balance is touched.
func (s *service) Resolve(ctx context.Context, withdrawalID string, res Resolution) (*models.Withdrawal, error) {
	outcome, err := outcomeFor(res.Status)
	if err != nil {
		return nil, err
	}
	if res.Status == models.WithdrawalStatusFailed && res.FailureReason == "" {
		return nil, apperr.ErrInvalidInput.WithDetail("failure reason is required")
	}

	w, err := s.withdrawals.GetByWithdrawalID(withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.IsTerminal() {
		return w, apperr.ErrDuplicateOperation
	}

	if err := s.withdrawals.ResolveTerminal(withdrawalID, res.Status, res.ConfirmationCode, res.FailureReason); err != nil {
		return w, err
	}

	if err := s.ledger.ReleaseLock(ctx, w.WalletID, w.Amount, withdrawalID, outcome); err != nil && !errors.Is(err, apperr.ErrDuplicateOperation) {
		s.log.WithFields(logrus.Fields{
			"withdrawal_id": withdrawalID,
			"wallet_id":     w.WalletID,
			"outcome":       outcome,
		}).WithError(err).Error("withdrawal resolved but lock release failed, ledger needs manual repair")
		return nil, err
	}

	updated, err := s.withdrawals.GetByWithdrawalID(withdrawalID)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:   "withdrawal.resolved",
		WalletID: w.WalletID,
		Before:   w.Status,
		After:    updated.Status,
		Details: map[string]interface{}{
			"withdrawal_id":     withdrawalID,
			"amount":            w.Amount,
			"confirmation_code": res.ConfirmationCode,
			"failure_reason":    res.FailureReason,
		},
	})
	return updated, nil
}

// Cancel lets the owner withdraw a request that has not started
// processing yet.
func (s *service) Cancel(ctx context.Context, userID uint, withdrawalID string) (*models.Withdrawal, error) {
	wallet, err := s.wallets.GetByUserID(userID)
	if err != nil {
		return nil, err
	}

	w, err := s.withdrawals.GetByWithdrawalID(withdrawalID)
	if err != nil {
		return nil, err
	}
	if w.WalletID != wallet.ID {
		return nil, apperr.ErrNotAuthorized
	}
	if w.Status != models.WithdrawalStatusPending {
		return nil, apperr.ErrInvalidInput.WithDetail("only pending withdrawals can be cancelled")
	}

	return s.Resolve(ctx, withdrawalID, Resolution{Status: models.WithdrawalStatusCancelled})
}

// canWithdraw enforces the wallet-side withdrawal policy: active status,
// floor amount, sufficient available funds and the rolling daily cap.
func (s *service) canWithdraw(ctx context.Context, wallet *models.Wallet, amount float64) error {
	if !wallet.IsActive() {
		return apperr.ErrWalletNotActive
	}
	if amount < wallet.MinimumWithdrawal {
		return apperr.ErrInvalidInput.WithDetail("minimum withdrawal is %.2f", wallet.MinimumWithdrawal)
	}
	if amount > wallet.Available {
		return apperr.ErrInsufficientBalance
	}

	now := time.Now().UTC()
	startOfDay := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	total, err := s.wallets.SumOutflowsByTypeSince(ctx, wallet.ID, []string{models.TransactionTypeWithdrawal}, startOfDay)
	if err != nil {
		return err
	}
	if total+amount > wallet.DailyWithdrawalLimit {
		return apperr.ErrLimitExceeded.WithDetail("daily withdrawal limit of %.2f exceeded", wallet.DailyWithdrawalLimit)
	}
	return nil
}

func outcomeFor(status string) (ledger.Outcome, error) {
	switch status {
	case models.WithdrawalStatusCompleted:
		return ledger.OutcomeCompleted, nil
	case models.WithdrawalStatusFailed:
		return ledger.OutcomeFailed, nil
	case models.WithdrawalStatusCancelled:
		return ledger.OutcomeCancelled, nil
	default:
		return "", apperr.ErrInvalidInput.WithDetail("status must be completed, failed or cancelled")
	}
}

func destinationFor(req Request) models.JSON {
	switch req.Method {
	case models.WithdrawalMethodMpesa:
		return models.NewJSON(map[string]interface{}{"phone": req.Phone})
	case models.WithdrawalMethodBank:
		return models.NewJSON(map[string]interface{}{"account_number": req.AccountNumber, "bank_code": req.BankCode})
	}
	return models.NewJSON(map[string]interface{}{})
}
