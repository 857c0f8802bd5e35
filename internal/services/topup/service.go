// Package topup reconciles STK push payments into wallet credits. A
// wallet is credited only after the gateway confirms the payment, and a
// given checkout settles at most once no matter how often the callback
// is delivered.
package topup

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	apperr "malipo/internal/errors"
	"malipo/internal/models"
	"malipo/internal/repositories"
	"malipo/internal/services/audit"
	"malipo/internal/services/ledger"
	"malipo/internal/services/mpesa"
	"malipo/internal/services/notification"
	"malipo/internal/validation"

	"github.com/sirupsen/logrus"
)

// Gateway is the slice of the STK client the reconciler needs.
type Gateway interface {
	STKPush(ctx context.Context, phone string, amount float64, accountRef string) (*mpesa.STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error)
}

// InitiateResult is returned to the caller after a push is dispatched.
// No funds have moved yet at this point.
type InitiateResult struct {
	CheckoutRequestID string `json:"checkout_request_id"`
	CustomerMessage   string `json:"customer_message"`
}

// Service drives top-up initiation and callback reconciliation.
type Service interface {
	Initiate(ctx context.Context, userID uint, amount float64, phone string) (*InitiateResult, error)
	HandleCallback(ctx context.Context, raw []byte) error
	Confirm(ctx context.Context, userID uint, checkoutID string) (string, error)
	GatewayStatus(ctx context.Context, checkoutID string) (*mpesa.STKQueryResponse, error)
}

type service struct {
	wallets  repositories.WalletRepository
	ledger   ledger.Service
	gateway  Gateway
	sessions SessionStore
	audit    audit.Service
	notify   notification.Service
	log      *logrus.Entry
}

// NewService creates a new top-up service.
func NewService(wallets repositories.WalletRepository, ledgerSvc ledger.Service, gateway Gateway, sessions SessionStore, auditSvc audit.Service, notify notification.Service) Service {
	if wallets == nil || ledgerSvc == nil || gateway == nil || sessions == nil {
		panic("wallets, ledger, gateway and sessions are required")
	}
	if auditSvc == nil {
		auditSvc = audit.NewService()
	}
	if notify == nil {
		notify = notification.NewService()
	}
	return &service{
		wallets:  wallets,
		ledger:   ledgerSvc,
		gateway:  gateway,
		sessions: sessions,
		audit:    auditSvc,
		notify:   notify,
		log:      logrus.WithField("component", "topup"),
	}
}

// Initiate dispatches an STK push and records the pending checkout. The
// wallet balance is untouched until the gateway confirms payment.
func (s *service) Initiate(ctx context.Context, userID uint, amount float64, phone string) (*InitiateResult, error) {
	v := validation.New()
	v.TopUp(amount, phone)
	if !v.Valid() {
		return nil, apperr.ErrInvalidInput.WithDetail(v.Error())
	}

	wallet, err := s.wallets.GetByUserID(userID)
	if err != nil {
		return nil, err
	}
	if !wallet.IsActive() {
		return nil, apperr.ErrWalletNotActive
	}

	normalized, err := mpesa.NormalizePhone(phone)
	if err != nil {
		return nil, err
	}

	push, err := s.gateway.STKPush(ctx, normalized, amount, fmt.Sprintf("WAL%d", wallet.ID))
	if err != nil {
		return nil, err
	}

	session := &CheckoutSession{
		WalletID:  wallet.ID,
		UserID:    userID,
		Amount:    amount,
		Phone:     normalized,
		CreatedAt: time.Now(),
	}
	if err := s.sessions.Save(ctx, push.CheckoutRequestID, session); err != nil {
		// The push is already on the handset; without a session the
		// callback will land unmatched and funds stay with the provider.
		s.log.WithField("checkout_request_id", push.CheckoutRequestID).
			WithError(err).Error("failed to store checkout session")
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:   "topup.initiated",
		UserID:   userID,
		WalletID: wallet.ID,
		Details: map[string]interface{}{
			"checkout_request_id": push.CheckoutRequestID,
			"amount":              amount,
		},
	})
	return &InitiateResult{
		CheckoutRequestID: push.CheckoutRequestID,
		CustomerMessage:   push.CustomerMessage,
	}, nil
}

// HandleCallback settles one gateway callback. It always returns nil for
// deliveries that must simply be acknowledged (unmatched, duplicate or
// failed payments); an error means the callback should be retried.
func (s *service) HandleCallback(ctx context.Context, raw []byte) error {
	result, err := mpesa.ParseCallback(raw)
	if err != nil {
		return err
	}

	log := s.log.WithField("checkout_request_id", result.CheckoutRequestID)

	session, found, err := s.sessions.Get(ctx, result.CheckoutRequestID)
	if err != nil {
		return err
	}
	if !found {
		// Expired, already settled, or never ours. Acknowledge without
		// touching any balance.
		log.Warn("callback for unknown checkout, discarding")
		return nil
	}

	if !result.Success {
		log.WithFields(logrus.Fields{
			"result_code": result.ResultCode,
			"result_desc": result.ResultDesc,
		}).Info("top-up failed at gateway")
		s.deleteSession(ctx, result.CheckoutRequestID)
		s.audit.Record(ctx, audit.Event{
			Action:   "topup.failed",
			UserID:   session.UserID,
			WalletID: session.WalletID,
			Details: map[string]interface{}{
				"checkout_request_id": result.CheckoutRequestID,
				"result_desc":         result.ResultDesc,
			},
		})
		return nil
	}

	if math.Abs(result.Amount-session.Amount) > 0.009 {
		// A paid amount that disagrees with the push is never credited
		// silently; it needs a human.
		log.WithFields(logrus.Fields{
			"expected_amount": session.Amount,
			"paid_amount":     result.Amount,
			"receipt":         result.ReceiptNumber,
		}).Error("callback amount mismatch, holding for manual review")
		return nil
	}

	return s.settle(ctx, result.CheckoutRequestID, session, result.ReceiptNumber)
}

// Confirm is the defensive polling path for a callback that never
// arrived. It queries the gateway and settles on a confirmed success.
func (s *service) Confirm(ctx context.Context, userID uint, checkoutID string) (string, error) {
	wallet, err := s.wallets.GetByUserID(userID)
	if err != nil {
		return "", err
	}

	// Already settled through the callback path.
	if tx, err := s.wallets.GetTransactionByRef(wallet.ID, checkoutID, models.TransactionTypeCredit); err == nil && tx.IsTerminal() {
		return models.TransactionStatusCompleted, nil
	}

	session, found, err := s.sessions.Get(ctx, checkoutID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", apperr.ErrNotFound.WithDetail("no pending top-up for checkout %s", checkoutID)
	}
	if session.WalletID != wallet.ID {
		return "", apperr.ErrNotAuthorized
	}

	status, err := s.gateway.QueryStatus(ctx, checkoutID)
	if err != nil {
		return "", err
	}

	switch status.ResultCode {
	case "0":
		if err := s.settle(ctx, checkoutID, session, ""); err != nil {
			return "", err
		}
		return models.TransactionStatusCompleted, nil
	case "":
		return models.TransactionStatusPending, nil
	default:
		s.deleteSession(ctx, checkoutID)
		return models.TransactionStatusFailed, nil
	}
}

// GatewayStatus exposes the raw provider status of a checkout for
// manual reconciliation of stuck top-ups. It never mutates balances.
func (s *service) GatewayStatus(ctx context.Context, checkoutID string) (*mpesa.STKQueryResponse, error) {
	return s.gateway.QueryStatus(ctx, checkoutID)
}

// settle credits the wallet exactly once for a confirmed payment. The
// ledger's reference idempotency is the backstop when two deliveries
// race past the session check.
func (s *service) settle(ctx context.Context, checkoutID string, session *CheckoutSession, receipt string) error {
	desc := "mpesa top-up"
	if receipt != "" {
		desc = "mpesa top-up " + receipt
	}

	tx, err := s.ledger.Credit(ctx, session.WalletID, session.Amount, desc, checkoutID)
	if errors.Is(err, apperr.ErrDuplicateOperation) {
		s.log.WithField("checkout_request_id", checkoutID).Info("top-up already settled, discarding duplicate")
		s.deleteSession(ctx, checkoutID)
		return nil
	}
	if err != nil {
		return err
	}

	s.deleteSession(ctx, checkoutID)

	s.audit.Record(ctx, audit.Event{
		Action:   "topup.completed",
		UserID:   session.UserID,
		WalletID: session.WalletID,
		Details: map[string]interface{}{
			"checkout_request_id": checkoutID,
			"amount":              session.Amount,
			"receipt":             receipt,
		},
	})
	if err := s.notify.NotifyBalanceChange(ctx, session.UserID, tx); err != nil {
		s.log.WithError(err).Warn("balance notification failed")
	}
	return nil
}

func (s *service) deleteSession(ctx context.Context, checkoutID string) {
	if err := s.sessions.Delete(ctx, checkoutID); err != nil {
		s.log.WithField("checkout_request_id", checkoutID).WithError(err).Warn("failed to delete checkout session")
	}
}
