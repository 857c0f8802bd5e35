// Package notification informs users about material balance changes.
// Delivery failures are logged and swallowed; they never roll back a
// ledger mutation.
package notification

import (
	"context"

	"malipo/internal/models"

	"github.com/sirupsen/logrus"
)

// Service notifies wallet owners about balance changes.
type Service interface {
	NotifyBalanceChange(ctx context.Context, userID uint, tx *models.Transaction) error
}

type logService struct {
	log *logrus.Entry
}

// NewService creates a log-backed notification service.
func NewService() Service {
	return &logService{log: logrus.WithField("component", "notification")}
}

func (s *logService) NotifyBalanceChange(ctx context.Context, userID uint, tx *models.Transaction) error {
	s.log.WithFields(logrus.Fields{
		"user_id":        userID,
		"transaction_id": tx.TransactionID,
		"type":           tx.Type,
		"amount":         tx.Amount,
	}).Info("balance changed")
	return nil
}
