// Package audit informs the compliance trail about sensitive settlement
// operations. Recording is fire-and-forget: a failed audit write must
// never roll back the ledger mutation it describes.
package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Event describes one sensitive operation with its surrounding state.
type Event struct {
	Action   string
	UserID   uint
	WalletID uint
	Before   interface{}
	After    interface{}
	Details  map[string]interface{}
}

// Service receives audit events.
type Service interface {
	Record(ctx context.Context, e Event)
}

type logService struct {
	log *logrus.Entry
}

// NewService creates a log-backed audit service.
func NewService() Service {
	return &logService{log: logrus.WithField("component", "audit")}
}

func (s *logService) Record(ctx context.Context, e Event) {
	fields := logrus.Fields{
		"action":    e.Action,
		"user_id":   e.UserID,
		"wallet_id": e.WalletID,
	}
	if e.Before != nil {
		fields["before"] = e.Before
	}
	if e.After != nil {
		fields["after"] = e.After
	}
	for k, v := range e.Details {
		fields[k] = v
	}
	s.log.WithFields(fields).Info("audit event")
}
