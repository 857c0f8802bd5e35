package repositories

import (
	"errors"
	"time"

	apperr "malipo/internal/errors"
	"malipo/internal/models"

	"gorm.io/gorm"
)

// WithdrawalRepository defines withdrawal sub-ledger operations.
type WithdrawalRepository interface {
	Create(w *models.Withdrawal) error
	GetByWithdrawalID(withdrawalID string) (*models.Withdrawal, error)
	ListByWalletID(walletID uint, limit, offset int) ([]models.Withdrawal, int64, error)
	MarkProcessing(withdrawalID string) error
	// ResolveTerminal flips a withdrawal into a terminal status only when
	// it is not terminal yet; zero rows affected means it already was.
	ResolveTerminal(withdrawalID, status, confirmationCode, failureReason string) error
}

type withdrawalRepo struct {
	db *gorm.DB
}

// NewWithdrawalRepository creates a GORM-backed withdrawal repository.
func NewWithdrawalRepository(db *gorm.DB) WithdrawalRepository {
	return &withdrawalRepo{db: db}
}

func (r *withdrawalRepo) Create(w *models.Withdrawal) error {
	return r.db.Create(w).Error
}

func (r *withdrawalRepo) GetByWithdrawalID(withdrawalID string) (*models.Withdrawal, error) {
	var w models.Withdrawal
	err := r.db.Where("withdrawal_id = ?", withdrawalID).First(&w).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *withdrawalRepo) ListByWalletID(walletID uint, limit, offset int) ([]models.Withdrawal, int64, error) {
	query := r.db.Model(&models.Withdrawal{}).Where("wallet_id = ?", walletID)

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	if limit <= 0 {
		limit = 20
	}

	var list []models.Withdrawal
	err := query.Order("requested_at DESC").Limit(limit).Offset(offset).Find(&list).Error
	if err != nil {
		return nil, 0, err
	}
	return list, total, nil
}

func (r *withdrawalRepo) MarkProcessing(withdrawalID string) error {
	now := time.Now()
	res := r.db.Model(&models.Withdrawal{}).
		Where("withdrawal_id = ? AND status = ?", withdrawalID, models.WithdrawalStatusPending).
		Updates(map[string]interface{}{
			"status":       models.WithdrawalStatusProcessing,
			"processed_at": &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrDuplicateOperation
	}
	return nil
}

func (r *withdrawalRepo) ResolveTerminal(withdrawalID, status, confirmationCode, failureReason string) error {
	now := time.Now()
	res := r.db.Model(&models.Withdrawal{}).
		Where("withdrawal_id = ? AND status IN ?", withdrawalID,
			[]string{models.WithdrawalStatusPending, models.WithdrawalStatusProcessing}).
		Updates(map[string]interface{}{
			"status":            status,
			"confirmation_code": confirmationCode,
			"failure_reason":    failureReason,
			"completed_at":      &now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrDuplicateOperation
	}
	return nil
}
