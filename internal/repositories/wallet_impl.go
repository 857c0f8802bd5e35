package repositories

import (
	"context"
	"errors"
	"time"

	apperr "malipo/internal/errors"
	"malipo/internal/models"

	"gorm.io/gorm"
)

type walletRepo struct {
	db *gorm.DB
}

// NewWalletRepository creates a GORM-backed wallet repository.
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepo{db: db}
}

func (r *walletRepo) Create(wallet *models.Wallet) error {
	return r.db.Create(wallet).Error
}

func (r *walletRepo) GetByID(id uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.First(&wallet, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepo) GetByUserID(userID uint) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := r.db.Where("user_id = ?", userID).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepo) UpdateStatus(walletID uint, status, reason string) error {
	res := r.db.Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]interface{}{
			"status":        status,
			"status_reason": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrWalletNotFound
	}
	return nil
}

func (r *walletRepo) SetPin(walletID uint, pinHash string) error {
	res := r.db.Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Updates(map[string]interface{}{
			"pin_hash":    pinHash,
			"pin_enabled": true,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrWalletNotFound
	}
	return nil
}

func (r *walletRepo) CreditAvailable(walletID uint, amount float64) (*models.Wallet, error) {
	return r.mutate(walletID,
		r.db.Model(&models.Wallet{}).
			Where("id = ? AND status = ?", walletID, models.WalletStatusActive).
			Updates(map[string]interface{}{
				"available":      gorm.Expr("available + ?", amount),
				"total_credited": gorm.Expr("total_credited + ?", amount),
				"updated_at":     time.Now(),
			}))
}

func (r *walletRepo) DebitAvailable(walletID uint, amount float64) (*models.Wallet, error) {
	return r.mutate(walletID,
		r.db.Model(&models.Wallet{}).
			Where("id = ? AND status = ? AND available >= ?", walletID, models.WalletStatusActive, amount).
			Updates(map[string]interface{}{
				"available":     gorm.Expr("available - ?", amount),
				"total_debited": gorm.Expr("total_debited + ?", amount),
				"updated_at":    time.Now(),
			}))
}

func (r *walletRepo) LockAmount(walletID uint, amount float64) (*models.Wallet, error) {
	return r.mutate(walletID,
		r.db.Model(&models.Wallet{}).
			Where("id = ? AND status = ? AND available >= ?", walletID, models.WalletStatusActive, amount).
			Updates(map[string]interface{}{
				"available":  gorm.Expr("available - ?", amount),
				"locked":     gorm.Expr("locked + ?", amount),
				"updated_at": time.Now(),
			}))
}

func (r *walletRepo) ReleaseLockToAvailable(walletID uint, amount float64) (*models.Wallet, error) {
	return r.mutate(walletID,
		r.db.Model(&models.Wallet{}).
			Where("id = ? AND locked >= ?", walletID, amount).
			Updates(map[string]interface{}{
				"available":  gorm.Expr("available + ?", amount),
				"locked":     gorm.Expr("locked - ?", amount),
				"updated_at": time.Now(),
			}))
}

func (r *walletRepo) SettleLockedWithdrawal(walletID uint, amount float64) (*models.Wallet, error) {
	return r.mutate(walletID,
		r.db.Model(&models.Wallet{}).
			Where("id = ? AND locked >= ?", walletID, amount).
			Updates(map[string]interface{}{
				"locked":           gorm.Expr("locked - ?", amount),
				"total_withdrawn":  gorm.Expr("total_withdrawn + ?", amount),
				"withdrawal_count": gorm.Expr("withdrawal_count + 1"),
				"updated_at":       time.Now(),
			}))
}

func (r *walletRepo) IncrementFailedWithdrawals(walletID uint) error {
	return r.db.Model(&models.Wallet{}).
		Where("id = ?", walletID).
		Update("failed_withdrawals", gorm.Expr("failed_withdrawals + 1")).Error
}

// mutate inspects a guarded update's outcome. Zero rows affected means the
// database rejected the mutation; re-reading the row tells us why.
func (r *walletRepo) mutate(walletID uint, res *gorm.DB) (*models.Wallet, error) {
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		wallet, err := r.GetByID(walletID)
		if err != nil {
			return nil, err
		}
		if !wallet.IsActive() {
			return nil, apperr.ErrWalletNotActive
		}
		return nil, apperr.ErrInsufficientBalance
	}
	return r.GetByID(walletID)
}

func (r *walletRepo) CreateTransaction(tx *models.Transaction) error {
	err := r.db.Create(tx).Error
	// The partial unique index on (wallet_id, external_ref, type) is the
	// idempotency backstop for replayed references; surface it as the
	// domain duplicate so the surrounding transaction rolls back cleanly.
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return apperr.ErrDuplicateOperation
	}
	return err
}

func (r *walletRepo) UpdateTransactionStatus(transactionID, status string) error {
	res := r.db.Model(&models.Transaction{}).
		Where("transaction_id = ?", transactionID).
		Update("status", status)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

func (r *walletRepo) GetTransactionByRef(walletID uint, externalRef, txType string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.Where("wallet_id = ? AND external_ref = ? AND type = ?", walletID, externalRef, txType).
		Order("created_at DESC").
		First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperr.ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *walletRepo) GetTransactionHistory(ctx context.Context, walletID uint, filter HistoryFilter) ([]models.Transaction, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("wallet_id = ?", walletID)
	if filter.Type != "" {
		query = query.Where("type = ?", filter.Type)
	}
	if filter.From != nil {
		query = query.Where("created_at >= ?", *filter.From)
	}
	if filter.To != nil {
		query = query.Where("created_at < ?", *filter.To)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}

	var txs []models.Transaction
	err := query.Order("created_at DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&txs).Error
	if err != nil {
		return nil, 0, err
	}
	return txs, total, nil
}

func (r *walletRepo) SumOutflowsByTypeSince(ctx context.Context, walletID uint, txTypes []string, since time.Time) (float64, error) {
	var total float64
	err := r.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("COALESCE(SUM(-amount), 0)").
		Where("wallet_id = ? AND type IN ? AND amount < 0 AND status IN ? AND created_at >= ?",
			walletID, txTypes,
			[]string{models.TransactionStatusPending, models.TransactionStatusCompleted},
			since).
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *walletRepo) ExecuteInTransaction(fn func(WalletRepository) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(&walletRepo{db: tx})
	})
}
