// Package wallet manages wallet lifecycle: provisioning, reads, PIN
// security and administrative status changes. Balance mutations live in
// the ledger service, never here.
package wallet

import (
	"context"
	"errors"

	apperr "malipo/internal/errors"
	"malipo/internal/models"
	"malipo/internal/repositories"
	"malipo/internal/services/audit"
	"malipo/internal/validation"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Cache is the read-side wallet cache. The Redis-backed CacheService
// satisfies it in production.
type Cache interface {
	GetWallet(ctx context.Context, userID uint) (*models.Wallet, bool)
	CacheWallet(ctx context.Context, wallet *models.Wallet) error
	InvalidateWallet(ctx context.Context, userID uint) error
}

// Service manages wallet lifecycle operations.
type Service interface {
	CreateWallet(ctx context.Context, userID uint) (*models.Wallet, error)
	GetWallet(ctx context.Context, userID uint) (*models.Wallet, error)
	GetWalletByID(ctx context.Context, walletID uint) (*models.Wallet, error)
	GetHistory(ctx context.Context, walletID uint, filter repositories.HistoryFilter) ([]models.Transaction, int64, error)
	SetPin(ctx context.Context, userID uint, pin string) error
	VerifyPin(ctx context.Context, userID uint, pin string) error
	Freeze(ctx context.Context, walletID uint, reason string) error
	Unfreeze(ctx context.Context, walletID uint) error
}

type service struct {
	repo  repositories.WalletRepository
	cache Cache
	audit audit.Service
	log   *logrus.Entry
}

// NewService creates a new wallet service. The cache is optional; a nil
// cache degrades to repository reads.
func NewService(repo repositories.WalletRepository, cache Cache, auditSvc audit.Service) Service {
	if repo == nil {
		panic("repo is required")
	}
	if auditSvc == nil {
		auditSvc = audit.NewService()
	}
	return &service{
		repo:  repo,
		cache: cache,
		audit: auditSvc,
		log:   logrus.WithField("component", "wallet"),
	}
}

// CreateWallet provisions a wallet for the user, or returns the existing
// one. Provisioning is idempotent per user.
func (s *service) CreateWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	if userID == 0 {
		return nil, apperr.ErrInvalidInput.WithDetail("user id is required")
	}

	if existing, err := s.repo.GetByUserID(userID); err == nil {
		return existing, nil
	} else if !errors.Is(err, apperr.ErrWalletNotFound) {
		return nil, err
	}

	wallet := &models.Wallet{
		UserID: userID,
		Status: models.WalletStatusActive,
	}
	if err := s.repo.Create(wallet); err != nil {
		// Lost a provisioning race; the winner's row is the wallet.
		if existing, getErr := s.repo.GetByUserID(userID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	s.audit.Record(ctx, audit.Event{
		Action:   "wallet.created",
		UserID:   userID,
		WalletID: wallet.ID,
	})
	s.log.WithFields(logrus.Fields{"user_id": userID, "wallet_id": wallet.ID}).Info("wallet provisioned")
	return wallet, nil
}

func (s *service) GetWallet(ctx context.Context, userID uint) (*models.Wallet, error) {
	if s.cache != nil {
		if wallet, found := s.cache.GetWallet(ctx, userID); found {
			return wallet, nil
		}
	}

	wallet, err := s.repo.GetByUserID(userID)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.CacheWallet(ctx, wallet); err != nil {
			s.log.WithError(err).Warn("failed to cache wallet")
		}
	}
	return wallet, nil
}

func (s *service) GetWalletByID(ctx context.Context, walletID uint) (*models.Wallet, error) {
	return s.repo.GetByID(walletID)
}

func (s *service) GetHistory(ctx context.Context, walletID uint, filter repositories.HistoryFilter) ([]models.Transaction, int64, error) {
	if _, err := s.repo.GetByID(walletID); err != nil {
		return nil, 0, err
	}
	return s.repo.GetTransactionHistory(ctx, walletID, filter)
}

func (s *service) SetPin(ctx context.Context, userID uint, pin string) error {
	v := validation.New()
	v.Pin("pin", pin)
	if !v.Valid() {
		return apperr.ErrInvalidInput.WithDetail(v.Error())
	}

	wallet, err := s.repo.GetByUserID(userID)
	if err != nil {
		return err
	}
	if !wallet.IsActive() {
		return apperr.ErrWalletNotActive
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := s.repo.SetPin(wallet.ID, string(hash)); err != nil {
		return err
	}

	s.invalidate(ctx, userID)
	s.audit.Record(ctx, audit.Event{
		Action:   "wallet.pin_changed",
		UserID:   userID,
		WalletID: wallet.ID,
		Details:  map[string]interface{}{"pin_was_enabled": wallet.PinEnabled},
	})
	return nil
}

func (s *service) VerifyPin(ctx context.Context, userID uint, pin string) error {
	wallet, err := s.repo.GetByUserID(userID)
	if err != nil {
		return err
	}
	if !wallet.PinEnabled {
		return apperr.ErrInvalidInput.WithDetail("no pin set for wallet")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(wallet.PinHash), []byte(pin)); err != nil {
		return apperr.ErrNotAuthorized.WithDetail("incorrect pin")
	}
	return nil
}

// Freeze suspends all balance-changing operations on the wallet. Frozen
// funds stay on the books; only the status gate changes.
func (s *service) Freeze(ctx context.Context, walletID uint, reason string) error {
	wallet, err := s.repo.GetByID(walletID)
	if err != nil {
		return err
	}
	if wallet.Status == models.WalletStatusFrozen {
		return nil
	}
	if wallet.Status == models.WalletStatusClosed {
		return apperr.ErrWalletNotActive.WithDetail("closed wallet cannot be frozen")
	}

	if err := s.repo.UpdateStatus(walletID, models.WalletStatusFrozen, reason); err != nil {
		return err
	}

	s.invalidate(ctx, wallet.UserID)
	s.audit.Record(ctx, audit.Event{
		Action:   "wallet.frozen",
		UserID:   wallet.UserID,
		WalletID: walletID,
		Before:   wallet.Status,
		After:    models.WalletStatusFrozen,
		Details:  map[string]interface{}{"reason": reason},
	})
	return nil
}

func (s *service) Unfreeze(ctx context.Context, walletID uint) error {
	wallet, err := s.repo.GetByID(walletID)
	if err != nil {
		return err
	}
	if wallet.Status != models.WalletStatusFrozen {
		return apperr.ErrInvalidInput.WithDetail("wallet is not frozen")
	}

	if err := s.repo.UpdateStatus(walletID, models.WalletStatusActive, ""); err != nil {
		return err
	}

	s.invalidate(ctx, wallet.UserID)
	s.audit.Record(ctx, audit.Event{
		Action:   "wallet.unfrozen",
		UserID:   wallet.UserID,
		WalletID: walletID,
		Before:   models.WalletStatusFrozen,
		After:    models.WalletStatusActive,
	})
	return nil
}

func (s *service) invalidate(ctx context.Context, userID uint) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateWallet(ctx, userID); err != nil {
		s.log.WithError(err).Warn("failed to invalidate wallet cache")
	}
}
