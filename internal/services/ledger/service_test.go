package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	apperr "malipo/internal/errors"
	"malipo/internal/models"
	"malipo/internal/repositories"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memRepo is an in-memory WalletRepository honoring the same guard
// semantics as the database implementation.
type memRepo struct {
	mu      sync.Mutex
	txMu    sync.Mutex
	wallets map[uint]*models.Wallet
	txs     []*models.Transaction

	// rejectCreditFor simulates a recipient whose wallet refuses credits,
	// e.g. frozen between validation and apply.
	rejectCreditFor uint

	// lookupBarrier, when set, holds callers whose reference lookup came
	// up empty until all of them have passed the replay check, forcing the
	// interleaving where concurrent deliveries race into the transaction.
	lookupBarrier *sync.WaitGroup
}

func newMemRepo(wallets ...*models.Wallet) *memRepo {
	r := &memRepo{wallets: make(map[uint]*models.Wallet)}
	for _, w := range wallets {
		cp := *w
		r.wallets[w.ID] = &cp
	}
	return r
}

func (r *memRepo) Create(w *models.Wallet) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w.ID == 0 {
		w.ID = uint(len(r.wallets) + 1)
	}
	cp := *w
	r.wallets[w.ID] = &cp
	return nil
}

func (r *memRepo) GetByID(id uint) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.getLocked(id)
}

func (r *memRepo) getLocked(id uint) (*models.Wallet, error) {
	w, ok := r.wallets[id]
	if !ok {
		return nil, apperr.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (r *memRepo) GetByUserID(userID uint) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.wallets {
		if w.UserID == userID {
			cp := *w
			return &cp, nil
		}
	}
	return nil, apperr.ErrWalletNotFound
}

func (r *memRepo) UpdateStatus(walletID uint, status, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return apperr.ErrWalletNotFound
	}
	w.Status = status
	w.StatusReason = reason
	return nil
}

func (r *memRepo) SetPin(walletID uint, pinHash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return apperr.ErrWalletNotFound
	}
	w.PinHash = pinHash
	w.PinEnabled = true
	return nil
}

func (r *memRepo) CreditAvailable(walletID uint, amount float64) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, apperr.ErrWalletNotFound
	}
	if !w.IsActive() || walletID == r.rejectCreditFor {
		return nil, apperr.ErrWalletNotActive
	}
	w.Available += amount
	w.TotalCredited += amount
	return r.getLocked(walletID)
}

func (r *memRepo) DebitAvailable(walletID uint, amount float64) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, apperr.ErrWalletNotFound
	}
	if !w.IsActive() {
		return nil, apperr.ErrWalletNotActive
	}
	if w.Available < amount {
		return nil, apperr.ErrInsufficientBalance
	}
	w.Available -= amount
	w.TotalDebited += amount
	return r.getLocked(walletID)
}

func (r *memRepo) LockAmount(walletID uint, amount float64) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, apperr.ErrWalletNotFound
	}
	if !w.IsActive() {
		return nil, apperr.ErrWalletNotActive
	}
	if w.Available < amount {
		return nil, apperr.ErrInsufficientBalance
	}
	w.Available -= amount
	w.Locked += amount
	return r.getLocked(walletID)
}

func (r *memRepo) ReleaseLockToAvailable(walletID uint, amount float64) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, apperr.ErrWalletNotFound
	}
	if w.Locked < amount {
		return nil, apperr.ErrInsufficientBalance
	}
	w.Locked -= amount
	w.Available += amount
	return r.getLocked(walletID)
}

func (r *memRepo) SettleLockedWithdrawal(walletID uint, amount float64) (*models.Wallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	w, ok := r.wallets[walletID]
	if !ok {
		return nil, apperr.ErrWalletNotFound
	}
	if w.Locked < amount {
		return nil, apperr.ErrInsufficientBalance
	}
	w.Locked -= amount
	w.TotalWithdrawn += amount
	w.WithdrawalCount++
	return r.getLocked(walletID)
}

func (r *memRepo) IncrementFailedWithdrawals(walletID uint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if w, ok := r.wallets[walletID]; ok {
		w.FailedWithdrawals++
	}
	return nil
}

func (r *memRepo) CreateTransaction(tx *models.Transaction) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Same uniqueness rule as the partial index on
	// (wallet_id, external_ref, type).
	if tx.ExternalRef != "" {
		for _, existing := range r.txs {
			if existing.WalletID == tx.WalletID && existing.ExternalRef == tx.ExternalRef && existing.Type == tx.Type {
				return apperr.ErrDuplicateOperation
			}
		}
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now()
	}
	cp := *tx
	r.txs = append(r.txs, &cp)
	return nil
}

func (r *memRepo) UpdateTransactionStatus(transactionID, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, tx := range r.txs {
		if tx.TransactionID == transactionID {
			tx.Status = status
			return nil
		}
	}
	return apperr.ErrNotFound
}

func (r *memRepo) GetTransactionByRef(walletID uint, externalRef, txType string) (*models.Transaction, error) {
	r.mu.Lock()
	var found *models.Transaction
	for i := len(r.txs) - 1; i >= 0; i-- {
		tx := r.txs[i]
		if tx.WalletID == walletID && tx.ExternalRef == externalRef && tx.Type == txType {
			cp := *tx
			found = &cp
			break
		}
	}
	barrier := r.lookupBarrier
	r.mu.Unlock()

	if found != nil {
		return found, nil
	}
	if barrier != nil {
		barrier.Done()
		barrier.Wait()
	}
	return nil, apperr.ErrNotFound
}

func (r *memRepo) GetTransactionHistory(ctx context.Context, walletID uint, filter repositories.HistoryFilter) ([]models.Transaction, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.Transaction
	for i := len(r.txs) - 1; i >= 0; i-- {
		tx := r.txs[i]
		if tx.WalletID != walletID {
			continue
		}
		if filter.Type != "" && tx.Type != filter.Type {
			continue
		}
		out = append(out, *tx)
	}
	return out, int64(len(out)), nil
}

func (r *memRepo) SumOutflowsByTypeSince(ctx context.Context, walletID uint, txTypes []string, since time.Time) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total float64
	for _, tx := range r.txs {
		if tx.WalletID != walletID || tx.Amount >= 0 || tx.CreatedAt.Before(since) {
			continue
		}
		if tx.Status != models.TransactionStatusPending && tx.Status != models.TransactionStatusCompleted {
			continue
		}
		for _, t := range txTypes {
			if tx.Type == t {
				total += -tx.Amount
				break
			}
		}
	}
	return total, nil
}

// ExecuteInTransaction serializes units of work and restores the snapshot
// taken at entry when the unit fails, mirroring a database rollback.
func (r *memRepo) ExecuteInTransaction(fn func(repositories.WalletRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	r.mu.Lock()
	walletSnap := make(map[uint]*models.Wallet, len(r.wallets))
	for id, w := range r.wallets {
		cp := *w
		walletSnap[id] = &cp
	}
	txSnap := make([]*models.Transaction, len(r.txs))
	for i, tx := range r.txs {
		cp := *tx
		txSnap[i] = &cp
	}
	r.mu.Unlock()

	if err := fn(r); err != nil {
		r.mu.Lock()
		r.wallets = walletSnap
		r.txs = txSnap
		r.mu.Unlock()
		return err
	}
	return nil
}

func activeWallet(id uint, available float64) *models.Wallet {
	return &models.Wallet{
		ID:                 id,
		UserID:             id,
		Available:          available,
		Currency:           "KES",
		Status:             models.WalletStatusActive,
		DailyTransferLimit: 300000,
	}
}

func TestCreditAppendsEntryAndMovesBalance(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 100))
	svc := NewService(repo, nil)

	tx, err := svc.Credit(context.Background(), 1, 250, "mpesa top-up", "chk-1")
	require.NoError(t, err)

	assert.Equal(t, models.TransactionTypeCredit, tx.Type)
	assert.Equal(t, models.TransactionStatusCompleted, tx.Status)
	assert.Equal(t, 250.0, tx.Amount)
	assert.Equal(t, 100.0, tx.BalanceBefore)
	assert.Equal(t, 350.0, tx.BalanceAfter)

	w, _ := repo.GetByID(1)
	assert.Equal(t, 350.0, w.Available)
	assert.Equal(t, 250.0, w.TotalCredited)
}

func TestDebitInsufficientBalanceLeavesNoTrace(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 100))
	svc := NewService(repo, nil)

	_, err := svc.Debit(context.Background(), 1, 500, "purchase", "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)

	w, _ := repo.GetByID(1)
	assert.Equal(t, 100.0, w.Available)
	assert.Empty(t, repo.txs)
}

func TestDebitRejectsNonPositiveAmount(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 100))
	svc := NewService(repo, nil)

	for _, amount := range []float64{0, -5} {
		_, err := svc.Debit(context.Background(), 1, amount, "bad", "")
		assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	}
}

func TestCreditReplayReturnsExistingEntry(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 0))
	svc := NewService(repo, nil)

	first, err := svc.Credit(context.Background(), 1, 100, "mpesa top-up", "chk-9")
	require.NoError(t, err)

	second, err := svc.Credit(context.Background(), 1, 100, "mpesa top-up", "chk-9")
	assert.ErrorIs(t, err, apperr.ErrDuplicateOperation)
	require.NotNil(t, second)
	assert.Equal(t, first.TransactionID, second.TransactionID)

	// Credited exactly once.
	w, _ := repo.GetByID(1)
	assert.Equal(t, 100.0, w.Available)
	assert.Len(t, repo.txs, 1)
}

func TestConcurrentCreditSameReferenceAppliesOnce(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 0))
	// Hold both callers after their replay checks miss, so each one enters
	// the transaction believing the reference is unused.
	var barrier sync.WaitGroup
	barrier.Add(2)
	repo.lookupBarrier = &barrier
	svc := NewService(repo, nil)

	var (
		wg      sync.WaitGroup
		entries [2]*models.Transaction
		errs    [2]error
	)
	wg.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer wg.Done()
			entries[i], errs[i] = svc.Credit(context.Background(), 1, 100, "mpesa top-up", "chk-race")
		}(i)
	}
	wg.Wait()

	winner, loser := 0, 1
	if errs[0] != nil {
		winner, loser = 1, 0
	}
	require.NoError(t, errs[winner])
	assert.ErrorIs(t, errs[loser], apperr.ErrDuplicateOperation)

	// The loser still receives the entry that won.
	require.NotNil(t, entries[loser])
	assert.Equal(t, entries[winner].TransactionID, entries[loser].TransactionID)

	// Credited exactly once despite two deliveries.
	w, _ := repo.GetByID(1)
	assert.Equal(t, 100.0, w.Available)
	assert.Len(t, repo.txs, 1)
}

func TestCreditFrozenWalletRejected(t *testing.T) {
	w := activeWallet(1, 0)
	w.Status = models.WalletStatusFrozen
	repo := newMemRepo(w)
	svc := NewService(repo, nil)

	_, err := svc.Credit(context.Background(), 1, 100, "mpesa top-up", "")
	assert.ErrorIs(t, err, apperr.ErrWalletNotActive)
}

func TestTransferMovesFundsWithLinkedPair(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 1000), activeWallet(2, 50))
	svc := NewService(repo, nil)

	result, err := svc.Transfer(context.Background(), 1, 2, 300, "rent share")
	require.NoError(t, err)

	sender, _ := repo.GetByID(1)
	recipient, _ := repo.GetByID(2)
	assert.Equal(t, 700.0, sender.Available)
	assert.Equal(t, 350.0, recipient.Available)

	require.NotNil(t, result.Debit)
	require.NotNil(t, result.Credit)
	assert.Equal(t, result.Reference, result.Debit.ExternalRef)
	assert.Equal(t, result.Reference, result.Credit.ExternalRef)
	assert.Equal(t, -300.0, result.Debit.Amount)
	assert.Equal(t, 300.0, result.Credit.Amount)
	require.NotNil(t, result.Debit.CounterpartyID)
	assert.Equal(t, uint(2), *result.Debit.CounterpartyID)
	require.NotNil(t, result.Credit.CounterpartyID)
	assert.Equal(t, uint(1), *result.Credit.CounterpartyID)
}

func TestTransferInsufficientFundsNoEntries(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 100), activeWallet(2, 0))
	svc := NewService(repo, nil)

	_, err := svc.Transfer(context.Background(), 1, 2, 500, "")
	assert.ErrorIs(t, err, apperr.ErrInsufficientBalance)
	assert.Empty(t, repo.txs)
}

func TestTransferToSelfRejected(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 100))
	svc := NewService(repo, nil)

	_, err := svc.Transfer(context.Background(), 1, 1, 50, "")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
}

func TestTransferCompensatesWhenCreditFails(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 1000), activeWallet(2, 0))
	repo.rejectCreditFor = 2
	svc := NewService(repo, nil)

	_, err := svc.Transfer(context.Background(), 1, 2, 400, "")
	assert.ErrorIs(t, err, apperr.ErrWalletNotActive)

	// Sender made whole by the reversing entry.
	sender, _ := repo.GetByID(1)
	assert.Equal(t, 1000.0, sender.Available)

	var types []string
	for _, tx := range repo.txs {
		types = append(types, tx.Type)
	}
	assert.Equal(t, []string{models.TransactionTypeTransfer, models.TransactionTypeRefund}, types)
}

func TestTransferDailyLimitEnforced(t *testing.T) {
	sender := activeWallet(1, 500000)
	sender.DailyTransferLimit = 1000
	repo := newMemRepo(sender, activeWallet(2, 0))
	svc := NewService(repo, nil)

	_, err := svc.Transfer(context.Background(), 1, 2, 800, "")
	require.NoError(t, err)

	_, err = svc.Transfer(context.Background(), 1, 2, 300, "")
	assert.ErrorIs(t, err, apperr.ErrLimitExceeded)
}

func TestIncomingTransfersDoNotConsumeRecipientLimit(t *testing.T) {
	recipient := activeWallet(2, 0)
	recipient.DailyTransferLimit = 1000
	repo := newMemRepo(activeWallet(1, 100000), recipient)
	svc := NewService(repo, nil)

	// Receiving more than the recipient's own cap is fine.
	_, err := svc.Transfer(context.Background(), 1, 2, 900, "")
	require.NoError(t, err)
	_, err = svc.Transfer(context.Background(), 1, 2, 900, "")
	require.NoError(t, err)

	// And the recipient can still send up to their full cap.
	_, err = svc.Transfer(context.Background(), 2, 1, 1000, "")
	assert.NoError(t, err)
}

func TestLockForWithdrawalMovesAvailableToLocked(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 1000))
	svc := NewService(repo, nil)

	entry, err := svc.LockForWithdrawal(context.Background(), 1, 400, "WDR-1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusPending, entry.Status)
	assert.Equal(t, -400.0, entry.Amount)

	w, _ := repo.GetByID(1)
	assert.Equal(t, 600.0, w.Available)
	assert.Equal(t, 400.0, w.Locked)
	assert.Equal(t, 1000.0, w.Balance())
}

func TestLockForWithdrawalDuplicateRef(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 1000))
	svc := NewService(repo, nil)

	_, err := svc.LockForWithdrawal(context.Background(), 1, 400, "WDR-1")
	require.NoError(t, err)

	_, err = svc.LockForWithdrawal(context.Background(), 1, 400, "WDR-1")
	assert.ErrorIs(t, err, apperr.ErrDuplicateOperation)

	w, _ := repo.GetByID(1)
	assert.Equal(t, 400.0, w.Locked)
}

func TestReleaseLockCompleted(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 1000))
	svc := NewService(repo, nil)

	_, err := svc.LockForWithdrawal(context.Background(), 1, 400, "WDR-1")
	require.NoError(t, err)

	err = svc.ReleaseLock(context.Background(), 1, 400, "WDR-1", OutcomeCompleted)
	require.NoError(t, err)

	w, _ := repo.GetByID(1)
	assert.Equal(t, 600.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)
	assert.Equal(t, 400.0, w.TotalWithdrawn)
	assert.Equal(t, 1, w.WithdrawalCount)

	entry, err := repo.GetTransactionByRef(1, "WDR-1", models.TransactionTypeWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, entry.Status)
}

func TestReleaseLockFailedRefundsAvailable(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 1000))
	svc := NewService(repo, nil)

	_, err := svc.LockForWithdrawal(context.Background(), 1, 400, "WDR-1")
	require.NoError(t, err)

	err = svc.ReleaseLock(context.Background(), 1, 400, "WDR-1", OutcomeFailed)
	require.NoError(t, err)

	w, _ := repo.GetByID(1)
	assert.Equal(t, 1000.0, w.Available)
	assert.Equal(t, 0.0, w.Locked)
	assert.Equal(t, 1, w.FailedWithdrawals)

	entry, err := repo.GetTransactionByRef(1, "WDR-1", models.TransactionTypeWithdrawal)
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusFailed, entry.Status)
}

func TestReleaseLockTerminalEntryIsIdempotent(t *testing.T) {
	repo := newMemRepo(activeWallet(1, 1000))
	svc := NewService(repo, nil)

	_, err := svc.LockForWithdrawal(context.Background(), 1, 400, "WDR-1")
	require.NoError(t, err)
	require.NoError(t, svc.ReleaseLock(context.Background(), 1, 400, "WDR-1", OutcomeCompleted))

	err = svc.ReleaseLock(context.Background(), 1, 400, "WDR-1", OutcomeFailed)
	assert.ErrorIs(t, err, apperr.ErrDuplicateOperation)

	// No second settlement happened.
	w, _ := repo.GetByID(1)
	assert.Equal(t, 600.0, w.Available)
	assert.Equal(t, 400.0, w.TotalWithdrawn)
}
