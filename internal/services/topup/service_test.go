package topup

import (
	"context"
	"fmt"
	"testing"
	"time"

	apperr "malipo/internal/errors"
	"malipo/internal/models"
	"malipo/internal/repositories"
	"malipo/internal/services/ledger"
	"malipo/internal/services/mpesa"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memSessionStore is a map-backed SessionStore.
type memSessionStore struct {
	sessions map[string]*CheckoutSession
}

func newMemSessionStore() *memSessionStore {
	return &memSessionStore{sessions: make(map[string]*CheckoutSession)}
}

func (s *memSessionStore) Save(ctx context.Context, checkoutID string, session *CheckoutSession) error {
	cp := *session
	s.sessions[checkoutID] = &cp
	return nil
}

func (s *memSessionStore) Get(ctx context.Context, checkoutID string) (*CheckoutSession, bool, error) {
	session, ok := s.sessions[checkoutID]
	if !ok {
		return nil, false, nil
	}
	cp := *session
	return &cp, true, nil
}

func (s *memSessionStore) Delete(ctx context.Context, checkoutID string) error {
	delete(s.sessions, checkoutID)
	return nil
}

// fakeGateway records pushes and returns scripted query results.
type fakeGateway struct {
	pushes      []string
	lastAmount  float64
	queryResult string
	pushErr     error
}

func (g *fakeGateway) STKPush(ctx context.Context, phone string, amount float64, accountRef string) (*mpesa.STKPushResponse, error) {
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	g.pushes = append(g.pushes, phone)
	g.lastAmount = amount
	return &mpesa.STKPushResponse{
		CheckoutRequestID: fmt.Sprintf("ws_CO_%d", len(g.pushes)),
		ResponseCode:      "0",
		CustomerMessage:   "Success. Request accepted for processing",
	}, nil
}

func (g *fakeGateway) QueryStatus(ctx context.Context, checkoutRequestID string) (*mpesa.STKQueryResponse, error) {
	return &mpesa.STKQueryResponse{
		CheckoutRequestID: checkoutRequestID,
		ResultCode:        g.queryResult,
	}, nil
}

// fakeWalletRepo covers only the reads the reconciler performs.
type fakeWalletRepo struct {
	repositories.WalletRepository
	wallet     *models.Wallet
	settledRef string
}

func (f *fakeWalletRepo) GetByUserID(userID uint) (*models.Wallet, error) {
	if f.wallet == nil || f.wallet.UserID != userID {
		return nil, apperr.ErrWalletNotFound
	}
	cp := *f.wallet
	return &cp, nil
}

func (f *fakeWalletRepo) GetTransactionByRef(walletID uint, externalRef, txType string) (*models.Transaction, error) {
	if f.settledRef != "" && f.settledRef == externalRef {
		return &models.Transaction{
			WalletID:    walletID,
			ExternalRef: externalRef,
			Type:        txType,
			Status:      models.TransactionStatusCompleted,
		}, nil
	}
	return nil, apperr.ErrNotFound
}

type creditCall struct {
	walletID uint
	amount   float64
	ref      string
}

// fakeLedger credits at most once per reference, mirroring the real
// ledger's replay behavior.
type fakeLedger struct {
	ledger.Service
	credits []creditCall
	seen    map[string]*models.Transaction
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{seen: make(map[string]*models.Transaction)}
}

func (f *fakeLedger) Credit(ctx context.Context, walletID uint, amount float64, description, externalRef string) (*models.Transaction, error) {
	if existing, ok := f.seen[externalRef]; ok {
		return existing, apperr.ErrDuplicateOperation
	}
	f.credits = append(f.credits, creditCall{walletID: walletID, amount: amount, ref: externalRef})
	tx := &models.Transaction{
		WalletID:    walletID,
		Amount:      amount,
		Type:        models.TransactionTypeCredit,
		Status:      models.TransactionStatusCompleted,
		ExternalRef: externalRef,
	}
	f.seen[externalRef] = tx
	return tx, nil
}

func testWallet() *models.Wallet {
	return &models.Wallet{
		ID:       7,
		UserID:   42,
		Currency: "KES",
		Status:   models.WalletStatusActive,
	}
}

func newTestService(wallet *models.Wallet) (Service, *fakeGateway, *memSessionStore, *fakeLedger, *fakeWalletRepo) {
	wallets := &fakeWalletRepo{wallet: wallet}
	gw := &fakeGateway{}
	sessions := newMemSessionStore()
	lg := newFakeLedger()
	return NewService(wallets, lg, gw, sessions, nil, nil), gw, sessions, lg, wallets
}

func successCallback(checkoutID string, amount float64) []byte {
	return []byte(fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": %q,
				"ResultCode": 0,
				"ResultDesc": "ok",
				"CallbackMetadata": {
					"Item": [
						{"Name": "Amount", "Value": %v},
						{"Name": "MpesaReceiptNumber", "Value": "QLX7PK91"}
					]
				}
			}
		}
	}`, checkoutID, amount))
}

func failureCallback(checkoutID string) []byte {
	return []byte(fmt.Sprintf(`{
		"Body": {
			"stkCallback": {
				"CheckoutRequestID": %q,
				"ResultCode": 1032,
				"ResultDesc": "Request cancelled by user"
			}
		}
	}`, checkoutID))
}

func TestInitiateDispatchesPushWithoutCrediting(t *testing.T) {
	svc, gw, sessions, lg, _ := newTestService(testWallet())

	result, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_1", result.CheckoutRequestID)

	// Phone normalized before reaching the gateway.
	require.Len(t, gw.pushes, 1)
	assert.Equal(t, "254712345678", gw.pushes[0])
	assert.Equal(t, 500.0, gw.lastAmount)

	session, found, _ := sessions.Get(context.Background(), "ws_CO_1")
	require.True(t, found)
	assert.Equal(t, uint(7), session.WalletID)
	assert.Equal(t, 500.0, session.Amount)

	assert.Empty(t, lg.credits)
}

func TestInitiateRejectsBadAmount(t *testing.T) {
	svc, gw, _, _, _ := newTestService(testWallet())

	_, err := svc.Initiate(context.Background(), 42, 2, "0712345678")
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)
	assert.Empty(t, gw.pushes)
}

func TestInitiateFrozenWallet(t *testing.T) {
	wallet := testWallet()
	wallet.Status = models.WalletStatusFrozen
	svc, gw, _, _, _ := newTestService(wallet)

	_, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	assert.ErrorIs(t, err, apperr.ErrWalletNotActive)
	assert.Empty(t, gw.pushes)
}

func TestCallbackCreditsWalletOnce(t *testing.T) {
	svc, _, sessions, lg, _ := newTestService(testWallet())

	_, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	require.NoError(t, err)

	err = svc.HandleCallback(context.Background(), successCallback("ws_CO_1", 500))
	require.NoError(t, err)

	require.Len(t, lg.credits, 1)
	assert.Equal(t, uint(7), lg.credits[0].walletID)
	assert.Equal(t, 500.0, lg.credits[0].amount)
	assert.Equal(t, "ws_CO_1", lg.credits[0].ref)

	_, found, _ := sessions.Get(context.Background(), "ws_CO_1")
	assert.False(t, found)
}

func TestDuplicateCallbackCreditsOnlyOnce(t *testing.T) {
	svc, _, _, lg, _ := newTestService(testWallet())

	_, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	require.NoError(t, err)

	require.NoError(t, svc.HandleCallback(context.Background(), successCallback("ws_CO_1", 500)))
	require.NoError(t, svc.HandleCallback(context.Background(), successCallback("ws_CO_1", 500)))

	assert.Len(t, lg.credits, 1)
}

func TestUnmatchedCallbackDiscarded(t *testing.T) {
	svc, _, _, lg, _ := newTestService(testWallet())

	err := svc.HandleCallback(context.Background(), successCallback("ws_CO_ghost", 500))
	assert.NoError(t, err)
	assert.Empty(t, lg.credits)
}

func TestFailedCallbackNeverCredits(t *testing.T) {
	svc, _, sessions, lg, _ := newTestService(testWallet())

	_, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	require.NoError(t, err)

	err = svc.HandleCallback(context.Background(), failureCallback("ws_CO_1"))
	assert.NoError(t, err)
	assert.Empty(t, lg.credits)

	_, found, _ := sessions.Get(context.Background(), "ws_CO_1")
	assert.False(t, found)
}

func TestAmountMismatchHeldForReview(t *testing.T) {
	svc, _, sessions, lg, _ := newTestService(testWallet())

	_, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	require.NoError(t, err)

	err = svc.HandleCallback(context.Background(), successCallback("ws_CO_1", 300))
	assert.NoError(t, err)
	assert.Empty(t, lg.credits)

	// The session stays around for the manual review path.
	_, found, _ := sessions.Get(context.Background(), "ws_CO_1")
	assert.True(t, found)
}

func TestConfirmSettlesOnGatewaySuccess(t *testing.T) {
	svc, gw, _, lg, _ := newTestService(testWallet())
	gw.queryResult = "0"

	_, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	require.NoError(t, err)

	status, err := svc.Confirm(context.Background(), 42, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, status)
	assert.Len(t, lg.credits, 1)
}

func TestConfirmReportsAlreadySettled(t *testing.T) {
	svc, _, _, lg, wallets := newTestService(testWallet())
	wallets.settledRef = "ws_CO_1"

	status, err := svc.Confirm(context.Background(), 42, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, models.TransactionStatusCompleted, status)
	assert.Empty(t, lg.credits)
}

func TestConfirmUnknownCheckout(t *testing.T) {
	svc, _, _, _, _ := newTestService(testWallet())

	_, err := svc.Confirm(context.Background(), 42, "ws_CO_ghost")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSessionCarriesCreationTime(t *testing.T) {
	svc, _, sessions, _, _ := newTestService(testWallet())

	before := time.Now()
	_, err := svc.Initiate(context.Background(), 42, 500, "0712345678")
	require.NoError(t, err)

	session, found, _ := sessions.Get(context.Background(), "ws_CO_1")
	require.True(t, found)
	assert.False(t, session.CreatedAt.Before(before.Add(-time.Second)))
}
