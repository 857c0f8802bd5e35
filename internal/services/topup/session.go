package topup

import (
	"context"
	"time"

	"malipo/internal/repositories/cache"
)

// CheckoutSession links a dispatched STK push to the wallet awaiting
// credit. It lives only until the callback (or expiry) settles it.
type CheckoutSession struct {
	WalletID  uint      `json:"wallet_id"`
	UserID    uint      `json:"user_id"`
	Amount    float64   `json:"amount"`
	Phone     string    `json:"phone"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionStore persists pending checkout sessions keyed by the
// gateway's checkout request id.
type SessionStore interface {
	Save(ctx context.Context, checkoutID string, session *CheckoutSession) error
	Get(ctx context.Context, checkoutID string) (*CheckoutSession, bool, error)
	Delete(ctx context.Context, checkoutID string) error
}

// Sessions older than this are abandoned; the gateway retries callbacks
// well within the window.
const sessionTTL = 24 * time.Hour

type redisSessionStore struct {
	cache *cache.CacheService
}

// NewRedisSessionStore backs the session store with the shared Redis
// cache service.
func NewRedisSessionStore(c *cache.CacheService) SessionStore {
	return &redisSessionStore{cache: c}
}

func (s *redisSessionStore) key(checkoutID string) string {
	return s.cache.GenerateKey("topup", "checkout", checkoutID)
}

func (s *redisSessionStore) Save(ctx context.Context, checkoutID string, session *CheckoutSession) error {
	return s.cache.SetWithTTL(ctx, s.key(checkoutID), session, sessionTTL)
}

func (s *redisSessionStore) Get(ctx context.Context, checkoutID string) (*CheckoutSession, bool, error) {
	var session CheckoutSession
	found, err := s.cache.Get(ctx, s.key(checkoutID), &session)
	if err != nil || !found {
		return nil, false, err
	}
	return &session, true, nil
}

func (s *redisSessionStore) Delete(ctx context.Context, checkoutID string) error {
	return s.cache.Delete(ctx, s.key(checkoutID))
}
