// Package mpesa is the STK push gateway client. It owns OAuth token
// caching, request signing and callback payload parsing; settlement
// decisions belong to the top-up reconciler, not here.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"malipo/internal/config"
	apperr "malipo/internal/errors"

	"github.com/sirupsen/logrus"
)

const (
	sandboxBaseURL    = "https://sandbox.safaricom.co.ke"
	productionBaseURL = "https://api.safaricom.co.ke"

	// Refresh this long before the provider-reported expiry so an
	// in-flight push never races an expiring token.
	tokenExpiryMargin = 60 * time.Second
)

// GatewayError preserves the provider's raw response for diagnostics.
type GatewayError struct {
	StatusCode int
	Body       string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the Daraja API.
type Client struct {
	baseURL    string
	cfg        config.MpesaConfig
	httpClient *http.Client
	log        *logrus.Entry

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

// NewClient creates a gateway client. It fails fast when credentials are
// incomplete so a misconfigured deployment surfaces at startup, not on
// the first customer top-up.
func NewClient(cfg config.MpesaConfig) (*Client, error) {
	if cfg.ConsumerKey == "" || cfg.ConsumerSecret == "" || cfg.ShortCode == "" || cfg.Passkey == "" || cfg.CallbackURL == "" {
		return nil, apperr.ErrConfigurationMissing.WithDetail("mpesa credentials are incomplete")
	}

	baseURL := sandboxBaseURL
	if cfg.Environment == "production" {
		baseURL = productionBaseURL
	}

	return &Client{
		baseURL:    baseURL,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		log:        logrus.WithField("component", "mpesa"),
	}, nil
}

// WithBaseURL overrides the API host, used by tests against a local
// stub server.
func (c *Client) WithBaseURL(baseURL string) *Client {
	c.baseURL = baseURL
	return c
}

// getToken returns a cached bearer token, fetching a fresh one when the
// cached token is within the expiry margin.
func (c *Client) getToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != "" && time.Now().Before(c.tokenExpiry) {
		return c.token, nil
	}

	url := c.baseURL + "/oauth/v1/generate?grant_type=client_credentials"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", apperr.ErrGatewayFailure.WithDetail("token request failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", &GatewayError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	var res struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   string `json:"expires_in"`
	}
	if err := json.Unmarshal(body, &res); err != nil {
		return "", apperr.ErrGatewayFailure.WithDetail("malformed token response")
	}
	if res.AccessToken == "" {
		return "", apperr.ErrGatewayFailure.WithDetail("empty access token")
	}

	ttl := 3600 * time.Second
	if secs, err := strconv.Atoi(res.ExpiresIn); err == nil && secs > 0 {
		ttl = time.Duration(secs) * time.Second
	}

	c.token = res.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - tokenExpiryMargin)
	return c.token, nil
}

// postJSON sends an authenticated JSON request and decodes the response
// into out. Non-2xx responses surface as GatewayError with the raw body.
func (c *Client) postJSON(ctx context.Context, path string, payload, out interface{}) error {
	token, err := c.getToken(ctx)
	if err != nil {
		return err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.ErrGatewayFailure.WithDetail("request failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &GatewayError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.ErrGatewayFailure.WithDetail("malformed gateway response")
	}
	return nil
}
