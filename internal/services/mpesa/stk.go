package mpesa

import (
	"context"
	"encoding/base64"
	"math"
	"time"

	apperr "malipo/internal/errors"
)

const (
	maxAccountReferenceLen = 12
	maxTransactionDescLen  = 13
)

// STKPushResponse is the synchronous acknowledgement of a push request.
// ResponseCode "0" means the prompt was dispatched to the handset; the
// actual payment outcome arrives later on the callback.
type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// STKQueryResponse is the status of a previously dispatched push.
type STKQueryResponse struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResponseCode      string `json:"ResponseCode"`
	ResultCode        string `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
}

// STKPush asks the gateway to prompt the phone for payment. The phone
// must already be normalized to 2547XXXXXXXX form.
func (c *Client) STKPush(ctx context.Context, phone string, amount float64, accountRef string) (*STKPushResponse, error) {
	if amount <= 0 {
		return nil, apperr.ErrInvalidInput.WithDetail("amount must be positive")
	}

	timestamp := time.Now().Format("20060102150405")
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            int(math.Round(amount)),
		"PartyA":            phone,
		"PartyB":            c.cfg.ShortCode,
		"PhoneNumber":       phone,
		"CallBackURL":       c.cfg.CallbackURL,
		"AccountReference":  truncate(accountRef, maxAccountReferenceLen),
		"TransactionDesc":   truncate("Wallet top-up", maxTransactionDescLen),
	}

	var res STKPushResponse
	if err := c.postJSON(ctx, "/mpesa/stkpush/v1/processrequest", payload, &res); err != nil {
		return nil, err
	}
	if res.ResponseCode != "0" {
		return &res, apperr.ErrGatewayFailure.WithDetail("push rejected: %s", res.ResponseDescription)
	}

	c.log.WithField("checkout_request_id", res.CheckoutRequestID).Info("stk push dispatched")
	return &res, nil
}

// QueryStatus polls the gateway for the outcome of a dispatched push.
// Used defensively when a callback seems lost.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (*STKQueryResponse, error) {
	timestamp := time.Now().Format("20060102150405")
	payload := map[string]interface{}{
		"BusinessShortCode": c.cfg.ShortCode,
		"Password":          c.password(timestamp),
		"Timestamp":         timestamp,
		"CheckoutRequestID": checkoutRequestID,
	}

	var res STKQueryResponse
	if err := c.postJSON(ctx, "/mpesa/stkpushquery/v1/query", payload, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// password derives the request signature: base64 of shortcode, passkey
// and timestamp concatenated.
func (c *Client) password(timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ShortCode + c.cfg.Passkey + timestamp))
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
