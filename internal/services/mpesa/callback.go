package mpesa

import (
	"encoding/json"
	"regexp"
	"strconv"
	"strings"

	apperr "malipo/internal/errors"
)

// CallbackPayload mirrors the gateway's asynchronous STK result wire
// format.
type CallbackPayload struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// CallbackResult is the parsed settlement outcome of one push.
type CallbackResult struct {
	CheckoutRequestID string
	MerchantRequestID string
	Success           bool
	ResultCode        int
	ResultDesc        string
	Amount            float64
	ReceiptNumber     string
	Phone             string
}

// ParseCallback decodes and flattens a raw callback body. Metadata items
// are present only on success.
func ParseCallback(raw []byte) (*CallbackResult, error) {
	var payload CallbackPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, apperr.ErrInvalidInput.WithDetail("malformed callback payload")
	}

	cb := payload.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		return nil, apperr.ErrInvalidInput.WithDetail("callback missing checkout request id")
	}

	result := &CallbackResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		Success:           cb.ResultCode == 0,
		ResultCode:        cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
	}

	if !result.Success {
		return result, nil
	}

	for _, item := range cb.CallbackMetadata.Item {
		switch item.Name {
		case "Amount":
			if v, ok := item.Value.(float64); ok {
				result.Amount = v
			}
		case "MpesaReceiptNumber":
			if v, ok := item.Value.(string); ok {
				result.ReceiptNumber = v
			}
		case "PhoneNumber":
			// The gateway sends the phone as a JSON number.
			switch v := item.Value.(type) {
			case float64:
				result.Phone = strconv.FormatFloat(v, 'f', 0, 64)
			case string:
				result.Phone = v
			}
		}
	}
	return result, nil
}

var kenyanPhone = regexp.MustCompile(`^254(7|1)\d{8}$`)

// NormalizePhone converts local Kenyan formats (07XX, +2547XX, 2547XX)
// into the canonical 254XXXXXXXXX form the gateway requires.
func NormalizePhone(phone string) (string, error) {
	p := strings.TrimSpace(phone)
	p = strings.TrimPrefix(p, "+")
	if strings.HasPrefix(p, "0") {
		p = "254" + p[1:]
	}
	if !kenyanPhone.MatchString(p) {
		return "", apperr.ErrInvalidInput.WithDetail("phone %q is not a valid Kenyan mobile number", phone)
	}
	return p, nil
}
