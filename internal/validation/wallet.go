package validation

import (
	"malipo/internal/models"
)

// TopUp validates a top-up initiation request.
func (v *Validator) TopUp(amount float64, phone string) {
	v.Range("amount", amount, MinTopUpAmount, MaxTransactionAmount)
	v.Required("phone", phone)
	v.Phone("phone", phone)
}

// Transfer validates a peer-to-peer transfer request.
func (v *Validator) Transfer(senderWalletID, recipientWalletID uint, amount float64, description string) {
	v.Required("recipient_id", recipientWalletID)
	v.Range("amount", amount, MinTransactionAmount, MaxTransactionAmount)
	v.MaxLength("description", description, MaxDescriptionLength)

	if senderWalletID != 0 && senderWalletID == recipientWalletID {
		v.AddError("recipient_id", "cannot transfer to self")
	}
}

// Withdrawal validates a withdrawal request shape. Balance and limit
// checks happen later against the live wallet.
func (v *Validator) Withdrawal(amount float64, method, phone, accountNumber string) {
	v.Range("amount", amount, MinTransactionAmount, MaxTransactionAmount)

	switch method {
	case models.WithdrawalMethodMpesa:
		v.Required("phone", phone)
		v.Phone("phone", phone)
	case models.WithdrawalMethodBank:
		v.Required("account_number", accountNumber)
	default:
		v.AddError("method", "must be mpesa or bank")
	}
}
