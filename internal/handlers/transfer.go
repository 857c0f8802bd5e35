package handlers

import (
	apperr "malipo/internal/errors"
	"malipo/internal/services/ledger"
	"malipo/internal/services/wallet"
	"malipo/internal/utils/response"
	"malipo/internal/validation"

	"github.com/gofiber/fiber/v2"
)

type TransferHandler struct {
	walletService wallet.Service
	ledgerService ledger.Service
}

func NewTransferHandler(walletService wallet.Service, ledgerService ledger.Service) *TransferHandler {
	return &TransferHandler{
		walletService: walletService,
		ledgerService: ledgerService,
	}
}

// Transfer moves funds from the caller's wallet to another wallet. When
// the sender has a PIN enabled, the PIN must accompany the request.
func (h *TransferHandler) Transfer(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		RecipientWalletID uint    `json:"recipient_wallet_id"`
		Amount            float64 `json:"amount"`
		Description       string  `json:"description"`
		Pin               string  `json:"pin"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	sender, err := h.walletService.GetWallet(c.Context(), claims.UserID)
	if err != nil {
		return response.Domain(c, err)
	}

	v := validation.New()
	v.Transfer(sender.ID, input.RecipientWalletID, input.Amount, input.Description)
	if !v.Valid() {
		return response.BadRequest(c, v.Error())
	}

	if sender.PinEnabled {
		if err := h.walletService.VerifyPin(c.Context(), claims.UserID, input.Pin); err != nil {
			return response.Domain(c, apperr.ErrNotAuthorized.WithDetail("pin verification failed"))
		}
	}

	result, err := h.ledgerService.Transfer(c.Context(), sender.ID, input.RecipientWalletID, input.Amount, input.Description)
	if err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "transfer completed", result)
}
