// Package handlers exposes the settlement API over HTTP. Handlers parse
// and authorize requests, then delegate to the services; no balance
// logic lives here.
package handlers

import (
	"strconv"
	"time"

	"malipo/internal/middleware"
	"malipo/internal/models"
	"malipo/internal/repositories"
	"malipo/internal/services/wallet"
	"malipo/internal/utils/pagination"
	"malipo/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type WalletHandler struct {
	walletService wallet.Service
}

func NewWalletHandler(walletService wallet.Service) *WalletHandler {
	return &WalletHandler{walletService: walletService}
}

// extractUserClaims is a helper to reduce duplication across handlers.
func extractUserClaims(c *fiber.Ctx) (*models.UserClaims, error) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		return nil, fiber.ErrUnauthorized
	}
	return claims, nil
}

// CreateWallet provisions a wallet for the authenticated user. Repeated
// calls return the same wallet.
func (h *WalletHandler) CreateWallet(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	w, err := h.walletService.CreateWallet(c.Context(), claims.UserID)
	if err != nil {
		return response.Domain(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "wallet ready",
		"data":    w,
	})
}

func (h *WalletHandler) GetWallet(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	w, err := h.walletService.GetWallet(c.Context(), claims.UserID)
	if err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "wallet retrieved", w)
}

// GetHistory returns the wallet's ledger entries, newest first, with
// optional type and time-range filters.
func (h *WalletHandler) GetHistory(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	w, err := h.walletService.GetWallet(c.Context(), claims.UserID)
	if err != nil {
		return response.Domain(c, err)
	}

	p := pagination.ParseFromRequest(c)
	filter := repositories.HistoryFilter{
		Type:   c.Query("type"),
		Limit:  p.Limit,
		Offset: p.Offset,
	}
	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return response.BadRequest(c, "from must be RFC3339")
		}
		filter.From = &t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return response.BadRequest(c, "to must be RFC3339")
		}
		filter.To = &t
	}

	txs, total, err := h.walletService.GetHistory(c.Context(), w.ID, filter)
	if err != nil {
		return response.Domain(c, err)
	}

	p.Total = total
	return c.JSON(pagination.Response(p, txs))
}

func (h *WalletHandler) SetPin(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Pin string `json:"pin"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.walletService.SetPin(c.Context(), claims.UserID, input.Pin); err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "pin updated", nil)
}

// Freeze suspends a wallet. Operator only.
func (h *WalletHandler) Freeze(c *fiber.Ctx) error {
	walletID, err := parseWalletID(c)
	if err != nil {
		return response.BadRequest(c, "invalid wallet id")
	}

	var input struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if input.Reason == "" {
		return response.BadRequest(c, "reason is required")
	}

	if err := h.walletService.Freeze(c.Context(), walletID, input.Reason); err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "wallet frozen", nil)
}

// Unfreeze reactivates a frozen wallet. Operator only.
func (h *WalletHandler) Unfreeze(c *fiber.Ctx) error {
	walletID, err := parseWalletID(c)
	if err != nil {
		return response.BadRequest(c, "invalid wallet id")
	}

	if err := h.walletService.Unfreeze(c.Context(), walletID); err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "wallet reactivated", nil)
}

func parseWalletID(c *fiber.Ctx) (uint, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 32)
	if err != nil || id == 0 {
		return 0, fiber.ErrBadRequest
	}
	return uint(id), nil
}
