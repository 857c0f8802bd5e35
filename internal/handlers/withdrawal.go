package handlers

import (
	apperr "malipo/internal/errors"
	"malipo/internal/services/wallet"
	"malipo/internal/services/withdrawal"
	"malipo/internal/utils/pagination"
	"malipo/internal/utils/response"

	"github.com/gofiber/fiber/v2"
)

type WithdrawalHandler struct {
	withdrawalService withdrawal.Service
	walletService     wallet.Service
}

func NewWithdrawalHandler(withdrawalService withdrawal.Service, walletService wallet.Service) *WithdrawalHandler {
	return &WithdrawalHandler{
		withdrawalService: withdrawalService,
		walletService:     walletService,
	}
}

// Request submits a withdrawal. The amount is locked immediately and
// released only by a terminal resolution.
func (h *WithdrawalHandler) Request(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var req withdrawal.Request
	if err := c.BodyParser(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	w, err := h.withdrawalService.RequestWithdrawal(c.Context(), claims.UserID, req)
	if err != nil {
		return response.Domain(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"message": "withdrawal requested",
		"data":    w,
	})
}

func (h *WithdrawalHandler) List(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	wlt, err := h.walletService.GetWallet(c.Context(), claims.UserID)
	if err != nil {
		return response.Domain(c, err)
	}

	p := pagination.ParseFromRequest(c)
	list, total, err := h.withdrawalService.ListWithdrawals(c.Context(), wlt.ID, p.Limit, p.Offset)
	if err != nil {
		return response.Domain(c, err)
	}

	p.Total = total
	return c.JSON(pagination.Response(p, list))
}

func (h *WithdrawalHandler) Get(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	w, err := h.withdrawalService.GetWithdrawal(c.Context(), c.Params("withdrawalID"))
	if err != nil {
		return response.Domain(c, err)
	}

	// Owners see their own withdrawals; operators see all.
	if !claims.IsPrivileged() {
		wlt, err := h.walletService.GetWallet(c.Context(), claims.UserID)
		if err != nil {
			return response.Domain(c, err)
		}
		if w.WalletID != wlt.ID {
			return response.Domain(c, apperr.ErrNotAuthorized)
		}
	}
	return response.Success(c, "withdrawal retrieved", w)
}

// Cancel aborts a pending withdrawal and refunds the locked amount.
func (h *WithdrawalHandler) Cancel(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	w, err := h.withdrawalService.Cancel(c.Context(), claims.UserID, c.Params("withdrawalID"))
	if err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "withdrawal cancelled", w)
}

// MarkProcessing moves a pending withdrawal into processing. Operator
// only.
func (h *WithdrawalHandler) MarkProcessing(c *fiber.Ctx) error {
	withdrawalID := c.Params("withdrawalID")
	if err := h.withdrawalService.MarkProcessing(c.Context(), withdrawalID); err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "withdrawal processing", nil)
}

// Resolve finalizes a withdrawal with its payout outcome. Operator only.
func (h *WithdrawalHandler) Resolve(c *fiber.Ctx) error {
	var res withdrawal.Resolution
	if err := c.BodyParser(&res); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	w, err := h.withdrawalService.Resolve(c.Context(), c.Params("withdrawalID"), res)
	if err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "withdrawal resolved", w)
}
