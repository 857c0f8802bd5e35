package handlers

import (
	"malipo/internal/services/topup"
	"malipo/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

type TopupHandler struct {
	topupService topup.Service
	log          *logrus.Entry
}

func NewTopupHandler(topupService topup.Service) *TopupHandler {
	return &TopupHandler{
		topupService: topupService,
		log:          logrus.WithField("component", "topup_handler"),
	}
}

// Initiate dispatches an STK push to the caller's phone. Funds arrive
// only after the gateway confirms the payment.
func (h *TopupHandler) Initiate(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	var input struct {
		Amount float64 `json:"amount"`
		Phone  string  `json:"phone"`
	}
	if err := c.BodyParser(&input); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if input.Phone == "" {
		input.Phone = claims.Phone
	}

	result, err := h.topupService.Initiate(c.Context(), claims.UserID, input.Amount, input.Phone)
	if err != nil {
		return response.Domain(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"message": "payment prompt sent",
		"data":    result,
	})
}

// Callback receives the gateway's asynchronous payment result. A
// processing error answers non-2xx so the gateway redelivers; replays
// of an already-settled payment are discarded by the reconciler, so
// asking for another delivery is safe.
func (h *TopupHandler) Callback(c *fiber.Ctx) error {
	if err := h.topupService.HandleCallback(c.Context(), c.Body()); err != nil {
		h.log.WithError(err).Error("callback processing failed")
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"ResultCode": 1,
			"ResultDesc": "Retry",
		})
	}
	return c.JSON(fiber.Map{
		"ResultCode": 0,
		"ResultDesc": "Accepted",
	})
}

// GatewayStatus returns the provider's view of a checkout for manual
// reconciliation. Operator only.
func (h *TopupHandler) GatewayStatus(c *fiber.Ctx) error {
	checkoutID := c.Params("checkoutID")
	if checkoutID == "" {
		return response.BadRequest(c, "checkout id is required")
	}

	status, err := h.topupService.GatewayStatus(c.Context(), checkoutID)
	if err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "gateway status", status)
}

// Confirm polls the gateway for a push whose callback has not arrived.
func (h *TopupHandler) Confirm(c *fiber.Ctx) error {
	claims, err := extractUserClaims(c)
	if err != nil {
		return response.Unauthorized(c)
	}

	checkoutID := c.Params("checkoutID")
	if checkoutID == "" {
		return response.BadRequest(c, "checkout id is required")
	}

	status, err := h.topupService.Confirm(c.Context(), claims.UserID, checkoutID)
	if err != nil {
		return response.Domain(c, err)
	}
	return response.Success(c, "top-up status", fiber.Map{"status": status})
}
