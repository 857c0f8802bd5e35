package response

import (
	"errors"

	apperr "malipo/internal/errors"

	"github.com/gofiber/fiber/v2"
)

func Success(c *fiber.Ctx, message string, data interface{}) error {
	return c.JSON(fiber.Map{
		"message": message,
		"data":    data,
	})
}

func Error(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error": message,
		"code":  code,
	})
}

func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, "INVALID_INPUT", message)
}

func ServerError(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusInternalServerError, "INTERNAL", message)
}

func Unauthorized(c *fiber.Ctx) error {
	return Error(c, fiber.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized")
}

func Forbidden(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusForbidden, "NOT_AUTHORIZED", message)
}

// Domain translates a domain error into the matching HTTP response so
// callers can render distinct messaging per taxonomy kind. Unknown errors
// collapse to a generic 500 without leaking internal text.
func Domain(c *fiber.Ctx, err error) error {
	var de *apperr.DomainError
	if !errors.As(err, &de) {
		return ServerError(c, "service temporarily unavailable")
	}

	status := fiber.StatusBadRequest
	switch de.Code {
	case apperr.ErrNotFound.Code, apperr.ErrWalletNotFound.Code:
		status = fiber.StatusNotFound
	case apperr.ErrNotAuthorized.Code:
		status = fiber.StatusForbidden
	case apperr.ErrDuplicateOperation.Code:
		status = fiber.StatusConflict
	case apperr.ErrInsufficientBalance.Code, apperr.ErrLimitExceeded.Code:
		status = fiber.StatusUnprocessableEntity
	case apperr.ErrGatewayFailure.Code, apperr.ErrConfigurationMissing.Code:
		status = fiber.StatusBadGateway
	}
	return Error(c, status, de.Code, de.Message)
}
