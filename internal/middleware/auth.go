// Package middleware provides HTTP middleware for the settlement API.
// Identity lives outside this service; requests arrive carrying a signed
// JWT and only the claims cross the boundary.
package middleware

import (
	"strings"

	"malipo/internal/config"
	"malipo/internal/models"
	"malipo/internal/utils/response"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// ClaimsKey is the Locals key the validated claims live under.
const ClaimsKey = "claims"

// Auth validates the bearer token and attaches the claims to the
// request context.
func Auth(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return response.Unauthorized(c)
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return response.Unauthorized(c)
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &models.UserClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(config.GetEnv("JWT_SECRET", "")), nil
	})
	if err != nil || !token.Valid {
		return response.Unauthorized(c)
	}

	claims, ok := token.Claims.(*models.UserClaims)
	if !ok || claims.UserID == 0 {
		return response.Unauthorized(c)
	}

	c.Locals(ClaimsKey, claims)
	return c.Next()
}

// HasPermission allows requests whose claims carry the named permission.
// Privileged roles pass regardless of their permission list.
func HasPermission(permission string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		claims := GetClaims(c)
		if claims == nil {
			return response.Unauthorized(c)
		}
		if claims.IsPrivileged() {
			return c.Next()
		}
		if !claims.HasPermission(permission) {
			return response.Forbidden(c, "missing permission: "+permission)
		}
		return c.Next()
	}
}

// RequirePrivileged allows only operator and admin roles through.
func RequirePrivileged(c *fiber.Ctx) error {
	claims := GetClaims(c)
	if claims == nil {
		return response.Unauthorized(c)
	}
	if !claims.IsPrivileged() {
		return response.Forbidden(c, "operator access required")
	}
	return c.Next()
}

// GetClaims returns the authenticated claims, or nil when the request
// skipped the auth middleware.
func GetClaims(c *fiber.Ctx) *models.UserClaims {
	claims, _ := c.Locals(ClaimsKey).(*models.UserClaims)
	return claims
}
