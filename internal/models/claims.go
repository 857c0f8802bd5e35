package models

import "github.com/golang-jwt/jwt/v5"

// Roles supplied by the identity collaborator
const (
	RoleUser     = "user"
	RoleOperator = "operator"
	RoleAdmin    = "admin"
)

// Application permissions
const (
	PermissionWalletRead       = "wallet:read"
	PermissionWalletWrite      = "wallet:write"
	PermissionWithdrawalWrite  = "withdrawal:write"
	PermissionSettlementManage = "settlement:manage"
)

// UserClaims is the authenticated identity attached to every request.
// Identity management itself lives outside this service; only the claims
// cross the boundary.
type UserClaims struct {
	jwt.RegisteredClaims
	UserID      uint     `json:"user_id"`
	Phone       string   `json:"phone"`
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

// HasPermission checks if the claims include a specific permission.
func (c *UserClaims) HasPermission(permission string) bool {
	for _, p := range c.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// IsPrivileged reports whether the caller may resolve withdrawals and
// perform other settlement-operator actions.
func (c *UserClaims) IsPrivileged() bool {
	return c.Role == RoleOperator || c.Role == RoleAdmin
}
