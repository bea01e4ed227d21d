package auth

import "github.com/golang-jwt/jwt/v5"

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims is the JWT body for tenant API tokens.
// Every token is scoped to exactly one tenant; quota, agents and sessions are
// looked up under TenantID and never under a client-supplied id.
type Claims struct {
	jwt.RegisteredClaims

	UserID    string    `json:"user_id"`
	TenantID  string    `json:"tenant_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
}
