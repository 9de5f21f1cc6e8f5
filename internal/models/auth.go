package models

import "github.com/golang-jwt/jwt/v5"

// Token types
const (
	TokenTypeAccess   = "access"    // issued by the upstream identity provider
	TokenTypeMFASetup = "mfa_setup" // binds a pending MFA setup to its user and kind
)

// Roles granted by the identity provider
const (
	RoleSecurityOperator = "security_operator"
)

type TokenClaims struct {
	Type   string   `json:"type"`
	UserID string   `json:"user_id"`
	Kind   MFAKind  `json:"kind,omitempty"`
	Roles  []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// HasRole reports whether the token grants role
func (c *TokenClaims) HasRole(role string) bool {
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}
