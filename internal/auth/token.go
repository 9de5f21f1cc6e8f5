package auth

import (
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenManager signs MFA setup tokens and verifies bearer tokens issued by
// the upstream identity provider. Both share one HMAC secret.
type TokenManager struct {
	secret           string
	issuer           string
	setupTokenExpiry time.Duration
}

// NewTokenManager creates a new TokenManager
func NewTokenManager(secret, issuer string, setupTokenExpiry time.Duration) *TokenManager {
	return &TokenManager{
		secret:           secret,
		issuer:           issuer,
		setupTokenExpiry: setupTokenExpiry,
	}
}

// GenerateAccessToken mints an identity-provider style access token. The
// service itself never authenticates users; this exists for local tooling.
func (tm *TokenManager) GenerateAccessToken(userID string, expiry time.Duration, roles ...string) (string, error) {
	return tm.sign(models.TokenTypeAccess, userID, "", expiry, roles)
}

// GenerateSetupToken binds a pending MFA setup to (userID, kind)
func (tm *TokenManager) GenerateSetupToken(userID string, kind models.MFAKind) (string, error) {
	return tm.sign(models.TokenTypeMFASetup, userID, kind, tm.setupTokenExpiry, nil)
}

func (tm *TokenManager) sign(tokenType, userID string, kind models.MFAKind, expiry time.Duration, roles []string) (string, error) {
	now := time.Now()
	claims := &models.TokenClaims{
		Type:   tokenType,
		UserID: userID,
		Kind:   kind,
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    tm.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(tm.secret))
	if err != nil {
		return "", fmt.Errorf("failed to sign %s token: %w", tokenType, err)
	}
	return tokenString, nil
}

// ValidateToken verifies an access token and returns its claims
func (tm *TokenManager) ValidateToken(tokenString string) (*models.TokenClaims, error) {
	claims, err := tm.parse(tokenString)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess {
		return nil, fmt.Errorf("%w: unexpected token type %q", models.ErrUnauthorized, claims.Type)
	}
	return claims, nil
}

// ValidateSetupToken verifies a setup token was issued for userID and kind
func (tm *TokenManager) ValidateSetupToken(tokenString, userID string, kind models.MFAKind) error {
	claims, err := tm.parse(tokenString)
	if err != nil {
		return err
	}
	if claims.Type != models.TokenTypeMFASetup || claims.UserID != userID || claims.Kind != kind {
		return fmt.Errorf("%w: setup token does not match pending method", models.ErrUnauthorized)
	}
	return nil
}

func (tm *TokenManager) parse(tokenString string) (*models.TokenClaims, error) {
	claims := &models.TokenClaims{}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if tm.issuer != "" {
		opts = append(opts, jwt.WithIssuer(tm.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		return []byte(tm.secret), nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse token: %v", models.ErrUnauthorized, err)
	}
	if !token.Valid {
		return nil, models.ErrUnauthorized
	}
	if claims.UserID == "" {
		return nil, fmt.Errorf("%w: token missing user_id", models.ErrUnauthorized)
	}
	return claims, nil
}
