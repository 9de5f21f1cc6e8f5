package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "middleware-test-signing-secret"

func newTestTokenManager() *TokenManager {
	return NewTokenManager(testSecret, "sentinel", 10*time.Minute)
}

// claimsEcho writes 200 and captures the claims seen by the handler
func claimsEcho(seen **models.TokenClaims) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = GetUserFromContext(r)
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// ============================================================================
// Token Tests (4 tests)
// ============================================================================

func TestTokenManager_AccessToken_RoundTrip(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateAccessToken("user-1", time.Hour, models.RoleSecurityOperator)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.True(t, claims.HasRole(models.RoleSecurityOperator))
	assert.False(t, claims.HasRole("admin"))
}

func TestTokenManager_ValidateToken_RejectsSetupToken(t *testing.T) {
	tm := newTestTokenManager()

	token, err := tm.GenerateSetupToken("user-1", models.MFAKindTOTP)
	require.NoError(t, err)

	_, err = tm.ValidateToken(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_ValidateToken_WrongSecret(t *testing.T) {
	other := NewTokenManager("another-secret", "sentinel", time.Minute)
	token, err := other.GenerateAccessToken("user-1", time.Hour)
	require.NoError(t, err)

	_, err = newTestTokenManager().ValidateToken(token)
	assert.ErrorIs(t, err, models.ErrUnauthorized)
}

func TestTokenManager_ValidateSetupToken_BindsUserAndKind(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateSetupToken("user-1", models.MFAKindTOTP)
	require.NoError(t, err)

	assert.NoError(t, tm.ValidateSetupToken(token, "user-1", models.MFAKindTOTP))
	assert.ErrorIs(t, tm.ValidateSetupToken(token, "user-2", models.MFAKindTOTP), models.ErrUnauthorized)
	assert.ErrorIs(t, tm.ValidateSetupToken(token, "user-1", models.MFAKindSMS), models.ErrUnauthorized)
}

// ============================================================================
// AuthMiddleware Tests (4 tests)
// ============================================================================

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	var seen *models.TokenClaims
	rec := serve(AuthMiddleware(newTestTokenManager())(claimsEcho(&seen)), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	var seen *models.TokenClaims
	rec := serve(AuthMiddleware(newTestTokenManager())(claimsEcho(&seen)), "Token abc")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	var seen *models.TokenClaims
	rec := serve(AuthMiddleware(newTestTokenManager())(claimsEcho(&seen)), "Bearer not-a-jwt")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)
}

func TestAuthMiddleware_ValidToken_InjectsClaims(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("user-1", time.Hour)
	require.NoError(t, err)

	var seen *models.TokenClaims
	rec := serve(AuthMiddleware(tm)(claimsEcho(&seen)), "Bearer "+token)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.UserID)
}

// ============================================================================
// RequireRole Tests (3 tests)
// ============================================================================

func TestRequireRole_NoClaims(t *testing.T) {
	var seen *models.TokenClaims
	rec := serve(RequireRole(models.RoleSecurityOperator)(claimsEcho(&seen)), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireRole_MissingRole(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("user-1", time.Hour)
	require.NoError(t, err)

	var seen *models.TokenClaims
	h := AuthMiddleware(tm)(RequireRole(models.RoleSecurityOperator)(claimsEcho(&seen)))
	rec := serve(h, "Bearer "+token)

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Nil(t, seen)
}

func TestRequireRole_GrantedRole(t *testing.T) {
	tm := newTestTokenManager()
	token, err := tm.GenerateAccessToken("op-1", time.Hour, "viewer", models.RoleSecurityOperator)
	require.NoError(t, err)

	var seen *models.TokenClaims
	h := AuthMiddleware(tm)(RequireRole(models.RoleSecurityOperator)(claimsEcho(&seen)))
	rec := serve(h, "Bearer "+token)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "op-1", seen.UserID)
}
