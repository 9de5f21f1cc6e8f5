package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/stretchr/testify/assert"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/mfa/totp/verify", nil)
	return req.WithContext(pkghttp.WithClientIP(req.Context(), ip))
}

// ============================================================================
// RateLimitByIP Tests (3 tests)
// ============================================================================

func TestRateLimitByIP_BlocksAfterLimit(t *testing.T) {
	h := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 2})(okHandler())

	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		h.ServeHTTP(w, requestFrom("203.0.113.7"))
		assert.Equal(t, http.StatusOK, w.Code)
	}

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("203.0.113.7"))
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_exceeded")
}

func TestRateLimitByIP_KeysOnResolvedClientIP(t *testing.T) {
	h := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	w := httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("203.0.113.7"))
	assert.Equal(t, http.StatusOK, w.Code)

	// Same peer address, different resolved client
	w = httptest.NewRecorder()
	h.ServeHTTP(w, requestFrom("198.51.100.9"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRateLimitByIP_IgnoresSpoofedForwardingHeader(t *testing.T) {
	h := RateLimitByIP(RateLimitConfig{RequestsPerMinute: 1})(okHandler())

	first := requestFrom("203.0.113.7")
	first.Header.Set("X-Forwarded-For", "10.0.0.1")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, first)
	assert.Equal(t, http.StatusOK, w.Code)

	second := requestFrom("203.0.113.7")
	second.Header.Set("X-Forwarded-For", "10.0.0.2")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, second)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
}
