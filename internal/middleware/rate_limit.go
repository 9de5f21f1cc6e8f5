package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/httprate"
)

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	RequestsPerMinute int
}

// DefaultMFAVerifyRateLimit returns the default limit for MFA verification
// endpoints (10 requests per minute)
func DefaultMFAVerifyRateLimit() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 10,
	}
}

// RateLimitByIP creates a middleware that rate limits requests by client IP.
// The IP comes from pkghttp.ClientIPResolver so forwarding headers are only
// trusted from configured proxies; the peer address is used otherwise.
func RateLimitByIP(config RateLimitConfig) func(next http.Handler) http.Handler {
	if config.RequestsPerMinute <= 0 {
		config = DefaultMFAVerifyRateLimit()
	}
	return httprate.Limit(
		config.RequestsPerMinute,
		1*time.Minute,
		httprate.WithKeyFuncs(clientIPKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "rate limit exceeded")
		}),
	)
}

func clientIPKey(r *http.Request) (string, error) {
	if ip := pkghttp.ClientIPFromContext(r.Context()); ip != "" {
		return ip, nil
	}
	return httprate.KeyByIP(r)
}
