package http

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ClientIPResolver extracts the real client address. Forwarding headers are
// only honoured when the direct peer is a trusted proxy.
type ClientIPResolver struct {
	trusted []*net.IPNet
}

// NewClientIPResolver parses the trusted proxy CIDR ranges; invalid ranges
// are skipped
func NewClientIPResolver(trustedProxies []string) *ClientIPResolver {
	r := &ClientIPResolver{}
	for _, cidr := range trustedProxies {
		if _, ipNet, err := net.ParseCIDR(strings.TrimSpace(cidr)); err == nil {
			r.trusted = append(r.trusted, ipNet)
		}
	}
	return r
}

// Resolve returns the client IP for r
func (cr *ClientIPResolver) Resolve(r *http.Request) string {
	remoteIP := remoteAddr(r)
	if !cr.isTrusted(remoteIP) {
		return remoteIP
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			if ip = strings.TrimSpace(ip); net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if xri := r.Header.Get("X-Real-IP"); net.ParseIP(xri) != nil {
		return xri
	}
	return remoteIP
}

// Middleware stores the resolved client IP in the request context
func (cr *ClientIPResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := WithClientIP(r.Context(), cr.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (cr *ClientIPResolver) isTrusted(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, ipNet := range cr.trusted {
		if ipNet.Contains(parsed) {
			return true
		}
	}
	return false
}

// WithClientIP returns a context carrying ip
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey{}, ip)
}

// ClientIPFromContext returns the IP set by WithClientIP, or ""
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey{}).(string)
	return ip
}

func remoteAddr(r *http.Request) string {
	if r.RemoteAddr == "" {
		return "unknown"
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return ip
	}
	return r.RemoteAddr
}
