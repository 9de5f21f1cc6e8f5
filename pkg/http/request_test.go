package http_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/stretchr/testify/assert"
)

func TestClientIPResolver_DirectConnection_IgnoresHeaders(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "203.0.113.10:54321"
	req.Header.Set("X-Forwarded-For", "1.2.3.4, 5.6.7.8")
	req.Header.Set("X-Real-IP", "192.168.1.1")

	resolver := pkghttp.NewClientIPResolver([]string{"10.0.0.0/8", "127.0.0.1/32"})

	assert.Equal(t, "203.0.113.10", resolver.Resolve(req))
}

func TestClientIPResolver_TrustedProxy(t *testing.T) {
	tests := []struct {
		name    string
		remote  string
		xff     string
		realIP  string
		trusted []string
		want    string
	}{
		{"uses first forwarded address", "10.0.0.5:1", "203.0.113.42, 10.0.0.5", "", []string{"10.0.0.0/8"}, "203.0.113.42"},
		{"skips garbage entries", "10.0.0.5:1", "garbage, 198.51.100.7", "", []string{"10.0.0.0/8"}, "198.51.100.7"},
		{"falls back to X-Real-IP", "10.0.0.5:1", "", "198.51.100.9", []string{"10.0.0.0/8"}, "198.51.100.9"},
		{"ipv6 proxy", "[2001:db8::1]:443", "203.0.113.1", "", []string{"2001:db8::/32"}, "203.0.113.1"},
		{"invalid cidr is ignored", "10.0.0.5:1", "203.0.113.42", "", []string{"not-a-cidr"}, "10.0.0.5"},
		{"no proxies configured", "127.0.0.1:1", "203.0.113.42", "", nil, "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remote
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.realIP != "" {
				req.Header.Set("X-Real-IP", tt.realIP)
			}

			assert.Equal(t, tt.want, pkghttp.NewClientIPResolver(tt.trusted).Resolve(req))
		})
	}
}

func TestClientIPResolver_Middleware_StoresIP(t *testing.T) {
	resolver := pkghttp.NewClientIPResolver(nil)

	var seen string
	handler := resolver.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = pkghttp.ClientIPFromContext(r.Context())
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.23:8080"
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, "198.51.100.23", seen)
}

func TestClientIPFromContext_Empty(t *testing.T) {
	assert.Equal(t, "", pkghttp.ClientIPFromContext(context.Background()))
}
