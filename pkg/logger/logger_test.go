package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedContact(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"email", "alice@example.com", "a****@*******.com"},
		{"single letter user", "a@example.org", "a@*******.org"},
		{"phone", "+15551234567", "+1********67"},
		{"short phone", "123", "[invalid-phone]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizedContact(tt.in))
		})
	}
	assert.Equal(t, "[invalid-email]", SanitizedEmail("a@b@c"))
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("setup_token=abc"))
	assert.True(t, SanitizeQueryString("Contact=x"))
	assert.False(t, SanitizeQueryString("limit=50&severity=high"))
	assert.False(t, SanitizeQueryString(""))
}

func TestAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	al.Log(context.Background(), "evt-1", "mfa_verification", at, map[string]any{
		"success": false,
		"user_id": "alice",
		"elapsed": 2 * time.Second,
	})

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"], "failures log at warn")
	assert.Equal(t, "evt-1", line["audit_id"])
	assert.Equal(t, "mfa_verification", line["event_type"])
	assert.Equal(t, "2026-03-01T12:00:00Z", line["timestamp"])
	assert.Equal(t, "alice", line["user_id"])
	assert.Equal(t, false, line["success"])
}
