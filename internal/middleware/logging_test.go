package middleware

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, nil)), &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	return line
}

// ============================================================================
// SecureLogger Tests (3 tests)
// ============================================================================

func TestSecureLogger_RedactsSensitiveQuery(t *testing.T) {
	logger, buf := captureLogger()
	h := SecureLogger(logger)(okHandler())

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/mfa/status?setup_token=abc", nil))

	line := decodeLine(t, buf)
	assert.Equal(t, "/mfa/status?[REDACTED]", line["path"])
	assert.Equal(t, "INFO", line["level"])
	assert.EqualValues(t, 200, line["status"])
}

func TestSecureLogger_LevelFollowsStatus(t *testing.T) {
	logger, buf := captureLogger()
	h := SecureLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/security/dashboard?limit=5", nil))

	line := decodeLine(t, buf)
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "/security/dashboard?limit=5", line["path"])
}

func TestSecureLogger_RecordsAuthenticatedUser(t *testing.T) {
	logger, buf := captureLogger()
	tm := auth.NewTokenManager("logging-test-secret", "", 0)
	token, err := tm.GenerateAccessToken("user-42", time.Minute)
	require.NoError(t, err)

	h := SecureLogger(logger)(auth.AuthMiddleware(tm)(RecordUser(okHandler())))
	req := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)

	line := decodeLine(t, buf)
	assert.Equal(t, "user-42", line["user_id"])
}
