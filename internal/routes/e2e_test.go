package routes

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/coordinator"
	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/middleware"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/notify"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/go-chi/chi/v5"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// outbox captures delivered notifications
type outbox struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (o *outbox) Notify(ctx context.Context, msg notify.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, msg)
	return nil
}

var codePattern = regexp.MustCompile(`code is (\d+)\.`)

// lastCode extracts the one-time code from the newest message to contact
func (o *outbox) lastCode(t *testing.T, contact string) string {
	t.Helper()
	o.mu.Lock()
	defer o.mu.Unlock()
	for i := len(o.sent) - 1; i >= 0; i-- {
		if o.sent[i].To == contact {
			m := codePattern.FindStringSubmatch(o.sent[i].Body)
			require.Len(t, m, 2, "no code in %q", o.sent[i].Body)
			return m[1]
		}
	}
	t.Fatalf("no message sent to %s", contact)
	return ""
}

type testServer struct {
	*httptest.Server
	tokens *auth.TokenManager
	outbox *outbox
}

func e2eConfig() *config.Config {
	return &config.Config{
		Identity: config.IdentityConfig{JWTSecret: "e2e-test-signing-secret"},
		MFA: config.MFAConfig{
			EncryptionKey:      bytes.Repeat([]byte{3}, 32),
			Issuer:             "Sentinel",
			BackupCodeCount:    10,
			BackupCodeCost:     bcrypt.MinCost,
			SetupTokenExpiry:   15 * time.Minute,
			DeliveryCodeExpiry: 5 * time.Minute,
			ChallengeExpiry:    2 * time.Minute,
		},
		Session: config.SessionConfig{
			MaxDuration:         8 * time.Hour,
			IdleTimeout:         30 * time.Minute,
			NovelDeviceWeight:   30,
			AnomalyWeight:       15,
			OffHoursWeight:      10,
			FlaggedDeviceWeight: 40,
			OffHoursStart:       0,
			OffHoursEnd:         24,
			RiskAlertThreshold:  70,
			Location:            time.UTC,
		},
		Detection: config.DetectionConfig{BruteForceThreshold: 5, BruteForceWindow: 15 * time.Minute},
		Incident: config.IncidentConfig{
			CorrelationThreshold: 3,
			CorrelationWindow:    time.Hour,
			ResolvedRetention:    24 * time.Hour,
		},
		Monitoring: config.MonitoringConfig{
			TickInterval:   time.Hour,
			AuthWeight:     0.4,
			SessionWeight:  0.3,
			IncidentWeight: 0.3,
			AuditCapacity:  100,
			AuditRetention: 24 * time.Hour,
		},
		Escalation: config.EscalationConfig{SecurityTeam: []string{"soc@example.com"}},
	}
}

// newTestServer serves the full route table over a real coordinator with
// in-memory storage
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := e2eConfig()
	box := &outbox{}

	security, err := coordinator.New(cfg, coordinator.Options{
		Store:      repositories.NewMemoryStore(),
		Notifier:   box,
		Registerer: prometheus.NewRegistry(),
	}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = security.Shutdown(ctx)
	})

	tokens := auth.NewTokenManager(cfg.Identity.JWTSecret, "", cfg.MFA.SetupTokenExpiry)
	router := chi.NewRouter()
	RegisterRoutes(router, Handlers{
		MFA:      handlers.NewMFAHandler(security, logger),
		Sessions: handlers.NewSessionHandler(security, logger),
		Security: handlers.NewSecurityHandler(security, logger),
	}, tokens, middleware.RateLimitConfig{RequestsPerMinute: 100})

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, tokens: tokens, outbox: box}
}

// call sends a JSON request as userID and decodes the response into out
func (s *testServer) call(t *testing.T, method, path, userID string, body, out any, roles ...string) int {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, s.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	token, err := s.tokens.GenerateAccessToken(userID, time.Hour, roles...)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestE2E_TOTPEnrollmentAndBackupCodes(t *testing.T) {
	s := newTestServer(t)

	var setup models.MFASetupResult
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/mfa/totp/setup", "alice", handlers.SetupMFARequest{}, &setup))
	require.NotEmpty(t, setup.ProvisioningURI)
	require.Len(t, setup.BackupCodes, 10)

	key, err := otp.NewKeyFromURL(setup.ProvisioningURI)
	require.NoError(t, err)
	code, err := totp.GenerateCode(key.Secret(), time.Now())
	require.NoError(t, err)

	var activated models.MFASetupVerification
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, "/mfa/totp/setup/verify", "alice",
		handlers.VerifyMFASetupRequest{SetupToken: setup.SetupToken, Code: code}, &activated))
	assert.True(t, activated.Activated)

	// A backup code works exactly once
	backup := setup.BackupCodes[0]
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodPost, "/mfa/totp/verify", "alice", handlers.VerifyMFACodeRequest{Code: backup}, nil))
	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodPost, "/mfa/totp/verify", "alice", handlers.VerifyMFACodeRequest{Code: backup}, nil))

	var status models.MFAStatus
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/mfa/status", "alice", nil, &status))
	require.Len(t, status.Methods, 1)
	assert.Equal(t, 9, status.Methods[0].RemainingBackupCodes)
}

func TestE2E_SetupTokenBoundToUser(t *testing.T) {
	s := newTestServer(t)

	var setup models.MFASetupResult
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/mfa/email/setup", "alice",
		handlers.SetupMFARequest{Contact: "alice@example.com"}, &setup))
	code := s.outbox.lastCode(t, "alice@example.com")

	// Bob cannot finish Alice's enrollment with her token
	assert.Equal(t, http.StatusUnauthorized, s.call(t, http.MethodPost, "/mfa/email/setup/verify", "bob",
		handlers.VerifyMFASetupRequest{SetupToken: setup.SetupToken, Code: code}, nil))

	assert.Equal(t, http.StatusOK, s.call(t, http.MethodPost, "/mfa/email/setup/verify", "alice",
		handlers.VerifyMFASetupRequest{SetupToken: setup.SetupToken, Code: code}, nil))
}

func TestE2E_SessionsAndOperatorView(t *testing.T) {
	s := newTestServer(t)

	var sess models.Session
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/sessions", "alice",
		handlers.CreateSessionRequest{Signals: &models.DeviceSignals{UserAgent: "Mozilla/5.0", Platform: "MacIntel"}}, &sess))
	assert.True(t, sess.IsActive)
	assert.True(t, sess.NovelDevice)

	var valid handlers.ValidateSessionResponse
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/sessions/"+sess.ID+"/validate", "alice", nil, &valid))
	assert.True(t, valid.Valid)

	// Another user sees nothing; operators see everything
	assert.Equal(t, http.StatusNotFound, s.call(t, http.MethodGet, "/sessions/"+sess.ID, "bob", nil, nil))
	assert.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/sessions/"+sess.ID, "op", nil, nil, models.RoleSecurityOperator))

	var inc models.SecurityIncident
	require.Equal(t, http.StatusCreated, s.call(t, http.MethodPost, "/security/incidents", "op",
		handlers.ReportFindingRequest{Type: string(models.IncidentUnusualAccessPattern), Severity: "medium", Source: "alice"},
		&inc, models.RoleSecurityOperator))

	var resolved models.SecurityIncident
	require.Equal(t, http.StatusOK, s.call(t, http.MethodPost, "/security/incidents/"+inc.ID+"/resolve", "op",
		handlers.ResolveIncidentRequest{Resolution: "confirmed and contained"}, &resolved, models.RoleSecurityOperator))
	assert.Equal(t, models.IncidentStatusResolved, resolved.Status)
	assert.Equal(t, http.StatusConflict, s.call(t, http.MethodPost, "/security/incidents/"+inc.ID+"/resolve", "op",
		handlers.ResolveIncidentRequest{Resolution: "again"}, nil, models.RoleSecurityOperator))

	var dashboard models.Dashboard
	require.Equal(t, http.StatusOK, s.call(t, http.MethodGet, "/security/dashboard", "op", nil, &dashboard, models.RoleSecurityOperator))
	assert.Equal(t, 1, dashboard.Metrics.Sessions.Active)
	assert.Equal(t, 1, dashboard.Metrics.Incidents.Resolved)
}
