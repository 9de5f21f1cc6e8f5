package handlers_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BradenHooton/sentinel/internal/handlers"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/stretchr/testify/assert"
)

func sessionFor(userID string) *models.Session {
	return &models.Session{
		ID:        "sess-1",
		UserID:    userID,
		DeviceID:  "dev-1",
		CreatedAt: time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC),
		IsActive:  true,
		RiskScore: 15,
	}
}

func sessionRequest(t *testing.T, method, url, userID string, roles ...string) *http.Request {
	t.Helper()
	req := handlers.NewTestRequest(t, method, url, nil)
	req = handlers.WithChiRouteContext(req, map[string]string{"id": "sess-1"})
	return handlers.WithAuthContext(req, userID, roles...)
}

// ============================================================================
// Create Tests (4 tests)
// ============================================================================

func TestSessionHandler_Create_WithDeviceID(t *testing.T) {
	identified := false
	svc := &handlers.MockSessionService{
		IdentifyDeviceFunc: func(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool, error) {
			identified = true
			return models.DeviceFingerprint{}, false, nil
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/sessions", handlers.CreateSessionRequest{DeviceID: "dev-9"}), "user-1")

	w := httptest.NewRecorder()
	h.Create(w, req)

	var resp models.Session
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "user-1", resp.UserID)
	assert.Equal(t, "dev-9", resp.DeviceID)
	assert.False(t, identified)
}

func TestSessionHandler_Create_DerivesDeviceFromSignals(t *testing.T) {
	identified := false
	svc := &handlers.MockSessionService{
		DeviceIDFunc: func(signals models.DeviceSignals) string {
			assert.Equal(t, "Mozilla/5.0", signals.UserAgent)
			return "derived-dev"
		},
		IdentifyDeviceFunc: func(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool, error) {
			identified = true
			return models.DeviceFingerprint{}, false, nil
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)
	body := handlers.CreateSessionRequest{Signals: &models.DeviceSignals{UserAgent: "Mozilla/5.0", Platform: "Linux"}}
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/sessions", body), "user-1")

	w := httptest.NewRecorder()
	h.Create(w, req)

	var resp models.Session
	handlers.AssertJSONResponse(t, w, http.StatusCreated, &resp)
	assert.Equal(t, "derived-dev", resp.DeviceID)
	assert.False(t, identified, "device must be left for the session to record")
}

func TestSessionHandler_Create_RequiresDevice(t *testing.T) {
	h := handlers.NewSessionHandler(&handlers.MockSessionService{}, discardLogger)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/sessions", handlers.CreateSessionRequest{}), "user-1")

	w := httptest.NewRecorder()
	h.Create(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
}

func TestSessionHandler_Create_InvalidIdentifier(t *testing.T) {
	svc := &handlers.MockSessionService{
		CreateSessionFunc: func(ctx context.Context, userID, deviceID string) (*models.Session, error) {
			return nil, models.ErrInvalidIdentifier
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/sessions", handlers.CreateSessionRequest{DeviceID: "dev-1"}), "bad id")

	w := httptest.NewRecorder()
	h.Create(w, req)

	handlers.AssertErrorResponse(t, w, http.StatusBadRequest, "validation_failed")
}

// ============================================================================
// Ownership Tests (4 tests)
// ============================================================================

func TestSessionHandler_Get_Owner(t *testing.T) {
	svc := &handlers.MockSessionService{
		GetSessionFunc: func(ctx context.Context, sessionID string) (*models.Session, error) {
			return sessionFor("user-1"), nil
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)

	w := httptest.NewRecorder()
	h.Get(w, sessionRequest(t, http.MethodGet, "/sessions/sess-1", "user-1"))

	var resp models.Session
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.Equal(t, 15, resp.RiskScore)
}

func TestSessionHandler_Get_OtherUserHidden(t *testing.T) {
	svc := &handlers.MockSessionService{
		GetSessionFunc: func(ctx context.Context, sessionID string) (*models.Session, error) {
			return sessionFor("user-1"), nil
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)

	w := httptest.NewRecorder()
	h.Get(w, sessionRequest(t, http.MethodGet, "/sessions/sess-1", "user-2"))

	handlers.AssertErrorResponse(t, w, http.StatusNotFound, "not_found")
}

func TestSessionHandler_Terminate_OperatorMayEndAnySession(t *testing.T) {
	var terminated string
	svc := &handlers.MockSessionService{
		GetSessionFunc: func(ctx context.Context, sessionID string) (*models.Session, error) {
			return sessionFor("user-1"), nil
		},
		TerminateSessionFunc: func(ctx context.Context, sessionID string) error {
			terminated = sessionID
			return nil
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)

	w := httptest.NewRecorder()
	h.Terminate(w, sessionRequest(t, http.MethodDelete, "/sessions/sess-1", "op-1", models.RoleSecurityOperator))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "sess-1", terminated)
}

func TestSessionHandler_Validate_Expired(t *testing.T) {
	svc := &handlers.MockSessionService{
		GetSessionFunc: func(ctx context.Context, sessionID string) (*models.Session, error) {
			return sessionFor("user-1"), nil
		},
		ValidateSessionFunc: func(ctx context.Context, sessionID string) (bool, error) {
			return false, nil
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)

	w := httptest.NewRecorder()
	h.Validate(w, sessionRequest(t, http.MethodGet, "/sessions/sess-1/validate", "user-1"))

	var resp handlers.ValidateSessionResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.False(t, resp.Valid)
}

// ============================================================================
// Device Tests (1 test)
// ============================================================================

func TestSessionHandler_IdentifyDevice(t *testing.T) {
	svc := &handlers.MockSessionService{
		IdentifyDeviceFunc: func(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool, error) {
			return models.DeviceFingerprint{DeviceID: "dev-1", SignalsHash: "abc"}, true, nil
		},
	}
	h := handlers.NewSessionHandler(svc, discardLogger)
	req := handlers.WithAuthContext(handlers.NewTestRequest(t, http.MethodPost, "/devices/identify", models.DeviceSignals{UserAgent: "curl"}), "user-1")

	w := httptest.NewRecorder()
	h.IdentifyDevice(w, req)

	var resp handlers.IdentifyDeviceResponse
	handlers.AssertJSONResponse(t, w, http.StatusOK, &resp)
	assert.True(t, resp.Novel)
	assert.Equal(t, "dev-1", resp.Device.DeviceID)
}
