package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/incident"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
)

// NewTestRequest creates an HTTP request with JSON body for testing
func NewTestRequest(t *testing.T, method, url string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, url, &buf)
	req.Header.Set("Content-Type", "application/json")
	return req
}

// WithAuthContext adds access token claims to the request context
func WithAuthContext(req *http.Request, userID string, roles ...string) *http.Request {
	claims := &models.TokenClaims{
		Type:   models.TokenTypeAccess,
		UserID: userID,
		Roles:  roles,
	}
	ctx := context.WithValue(req.Context(), auth.UserContextKey, claims)
	return req.WithContext(ctx)
}

// WithChiRouteContext sets URL parameters the chi router would normally
// extract from the path.
//
// Example usage:
//
//	req := httptest.NewRequest("GET", "/mfa/totp/verify", body)
//	req = WithChiRouteContext(req, map[string]string{"kind": "totp"})
func WithChiRouteContext(r *http.Request, params map[string]string) *http.Request {
	rctx := chi.NewRouteContext()
	for key, value := range params {
		rctx.URLParams.Add(key, value)
	}
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// AssertJSONResponse checks that response has correct status and decodes JSON body
func AssertJSONResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, target any) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"), "Content-Type should be application/json")

	if target != nil {
		err := json.Unmarshal(w.Body.Bytes(), target)
		assert.NoError(t, err, "Failed to decode response JSON")
	}
}

// AssertErrorResponse checks that response is a valid error response
func AssertErrorResponse(t *testing.T, w *httptest.ResponseRecorder, expectedStatus int, expectedError string) {
	t.Helper()
	assert.Equal(t, expectedStatus, w.Code, "Response status mismatch")

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err, "Failed to decode error response")
	assert.Equal(t, expectedError, resp.Error, "Error code mismatch")
	assert.NotEmpty(t, resp.Message, "Error message should not be empty")
}

// MockMFAService implements MFAService for testing. Unset funcs return zero
// values.
type MockMFAService struct {
	SetupMFAFunc              func(ctx context.Context, userID string, kind models.MFAKind, contact string) (*models.MFASetupResult, error)
	VerifySetupTokenFunc      func(token, userID string, kind models.MFAKind) error
	VerifyMFASetupFunc        func(ctx context.Context, userID string, kind models.MFAKind, code string) (*models.MFASetupVerification, error)
	VerifyMFAFunc             func(ctx context.Context, userID string, kind models.MFAKind, code string) (bool, error)
	IssueMFAChallengeFunc     func(ctx context.Context, userID string, kind models.MFAKind) ([]byte, error)
	RemoveMFAFunc             func(ctx context.Context, userID string, kind models.MFAKind) error
	RegenerateBackupCodesFunc func(ctx context.Context, userID string, kind models.MFAKind) ([]string, error)
	MFAStatusFunc             func(userID string) (*models.MFAStatus, error)
}

func (m *MockMFAService) SetupMFA(ctx context.Context, userID string, kind models.MFAKind, contact string) (*models.MFASetupResult, error) {
	if m.SetupMFAFunc != nil {
		return m.SetupMFAFunc(ctx, userID, kind, contact)
	}
	return &models.MFASetupResult{}, nil
}

func (m *MockMFAService) VerifySetupToken(token, userID string, kind models.MFAKind) error {
	if m.VerifySetupTokenFunc != nil {
		return m.VerifySetupTokenFunc(token, userID, kind)
	}
	return nil
}

func (m *MockMFAService) VerifyMFASetup(ctx context.Context, userID string, kind models.MFAKind, code string) (*models.MFASetupVerification, error) {
	if m.VerifyMFASetupFunc != nil {
		return m.VerifyMFASetupFunc(ctx, userID, kind, code)
	}
	return &models.MFASetupVerification{Activated: true}, nil
}

func (m *MockMFAService) VerifyMFA(ctx context.Context, userID string, kind models.MFAKind, code string) (bool, error) {
	if m.VerifyMFAFunc != nil {
		return m.VerifyMFAFunc(ctx, userID, kind, code)
	}
	return false, nil
}

func (m *MockMFAService) IssueMFAChallenge(ctx context.Context, userID string, kind models.MFAKind) ([]byte, error) {
	if m.IssueMFAChallengeFunc != nil {
		return m.IssueMFAChallengeFunc(ctx, userID, kind)
	}
	return nil, nil
}

func (m *MockMFAService) RemoveMFA(ctx context.Context, userID string, kind models.MFAKind) error {
	if m.RemoveMFAFunc != nil {
		return m.RemoveMFAFunc(ctx, userID, kind)
	}
	return nil
}

func (m *MockMFAService) RegenerateBackupCodes(ctx context.Context, userID string, kind models.MFAKind) ([]string, error) {
	if m.RegenerateBackupCodesFunc != nil {
		return m.RegenerateBackupCodesFunc(ctx, userID, kind)
	}
	return nil, nil
}

func (m *MockMFAService) MFAStatus(userID string) (*models.MFAStatus, error) {
	if m.MFAStatusFunc != nil {
		return m.MFAStatusFunc(userID)
	}
	return &models.MFAStatus{UserID: userID}, nil
}

// MockSessionService implements SessionService for testing
type MockSessionService struct {
	IdentifyDeviceFunc   func(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool, error)
	DeviceIDFunc         func(signals models.DeviceSignals) string
	CreateSessionFunc    func(ctx context.Context, userID, deviceID string) (*models.Session, error)
	ValidateSessionFunc  func(ctx context.Context, sessionID string) (bool, error)
	TerminateSessionFunc func(ctx context.Context, sessionID string) error
	GetSessionFunc       func(ctx context.Context, sessionID string) (*models.Session, error)
}

func (m *MockSessionService) IdentifyDevice(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool, error) {
	if m.IdentifyDeviceFunc != nil {
		return m.IdentifyDeviceFunc(ctx, signals)
	}
	return models.DeviceFingerprint{}, false, nil
}

func (m *MockSessionService) DeviceID(signals models.DeviceSignals) string {
	if m.DeviceIDFunc != nil {
		return m.DeviceIDFunc(signals)
	}
	return ""
}

func (m *MockSessionService) CreateSession(ctx context.Context, userID, deviceID string) (*models.Session, error) {
	if m.CreateSessionFunc != nil {
		return m.CreateSessionFunc(ctx, userID, deviceID)
	}
	return &models.Session{UserID: userID, DeviceID: deviceID, IsActive: true}, nil
}

func (m *MockSessionService) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if m.ValidateSessionFunc != nil {
		return m.ValidateSessionFunc(ctx, sessionID)
	}
	return false, nil
}

func (m *MockSessionService) TerminateSession(ctx context.Context, sessionID string) error {
	if m.TerminateSessionFunc != nil {
		return m.TerminateSessionFunc(ctx, sessionID)
	}
	return nil
}

func (m *MockSessionService) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if m.GetSessionFunc != nil {
		return m.GetSessionFunc(ctx, sessionID)
	}
	return nil, models.ErrNotFound
}

// MockSecurityService implements SecurityService for testing
type MockSecurityService struct {
	ReportFindingFunc        func(ctx context.Context, finding models.Finding) (*models.SecurityIncident, error)
	ResolveIncidentFunc      func(ctx context.Context, id, resolution string) error
	GetIncidentFunc          func(ctx context.Context, id string) (*models.SecurityIncident, error)
	ListIncidentsFunc        func(filter incident.ListFilter) ([]models.SecurityIncident, error)
	GetEmergencyResponseFunc func(ctx context.Context, incidentID string) (*models.EmergencyResponse, error)
	GetSecurityDashboardFunc func() models.Dashboard
	AuditTrailFunc           func(n int) []models.AuditLogEntry
}

func (m *MockSecurityService) ReportFinding(ctx context.Context, finding models.Finding) (*models.SecurityIncident, error) {
	if m.ReportFindingFunc != nil {
		return m.ReportFindingFunc(ctx, finding)
	}
	return &models.SecurityIncident{}, nil
}

func (m *MockSecurityService) ResolveIncident(ctx context.Context, id, resolution string) error {
	if m.ResolveIncidentFunc != nil {
		return m.ResolveIncidentFunc(ctx, id, resolution)
	}
	return nil
}

func (m *MockSecurityService) GetIncident(ctx context.Context, id string) (*models.SecurityIncident, error) {
	if m.GetIncidentFunc != nil {
		return m.GetIncidentFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockSecurityService) ListIncidents(filter incident.ListFilter) ([]models.SecurityIncident, error) {
	if m.ListIncidentsFunc != nil {
		return m.ListIncidentsFunc(filter)
	}
	return nil, nil
}

func (m *MockSecurityService) GetEmergencyResponse(ctx context.Context, incidentID string) (*models.EmergencyResponse, error) {
	if m.GetEmergencyResponseFunc != nil {
		return m.GetEmergencyResponseFunc(ctx, incidentID)
	}
	return nil, models.ErrNotFound
}

func (m *MockSecurityService) GetSecurityDashboard() models.Dashboard {
	if m.GetSecurityDashboardFunc != nil {
		return m.GetSecurityDashboardFunc()
	}
	return models.Dashboard{}
}

func (m *MockSecurityService) AuditTrail(n int) []models.AuditLogEntry {
	if m.AuditTrailFunc != nil {
		return m.AuditTrailFunc(n)
	}
	return nil
}
