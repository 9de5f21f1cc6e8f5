package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
)

// SessionService is the slice of the security coordinator the session and
// device endpoints use
type SessionService interface {
	IdentifyDevice(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool, error)
	DeviceID(signals models.DeviceSignals) string
	CreateSession(ctx context.Context, userID, deviceID string) (*models.Session, error)
	ValidateSession(ctx context.Context, sessionID string) (bool, error)
	TerminateSession(ctx context.Context, sessionID string) error
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
}

// SessionHandler handles session and device HTTP requests
type SessionHandler struct {
	svc    SessionService
	logger *slog.Logger
}

// NewSessionHandler creates a new SessionHandler
func NewSessionHandler(svc SessionService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{svc: svc, logger: logger}
}

// IdentifyDevice handles POST /devices/identify
func (h *SessionHandler) IdentifyDevice(w http.ResponseWriter, r *http.Request) {
	var signals models.DeviceSignals
	if !decodeAndValidate(w, r, &signals) {
		return
	}

	fp, novel, err := h.svc.IdentifyDevice(r.Context(), signals)
	if err != nil {
		writeServiceError(w, h.logger, "device_identify", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, IdentifyDeviceResponse{Device: fp, Novel: novel})
}

// Create handles POST /sessions for the authenticated user
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	var req CreateSessionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	// Derive without recording; the session records the device so a first
	// sighting still scores as novel
	deviceID := req.DeviceID
	if deviceID == "" {
		deviceID = h.svc.DeviceID(*req.Signals)
	}

	s, err := h.svc.CreateSession(r.Context(), user.UserID, deviceID)
	if err != nil {
		writeServiceError(w, h.logger, "session_create", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, s)
}

// Get handles GET /sessions/{id}
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, s)
}

// Validate handles GET /sessions/{id}/validate. Validation counts as
// activity and refreshes the idle timer.
func (h *SessionHandler) Validate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	valid, err := h.svc.ValidateSession(r.Context(), s.ID)
	if err != nil {
		writeServiceError(w, h.logger, "session_validate", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, ValidateSessionResponse{Valid: valid})
}

// Terminate handles DELETE /sessions/{id}
func (h *SessionHandler) Terminate(w http.ResponseWriter, r *http.Request) {
	s, ok := h.ownedSession(w, r)
	if !ok {
		return
	}

	if err := h.svc.TerminateSession(r.Context(), s.ID); err != nil {
		writeServiceError(w, h.logger, "session_terminate", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedSession loads {id} and hides sessions of other users behind a 404
// unless the caller is a security operator
func (h *SessionHandler) ownedSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return nil, false
	}

	s, err := h.svc.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, h.logger, "session_get", err)
		return nil, false
	}
	if s.UserID != user.UserID && !user.HasRole(models.RoleSecurityOperator) {
		pkghttp.WriteNotFound(w, "resource not found")
		return nil, false
	}
	return s, true
}
