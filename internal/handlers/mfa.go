package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/models"
	pkghttp "github.com/BradenHooton/sentinel/pkg/http"
	"github.com/go-chi/chi/v5"
)

// MFAService is the slice of the security coordinator the MFA endpoints use
type MFAService interface {
	SetupMFA(ctx context.Context, userID string, kind models.MFAKind, contact string) (*models.MFASetupResult, error)
	VerifySetupToken(token, userID string, kind models.MFAKind) error
	VerifyMFASetup(ctx context.Context, userID string, kind models.MFAKind, code string) (*models.MFASetupVerification, error)
	VerifyMFA(ctx context.Context, userID string, kind models.MFAKind, code string) (bool, error)
	IssueMFAChallenge(ctx context.Context, userID string, kind models.MFAKind) ([]byte, error)
	RemoveMFA(ctx context.Context, userID string, kind models.MFAKind) error
	RegenerateBackupCodes(ctx context.Context, userID string, kind models.MFAKind) ([]string, error)
	MFAStatus(userID string) (*models.MFAStatus, error)
}

// MFAHandler handles MFA-related HTTP requests
type MFAHandler struct {
	svc    MFAService
	logger *slog.Logger
	now    func() time.Time
	delay  *auth.FailureDelay
}

// NewMFAHandler creates a new MFA handler
func NewMFAHandler(svc MFAService, logger *slog.Logger) *MFAHandler {
	return &MFAHandler{
		svc:    svc,
		logger: logger,
		now:    time.Now,
	}
}

// WithFailureDelay pads rejected code verifications to d's floor
func (h *MFAHandler) WithFailureDelay(d *auth.FailureDelay) *MFAHandler {
	h.delay = d
	return h
}

// Setup handles POST /mfa/{kind}/setup
func (h *MFAHandler) Setup(w http.ResponseWriter, r *http.Request) {
	user, kind, ok := h.userAndKind(w, r)
	if !ok {
		return
	}

	var req SetupMFARequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.svc.SetupMFA(r.Context(), user.UserID, kind, req.Contact)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_setup", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusCreated, result)
}

// VerifySetup handles POST /mfa/{kind}/setup/verify
func (h *MFAHandler) VerifySetup(w http.ResponseWriter, r *http.Request) {
	user, kind, ok := h.userAndKind(w, r)
	if !ok {
		return
	}

	var req VerifyMFASetupRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	if err := h.svc.VerifySetupToken(req.SetupToken, user.UserID, kind); err != nil {
		h.logger.Warn("setup token rejected",
			slog.String("user_id", user.UserID),
			slog.String("kind", string(kind)))
		pkghttp.WriteUnauthorized(w, "invalid or expired setup token")
		return
	}

	verification, err := h.svc.VerifyMFASetup(r.Context(), user.UserID, kind, req.Code)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_setup_verify", err)
		return
	}
	if !verification.Activated {
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_verification_failed", "invalid code")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, verification)
}

// Verify handles POST /mfa/{kind}/verify
func (h *MFAHandler) Verify(w http.ResponseWriter, r *http.Request) {
	user, kind, ok := h.userAndKind(w, r)
	if !ok {
		return
	}

	var req VerifyMFACodeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	start := time.Now()
	verified, err := h.svc.VerifyMFA(r.Context(), user.UserID, kind, req.Code)
	h.delay.Pad(r.Context(), start, err == nil && verified)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_verify", err)
		return
	}
	if !verified {
		pkghttp.WriteError(w, http.StatusUnauthorized, "mfa_verification_failed", "invalid code")
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, VerifyMFACodeResponse{
		Verified:   true,
		VerifiedAt: h.now(),
	})
}

// Challenge handles POST /mfa/{kind}/challenge
func (h *MFAHandler) Challenge(w http.ResponseWriter, r *http.Request) {
	user, kind, ok := h.userAndKind(w, r)
	if !ok {
		return
	}

	challenge, err := h.svc.IssueMFAChallenge(r.Context(), user.UserID, kind)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_challenge", err)
		return
	}
	if challenge == nil {
		pkghttp.WriteJSON(w, http.StatusAccepted, MFAChallengeResponse{Sent: true})
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, MFAChallengeResponse{Challenge: challenge})
}

// Remove handles DELETE /mfa/{kind}
func (h *MFAHandler) Remove(w http.ResponseWriter, r *http.Request) {
	user, kind, ok := h.userAndKind(w, r)
	if !ok {
		return
	}

	if err := h.svc.RemoveMFA(r.Context(), user.UserID, kind); err != nil {
		writeServiceError(w, h.logger, "mfa_remove", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RegenerateBackupCodes handles POST /mfa/{kind}/backup-codes
func (h *MFAHandler) RegenerateBackupCodes(w http.ResponseWriter, r *http.Request) {
	user, kind, ok := h.userAndKind(w, r)
	if !ok {
		return
	}

	codes, err := h.svc.RegenerateBackupCodes(r.Context(), user.UserID, kind)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_backup_codes", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, BackupCodesResponse{BackupCodes: codes})
}

// Status handles GET /mfa/status
func (h *MFAHandler) Status(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return
	}

	status, err := h.svc.MFAStatus(user.UserID)
	if err != nil {
		writeServiceError(w, h.logger, "mfa_status", err)
		return
	}
	pkghttp.WriteJSON(w, http.StatusOK, status)
}

// userAndKind resolves the caller and the {kind} URL parameter, writing the
// error response itself when either is missing
func (h *MFAHandler) userAndKind(w http.ResponseWriter, r *http.Request) (*models.TokenClaims, models.MFAKind, bool) {
	user := auth.GetUserFromContext(r)
	if user == nil {
		pkghttp.WriteUnauthorized(w, "unauthorized")
		return nil, "", false
	}
	kind, err := models.ParseMFAKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeServiceError(w, h.logger, "mfa_kind", err)
		return nil, "", false
	}
	return user, kind, true
}

