package handlers

import (
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// MFA setup DTOs

// SetupMFARequest starts enrollment. Contact is the phone number or email
// address for sms and email methods and is ignored otherwise.
type SetupMFARequest struct {
	Contact string `json:"contact" validate:"max=254"`
}

// VerifyMFASetupRequest confirms a pending method with its first code
type VerifyMFASetupRequest struct {
	SetupToken string `json:"setup_token" validate:"required"`
	Code       string `json:"code" validate:"required,max=512"`
}

// Verification DTOs

// VerifyMFACodeRequest carries a method code, backup code or signed challenge
type VerifyMFACodeRequest struct {
	Code string `json:"code" validate:"required,max=512"` // TOTP (6 digits), backup code (8 chars) or base64 signature
}

// VerifyMFACodeResponse is returned after successful verification
type VerifyMFACodeResponse struct {
	Verified   bool      `json:"verified"`
	VerifiedAt time.Time `json:"verified_at"`
}

// MFAChallengeResponse is empty for delivery methods; the code is sent out
// of band
type MFAChallengeResponse struct {
	Challenge []byte `json:"challenge,omitempty"` // base64 in JSON
	Sent      bool   `json:"sent"`
}

// BackupCodesResponse lists freshly generated plaintext codes
type BackupCodesResponse struct {
	BackupCodes []string `json:"backup_codes"`
}

// Session DTOs

// CreateSessionRequest opens a session. Either DeviceID or Signals must be
// given; the device ID is derived from the signals when absent.
type CreateSessionRequest struct {
	DeviceID string                `json:"device_id" validate:"required_without=Signals,max=128"`
	Signals  *models.DeviceSignals `json:"signals" validate:"required_without=DeviceID"`
}

// ValidateSessionResponse reports whether a session is still usable
type ValidateSessionResponse struct {
	Valid bool `json:"valid"`
}

// IdentifyDeviceResponse is returned from device identification
type IdentifyDeviceResponse struct {
	Device models.DeviceFingerprint `json:"device"`
	Novel  bool                     `json:"novel"`
}

// Incident DTOs

// ReportFindingRequest opens an incident by hand
type ReportFindingRequest struct {
	Type     string         `json:"type" validate:"required,oneof=repeated_failed_verification privilege_escalation_attempt large_data_transfer malicious_content unusual_access_pattern"`
	Severity string         `json:"severity" validate:"required,oneof=low medium high critical"`
	Source   string         `json:"source" validate:"required,max=255"`
	Details  map[string]any `json:"details"`
}

// ResolveIncidentRequest closes an incident
type ResolveIncidentRequest struct {
	Resolution string `json:"resolution" validate:"required,max=2000"`
}
