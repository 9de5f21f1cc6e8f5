package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// MFAKind identifies a second-factor method
type MFAKind string

const (
	MFAKindTOTP        MFAKind = "totp"
	MFAKindSMS         MFAKind = "sms"
	MFAKindEmail       MFAKind = "email"
	MFAKindBiometric   MFAKind = "biometric"
	MFAKindHardwareKey MFAKind = "hardware_key"
)

// ParseMFAKind maps a raw kind string onto a known MFAKind
func ParseMFAKind(raw string) (MFAKind, error) {
	switch k := MFAKind(raw); k {
	case MFAKindTOTP, MFAKindSMS, MFAKindEmail, MFAKindBiometric, MFAKindHardwareKey:
		return k, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedMethod, raw)
}

// MethodSecret is the kind-specific secret material of an MFA method.
// The set of implementations is closed: TOTPSecret, DeliverySecret and
// CredentialSecret.
type MethodSecret interface {
	isMethodSecret()
}

// TOTPSecret holds the AES-256-GCM encrypted shared secret
type TOTPSecret struct {
	Encrypted []byte `json:"encrypted"`
	Nonce     []byte `json:"nonce"`
}

// DeliverySecret backs sms and email methods. A pending code is the hash of
// the last one-time code sent to Contact.
type DeliverySecret struct {
	Contact          string    `json:"contact"`
	PendingCodeHash  string    `json:"pending_code_hash,omitempty"`
	PendingExpiresAt time.Time `json:"pending_expires_at,omitempty"`
}

// CredentialSecret backs biometric and hardware_key methods: a registered
// public-key credential plus the outstanding challenge it must sign.
type CredentialSecret struct {
	CredentialID       string    `json:"credential_id"`
	PublicKey          []byte    `json:"public_key"`
	Challenge          []byte    `json:"challenge,omitempty"`
	ChallengeExpiresAt time.Time `json:"challenge_expires_at,omitempty"`
}

func (TOTPSecret) isMethodSecret()       {}
func (DeliverySecret) isMethodSecret()   {}
func (CredentialSecret) isMethodSecret() {}

// BackupCode is a single unused recovery code. Used codes are removed from
// the owning method rather than flagged.
type BackupCode struct {
	CodeHash  string    `json:"code_hash"` // bcrypt hash
	CreatedAt time.Time `json:"created_at"`
}

// MFAMethod is the registration of one second factor for one user. At most
// one record exists per (UserID, Kind).
type MFAMethod struct {
	UserID       string
	Kind         MFAKind
	Secret       MethodSecret
	BackupCodes  []BackupCode
	IsActive     bool
	CreatedAt    time.Time
	ActivatedAt  *time.Time
	LastUsedStep int64 // last accepted TOTP time step, replay guard
	LastUsedAt   *time.Time

	// PendingBackupCodes keeps the plaintext codes of an inactive method so
	// the first activation can display them once. Never persisted.
	PendingBackupCodes []string
}

// MFAMethodKey is the store key for a method
func MFAMethodKey(userID string, kind MFAKind) string {
	return userID + ":" + string(kind)
}

type mfaMethodRecord struct {
	UserID       string          `json:"user_id"`
	Kind         MFAKind         `json:"kind"`
	Secret       json.RawMessage `json:"secret"`
	BackupCodes  []BackupCode    `json:"backup_codes"`
	IsActive     bool            `json:"is_active"`
	CreatedAt    time.Time       `json:"created_at"`
	ActivatedAt  *time.Time      `json:"activated_at,omitempty"`
	LastUsedStep int64           `json:"last_used_step"`
	LastUsedAt   *time.Time      `json:"last_used_at,omitempty"`
}

// MarshalJSON encodes the secret variant alongside the kind that selects it
func (m MFAMethod) MarshalJSON() ([]byte, error) {
	secret, err := json.Marshal(m.Secret)
	if err != nil {
		return nil, err
	}
	return json.Marshal(mfaMethodRecord{
		UserID:       m.UserID,
		Kind:         m.Kind,
		Secret:       secret,
		BackupCodes:  m.BackupCodes,
		IsActive:     m.IsActive,
		CreatedAt:    m.CreatedAt,
		ActivatedAt:  m.ActivatedAt,
		LastUsedStep: m.LastUsedStep,
		LastUsedAt:   m.LastUsedAt,
	})
}

// UnmarshalJSON decodes the secret into the variant matching Kind
func (m *MFAMethod) UnmarshalJSON(data []byte) error {
	var rec mfaMethodRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}

	var secret MethodSecret
	switch rec.Kind {
	case MFAKindTOTP:
		var s TOTPSecret
		if err := json.Unmarshal(rec.Secret, &s); err != nil {
			return err
		}
		secret = s
	case MFAKindSMS, MFAKindEmail:
		var s DeliverySecret
		if err := json.Unmarshal(rec.Secret, &s); err != nil {
			return err
		}
		secret = s
	case MFAKindBiometric, MFAKindHardwareKey:
		var s CredentialSecret
		if err := json.Unmarshal(rec.Secret, &s); err != nil {
			return err
		}
		secret = s
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMethod, rec.Kind)
	}

	*m = MFAMethod{
		UserID:       rec.UserID,
		Kind:         rec.Kind,
		Secret:       secret,
		BackupCodes:  rec.BackupCodes,
		IsActive:     rec.IsActive,
		CreatedAt:    rec.CreatedAt,
		ActivatedAt:  rec.ActivatedAt,
		LastUsedStep: rec.LastUsedStep,
		LastUsedAt:   rec.LastUsedAt,
	}
	return nil
}

// MFASetupResult is returned once from setup; plaintext backup codes are
// never retrievable afterwards.
type MFASetupResult struct {
	SetupToken      string   `json:"setup_token"`
	BackupCodes     []string `json:"backup_codes"`
	ProvisioningURI string   `json:"provisioning_uri,omitempty"`
	QRCode          string   `json:"qr_code,omitempty"` // data URL
	Challenge       []byte   `json:"challenge,omitempty"`
}

// MFASetupVerification reports the outcome of confirming a pending method.
// BackupCodes is only populated when this activation is the user's first.
type MFASetupVerification struct {
	Activated   bool     `json:"activated"`
	BackupCodes []string `json:"backup_codes,omitempty"`
}

// MFAStatus summarizes a user's registered methods
type MFAStatus struct {
	UserID  string          `json:"user_id"`
	Enabled bool            `json:"enabled"`
	Methods []MFAMethodInfo `json:"methods"`
}

// MFAMethodInfo is the display-safe view of an MFAMethod
type MFAMethodInfo struct {
	Kind                 MFAKind    `json:"kind"`
	IsActive             bool       `json:"is_active"`
	CreatedAt            time.Time  `json:"created_at"`
	ActivatedAt          *time.Time `json:"activated_at,omitempty"`
	RemainingBackupCodes int        `json:"remaining_backup_codes"`
}

// MFAStats feeds the dashboard
type MFAStats struct {
	Methods             int            `json:"methods"`
	ActiveMethods       int            `json:"active_methods"`
	UsersEnrolled       int            `json:"users_enrolled"`
	ActiveByKind        map[string]int `json:"active_by_kind"`
	VerifySuccesses     int64          `json:"verify_successes"`
	VerifyFailures      int64          `json:"verify_failures"`
	BackupCodesConsumed int64          `json:"backup_codes_consumed"`
}

// MFAAttempt is one verification outcome, reported to attempt recorders
type MFAAttempt struct {
	UserID    string
	Kind      MFAKind
	Success   bool
	Reason    string
	IPAddress string
	Timestamp time.Time
}
