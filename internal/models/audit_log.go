package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Audit event names
const (
	AuditEventMFASetup           = "mfa_setup"
	AuditEventMFASetupVerified   = "mfa_setup_verified"
	AuditEventMFASetupFailed     = "mfa_setup_failed"
	AuditEventMFAVerify          = "mfa_verify"
	AuditEventMFAVerifyFailed    = "mfa_verify_failed"
	AuditEventBackupCodeUsed     = "mfa_backup_code_used"
	AuditEventBackupCodesRenewed = "mfa_backup_codes_regenerated"
	AuditEventMFARemoved         = "mfa_removed"
	AuditEventSessionCreated     = "session_created"
	AuditEventSessionExpired     = "session_expired"
	AuditEventSessionTerminated  = "session_terminated"
	AuditEventIncidentCreated    = "incident_created"
	AuditEventIncidentResolved   = "incident_resolved"
	AuditEventCorrelation        = "incident_correlated"
	AuditEventEmergency          = "emergency_dispatched"
	AuditEventSecurityLevel      = "security_level_changed"
)

// AuditLogEntry is one append-only record of coordinator activity
type AuditLogEntry struct {
	ID        string    `json:"id"`
	Event     string    `json:"event"`
	Data      AuditData `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditData holds additional context for audit events
type AuditData map[string]any

// Scan implements sql.Scanner for JSONB
func (ad *AuditData) Scan(value any) error {
	if value == nil {
		*ad = make(AuditData)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return ErrBadRequest
	}

	var m map[string]any
	if err := json.Unmarshal(bytes, &m); err != nil {
		return err
	}
	*ad = AuditData(m)
	return nil
}

// Value implements driver.Valuer for JSONB
func (ad AuditData) Value() (driver.Value, error) {
	if ad == nil {
		return nil, nil
	}
	return json.Marshal(map[string]any(ad))
}
