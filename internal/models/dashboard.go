package models

import "time"

// SecurityLevel is the global posture derived from the aggregate score.
// High means the system looks healthy.
type SecurityLevel string

const (
	SecurityLevelLow    SecurityLevel = "low"
	SecurityLevelMedium SecurityLevel = "medium"
	SecurityLevelHigh   SecurityLevel = "high"
)

// SubsystemScores are the 0-100 inputs of the aggregate security score
type SubsystemScores struct {
	Auth     float64 `json:"auth"`
	Session  float64 `json:"session"`
	Incident float64 `json:"incident"`
}

// DashboardMetrics groups the per-subsystem statistics
type DashboardMetrics struct {
	MFA       MFAStats       `json:"mfa"`
	Sessions  SessionStats   `json:"sessions"`
	Incidents IncidentStats  `json:"incidents"`
	Emergency EmergencyStats `json:"emergency"`
	Detection DetectionStats `json:"detection"`
}

// Compliance holds placeholders for the external compliance module.
// Data-subject request handling is not tracked here.
type Compliance struct {
	MFAEnrollment       int    `json:"mfa_enrollment"` // users with at least one active method
	AuditEntries        int    `json:"audit_entries"`
	AuditCapacity       int    `json:"audit_capacity"`
	DataSubjectRequests string `json:"data_subject_requests"`
}

// Dashboard is a read-only point-in-time snapshot
type Dashboard struct {
	SecurityLevel   SecurityLevel      `json:"security_level"`
	SecurityScore   float64            `json:"security_score"`
	Scores          SubsystemScores    `json:"scores"`
	Metrics         DashboardMetrics   `json:"metrics"`
	RecentIncidents []SecurityIncident `json:"recent_incidents"`
	RecentAudit     []AuditLogEntry    `json:"recent_audit"`
	Compliance      Compliance         `json:"compliance"`
	LastTickAt      *time.Time         `json:"last_tick_at,omitempty"`
	GeneratedAt     time.Time          `json:"generated_at"`
}
