package models

import (
	"fmt"
	"time"
)

// Severity orders incidents and findings
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns a comparable ordinal, 0 for unknown values
func (s Severity) Rank() int {
	switch s {
	case SeverityLow:
		return 1
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 3
	case SeverityCritical:
		return 4
	}
	return 0
}

// ParseSeverity validates a raw severity string
func ParseSeverity(raw string) (Severity, error) {
	s := Severity(raw)
	if s.Rank() == 0 {
		return "", fmt.Errorf("%w: unknown severity %q", ErrValidation, raw)
	}
	return s, nil
}

// IncidentType classifies findings and incidents
type IncidentType string

const (
	IncidentRepeatedFailedVerification IncidentType = "repeated_failed_verification"
	IncidentPrivilegeEscalation        IncidentType = "privilege_escalation_attempt"
	IncidentLargeDataTransfer          IncidentType = "large_data_transfer"
	IncidentMaliciousContent           IncidentType = "malicious_content"
	IncidentUnusualAccessPattern       IncidentType = "unusual_access_pattern"
	IncidentCoordinatedAttack          IncidentType = "coordinated_attack"
)

// IncidentStatus moves only from open to resolved
type IncidentStatus string

const (
	IncidentStatusOpen     IncidentStatus = "open"
	IncidentStatusResolved IncidentStatus = "resolved"
)

// Finding is one detector observation. It is consumed by the incident
// coordinator within the same tick and never stored on its own.
type Finding struct {
	Type           IncidentType   `json:"type"`
	Severity       Severity       `json:"severity"`
	SourceDetector string         `json:"source_detector"`
	Source         string         `json:"source"` // user, device or address the finding is about
	Details        map[string]any `json:"details,omitempty"`
	Timestamp      time.Time      `json:"timestamp"`
}

// Timeline actions
const (
	TimelineIncidentCreated  = "incident_created"
	TimelineIncidentResolved = "incident_resolved"
	TimelineCorrelated       = "correlated"
	TimelineEmergency        = "emergency_response_dispatched"
	TimelineNotified         = "notification_sent"
)

// TimelineEntry is one step in an incident's history
type TimelineEntry struct {
	Action    string    `json:"action"`
	Timestamp time.Time `json:"timestamp"`
	Details   string    `json:"details,omitempty"`
}

// SecurityIncident is a tracked security event
type SecurityIncident struct {
	ID             string          `json:"id"`
	Type           IncidentType    `json:"type"`
	Severity       Severity        `json:"severity"`
	Status         IncidentStatus  `json:"status"`
	Source         string          `json:"source"`
	SourceDetector string          `json:"source_detector,omitempty"`
	Details        map[string]any  `json:"details,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	ResolvedAt     *time.Time      `json:"resolved_at,omitempty"`
	Timeline       []TimelineEntry `json:"timeline"`
	Resolution     *string         `json:"resolution,omitempty"`
	CorrelatedIDs  []string        `json:"correlated_ids,omitempty"`  // members, set on coordinated_attack incidents
	CorrelatedInto string          `json:"correlated_into,omitempty"` // set on members once grouped
}

// IsOpen reports whether the incident still needs attention
func (i *SecurityIncident) IsOpen() bool {
	return i.Status == IncidentStatusOpen
}

// IncidentStats feeds the dashboard
type IncidentStats struct {
	Total        int            `json:"total"`
	Open         int            `json:"open"`
	Resolved     int            `json:"resolved"`
	Correlations int64          `json:"correlations"`
	BySeverity   map[string]int `json:"by_severity"` // open incidents only
	ByType       map[string]int `json:"by_type"`
}
