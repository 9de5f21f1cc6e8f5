package models

import "time"

// ContactRole is a tier of the escalation chain
type ContactRole string

const (
	ContactSecurityTeam ContactRole = "security_team"
	ContactManagement   ContactRole = "management"
	ContactLegal        ContactRole = "legal"
)

// NotificationChannel selects a delivery transport
type NotificationChannel string

const (
	ChannelEmail NotificationChannel = "email"
	ChannelSMS   NotificationChannel = "sms"
	ChannelPush  NotificationChannel = "push"
)

// EmergencyContact is one reachable address for a role
type EmergencyContact struct {
	Role    ContactRole         `json:"role"`
	Name    string              `json:"name"`
	Address string              `json:"address"`
	Channel NotificationChannel `json:"channel"`
}

// EmergencyStatus tracks how a dispatch went
type EmergencyStatus string

const (
	EmergencyStatusCompleted EmergencyStatus = "completed" // every contact reached
	EmergencyStatusPartial   EmergencyStatus = "partial"   // at least one notification failed
)

// ResponseAction is one recorded step of an emergency response
type ResponseAction struct {
	Type      string    `json:"type"`
	Target    string    `json:"target,omitempty"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// EmergencyResponse is created once per high or critical incident. Actions
// are append-only.
type EmergencyResponse struct {
	ID               string           `json:"id"`
	IncidentID       string           `json:"incident_id"`
	Severity         Severity         `json:"severity"`
	InitiatedAt      time.Time        `json:"initiated_at"`
	NotifiedContacts []string         `json:"notified_contacts"`
	Actions          []ResponseAction `json:"actions"`
	Status           EmergencyStatus  `json:"status"`
}

// EmergencyStats feeds the dashboard
type EmergencyStats struct {
	Responses           int   `json:"responses"`
	NotificationsSent   int64 `json:"notifications_sent"`
	NotificationsFailed int64 `json:"notifications_failed"`
	PartialResponses    int   `json:"partial_responses"`
}
