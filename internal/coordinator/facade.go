package coordinator

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/sentinel/internal/fingerprint"
	"github.com/BradenHooton/sentinel/internal/incident"
	"github.com/BradenHooton/sentinel/internal/models"
)

// SetupMFA starts enrollment of an MFA method
func (c *SecurityCoordinator) SetupMFA(ctx context.Context, userID string, kind models.MFAKind, contact string) (*models.MFASetupResult, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.mfa.SetupMethod(ctx, userID, kind, contact)
}

// VerifyMFASetup confirms a pending method with its first code
func (c *SecurityCoordinator) VerifyMFASetup(ctx context.Context, userID string, kind models.MFAKind, code string) (*models.MFASetupVerification, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.mfa.VerifySetup(ctx, userID, kind, code)
}

// VerifySetupToken checks the token returned by SetupMFA
func (c *SecurityCoordinator) VerifySetupToken(token, userID string, kind models.MFAKind) error {
	return c.mfa.VerifySetupToken(token, userID, kind)
}

// VerifyMFA checks a code or backup code against an active method
func (c *SecurityCoordinator) VerifyMFA(ctx context.Context, userID string, kind models.MFAKind, code string) (bool, error) {
	if err := c.enter(); err != nil {
		return false, err
	}
	defer c.leave()
	return c.mfa.Verify(ctx, userID, kind, code)
}

// IssueMFAChallenge sends a delivery code or returns a credential challenge
func (c *SecurityCoordinator) IssueMFAChallenge(ctx context.Context, userID string, kind models.MFAKind) ([]byte, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.mfa.IssueChallenge(ctx, userID, kind)
}

// RemoveMFA deletes a method
func (c *SecurityCoordinator) RemoveMFA(ctx context.Context, userID string, kind models.MFAKind) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.mfa.RemoveMethod(ctx, userID, kind)
}

// RegenerateBackupCodes replaces a method's backup code set
func (c *SecurityCoordinator) RegenerateBackupCodes(ctx context.Context, userID string, kind models.MFAKind) ([]string, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.mfa.RegenerateBackupCodes(ctx, userID, kind)
}

// MFAStatus lists a user's methods
func (c *SecurityCoordinator) MFAStatus(userID string) (*models.MFAStatus, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.mfa.Status(userID), nil
}

// IdentifyDevice records the device described by signals and reports
// whether it was seen for the first time
func (c *SecurityCoordinator) IdentifyDevice(ctx context.Context, signals models.DeviceSignals) (models.DeviceFingerprint, bool, error) {
	if err := c.enter(); err != nil {
		return models.DeviceFingerprint{}, false, err
	}
	defer c.leave()
	fp, novel := c.devices.Identify(ctx, signals)
	return fp, novel, nil
}

// DeviceID derives the device ID for signals without recording it
func (c *SecurityCoordinator) DeviceID(signals models.DeviceSignals) string {
	id, _ := fingerprint.Derive(signals)
	return id
}

// CreateSession opens a scored session after primary authentication
func (c *SecurityCoordinator) CreateSession(ctx context.Context, userID, deviceID string) (*models.Session, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.sessions.CreateSession(ctx, userID, deviceID)
}

// ValidateSession reports whether a session is still usable
func (c *SecurityCoordinator) ValidateSession(ctx context.Context, sessionID string) (bool, error) {
	if err := c.enter(); err != nil {
		return false, err
	}
	defer c.leave()
	return c.sessions.ValidateSession(ctx, sessionID), nil
}

// TerminateSession ends a session; unknown sessions are ignored
func (c *SecurityCoordinator) TerminateSession(ctx context.Context, sessionID string) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	c.sessions.TerminateSession(ctx, sessionID)
	return nil
}

// GetSession returns an active session
func (c *SecurityCoordinator) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	s, ok := c.sessions.Session(ctx, sessionID)
	if !ok {
		return nil, fmt.Errorf("%w: session %s", models.ErrNotFound, sessionID)
	}
	return &s, nil
}

// ReportFinding opens an incident for a finding raised outside the
// detector pipeline
func (c *SecurityCoordinator) ReportFinding(ctx context.Context, finding models.Finding) (*models.SecurityIncident, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()

	if finding.SourceDetector == "" {
		finding.SourceDetector = "manual"
	}
	if finding.Timestamp.IsZero() {
		finding.Timestamp = c.now()
	}
	inc, err := c.incidents.CreateIncident(ctx, finding)
	if err != nil {
		return nil, err
	}
	c.metrics.findings.WithLabelValues(finding.SourceDetector).Inc()
	c.metrics.incidents.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()
	return inc, nil
}

// ResolveIncident closes an open incident
func (c *SecurityCoordinator) ResolveIncident(ctx context.Context, id, resolution string) error {
	if err := c.enter(); err != nil {
		return err
	}
	defer c.leave()
	return c.incidents.ResolveIncident(ctx, id, resolution)
}

// GetIncident returns one incident
func (c *SecurityCoordinator) GetIncident(ctx context.Context, id string) (*models.SecurityIncident, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	inc, err := c.incidents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &inc, nil
}

// ListIncidents returns incidents matching filter, newest first
func (c *SecurityCoordinator) ListIncidents(filter incident.ListFilter) ([]models.SecurityIncident, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	return c.incidents.List(filter), nil
}

// GetEmergencyResponse returns the response opened for an incident
func (c *SecurityCoordinator) GetEmergencyResponse(ctx context.Context, incidentID string) (*models.EmergencyResponse, error) {
	if err := c.enter(); err != nil {
		return nil, err
	}
	defer c.leave()
	resp, ok := c.emergency.Get(ctx, incidentID)
	if !ok {
		return nil, fmt.Errorf("%w: emergency response for incident %s", models.ErrNotFound, incidentID)
	}
	return &resp, nil
}

// AuditTrail returns the n newest audit entries
func (c *SecurityCoordinator) AuditTrail(n int) []models.AuditLogEntry {
	return c.audit.Recent(n)
}

// SecurityLevel returns the level set by the last score update
func (c *SecurityCoordinator) SecurityLevel() models.SecurityLevel {
	c.stateMu.RLock()
	defer c.stateMu.RUnlock()
	return c.level
}

// GetSecurityDashboard returns a point-in-time snapshot. It never mutates
// state and stays available during shutdown.
func (c *SecurityCoordinator) GetSecurityDashboard() models.Dashboard {
	c.stateMu.RLock()
	level, score, scores := c.level, c.score, c.scores
	var lastTick *time.Time
	if c.lastTickAt != nil {
		t := *c.lastTickAt
		lastTick = &t
	}
	c.stateMu.RUnlock()

	mfaStats := c.mfa.Stats()
	return models.Dashboard{
		SecurityLevel: level,
		SecurityScore: score,
		Scores:        scores,
		Metrics: models.DashboardMetrics{
			MFA:       mfaStats,
			Sessions:  c.sessions.Stats(),
			Incidents: c.incidents.Stats(),
			Emergency: c.emergency.Stats(),
			Detection: c.pipeline.Stats(),
		},
		RecentIncidents: c.incidents.Recent(dashboardIncidents),
		RecentAudit:     c.audit.Recent(dashboardAuditLines),
		Compliance: models.Compliance{
			MFAEnrollment:       mfaStats.UsersEnrolled,
			AuditEntries:        c.audit.Len(),
			AuditCapacity:       c.audit.Capacity(),
			DataSubjectRequests: "not_tracked",
		},
		LastTickAt:  lastTick,
		GeneratedAt: c.now(),
	}
}
