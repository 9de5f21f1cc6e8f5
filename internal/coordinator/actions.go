package coordinator

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BradenHooton/sentinel/internal/incident"
	"github.com/BradenHooton/sentinel/internal/models"
)

// lockAccount ends every session of the user the incident is about. The
// account itself lives with the identity provider.
func (c *SecurityCoordinator) lockAccount(ctx context.Context, inc models.SecurityIncident) error {
	ended := c.terminateUserSessions(ctx, inc.Source)
	if len(ended) == 0 {
		return fmt.Errorf("%w: no active sessions for %s", incident.ErrActionSkipped, inc.Source)
	}
	c.logger.WarnContext(ctx, "account sessions terminated",
		slog.String("incident_id", inc.ID),
		slog.String("user_id", inc.Source),
		slog.Int("sessions", len(ended)))
	return nil
}

// blockAccess ends the user's sessions and flags the devices they were on
func (c *SecurityCoordinator) blockAccess(ctx context.Context, inc models.SecurityIncident) error {
	ended := c.terminateUserSessions(ctx, inc.Source)
	for _, s := range ended {
		c.sessions.FlagDevice(s.DeviceID)
	}
	if len(ended) == 0 {
		return fmt.Errorf("%w: no active sessions for %s", incident.ErrActionSkipped, inc.Source)
	}
	return nil
}

// enhanceMonitoring flags the device named in the incident details so its
// sessions are rescored with the flagged-device weight
func (c *SecurityCoordinator) enhanceMonitoring(ctx context.Context, inc models.SecurityIncident) error {
	deviceID, _ := inc.Details["device_id"].(string)
	if deviceID == "" {
		return fmt.Errorf("%w: incident names no device", incident.ErrActionSkipped)
	}
	c.sessions.FlagDevice(deviceID)
	return nil
}

// quarantineContent has no content store to act on yet
func (c *SecurityCoordinator) quarantineContent(ctx context.Context, inc models.SecurityIncident) error {
	c.logger.WarnContext(ctx, "content flagged for quarantine",
		slog.String("incident_id", inc.ID),
		slog.String("source", inc.Source))
	return fmt.Errorf("%w: no content store attached", incident.ErrActionSkipped)
}

func (c *SecurityCoordinator) terminateUserSessions(ctx context.Context, userID string) []models.Session {
	if userID == "" {
		return nil
	}
	var ended []models.Session
	for _, s := range c.sessions.ActiveSessions() {
		if s.UserID == userID {
			c.sessions.TerminateSession(ctx, s.ID)
			ended = append(ended, s)
		}
	}
	return ended
}
