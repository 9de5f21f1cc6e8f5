// Package emergency escalates high and critical incidents to the people on
// the escalation chain.
package emergency

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/notify"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/pkg/logger"
	"github.com/google/uuid"
)

// AuditRecorder appends entries to the audit trail
type AuditRecorder interface {
	Record(ctx context.Context, event string, data map[string]any) models.AuditLogEntry
}

// escalation lists the roles contacted for each severity, in order
var escalation = map[models.Severity][]models.ContactRole{
	models.SeverityCritical: {models.ContactSecurityTeam, models.ContactManagement, models.ContactLegal},
	models.SeverityHigh:     {models.ContactSecurityTeam, models.ContactManagement},
}

type responseEntry struct {
	mu       sync.Mutex
	response models.EmergencyResponse
}

// Dispatcher creates one EmergencyResponse per incident and notifies the
// escalation chain. Dispatching the same incident again only reaches
// contacts that were not notified yet.
type Dispatcher struct {
	mu        sync.RWMutex
	responses map[string]*responseEntry

	directory Directory
	notifier  notify.Notifier
	repo      *repositories.Repository[models.EmergencyResponse]
	audit     AuditRecorder
	logger    *slog.Logger
	now       func() time.Time

	sent   atomic.Int64
	failed atomic.Int64
}

// NewDispatcher creates a Dispatcher; store and audit may be nil
func NewDispatcher(directory Directory, notifier notify.Notifier, store repositories.EntityStore, audit AuditRecorder, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		responses: make(map[string]*responseEntry),
		directory: directory,
		notifier:  notifier,
		repo:      repositories.NewRepository[models.EmergencyResponse](store, repositories.CollectionEmergency, logger),
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (d *Dispatcher) SetClock(now func() time.Time) {
	d.now = now
}

// Dispatch escalates incident. Incidents below high severity are rejected
// with ErrBelowEscalationThreshold. Notification failures are recorded on
// the response, never returned.
func (d *Dispatcher) Dispatch(ctx context.Context, incident models.SecurityIncident) (*models.EmergencyResponse, error) {
	roles, ok := escalation[incident.Severity]
	if !ok {
		return nil, fmt.Errorf("%w: %s incident %s", models.ErrBelowEscalationThreshold, incident.Severity, incident.ID)
	}

	entry, created := d.entry(ctx, incident)
	entry.mu.Lock()
	defer entry.mu.Unlock()

	resp := &entry.response
	if incident.Severity.Rank() > resp.Severity.Rank() {
		resp.Severity = incident.Severity
	}

	notified := 0
	complete := true
	for _, role := range roles {
		contacts := d.directory.Contacts(role)
		if len(contacts) == 0 {
			complete = false
			if created {
				d.logger.Warn("no contacts configured for escalation role", slog.String("role", string(role)))
				resp.Actions = append(resp.Actions, models.ResponseAction{
					Type:      "notify_" + string(role),
					Success:   false,
					Error:     "no contacts configured",
					Timestamp: d.now(),
				})
			}
			continue
		}

		for _, contact := range contacts {
			key := contactKey(contact)
			if slices.Contains(resp.NotifiedContacts, key) {
				continue
			}

			err := d.send(ctx, contact, incident)
			action := models.ResponseAction{
				Type:      "notify_" + string(role),
				Target:    logger.SanitizedContact(contact.Address),
				Success:   err == nil,
				Timestamp: d.now(),
			}
			if err != nil {
				action.Error = err.Error()
				complete = false
				d.failed.Add(1)
				d.logger.Error("emergency notification failed",
					slog.String("incident_id", incident.ID),
					slog.String("role", string(role)),
					slog.String("to", logger.SanitizedContact(contact.Address)),
					slog.Any("error", err))
			} else {
				resp.NotifiedContacts = append(resp.NotifiedContacts, key)
				notified++
				d.sent.Add(1)
			}
			resp.Actions = append(resp.Actions, action)
		}
	}

	if complete {
		resp.Status = models.EmergencyStatusCompleted
	} else {
		resp.Status = models.EmergencyStatusPartial
	}

	d.repo.Save(ctx, incident.ID, resp)
	if d.audit != nil && (created || notified > 0) {
		d.audit.Record(ctx, models.AuditEventEmergency, map[string]any{
			"incident_id": incident.ID,
			"response_id": resp.ID,
			"severity":    string(resp.Severity),
			"notified":    notified,
			"status":      string(resp.Status),
		})
	}
	d.logger.WarnContext(ctx, "emergency response dispatched",
		slog.String("incident_id", incident.ID),
		slog.String("severity", string(incident.Severity)),
		slog.Int("newly_notified", notified),
		slog.String("status", string(resp.Status)))

	out := copyResponse(resp)
	return &out, nil
}

// NotifySecurityTeam sends an informational message about incident to the
// security team without opening an emergency response
func (d *Dispatcher) NotifySecurityTeam(ctx context.Context, incident models.SecurityIncident) error {
	var errs []error
	for _, contact := range d.directory.Contacts(models.ContactSecurityTeam) {
		if err := d.send(ctx, contact, incident); err != nil {
			d.failed.Add(1)
			errs = append(errs, fmt.Errorf("%s: %w", logger.SanitizedContact(contact.Address), err))
			continue
		}
		d.sent.Add(1)
	}
	return errors.Join(errs...)
}

// Get returns the response created for incidentID
func (d *Dispatcher) Get(ctx context.Context, incidentID string) (models.EmergencyResponse, bool) {
	d.mu.RLock()
	entry, ok := d.responses[incidentID]
	d.mu.RUnlock()
	if !ok {
		stored, found := d.repo.Load(ctx, incidentID)
		if !found {
			return models.EmergencyResponse{}, false
		}
		return *stored, true
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copyResponse(&entry.response), true
}

// Stats summarizes dispatch activity
func (d *Dispatcher) Stats() models.EmergencyStats {
	d.mu.RLock()
	entries := make([]*responseEntry, 0, len(d.responses))
	for _, e := range d.responses {
		entries = append(entries, e)
	}
	d.mu.RUnlock()

	stats := models.EmergencyStats{
		Responses:           len(entries),
		NotificationsSent:   d.sent.Load(),
		NotificationsFailed: d.failed.Load(),
	}
	for _, e := range entries {
		e.mu.Lock()
		if e.response.Status == models.EmergencyStatusPartial {
			stats.PartialResponses++
		}
		e.mu.Unlock()
	}
	return stats
}

func (d *Dispatcher) send(ctx context.Context, contact models.EmergencyContact, incident models.SecurityIncident) error {
	if d.notifier == nil {
		return errors.New("no notifier configured")
	}
	return d.notifier.Notify(ctx, notify.Message{
		To:      contact.Address,
		Channel: contact.Channel,
		Subject: fmt.Sprintf("[%s] Security incident: %s", strings.ToUpper(string(incident.Severity)), incident.Type),
		Body: fmt.Sprintf("Incident %s (%s) from %s was opened at %s.",
			incident.ID, incident.Type, incident.Source, incident.CreatedAt.UTC().Format(time.RFC3339)),
	})
}

// entry returns the response entry for incident, creating it on first
// dispatch. created reports whether this call created it.
func (d *Dispatcher) entry(ctx context.Context, incident models.SecurityIncident) (*responseEntry, bool) {
	d.mu.RLock()
	entry, ok := d.responses[incident.ID]
	d.mu.RUnlock()
	if ok {
		return entry, false
	}

	stored, found := d.repo.Load(ctx, incident.ID)

	d.mu.Lock()
	defer d.mu.Unlock()
	if entry, ok := d.responses[incident.ID]; ok {
		return entry, false
	}
	if found {
		entry = &responseEntry{response: *stored}
		d.responses[incident.ID] = entry
		return entry, false
	}
	entry = &responseEntry{response: models.EmergencyResponse{
		ID:               uuid.New().String(),
		IncidentID:       incident.ID,
		Severity:         incident.Severity,
		InitiatedAt:      d.now(),
		NotifiedContacts: []string{},
		Actions:          []models.ResponseAction{},
	}}
	d.responses[incident.ID] = entry
	return entry, true
}

func contactKey(c models.EmergencyContact) string {
	return string(c.Role) + ":" + c.Address
}

func copyResponse(r *models.EmergencyResponse) models.EmergencyResponse {
	out := *r
	out.NotifiedContacts = slices.Clone(r.NotifiedContacts)
	out.Actions = slices.Clone(r.Actions)
	return out
}
