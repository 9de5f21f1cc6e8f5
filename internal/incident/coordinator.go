// Package incident owns the incident lifecycle: creation from findings,
// the automatic response table, correlation and resolution.
package incident

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/google/uuid"
)

// Response actions applied when an incident is created
const (
	ActionLockAccount        = "lock_account"
	ActionBlockAccess        = "block_access"
	ActionEmergencyResponse  = "emergency_response"
	ActionQuarantineContent  = "quarantine_content"
	ActionEnhancedMonitoring = "enhanced_monitoring"
	ActionNotifyOnly         = "notify_only"
)

// ErrActionSkipped is returned by handlers that deliberately did nothing
var ErrActionSkipped = errors.New("action skipped")

// ActionHandler carries out a response action for an incident
type ActionHandler func(ctx context.Context, incident models.SecurityIncident) error

// Escalator is the emergency dispatcher as seen by the coordinator
type Escalator interface {
	Dispatch(ctx context.Context, incident models.SecurityIncident) (*models.EmergencyResponse, error)
	NotifySecurityTeam(ctx context.Context, incident models.SecurityIncident) error
}

// AuditRecorder appends entries to the audit trail
type AuditRecorder interface {
	Record(ctx context.Context, event string, data map[string]any) models.AuditLogEntry
}

// Config holds correlation tuning
type Config struct {
	CorrelationThreshold int
	CorrelationWindow    time.Duration
}

// ListFilter narrows List; zero fields match everything
type ListFilter struct {
	Status   models.IncidentStatus
	Severity models.Severity
	Type     models.IncidentType
}

type incidentEntry struct {
	mu       sync.Mutex
	incident models.SecurityIncident
}

// Coordinator stores incidents and reacts to them. The incident map is
// guarded by mu, each incident by its entry lock; an entry lock may be
// held while taking mu, never the reverse.
type Coordinator struct {
	mu        sync.RWMutex
	incidents map[string]*incidentEntry

	correlateMu sync.Mutex
	dispatches  sync.WaitGroup

	actions  map[models.IncidentType]string
	handlers map[string]ActionHandler

	config    Config
	escalator Escalator
	repo      *repositories.Repository[models.SecurityIncident]
	audit     AuditRecorder
	logger    *slog.Logger
	now       func() time.Time

	correlations atomic.Int64
}

// NewCoordinator creates a Coordinator. escalator, store and audit may be
// nil.
func NewCoordinator(cfg Config, escalator Escalator, store repositories.EntityStore, audit AuditRecorder, logger *slog.Logger) *Coordinator {
	if cfg.CorrelationThreshold <= 1 {
		cfg.CorrelationThreshold = 3
	}
	if cfg.CorrelationWindow <= 0 {
		cfg.CorrelationWindow = time.Hour
	}

	c := &Coordinator{
		incidents: make(map[string]*incidentEntry),
		actions: map[models.IncidentType]string{
			models.IncidentRepeatedFailedVerification: ActionLockAccount,
			models.IncidentPrivilegeEscalation:        ActionBlockAccess,
			models.IncidentLargeDataTransfer:          ActionEmergencyResponse,
			models.IncidentMaliciousContent:           ActionQuarantineContent,
			models.IncidentUnusualAccessPattern:       ActionEnhancedMonitoring,
		},
		handlers:  make(map[string]ActionHandler),
		config:    cfg,
		escalator: escalator,
		repo:      repositories.NewRepository[models.SecurityIncident](store, repositories.CollectionIncidents, logger),
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
	c.handlers[ActionEmergencyResponse] = c.emergencyAction
	c.handlers[ActionNotifyOnly] = c.notifyAction
	return c
}

// SetClock replaces the time source
func (c *Coordinator) SetClock(now func() time.Time) {
	c.now = now
}

// HandleAction registers the handler for a response action. Call before
// the coordinator starts receiving findings.
func (c *Coordinator) HandleAction(action string, handler ActionHandler) {
	c.handlers[action] = handler
}

// ActionFor returns the response action mapped to an incident type.
// Unmapped types only notify the security team.
func (c *Coordinator) ActionFor(t models.IncidentType) string {
	if action, ok := c.actions[t]; ok {
		return action
	}
	return ActionNotifyOnly
}

// CreateIncident turns a finding into an open incident, applies the mapped
// response action and, for high or critical severity, starts an emergency
// dispatch in the background
func (c *Coordinator) CreateIncident(ctx context.Context, finding models.Finding) (*models.SecurityIncident, error) {
	if finding.Type == "" {
		return nil, fmt.Errorf("%w: finding has no type", models.ErrValidation)
	}
	if finding.Severity.Rank() == 0 {
		return nil, fmt.Errorf("%w: unknown severity %q", models.ErrValidation, finding.Severity)
	}

	now := c.now()
	incident := models.SecurityIncident{
		ID:             uuid.New().String(),
		Type:           finding.Type,
		Severity:       finding.Severity,
		Status:         models.IncidentStatusOpen,
		Source:         finding.Source,
		SourceDetector: finding.SourceDetector,
		Details:        finding.Details,
		CreatedAt:      now,
		Timeline: []models.TimelineEntry{{
			Action:    models.TimelineIncidentCreated,
			Timestamp: now,
			Details:   fmt.Sprintf("%s from %s", finding.Type, finding.SourceDetector),
		}},
	}
	return c.open(ctx, incident)
}

func (c *Coordinator) open(ctx context.Context, incident models.SecurityIncident) (*models.SecurityIncident, error) {
	entry := &incidentEntry{incident: incident}
	c.mu.Lock()
	c.incidents[incident.ID] = entry
	c.mu.Unlock()
	c.repo.Save(ctx, incident.ID, &incident)

	c.record(ctx, models.AuditEventIncidentCreated, map[string]any{
		"incident_id": incident.ID,
		"type":        string(incident.Type),
		"severity":    string(incident.Severity),
		"source":      incident.Source,
	})
	c.logger.WarnContext(ctx, "security incident created",
		slog.String("incident_id", incident.ID),
		slog.String("type", string(incident.Type)),
		slog.String("severity", string(incident.Severity)))

	action := c.ActionFor(incident.Type)
	outcome := c.apply(ctx, action, incident)
	c.appendTimeline(ctx, entry, action, outcome)

	if incident.Severity.Rank() >= models.SeverityHigh.Rank() && action != ActionEmergencyResponse {
		c.dispatchAsync(ctx, incident)
	}

	entry.mu.Lock()
	out := copyIncident(&entry.incident)
	entry.mu.Unlock()
	return &out, nil
}

// apply runs the handler for action and describes the outcome. Handler
// failures are recorded on the timeline, never returned.
func (c *Coordinator) apply(ctx context.Context, action string, incident models.SecurityIncident) string {
	handler, ok := c.handlers[action]
	if !ok {
		c.logger.Warn("no handler for response action",
			slog.String("action", action),
			slog.String("incident_id", incident.ID))
		return "no handler registered"
	}
	err := handler(ctx, incident)
	if errors.Is(err, ErrActionSkipped) {
		return err.Error()
	}
	if err != nil {
		c.logger.Error("response action failed",
			slog.String("action", action),
			slog.String("incident_id", incident.ID),
			slog.Any("error", err))
		return "failed: " + err.Error()
	}
	return "applied"
}

// emergencyAction escalates the incident; below high severity it is
// recorded as skipped
func (c *Coordinator) emergencyAction(ctx context.Context, incident models.SecurityIncident) error {
	if incident.Severity.Rank() < models.SeverityHigh.Rank() {
		return fmt.Errorf("%w: %s is below the escalation threshold", ErrActionSkipped, incident.Severity)
	}
	c.dispatchAsync(ctx, incident)
	return nil
}

func (c *Coordinator) notifyAction(ctx context.Context, incident models.SecurityIncident) error {
	if c.escalator == nil {
		return nil
	}
	return c.escalator.NotifySecurityTeam(ctx, incident)
}

// dispatchAsync hands the incident to the escalator without waiting. The
// dispatch outlives the caller's context; Wait blocks until it finishes.
func (c *Coordinator) dispatchAsync(ctx context.Context, incident models.SecurityIncident) {
	if c.escalator == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)

	c.dispatches.Add(1)
	go func() {
		defer c.dispatches.Done()
		defer func() {
			if r := recover(); r != nil {
				c.logger.Error("emergency dispatch panicked",
					slog.String("incident_id", incident.ID),
					slog.Any("panic", r))
			}
		}()

		resp, err := c.escalator.Dispatch(ctx, incident)
		if err != nil {
			if !errors.Is(err, models.ErrBelowEscalationThreshold) {
				c.logger.Error("emergency dispatch failed",
					slog.String("incident_id", incident.ID),
					slog.Any("error", err))
			}
			return
		}
		details := fmt.Sprintf("response %s: %d contacts notified (%s)", resp.ID, len(resp.NotifiedContacts), resp.Status)
		if err := c.AppendTimeline(ctx, incident.ID, models.TimelineEmergency, details); err != nil && !errors.Is(err, models.ErrNotFound) {
			c.logger.Error("failed to record emergency dispatch", slog.Any("error", err))
		}
	}()
}

// Wait blocks until every background dispatch has finished
func (c *Coordinator) Wait() {
	c.dispatches.Wait()
}

// ResolveIncident closes an open incident
func (c *Coordinator) ResolveIncident(ctx context.Context, id, resolution string) error {
	entry := c.lookup(ctx, id)
	if entry == nil {
		return fmt.Errorf("%w: incident %s", models.ErrNotFound, id)
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	inc := &entry.incident
	if !inc.IsOpen() {
		return fmt.Errorf("%w: incident %s", models.ErrIncidentResolved, id)
	}

	now := c.now()
	inc.Status = models.IncidentStatusResolved
	inc.ResolvedAt = &now
	inc.Resolution = &resolution
	inc.Timeline = append(inc.Timeline, models.TimelineEntry{
		Action:    models.TimelineIncidentResolved,
		Timestamp: now,
		Details:   resolution,
	})
	c.repo.Save(ctx, id, inc)

	c.record(ctx, models.AuditEventIncidentResolved, map[string]any{
		"incident_id": id,
		"resolution":  resolution,
	})
	c.logger.InfoContext(ctx, "security incident resolved", slog.String("incident_id", id))
	return nil
}

type groupKey struct {
	t      models.IncidentType
	source string
}

// Correlate groups incidents created within the correlation window by
// (type, source). Each group reaching the threshold produces one critical
// coordinated_attack incident; grouped incidents never correlate again.
func (c *Coordinator) Correlate(ctx context.Context) []*models.SecurityIncident {
	c.correlateMu.Lock()
	defer c.correlateMu.Unlock()

	cutoff := c.now().Add(-c.config.CorrelationWindow)
	groups := make(map[groupKey][]*incidentEntry)
	for _, entry := range c.snapshot() {
		entry.mu.Lock()
		inc := &entry.incident
		eligible := inc.Type != models.IncidentCoordinatedAttack &&
			inc.CorrelatedInto == "" &&
			!inc.CreatedAt.Before(cutoff)
		key := groupKey{t: inc.Type, source: inc.Source}
		entry.mu.Unlock()

		if eligible {
			groups[key] = append(groups[key], entry)
		}
	}

	var created []*models.SecurityIncident
	for key, members := range groups {
		if len(members) < c.config.CorrelationThreshold {
			continue
		}

		parentID := uuid.New().String()
		now := c.now()
		ids := make([]string, 0, len(members))
		worst := models.SeverityLow
		for _, entry := range members {
			entry.mu.Lock()
			inc := &entry.incident
			inc.CorrelatedInto = parentID
			inc.Timeline = append(inc.Timeline, models.TimelineEntry{
				Action:    models.TimelineCorrelated,
				Timestamp: now,
				Details:   "grouped into " + parentID,
			})
			if inc.Severity.Rank() > worst.Rank() {
				worst = inc.Severity
			}
			ids = append(ids, inc.ID)
			c.repo.Save(ctx, inc.ID, inc)
			entry.mu.Unlock()
		}
		sort.Strings(ids)

		parent := models.SecurityIncident{
			ID:             parentID,
			Type:           models.IncidentCoordinatedAttack,
			Severity:       models.SeverityCritical,
			Status:         models.IncidentStatusOpen,
			Source:         key.source,
			SourceDetector: "correlation",
			Details: map[string]any{
				"member_type":     string(key.t),
				"member_count":    len(ids),
				"member_severity": string(worst),
				"window":          c.config.CorrelationWindow.String(),
			},
			CreatedAt:     now,
			CorrelatedIDs: ids,
			Timeline: []models.TimelineEntry{{
				Action:    models.TimelineIncidentCreated,
				Timestamp: now,
				Details:   fmt.Sprintf("%d %s incidents from %s", len(ids), key.t, key.source),
			}},
		}

		c.correlations.Add(1)
		c.record(ctx, models.AuditEventCorrelation, map[string]any{
			"incident_id": parentID,
			"member_type": string(key.t),
			"source":      key.source,
			"members":     len(ids),
		})

		inc, _ := c.open(ctx, parent)
		created = append(created, inc)
	}
	return created
}

// Get returns a copy of one incident
func (c *Coordinator) Get(ctx context.Context, id string) (models.SecurityIncident, error) {
	entry := c.lookup(ctx, id)
	if entry == nil {
		return models.SecurityIncident{}, fmt.Errorf("%w: incident %s", models.ErrNotFound, id)
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return copyIncident(&entry.incident), nil
}

// List returns incidents matching filter, newest first
func (c *Coordinator) List(filter ListFilter) []models.SecurityIncident {
	var out []models.SecurityIncident
	for _, entry := range c.snapshot() {
		entry.mu.Lock()
		inc := &entry.incident
		if (filter.Status == "" || inc.Status == filter.Status) &&
			(filter.Severity == "" || inc.Severity == filter.Severity) &&
			(filter.Type == "" || inc.Type == filter.Type) {
			out = append(out, copyIncident(inc))
		}
		entry.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Recent returns the n newest incidents
func (c *Coordinator) Recent(n int) []models.SecurityIncident {
	all := c.List(ListFilter{})
	if n > 0 && len(all) > n {
		all = all[:n]
	}
	return all
}

// AppendTimeline adds an entry to an incident's history
func (c *Coordinator) AppendTimeline(ctx context.Context, id, action, details string) error {
	entry := c.lookup(ctx, id)
	if entry == nil {
		return fmt.Errorf("%w: incident %s", models.ErrNotFound, id)
	}
	c.appendTimeline(ctx, entry, action, details)
	return nil
}

func (c *Coordinator) appendTimeline(ctx context.Context, entry *incidentEntry, action, details string) {
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.incident.Timeline = append(entry.incident.Timeline, models.TimelineEntry{
		Action:    action,
		Timestamp: c.now(),
		Details:   details,
	})
	c.repo.Save(ctx, entry.incident.ID, &entry.incident)
}

// EvictResolved forgets incidents resolved before cutoff and returns how
// many were removed
func (c *Coordinator) EvictResolved(ctx context.Context, cutoff time.Time) int {
	evicted := 0
	for _, entry := range c.snapshot() {
		entry.mu.Lock()
		inc := &entry.incident
		if !inc.IsOpen() && inc.ResolvedAt != nil && inc.ResolvedAt.Before(cutoff) {
			c.mu.Lock()
			delete(c.incidents, inc.ID)
			c.mu.Unlock()
			c.repo.Remove(ctx, inc.ID)
			evicted++
		}
		entry.mu.Unlock()
	}
	return evicted
}

// Stats summarizes incident counts
func (c *Coordinator) Stats() models.IncidentStats {
	stats := models.IncidentStats{
		Correlations: c.correlations.Load(),
		BySeverity:   make(map[string]int),
		ByType:       make(map[string]int),
	}
	for _, entry := range c.snapshot() {
		entry.mu.Lock()
		inc := &entry.incident
		stats.Total++
		stats.ByType[string(inc.Type)]++
		if inc.IsOpen() {
			stats.Open++
			stats.BySeverity[string(inc.Severity)]++
		} else {
			stats.Resolved++
		}
		entry.mu.Unlock()
	}
	return stats
}

func (c *Coordinator) lookup(ctx context.Context, id string) *incidentEntry {
	c.mu.RLock()
	entry, ok := c.incidents[id]
	c.mu.RUnlock()
	if ok {
		return entry
	}

	stored, found := c.repo.Load(ctx, id)
	if !found {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.incidents[id]; ok {
		return entry
	}
	entry = &incidentEntry{incident: *stored}
	c.incidents[id] = entry
	return entry
}

func (c *Coordinator) snapshot() []*incidentEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entries := make([]*incidentEntry, 0, len(c.incidents))
	for _, e := range c.incidents {
		entries = append(entries, e)
	}
	return entries
}

func (c *Coordinator) record(ctx context.Context, event string, data map[string]any) {
	if c.audit != nil {
		c.audit.Record(ctx, event, data)
	}
}

func copyIncident(inc *models.SecurityIncident) models.SecurityIncident {
	out := *inc
	out.Timeline = slices.Clone(inc.Timeline)
	out.CorrelatedIDs = slices.Clone(inc.CorrelatedIDs)
	return out
}
