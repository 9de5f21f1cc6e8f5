// Package session tracks authenticated sessions and scores how risky each
// one looks, both at creation and periodically while it stays active.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/google/uuid"
)

const (
	maxRiskScore = 100

	// Hour distance at which the anomaly component reaches its full weight
	anomalySaturationHours = 6.0

	detectorName = "session_risk"
)

// DeviceRegistry records device sightings
type DeviceRegistry interface {
	Observe(ctx context.Context, deviceID string) (models.DeviceFingerprint, bool)
	Count() int
}

// AuditRecorder appends entries to the audit trail
type AuditRecorder interface {
	Record(ctx context.Context, event string, data map[string]any) models.AuditLogEntry
}

type sessionEntry struct {
	mu      sync.Mutex
	session models.Session
	evicted bool
}

// loginHistory accumulates login hours as unit vectors on the 24h clock so
// the mean wraps correctly around midnight
type loginHistory struct {
	sumSin float64
	sumCos float64
	count  int
}

// RiskEngine owns active sessions. Membership maps are guarded by mu; a
// session's fields by its entry lock. An entry lock may be held while
// taking mu, never the reverse.
type RiskEngine struct {
	mu       sync.RWMutex
	sessions map[string]*sessionEntry
	history  map[string]*loginHistory
	flagged  map[string]struct{}

	config  config.SessionConfig
	devices DeviceRegistry
	repo    *repositories.Repository[models.Session]
	audit   AuditRecorder
	logger  *slog.Logger
	now     func() time.Time

	createdCount    atomic.Int64
	expiredCount    atomic.Int64
	terminatedCount atomic.Int64
}

// NewRiskEngine creates a RiskEngine; store and audit may be nil
func NewRiskEngine(cfg config.SessionConfig, devices DeviceRegistry, store repositories.EntityStore, audit AuditRecorder, logger *slog.Logger) *RiskEngine {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &RiskEngine{
		sessions: make(map[string]*sessionEntry),
		history:  make(map[string]*loginHistory),
		flagged:  make(map[string]struct{}),
		config:   cfg,
		devices:  devices,
		repo:     repositories.NewRepository[models.Session](store, repositories.CollectionSessions, logger),
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// SetClock replaces the time source
func (e *RiskEngine) SetClock(now func() time.Time) {
	e.now = now
}

// CreateSession opens a session for userID on deviceID and scores it
func (e *RiskEngine) CreateSession(ctx context.Context, userID, deviceID string) (*models.Session, error) {
	if userID == "" || deviceID == "" {
		return nil, fmt.Errorf("%w: user and device are required", models.ErrValidation)
	}

	_, novel := e.devices.Observe(ctx, deviceID)
	now := e.now()

	e.mu.Lock()
	score := e.score(userID, deviceID, novel, now)
	e.recordLogin(userID, now)
	e.mu.Unlock()

	s := models.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		DeviceID:       deviceID,
		CreatedAt:      now,
		LastActivityAt: now,
		RiskScore:      score,
		IsActive:       true,
		NovelDevice:    novel,
	}

	e.mu.Lock()
	e.sessions[s.ID] = &sessionEntry{session: s}
	e.mu.Unlock()

	e.repo.Save(ctx, s.ID, &s)
	e.createdCount.Add(1)
	e.record(ctx, models.AuditEventSessionCreated, map[string]any{
		"session_id":   s.ID,
		"user_id":      userID,
		"device_id":    deviceID,
		"novel_device": novel,
		"risk_score":   score,
	})
	e.logger.InfoContext(ctx, "session created",
		slog.String("session_id", s.ID),
		slog.String("user_id", userID),
		slog.Int("risk_score", score))

	return &s, nil
}

// ValidateSession reports whether the session is still usable. An expired
// session is evicted; a valid one has its activity time refreshed.
func (e *RiskEngine) ValidateSession(ctx context.Context, sessionID string) bool {
	entry := e.lookup(ctx, sessionID)
	if entry == nil {
		return false
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.evicted || !entry.session.IsActive {
		return false
	}

	now := e.now()
	if reason, expired := e.expiry(&entry.session, now); expired {
		e.evictLocked(ctx, entry, reason)
		e.expiredCount.Add(1)
		return false
	}

	if now.After(entry.session.LastActivityAt) {
		entry.session.LastActivityAt = now
	}
	e.repo.Save(ctx, sessionID, &entry.session)
	return true
}

// TerminateSession ends a session. Terminating an unknown or already
// terminated session is a no-op.
func (e *RiskEngine) TerminateSession(ctx context.Context, sessionID string) {
	entry := e.lookup(ctx, sessionID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.evicted {
		return
	}
	e.evictLocked(ctx, entry, "terminated")
	e.terminatedCount.Add(1)
}

// Session returns a copy of an active session
func (e *RiskEngine) Session(ctx context.Context, sessionID string) (models.Session, bool) {
	entry := e.lookup(ctx, sessionID)
	if entry == nil {
		return models.Session{}, false
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	if entry.evicted {
		return models.Session{}, false
	}
	return entry.session, true
}

// FlagDevice marks a device as suspicious; every session on it picks up
// the flagged-device weight at the next recompute
func (e *RiskEngine) FlagDevice(deviceID string) {
	e.mu.Lock()
	e.flagged[deviceID] = struct{}{}
	e.mu.Unlock()

	e.logger.Warn("device flagged", slog.String("device_id", deviceID))
}

// RecomputeRisk rescores every active session. A session crossing the alert
// threshold yields one unusual_access_pattern finding over its lifetime.
func (e *RiskEngine) RecomputeRisk(ctx context.Context) []models.Finding {
	now := e.now()
	var findings []models.Finding

	for _, entry := range e.snapshot() {
		entry.mu.Lock()
		if entry.evicted {
			entry.mu.Unlock()
			continue
		}
		s := &entry.session

		e.mu.RLock()
		score := e.score(s.UserID, s.DeviceID, s.NovelDevice, now)
		e.mu.RUnlock()

		changed := score != s.RiskScore
		s.RiskScore = score

		if score >= e.config.RiskAlertThreshold && !s.RiskAlerted {
			s.RiskAlerted = true
			changed = true
			findings = append(findings, e.riskFinding(s, now))
		}
		if changed {
			e.repo.Save(ctx, s.ID, s)
		}
		entry.mu.Unlock()
	}

	if len(findings) > 0 {
		e.logger.WarnContext(ctx, "high-risk sessions detected", slog.Int("count", len(findings)))
	}
	return findings
}

// SweepExpired evicts every session past its maximum duration or idle
// timeout and returns how many were removed
func (e *RiskEngine) SweepExpired(ctx context.Context) int {
	now := e.now()
	swept := 0
	for _, entry := range e.snapshot() {
		entry.mu.Lock()
		if !entry.evicted {
			if reason, expired := e.expiry(&entry.session, now); expired {
				e.evictLocked(ctx, entry, reason)
				e.expiredCount.Add(1)
				swept++
			}
		}
		entry.mu.Unlock()
	}
	return swept
}

// ActiveSessions returns copies of all active sessions
func (e *RiskEngine) ActiveSessions() []models.Session {
	entries := e.snapshot()
	out := make([]models.Session, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		if !entry.evicted {
			out = append(out, entry.session)
		}
		entry.mu.Unlock()
	}
	return out
}

// Stats summarizes session counts and risk
func (e *RiskEngine) Stats() models.SessionStats {
	active := e.ActiveSessions()
	stats := models.SessionStats{
		Active:       len(active),
		Created:      e.createdCount.Load(),
		Expired:      e.expiredCount.Load(),
		Terminated:   e.terminatedCount.Load(),
		KnownDevices: e.devices.Count(),
	}

	total := 0
	for _, s := range active {
		total += s.RiskScore
		if s.RiskScore >= e.config.RiskAlertThreshold {
			stats.HighRisk++
		}
	}
	if len(active) > 0 {
		stats.AverageRiskScore = float64(total) / float64(len(active))
	}

	e.mu.RLock()
	stats.FlaggedDevices = len(e.flagged)
	e.mu.RUnlock()
	return stats
}

// score computes the risk of a session at now. Caller holds mu.
func (e *RiskEngine) score(userID, deviceID string, novel bool, now time.Time) int {
	score := 0
	if novel {
		score += e.config.NovelDeviceWeight
	}
	if _, ok := e.flagged[deviceID]; ok {
		score += e.config.FlaggedDeviceWeight
	}

	local := now.In(e.config.Location)
	hour := float64(local.Hour()) + float64(local.Minute())/60

	if h, ok := e.history[userID]; ok && h.count > 0 {
		distance := circularHourDistance(hour, h.mean())
		ratio := math.Min(distance, anomalySaturationHours) / anomalySaturationHours
		score += int(math.Round(ratio * float64(e.config.AnomalyWeight)))
	}

	if local.Hour() < e.config.OffHoursStart || local.Hour() >= e.config.OffHoursEnd {
		score += e.config.OffHoursWeight
	}

	return clamp(score, 0, maxRiskScore)
}

// recordLogin folds a login time into the user's history. Caller holds mu.
func (e *RiskEngine) recordLogin(userID string, at time.Time) {
	h, ok := e.history[userID]
	if !ok {
		h = &loginHistory{}
		e.history[userID] = h
	}
	local := at.In(e.config.Location)
	angle := (float64(local.Hour()) + float64(local.Minute())/60) / 24 * 2 * math.Pi
	h.sumSin += math.Sin(angle)
	h.sumCos += math.Cos(angle)
	h.count++
}

func (h *loginHistory) mean() float64 {
	angle := math.Atan2(h.sumSin, h.sumCos)
	hour := angle / (2 * math.Pi) * 24
	if hour < 0 {
		hour += 24
	}
	return hour
}

func circularHourDistance(a, b float64) float64 {
	d := math.Abs(a - b)
	if d > 12 {
		d = 24 - d
	}
	return d
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (e *RiskEngine) expiry(s *models.Session, now time.Time) (string, bool) {
	if now.Sub(s.CreatedAt) > e.config.MaxDuration {
		return "max_duration", true
	}
	if now.Sub(s.LastActivityAt) > e.config.IdleTimeout {
		return "idle_timeout", true
	}
	return "", false
}

// evictLocked removes a session. Caller holds the entry lock.
func (e *RiskEngine) evictLocked(ctx context.Context, entry *sessionEntry, reason string) {
	entry.evicted = true
	entry.session.IsActive = false

	e.mu.Lock()
	delete(e.sessions, entry.session.ID)
	e.mu.Unlock()

	e.repo.Remove(ctx, entry.session.ID)

	event := models.AuditEventSessionExpired
	if reason == "terminated" {
		event = models.AuditEventSessionTerminated
	}
	e.record(ctx, event, map[string]any{
		"session_id": entry.session.ID,
		"user_id":    entry.session.UserID,
		"reason":     reason,
	})
	e.logger.InfoContext(ctx, "session ended",
		slog.String("session_id", entry.session.ID),
		slog.String("reason", reason))
}

func (e *RiskEngine) riskFinding(s *models.Session, now time.Time) models.Finding {
	severity := models.SeverityMedium
	if s.RiskScore >= 90 {
		severity = models.SeverityHigh
	}
	return models.Finding{
		Type:           models.IncidentUnusualAccessPattern,
		Severity:       severity,
		SourceDetector: detectorName,
		Source:         s.UserID,
		Details: map[string]any{
			"session_id": s.ID,
			"device_id":  s.DeviceID,
			"risk_score": s.RiskScore,
		},
		Timestamp: now,
	}
}

// lookup finds a session in memory, falling back to the store
func (e *RiskEngine) lookup(ctx context.Context, sessionID string) *sessionEntry {
	e.mu.RLock()
	entry, ok := e.sessions[sessionID]
	e.mu.RUnlock()
	if ok {
		return entry
	}

	stored, found := e.repo.Load(ctx, sessionID)
	if !found || !stored.IsActive {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if entry, ok := e.sessions[sessionID]; ok {
		return entry
	}
	entry = &sessionEntry{session: *stored}
	e.sessions[sessionID] = entry
	return entry
}

func (e *RiskEngine) snapshot() []*sessionEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	entries := make([]*sessionEntry, 0, len(e.sessions))
	for _, entry := range e.sessions {
		entries = append(entries, entry)
	}
	return entries
}

func (e *RiskEngine) record(ctx context.Context, event string, data map[string]any) {
	if e.audit != nil {
		e.audit.Record(ctx, event, data)
	}
}
