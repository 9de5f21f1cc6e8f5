package coordinator

import (
	"context"
	"log/slog"
	"math"

	"github.com/BradenHooton/sentinel/internal/models"
)

// Thresholds on the aggregate score
const (
	highLevelScore   = 80
	mediumLevelScore = 60
)

// Penalty per open incident, by severity
var incidentPenalty = map[models.Severity]float64{
	models.SeverityLow:      2,
	models.SeverityMedium:   5,
	models.SeverityHigh:     15,
	models.SeverityCritical: 30,
}

// subsystemScores derives the three 0-100 inputs from component stats
func subsystemScores(mfaStats models.MFAStats, sessionStats models.SessionStats, incidentStats models.IncidentStats) models.SubsystemScores {
	authScore := 100.0
	if total := mfaStats.VerifySuccesses + mfaStats.VerifyFailures; total > 0 {
		authScore = 100 * float64(mfaStats.VerifySuccesses) / float64(total)
	}

	sessionScore := 100 - sessionStats.AverageRiskScore

	incidentScore := 100.0
	for severity, open := range incidentStats.BySeverity {
		incidentScore -= incidentPenalty[models.Severity(severity)] * float64(open)
	}

	return models.SubsystemScores{
		Auth:     clampScore(authScore),
		Session:  clampScore(sessionScore),
		Incident: clampScore(incidentScore),
	}
}

// aggregateScore blends the subsystem scores with the configured weights.
// Weights are normalized; non-positive totals fall back to 40/30/30.
func aggregateScore(s models.SubsystemScores, authWeight, sessionWeight, incidentWeight float64) float64 {
	total := authWeight + sessionWeight + incidentWeight
	if authWeight < 0 || sessionWeight < 0 || incidentWeight < 0 || total <= 0 {
		authWeight, sessionWeight, incidentWeight, total = 0.4, 0.3, 0.3, 1
	}
	blended := (s.Auth*authWeight + s.Session*sessionWeight + s.Incident*incidentWeight) / total
	return math.Round(blended*10) / 10
}

func levelFor(score float64) models.SecurityLevel {
	switch {
	case score >= highLevelScore:
		return models.SecurityLevelHigh
	case score >= mediumLevelScore:
		return models.SecurityLevelMedium
	default:
		return models.SecurityLevelLow
	}
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

func (c *SecurityCoordinator) updateScore(ctx context.Context) {
	sessionStats := c.sessions.Stats()
	incidentStats := c.incidents.Stats()
	scores := subsystemScores(c.mfa.Stats(), sessionStats, incidentStats)
	weights := c.config.Monitoring
	score := aggregateScore(scores, weights.AuthWeight, weights.SessionWeight, weights.IncidentWeight)
	level := levelFor(score)

	c.stateMu.Lock()
	previous := c.level
	c.level = level
	c.score = score
	c.scores = scores
	c.stateMu.Unlock()

	c.metrics.securityScore.Set(score)
	c.metrics.subsystemScore.WithLabelValues("auth").Set(scores.Auth)
	c.metrics.subsystemScore.WithLabelValues("session").Set(scores.Session)
	c.metrics.subsystemScore.WithLabelValues("incident").Set(scores.Incident)
	for _, l := range []models.SecurityLevel{models.SecurityLevelLow, models.SecurityLevelMedium, models.SecurityLevelHigh} {
		v := 0.0
		if l == level {
			v = 1
		}
		c.metrics.securityLevel.WithLabelValues(string(l)).Set(v)
	}
	c.metrics.activeSessions.Set(float64(sessionStats.Active))
	c.metrics.openIncidents.Set(float64(incidentStats.Open))

	if level != previous {
		c.audit.Record(ctx, models.AuditEventSecurityLevel, map[string]any{
			"from":  string(previous),
			"to":    string(level),
			"score": score,
		})
		c.logger.WarnContext(ctx, "security level changed",
			slog.String("from", string(previous)),
			slog.String("to", string(level)),
			slog.Float64("score", score))
	}
}
