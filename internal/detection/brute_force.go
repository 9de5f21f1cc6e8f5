package detection

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
)

// BruteForceDetector counts failed MFA verifications per user. A user
// reaching threshold failures inside window is reported once, after which
// their count starts over.
type BruteForceDetector struct {
	mu        sync.Mutex
	failures  map[string][]failedAttempt
	threshold int
	window    time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

type failedAttempt struct {
	at   time.Time
	ip   string
	kind models.MFAKind
}

// NewBruteForceDetector creates a BruteForceDetector
func NewBruteForceDetector(threshold int, window time.Duration, logger *slog.Logger) *BruteForceDetector {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &BruteForceDetector{
		failures:  make(map[string][]failedAttempt),
		threshold: threshold,
		window:    window,
		logger:    logger,
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (d *BruteForceDetector) SetClock(now func() time.Time) {
	d.now = now
}

func (d *BruteForceDetector) Name() string {
	return DetectorBruteForce
}

// RecordAttempt implements mfa.AttemptRecorder. A success clears the
// user's failure history.
func (d *BruteForceDetector) RecordAttempt(ctx context.Context, attempt models.MFAAttempt) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if attempt.Success {
		delete(d.failures, attempt.UserID)
		return
	}
	at := attempt.Timestamp
	if at.IsZero() {
		at = d.now()
	}
	d.failures[attempt.UserID] = append(d.failures[attempt.UserID], failedAttempt{
		at:   at,
		ip:   attempt.IPAddress,
		kind: attempt.Kind,
	})
}

func (d *BruteForceDetector) Scan(ctx context.Context) ([]models.Finding, error) {
	now := d.now()
	cutoff := now.Add(-d.window)

	d.mu.Lock()
	defer d.mu.Unlock()

	var findings []models.Finding
	for userID, attempts := range d.failures {
		recent := attempts[:0]
		for _, a := range attempts {
			if !a.at.Before(cutoff) {
				recent = append(recent, a)
			}
		}
		if len(recent) == 0 {
			delete(d.failures, userID)
			continue
		}
		if len(recent) < d.threshold {
			d.failures[userID] = recent
			continue
		}

		findings = append(findings, models.Finding{
			Type:           models.IncidentRepeatedFailedVerification,
			Severity:       models.SeverityHigh,
			SourceDetector: DetectorBruteForce,
			Source:         userID,
			Details: map[string]any{
				"failures":     len(recent),
				"window":       d.window.String(),
				"ip_addresses": distinctIPs(recent),
				"last_kind":    string(recent[len(recent)-1].kind),
			},
			Timestamp: now,
		})
		delete(d.failures, userID)
		d.logger.WarnContext(ctx, "repeated MFA failures detected",
			slog.String("user_id", userID),
			slog.Int("failures", len(recent)))
	}
	return findings, nil
}

func distinctIPs(attempts []failedAttempt) []string {
	seen := make(map[string]struct{})
	var ips []string
	for _, a := range attempts {
		if a.ip == "" {
			continue
		}
		if _, ok := seen[a.ip]; ok {
			continue
		}
		seen[a.ip] = struct{}{}
		ips = append(ips, a.ip)
	}
	return ips
}
