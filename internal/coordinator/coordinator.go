// Package coordinator composes the security components behind one facade
// and drives the monitoring loop.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/audit"
	"github.com/BradenHooton/sentinel/internal/auth"
	"github.com/BradenHooton/sentinel/internal/background"
	"github.com/BradenHooton/sentinel/internal/config"
	"github.com/BradenHooton/sentinel/internal/detection"
	"github.com/BradenHooton/sentinel/internal/emergency"
	"github.com/BradenHooton/sentinel/internal/fingerprint"
	"github.com/BradenHooton/sentinel/internal/incident"
	"github.com/BradenHooton/sentinel/internal/mfa"
	"github.com/BradenHooton/sentinel/internal/models"
	"github.com/BradenHooton/sentinel/internal/notify"
	"github.com/BradenHooton/sentinel/internal/repositories"
	"github.com/BradenHooton/sentinel/internal/session"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	detectorTimeout     = 10 * time.Second
	dashboardIncidents  = 10
	dashboardAuditLines = 20
)

// Options carries the optional collaborators. Every field may be left zero.
type Options struct {
	Store         repositories.EntityStore
	Notifier      notify.Notifier
	Authenticator mfa.Authenticator
	AuditSinks    []audit.Sink
	Registerer    prometheus.Registerer
	Detectors     []detection.Detector // registered after the shipped set
}

// SecurityCoordinator owns every security component and the single
// monitoring loop
type SecurityCoordinator struct {
	config *config.Config
	logger *slog.Logger
	now    func() time.Time

	audit      *audit.Log
	devices    *fingerprint.Engine
	mfa        *mfa.Manager
	sessions   *session.RiskEngine
	bruteForce *detection.BruteForceDetector
	pipeline   *detection.Pipeline
	incidents  *incident.Coordinator
	emergency  *emergency.Dispatcher
	metrics    *metrics
	runner     *background.Runner

	stateMu    sync.RWMutex
	level      models.SecurityLevel
	score      float64
	scores     models.SubsystemScores
	lastTickAt *time.Time

	// gate admits facade calls until shutdown begins
	gate     sync.RWMutex
	closing  bool
	inflight sync.WaitGroup

	shutdownOnce sync.Once
}

// New builds every component from cfg and wires them together
func New(cfg *config.Config, opts Options, logger *slog.Logger) (*SecurityCoordinator, error) {
	totp, err := auth.NewTOTPManager(cfg.MFA.EncryptionKey, cfg.MFA.Issuer)
	if err != nil {
		return nil, fmt.Errorf("failed to create TOTP manager: %w", err)
	}
	tokens := auth.NewTokenManager(cfg.Identity.JWTSecret, cfg.MFA.Issuer, cfg.MFA.SetupTokenExpiry)

	if opts.Registerer == nil {
		opts.Registerer = prometheus.NewRegistry()
	}

	c := &SecurityCoordinator{
		config:  cfg,
		logger:  logger,
		now:     time.Now,
		level:   models.SecurityLevelHigh,
		score:   100,
		scores:  models.SubsystemScores{Auth: 100, Session: 100, Incident: 100},
		metrics: newMetrics(opts.Registerer),
	}

	c.audit = audit.NewLog(cfg.Monitoring.AuditCapacity, logger, opts.AuditSinks...)
	c.devices = fingerprint.NewEngine(opts.Store, logger)
	c.bruteForce = detection.NewBruteForceDetector(cfg.Detection.BruteForceThreshold, cfg.Detection.BruteForceWindow, logger)

	c.mfa = mfa.NewManager(mfa.Config{
		BackupCodeCount:    cfg.MFA.BackupCodeCount,
		BackupCodeCost:     cfg.MFA.BackupCodeCost,
		DeliveryCodeExpiry: cfg.MFA.DeliveryCodeExpiry,
		ChallengeExpiry:    cfg.MFA.ChallengeExpiry,
	}, mfa.Deps{
		TOTP:          totp,
		Tokens:        tokens,
		Notifier:      opts.Notifier,
		Authenticator: opts.Authenticator,
		Recorder:      c.bruteForce,
		Store:         opts.Store,
		Audit:         c.audit,
	}, logger)

	c.sessions = session.NewRiskEngine(cfg.Session, c.devices, opts.Store, c.audit, logger)

	c.pipeline = detection.NewPipeline(detectorTimeout, logger, detection.DefaultDetectors(c.bruteForce)...)
	for _, d := range opts.Detectors {
		c.pipeline.Register(d)
	}

	directory := emergency.NewDirectory(cfg.Escalation.SecurityTeam, cfg.Escalation.Management, cfg.Escalation.Legal)
	c.emergency = emergency.NewDispatcher(directory, opts.Notifier, opts.Store, c.audit, logger)

	c.incidents = incident.NewCoordinator(incident.Config{
		CorrelationThreshold: cfg.Incident.CorrelationThreshold,
		CorrelationWindow:    cfg.Incident.CorrelationWindow,
	}, c.emergency, opts.Store, c.audit, logger)
	c.incidents.HandleAction(incident.ActionLockAccount, c.lockAccount)
	c.incidents.HandleAction(incident.ActionBlockAccess, c.blockAccess)
	c.incidents.HandleAction(incident.ActionEnhancedMonitoring, c.enhanceMonitoring)
	c.incidents.HandleAction(incident.ActionQuarantineContent, c.quarantineContent)

	c.runner = background.NewRunner("security-monitor", cfg.Monitoring.TickInterval, c.Tick, logger)
	return c, nil
}

// SetClock replaces the time source of the coordinator and every component
func (c *SecurityCoordinator) SetClock(now func() time.Time) {
	c.now = now
	c.audit.SetClock(now)
	c.devices.SetClock(now)
	c.mfa.SetClock(now)
	c.sessions.SetClock(now)
	c.bruteForce.SetClock(now)
	c.incidents.SetClock(now)
	c.emergency.SetClock(now)
}

// Start launches the monitoring loop in the background
func (c *SecurityCoordinator) Start(ctx context.Context) {
	go c.runner.Start(ctx)
	c.logger.Info("security monitor started",
		slog.Duration("interval", c.config.Monitoring.TickInterval),
		slog.Any("detectors", c.pipeline.Detectors()))
}

// Shutdown rejects new calls, stops the monitoring loop and waits for
// in-flight calls and background dispatches before closing the audit log.
// It returns ctx.Err() if ctx ends first.
func (c *SecurityCoordinator) Shutdown(ctx context.Context) error {
	c.gate.Lock()
	c.closing = true
	c.gate.Unlock()

	done := make(chan struct{})
	go func() {
		c.shutdownOnce.Do(func() {
			c.runner.Stop()
			c.inflight.Wait()
			c.incidents.Wait()
			c.audit.Close()
		})
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("security coordinator stopped")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("security coordinator shutdown: %w", ctx.Err())
	}
}

// enter admits a facade call; the caller must defer leave on success
func (c *SecurityCoordinator) enter() error {
	c.gate.RLock()
	defer c.gate.RUnlock()
	if c.closing {
		return models.ErrShuttingDown
	}
	c.inflight.Add(1)
	return nil
}

func (c *SecurityCoordinator) leave() {
	c.inflight.Done()
}

// Tick runs one monitoring pass. Every step is isolated; a panicking step
// is logged and the remaining steps still run.
func (c *SecurityCoordinator) Tick(ctx context.Context) {
	start := time.Now()

	var findings []models.Finding
	c.step(ctx, "detect", func() {
		findings = c.pipeline.Run(ctx)
	})
	c.step(ctx, "incidents", func() {
		c.openIncidents(ctx, findings)
	})
	c.step(ctx, "correlate", func() {
		for _, inc := range c.incidents.Correlate(ctx) {
			c.metrics.incidents.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()
		}
	})
	c.step(ctx, "risk", func() {
		c.openIncidents(ctx, c.sessions.RecomputeRisk(ctx))
	})
	c.step(ctx, "score", func() {
		c.updateScore(ctx)
	})
	c.step(ctx, "evict", func() {
		c.evict(ctx)
	})

	now := c.now()
	c.stateMu.Lock()
	c.lastTickAt = &now
	c.stateMu.Unlock()
	c.metrics.tickDuration.Observe(time.Since(start).Seconds())
}

func (c *SecurityCoordinator) step(ctx context.Context, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			c.metrics.tickStepErrors.WithLabelValues(name).Inc()
			c.logger.ErrorContext(ctx, "monitoring step panicked",
				slog.String("step", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	fn()
}

func (c *SecurityCoordinator) openIncidents(ctx context.Context, findings []models.Finding) {
	for _, f := range findings {
		c.metrics.findings.WithLabelValues(f.SourceDetector).Inc()
		inc, err := c.incidents.CreateIncident(ctx, f)
		if err != nil {
			c.logger.ErrorContext(ctx, "failed to open incident from finding",
				slog.String("detector", f.SourceDetector),
				slog.String("type", string(f.Type)),
				slog.Any("error", err))
			continue
		}
		c.metrics.incidents.WithLabelValues(string(inc.Type), string(inc.Severity)).Inc()
	}
}

func (c *SecurityCoordinator) evict(ctx context.Context) {
	now := c.now()
	swept := c.sessions.SweepExpired(ctx)
	c.metrics.sweptSessions.Add(float64(swept))

	evicted := c.incidents.EvictResolved(ctx, now.Add(-c.config.Incident.ResolvedRetention))
	aged := 0
	if c.config.Monitoring.AuditRetention > 0 {
		aged = c.audit.EvictOlderThan(now.Add(-c.config.Monitoring.AuditRetention))
	}

	if swept+evicted+aged > 0 {
		c.logger.InfoContext(ctx, "monitoring eviction completed",
			slog.Int("sessions", swept),
			slog.Int("incidents", evicted),
			slog.Int("audit_entries", aged))
	}
}
