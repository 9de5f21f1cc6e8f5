package detection

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/BradenHooton/sentinel/internal/models"
	"golang.org/x/sync/errgroup"
)

// Pipeline fans a tick out to every registered detector. A failing or
// panicking detector is logged and counted; it never affects the others.
type Pipeline struct {
	mu        sync.RWMutex
	detectors []Detector

	statsMu   sync.Mutex
	stats     map[string]*models.DetectorStats
	runs      int64
	lastRunAt *time.Time

	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time
}

// NewPipeline creates a Pipeline. Each Scan is bounded by timeout when it
// is positive.
func NewPipeline(timeout time.Duration, logger *slog.Logger, detectors ...Detector) *Pipeline {
	p := &Pipeline{
		stats:   make(map[string]*models.DetectorStats),
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
	for _, d := range detectors {
		p.Register(d)
	}
	return p
}

// Register adds a detector. A detector with the same name replaces the
// previous one.
func (p *Pipeline) Register(d Detector) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, existing := range p.detectors {
		if existing.Name() == d.Name() {
			p.detectors[i] = d
			return
		}
	}
	p.detectors = append(p.detectors, d)
}

// Detectors returns the registered detector names in registration order
func (p *Pipeline) Detectors() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.detectors))
	for i, d := range p.detectors {
		names[i] = d.Name()
	}
	return names
}

// Run invokes every detector once, concurrently, and concatenates their
// findings in registration order
func (p *Pipeline) Run(ctx context.Context) []models.Finding {
	p.mu.RLock()
	detectors := make([]Detector, len(p.detectors))
	copy(detectors, p.detectors)
	p.mu.RUnlock()

	results := make([][]models.Finding, len(detectors))
	var g errgroup.Group
	for i, d := range detectors {
		g.Go(func() error {
			results[i] = p.scan(ctx, d)
			return nil
		})
	}
	// scan never returns an error to the group
	_ = g.Wait()

	var findings []models.Finding
	for _, r := range results {
		findings = append(findings, r...)
	}

	now := p.now()
	p.statsMu.Lock()
	p.runs++
	p.lastRunAt = &now
	p.statsMu.Unlock()

	return findings
}

func (p *Pipeline) scan(ctx context.Context, d Detector) (findings []models.Finding) {
	name := d.Name()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("detector panicked",
				slog.String("detector", name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			p.count(name, 0, true)
			findings = nil
		}
	}()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	found, err := d.Scan(ctx)
	if err != nil {
		p.logger.Error("detector failed",
			slog.String("detector", name),
			slog.Any("error", fmt.Errorf("scan: %w", err)))
		p.count(name, 0, true)
		return nil
	}

	for i := range found {
		if found[i].SourceDetector == "" {
			found[i].SourceDetector = name
		}
		if found[i].Timestamp.IsZero() {
			found[i].Timestamp = p.now()
		}
	}
	p.count(name, len(found), false)
	return found
}

func (p *Pipeline) count(name string, findings int, failed bool) {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()
	s, ok := p.stats[name]
	if !ok {
		s = &models.DetectorStats{}
		p.stats[name] = s
	}
	s.Runs++
	s.Findings += int64(findings)
	if failed {
		s.Failures++
	}
}

// Stats returns per-detector and aggregate run counters
func (p *Pipeline) Stats() models.DetectionStats {
	p.statsMu.Lock()
	defer p.statsMu.Unlock()

	stats := models.DetectionStats{
		Runs:       p.runs,
		LastRunAt:  p.lastRunAt,
		ByDetector: make(map[string]models.DetectorStats, len(p.stats)),
	}
	for name, s := range p.stats {
		stats.ByDetector[name] = *s
		stats.Findings += s.Findings
		stats.Failures += s.Failures
	}
	return stats
}
