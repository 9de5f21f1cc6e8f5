package coordinator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "sentinel"

// metrics are registered against an injected registerer so tests can use
// a fresh registry per coordinator
type metrics struct {
	tickDuration   prometheus.Histogram
	tickStepErrors *prometheus.CounterVec
	findings       *prometheus.CounterVec
	incidents      *prometheus.CounterVec
	securityScore  prometheus.Gauge
	subsystemScore *prometheus.GaugeVec
	securityLevel  *prometheus.GaugeVec
	activeSessions prometheus.Gauge
	openIncidents  prometheus.Gauge
	sweptSessions  prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	factory := promauto.With(reg)
	return &metrics{
		tickDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "tick_duration_seconds",
			Help:      "Time spent in one monitoring tick",
			Buckets:   prometheus.DefBuckets,
		}),
		tickStepErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "monitor",
			Name:      "step_panics_total",
			Help:      "Monitoring tick steps that panicked",
		}, []string{"step"}),
		findings: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "detection",
			Name:      "findings_total",
			Help:      "Findings reported per source detector",
		}, []string{"detector"}),
		incidents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "incident",
			Name:      "created_total",
			Help:      "Incidents created by type and severity",
		}, []string{"type", "severity"}),
		securityScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "security_score",
			Help:      "Aggregate security score (0-100)",
		}),
		subsystemScore: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "subsystem_score",
			Help:      "Per-subsystem security score (0-100)",
		}, []string{"subsystem"}),
		securityLevel: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "security_level",
			Help:      "Current security level (1 for the active level)",
		}, []string{"level"}),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Active sessions",
		}),
		openIncidents: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Subsystem: "incident",
			Name:      "open",
			Help:      "Open incidents",
		}),
		sweptSessions: factory.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Subsystem: "session",
			Name:      "swept_total",
			Help:      "Sessions evicted by the expiry sweep",
		}),
	}
}
