package core

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Lookup results.
const (
	lookupMiss        = "miss"
	lookupError       = "error"
	lookupFullHit     = "full"
	lookupPartialHit  = "partial"
	saveResultOK      = "ok"
	saveResultFailure = "error"
)

// Metrics are the engine's Prometheus instruments. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	lookups         *prometheus.CounterVec
	decisions       *prometheus.CounterVec
	saves           *prometheus.CounterVec
	restoredFiles   prometheus.Counter
	restoreFailures prometheus.Counter
	buildDuration   *prometheus.HistogramVec
}

// NewMetrics registers the engine metrics with reg. A nil reg creates
// unregistered instruments.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		lookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildcache",
			Subsystem: "engine",
			Name:      "lookups_total",
			Help:      "Cache lookups by result (miss, full, partial, error).",
		}, []string{"result"}),
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildcache",
			Subsystem: "engine",
			Name:      "unit_decisions_total",
			Help:      "Work unit decisions by action.",
		}, []string{"action"}),
		saves: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "buildcache",
			Subsystem: "engine",
			Name:      "saves_total",
			Help:      "Record saves by result.",
		}, []string{"result"}),
		restoredFiles: f.NewCounter(prometheus.CounterOpts{
			Namespace: "buildcache",
			Subsystem: "engine",
			Name:      "restored_files_total",
			Help:      "Files written into workspaces by restores.",
		}),
		restoreFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: "buildcache",
			Subsystem: "engine",
			Name:      "restore_failures_total",
			Help:      "Restores that failed and fell back to a full build.",
		}),
		buildDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "buildcache",
			Subsystem: "engine",
			Name:      "build_duration_seconds",
			Help:      "Duration of cache-aware builds by outcome.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 4, 8),
		}, []string{"outcome"}),
	}
}

func (m *Metrics) lookup(result string) {
	if m != nil {
		m.lookups.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) decision(a Action) {
	if m != nil {
		m.decisions.WithLabelValues(string(a)).Inc()
	}
}

func (m *Metrics) save(result string) {
	if m != nil {
		m.saves.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) restored(written int, failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.restoreFailures.Inc()
		return
	}
	m.restoredFiles.Add(float64(written))
}

func (m *Metrics) observeBuild(o Outcome, seconds float64) {
	if m != nil {
		m.buildDuration.WithLabelValues(string(o)).Observe(seconds)
	}
}
