package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	logReads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funws",
			Subsystem: "log",
			Name:      "reads_total",
			Help:      "Log read requests by log type and outcome.",
		}, []string{"type", "outcome"},
	)
	fileWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funws",
			Subsystem: "file",
			Name:      "writes_total",
			Help:      "Guarded file writes by outcome (ok, conflict, forced, error).",
		}, []string{"outcome"},
	)
	reclaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funws",
			Subsystem: "reclaim",
			Name:      "outcomes_total",
			Help:      "Workspace directory reclamation outcomes.",
		}, []string{"status"},
	)
	reclaimDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "funws",
			Subsystem: "reclaim",
			Name:      "duration_seconds",
			Help:      "Time spent reclaiming a directory including retries.",
			Buckets:   prometheus.DefBuckets,
		},
	)
	logsCleaned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "funws",
			Subsystem: "log",
			Name:      "cleaned_files_total",
			Help:      "Historical run log files removed on application deletion.",
		},
	)
	portLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "funws",
			Subsystem: "gate",
			Name:      "port_lookups_total",
			Help:      "Port gate lookups by outcome.",
		}, []string{"outcome"},
	)
	idleWorkspaces = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "funws",
			Subsystem: "activity",
			Name:      "idle_workspaces",
			Help:      "Workspaces idle beyond the configured timeout at the last sweep.",
		},
	)
	quarantinePurged = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "funws",
			Subsystem: "reclaim",
			Name:      "quarantine_purged_total",
			Help:      "Quarantined directories removed after their retention elapsed.",
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{logReads, fileWrites, reclaims, reclaimDuration, logsCleaned, portLookups, idleWorkspaces, quarantinePurged}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func ObserveLogRead(kind, outcome string) {
	if regOK.Load() {
		logReads.WithLabelValues(kind, outcome).Inc()
	}
}

func ObserveWrite(outcome string) {
	if regOK.Load() {
		fileWrites.WithLabelValues(outcome).Inc()
	}
}

func ObserveReclaim(status string, took time.Duration) {
	if regOK.Load() {
		reclaims.WithLabelValues(status).Inc()
		reclaimDuration.Observe(took.Seconds())
	}
}

func AddLogsCleaned(n int) {
	if regOK.Load() && n > 0 {
		logsCleaned.Add(float64(n))
	}
}

func ObservePortLookup(outcome string) {
	if regOK.Load() {
		portLookups.WithLabelValues(outcome).Inc()
	}
}

func SetIdleWorkspaces(n int) {
	if regOK.Load() {
		idleWorkspaces.Set(float64(n))
	}
}

func AddQuarantinePurged(n int) {
	if regOK.Load() && n > 0 {
		quarantinePurged.Add(float64(n))
	}
}
