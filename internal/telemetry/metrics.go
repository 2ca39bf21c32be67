package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across the whole service.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "cac",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// NodesRegisteredTotal counts successful (non-idempotent) registrations.
var NodesRegisteredTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cac",
		Subsystem: "registrar",
		Name:      "nodes_registered_total",
		Help:      "Total number of nodes registered for the first time.",
	},
)

// RegistrationCooldownRejectionsTotal counts 429s returned for duplicate
// registrations inside the cooldown window.
var RegistrationCooldownRejectionsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cac",
		Subsystem: "registrar",
		Name:      "cooldown_rejections_total",
		Help:      "Total number of registration requests rejected due to an active cooldown.",
	},
)

// KeepalivesReceivedTotal counts keepalive pulses ingested.
var KeepalivesReceivedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cac",
		Subsystem: "keepalive",
		Name:      "received_total",
		Help:      "Total number of keepalive pulses received.",
	},
)

// CheckInsRecordedTotal counts statistics-bucket increments actually applied
// (i.e. the dedup test-and-set succeeded).
var CheckInsRecordedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "cac",
		Subsystem: "keepalive",
		Name:      "check_ins_recorded_total",
		Help:      "Total number of check-in bucket increments recorded (post-dedup).",
	},
)

// StaleNodesReapedTotal counts nodes cleaned up by the stale-node reaper, by
// shutdown kind (graceful, ungraceful).
var StaleNodesReapedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cac",
		Subsystem: "reaper",
		Name:      "nodes_reaped_total",
		Help:      "Total number of nodes reaped by the stale-node reaper.",
	},
	[]string{"kind"},
)

// SchedulabilityActionsTotal counts cordon/uncordon actions taken by the
// schedulability controller.
var SchedulabilityActionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "cac",
		Subsystem: "schedulability",
		Name:      "actions_total",
		Help:      "Total number of cordon/uncordon actions taken.",
	},
	[]string{"action"},
)

// SurvivalProbability observes the survival probability computed per query,
// useful for spotting an estimator trending toward mass cordons.
var SurvivalProbability = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "cac",
		Subsystem: "survival",
		Name:      "probability",
		Help:      "Distribution of computed survival probabilities.",
		Buckets:   []float64{0, 0.1, 0.25, 0.5, 0.75, 0.9, 1},
	},
)

// All returns all service-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		NodesRegisteredTotal,
		RegistrationCooldownRejectionsTotal,
		KeepalivesReceivedTotal,
		CheckInsRecordedTotal,
		StaleNodesReapedTotal,
		SchedulabilityActionsTotal,
		SurvivalProbability,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process collectors
// and all service metrics registered.
func NewMetricsRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range All() {
		reg.MustRegister(c)
	}
	return reg
}
