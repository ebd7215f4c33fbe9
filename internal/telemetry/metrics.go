package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks inbound HTTP request latency by method, route
// pattern, and status code.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "carbroker",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds, by method, route, and status.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "route", "status"},
)

// AdapterCallDuration tracks source adapter latency by operation and
// outcome, covering both fan-out availability calls (outcome "ok",
// "TIMEOUT" or "SOURCE_ERROR") and the four booking operations (outcome
// "ok" or "error").
var AdapterCallDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "carbroker",
		Subsystem: "adapter",
		Name:      "call_duration_seconds",
		Help:      "Source adapter call duration in seconds, by operation and outcome.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"operation", "outcome"},
)

// FanoutJobsTotal counts completed availability jobs by completion reason.
var FanoutJobsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "carbroker",
		Subsystem: "fanout",
		Name:      "jobs_total",
		Help:      "Total number of availability jobs completed, by reason.",
	},
	[]string{"reason"},
)

// FanoutSLABreachesTotal counts Submit jobs whose global SLA timer elapsed
// before every worker settled (warn-only).
var FanoutSLABreachesTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "carbroker",
		Subsystem: "fanout",
		Name:      "sla_breaches_total",
		Help:      "Total number of availability jobs that exceeded the global SLA timer.",
	},
)

// BookingOperationsTotal counts booking operations by kind and outcome.
var BookingOperationsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "carbroker",
		Subsystem: "booking",
		Name:      "operations_total",
		Help:      "Total number of booking operations, by operation and outcome.",
	},
	[]string{"operation", "outcome"},
)

// SourceExclusionsTotal counts HealthMonitor backoff exclusions by source.
var SourceExclusionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "carbroker",
		Subsystem: "health",
		Name:      "source_exclusions_total",
		Help:      "Total number of times a source was excluded from fan-out by the health monitor.",
	},
	[]string{"source_id"},
)

// SourceSlowRate reports the current slow-rate gauge per source.
var SourceSlowRate = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Namespace: "carbroker",
		Subsystem: "health",
		Name:      "source_slow_rate",
		Help:      "Current slow-sample rate per source.",
	},
	[]string{"source_id"},
)

// All returns every carbroker-specific collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		HTTPRequestDuration,
		AdapterCallDuration,
		FanoutJobsTotal,
		FanoutSLABreachesTotal,
		BookingOperationsTotal,
		SourceExclusionsTotal,
		SourceSlowRate,
	}
}

// NewMetricsRegistry creates a fresh prometheus.Registry with the Go runtime
// collector, process collector, and every collector passed in registered.
func NewMetricsRegistry(collectorsToRegister ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	for _, c := range collectorsToRegister {
		reg.MustRegister(c)
	}
	return reg
}
