package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTPRequestDuration tracks HTTP request latency across every handler.
var HTTPRequestDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "rise",
		Subsystem: "api",
		Name:      "request_duration_seconds",
		Help:      "HTTP request duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"method", "path", "status"},
)

// DeploymentsByStatus tracks the number of deployment-engine dispatch passes
// by the status the deployment held when it was claimed.
var DeploymentsByStatus = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rise",
		Subsystem: "deployment",
		Name:      "transitions_total",
		Help:      "Total number of deployment dispatch passes by the status the deployment was claimed in.",
	},
	[]string{"status"},
)

// DeploymentClaimDuration tracks how long a single claim-and-dispatch pass
// takes in the deployment engine.
var DeploymentClaimDuration = prometheus.NewHistogram(
	prometheus.HistogramOpts{
		Namespace: "rise",
		Subsystem: "deployment",
		Name:      "claim_duration_seconds",
		Help:      "Duration of a single deployment claim-and-dispatch pass.",
		Buckets:   prometheus.DefBuckets,
	},
)

// ReconcileDuration tracks the duration of one deployment-engine dispatch
// pass; the "kind" label carries the status the deployment was claimed in.
var ReconcileDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "rise",
		Subsystem: "k8s",
		Name:      "reconcile_duration_seconds",
		Help:      "Deployment dispatch duration in seconds by the status the deployment was claimed in.",
		Buckets:   prometheus.DefBuckets,
	},
	[]string{"kind"},
)

// PullSecretRefreshFailuresTotal counts failed pull-secret refresh attempts
// of the background refresher.
var PullSecretRefreshFailuresTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "rise",
		Subsystem: "registry",
		Name:      "pull_secret_refresh_failures_total",
		Help:      "Total number of failed image pull secret refresh attempts.",
	},
)

// ExtensionReconcileTotal counts extension reconciler passes by outcome
// ("done", "requeue", "error").
var ExtensionReconcileTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "rise",
		Subsystem: "extension",
		Name:      "reconcile_total",
		Help:      "Total number of extension reconcile passes by outcome.",
	},
	[]string{"kind", "outcome"},
)

// All returns every Rise-specific metrics collector for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		DeploymentsByStatus,
		DeploymentClaimDuration,
		ReconcileDuration,
		PullSecretRefreshFailuresTotal,
		ExtensionReconcileTotal,
	}
}

// NewMetricsRegistry creates a Prometheus registry with Go/process
// collectors, the shared HTTPRequestDuration metric, and any additional
// service-specific collectors passed as arguments.
func NewMetricsRegistry(extra ...prometheus.Collector) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		HTTPRequestDuration,
	)
	for _, c := range extra {
		reg.MustRegister(c)
	}
	return reg
}
