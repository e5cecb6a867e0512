// Package metrics provides Prometheus metrics for the fluxpoint control plane.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fluxpoint"

var (
	// reactorRequestsTotal counts workflow requests by resolution outcome.
	reactorRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactor_requests_total",
			Help:      "Total number of workflow requests handled by reactors",
		},
		[]string{"reactor", "outcome"}, // outcome: resolved, no_workflow, error, orphan
	)

	// reactorCacheEntries is a gauge of cached workflows per reactor.
	reactorCacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reactor_cache_entries",
			Help:      "Number of stream names with a cached workflow",
		},
		[]string{"reactor"},
	)

	// reactorKeepAlives is a gauge of live keep-alive watchers per reactor.
	reactorKeepAlives = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reactor_keep_alives",
			Help:      "Number of armed keep-alive watchers",
		},
		[]string{"reactor"},
	)

	// reactorManagerSends counts outbound manager requests and whether a
	// manager was there to receive them.
	reactorManagerSends = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reactor_manager_sends_total",
			Help:      "Total manager requests attempted by reactors",
		},
		[]string{"reactor", "operation", "delivered"}, // operation: upsert, stop
	)

	// executorResolutionDuration is a histogram of executor resolution time.
	executorResolutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "executor_resolution_duration_seconds",
			Help:      "Duration of executor workflow resolutions in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"reactor", "outcome"},
	)

	// managerRequestsTotal counts manager requests by operation and status.
	managerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "manager_requests_total",
			Help:      "Total requests processed by the workflow manager",
		},
		[]string{"operation", "status"}, // status: ok, unknown, invalid, error
	)

	// allMetrics is a list of all metrics for registration.
	allMetrics = []prometheus.Collector{
		reactorRequestsTotal,
		reactorCacheEntries,
		reactorKeepAlives,
		reactorManagerSends,
		executorResolutionDuration,
		managerRequestsTotal,
	}
)

// Register registers all fluxpoint collectors with the given registerer.
func Register(reg prometheus.Registerer) {
	for _, collector := range allMetrics {
		reg.MustRegister(collector)
	}
}

// RecordReactorRequest counts one handled workflow request.
func RecordReactorRequest(reactor, outcome string) {
	reactorRequestsTotal.WithLabelValues(reactor, outcome).Inc()
}

// SetReactorCacheEntries tracks the cache size of a reactor.
func SetReactorCacheEntries(reactor string, n int) {
	reactorCacheEntries.WithLabelValues(reactor).Set(float64(n))
}

// SetReactorKeepAlives tracks the number of armed keep-alive watchers.
func SetReactorKeepAlives(reactor string, n int) {
	reactorKeepAlives.WithLabelValues(reactor).Set(float64(n))
}

// RecordManagerSend counts one attempted manager request from a reactor.
func RecordManagerSend(reactor, operation string, delivered bool) {
	label := "false"
	if delivered {
		label = "true"
	}
	reactorManagerSends.WithLabelValues(reactor, operation, label).Inc()
}

// ObserveExecutorResolution records the duration of one executor resolution.
func ObserveExecutorResolution(reactor, outcome string, seconds float64) {
	executorResolutionDuration.WithLabelValues(reactor, outcome).Observe(seconds)
}

// RecordManagerRequest counts one request processed by the workflow manager.
func RecordManagerRequest(operation, status string) {
	managerRequestsTotal.WithLabelValues(operation, status).Inc()
}
