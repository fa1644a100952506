package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// Registry is the dedicated Prometheus registry for the planner.
	Registry = prometheus.NewRegistry()
	// HTTPRequests counts requests by method, path, and status
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests."},
		[]string{"method", "path", "status"},
	)
	// HTTPDuration records request durations in seconds
	HTTPDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "http_request_duration_seconds", Help: "HTTP request duration in seconds.", Buckets: prometheus.DefBuckets},
		[]string{"method", "path", "status"},
	)

	// OracleQueries counts travel-cost queries by mode and outcome
	OracleQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "oracle_queries_total", Help: "Travel-cost oracle queries by mode and outcome."},
		[]string{"mode", "outcome"},
	)
	// SolveDuration tracks optimizer run durations in seconds
	SolveDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "solve_duration_seconds", Help: "Optimizer run duration in seconds.", Buckets: []float64{.01, .05, .1, .25, .5, 1, 2, 5}},
		[]string{"status"},
	)
	// Reschedules counts replanning passes by trigger and result
	Reschedules = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "reschedules_total", Help: "Replanning passes by trigger and result."},
		[]string{"trigger", "result"},
	)
)

// RegisterDefault registers collectors to the planner registry.
func RegisterDefault() {
	regOnce.Do(func() {
		Registry.MustRegister(HTTPRequests)
		Registry.MustRegister(HTTPDuration)
		Registry.MustRegister(OracleQueries)
		Registry.MustRegister(SolveDuration)
		Registry.MustRegister(Reschedules)
		// Go/process collectors on our registry
		Registry.MustRegister(collectors.NewGoCollector())
		Registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

var regOnce sync.Once
