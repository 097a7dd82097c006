// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for the bridge engine and server.
package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgego_runs_total",
			Help: "Total number of pipeline runs by terminal status",
		},
		[]string{"status"},
	)

	runDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "bridgego_run_duration_seconds",
			Help:    "Pipeline run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		},
	)

	eventsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgego_events_emitted_total",
			Help: "Total number of events emitted on run streams",
		},
		[]string{"type"},
	)

	iterationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "bridgego_iterations_total",
			Help: "Total number of refinement loop re-entries",
		},
	)

	agentInvocations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bridgego_agent_invocations_total",
			Help: "Total number of agent invocations by agent and status",
		},
		[]string{"agent", "status"},
	)

	activeConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "bridgego_active_connections",
			Help: "Number of active websocket connections",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			runsTotal,
			runDuration,
			eventsEmitted,
			iterationsTotal,
			agentInvocations,
			activeConnections,
		)
	})
}

// MetricsHandler returns the HTTP handler serving /metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordRun records a completed run with its terminal status.
func RecordRun(status string, duration time.Duration) {
	runsTotal.WithLabelValues(status).Inc()
	runDuration.Observe(duration.Seconds())
}

// RecordEvent counts an event emitted on a run stream.
func RecordEvent(eventType string) {
	eventsEmitted.WithLabelValues(eventType).Inc()
}

// RecordIteration counts a refinement loop re-entry.
func RecordIteration() {
	iterationsTotal.Inc()
}

// RecordAgentInvocation records one agent invocation outcome.
func RecordAgentInvocation(agent, status string) {
	agentInvocations.WithLabelValues(agent, status).Inc()
}

// ConnectionOpened increments the active connection gauge.
func ConnectionOpened() {
	activeConnections.Inc()
}

// ConnectionClosed decrements the active connection gauge.
func ConnectionClosed() {
	activeConnections.Dec()
}
