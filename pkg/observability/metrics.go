// Package observability provides Prometheus metrics, OpenTelemetry tracing
// and the HTTP endpoint that exposes them.
package observability

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Session lifecycle metrics
	sessionsStartedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionkit_sessions_started_total",
			Help: "Total number of sessions started",
		},
		[]string{"mode"},
	)

	sessionsInterruptedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionkit_sessions_interrupted_total",
			Help: "Total number of sessions lost to involuntary disconnects",
		},
	)

	closingStatementsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionkit_closing_statements_total",
			Help: "Total number of detected closing statements",
		},
	)

	// Streaming metrics
	streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionkit_stream_events_total",
			Help: "Total number of decoded stream events",
		},
		[]string{"type"},
	)

	streamDecodeFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionkit_stream_decode_failures_total",
			Help: "Total number of malformed stream records skipped",
		},
	)

	// Persistence metrics
	flushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionkit_flushes_total",
			Help: "Total number of transcript flush attempts",
		},
		[]string{"status"},
	)

	entriesPersistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sessionkit_entries_persisted_total",
			Help: "Total number of transcript entries accepted by the backend",
		},
	)

	pendingEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionkit_pending_entries",
			Help: "Transcript entries waiting to be flushed",
		},
	)

	initOnce sync.Once
)

// InitMetrics registers all Prometheus collectors. Safe to call more than
// once.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			sessionsStartedTotal,
			sessionsInterruptedTotal,
			closingStatementsTotal,
			streamEventsTotal,
			streamDecodeFailuresTotal,
			flushesTotal,
			entriesPersistedTotal,
			pendingEntries,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSessionStarted records a session start for the given mode
// ("voice" or "text").
func RecordSessionStarted(mode string) {
	sessionsStartedTotal.WithLabelValues(mode).Inc()
}

// RecordSessionInterrupted records an involuntary disconnect.
func RecordSessionInterrupted() {
	sessionsInterruptedTotal.Inc()
}

// RecordClosingStatement records a detected closing statement.
func RecordClosingStatement() {
	closingStatementsTotal.Inc()
}

// RecordStreamEvent records a decoded stream event by type.
func RecordStreamEvent(eventType string) {
	streamEventsTotal.WithLabelValues(eventType).Inc()
}

// RecordStreamDecodeFailure records a malformed stream record.
func RecordStreamDecodeFailure() {
	streamDecodeFailuresTotal.Inc()
}

// RecordFlush records a flush attempt and, on success, the number of
// entries the backend accepted.
func RecordFlush(ok bool, accepted int) {
	if ok {
		flushesTotal.WithLabelValues("ok").Inc()
		entriesPersistedTotal.Add(float64(accepted))
		return
	}
	flushesTotal.WithLabelValues("error").Inc()
}

// SetPendingEntries sets the pending-entries gauge.
func SetPendingEntries(n int) {
	pendingEntries.Set(float64(n))
}
