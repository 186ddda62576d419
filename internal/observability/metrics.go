// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Program metrics
	InstructionsProcessed *prometheus.CounterVec
	InstructionLatency    *prometheus.HistogramVec
	LedgerConflicts       prometheus.Counter
	EventsPersisted       prometheus.Counter
	EventPersistErrors    prometheus.Counter

	// Audit metrics
	AuditRuns       prometheus.Counter
	AuditViolations *prometheus.CounterVec

	// API metrics
	APIRequests      *prometheus.CounterVec
	APIRateLimited   prometheus.Counter
	WebsocketClients prometheus.Gauge

	// Latency metrics
	RPCCallLatency *prometheus.HistogramVec

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastCommittedSlot prometheus.Gauge
}

// NewMetrics creates a new Metrics instance registered with reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "solana_lending_lab"
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)

	return &Metrics{
		// Program metrics
		InstructionsProcessed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "program",
			Name:      "instructions_total",
			Help:      "Total number of instructions processed by kind and outcome",
		}, []string{"kind", "outcome"}),
		InstructionLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "program",
			Name:      "instruction_latency_seconds",
			Help:      "Instruction processing latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		LedgerConflicts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "conflicts_total",
			Help:      "Total number of commits rejected by a concurrent write",
		}),
		EventsPersisted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "program",
			Name:      "events_persisted_total",
			Help:      "Total number of ledger events written to the event store",
		}),
		EventPersistErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "program",
			Name:      "event_persist_errors_total",
			Help:      "Total number of failed event store writes",
		}),

		// Audit metrics
		AuditRuns: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "runs_total",
			Help:      "Total number of market audits",
		}),
		AuditViolations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "violations_total",
			Help:      "Total number of solvency violations found by kind",
		}, []string{"kind"}),

		// API metrics
		APIRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of JSON-RPC requests by method and outcome",
		}, []string{"method", "outcome"}),
		APIRateLimited: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by the rate limiter",
		}),
		WebsocketClients: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "websocket_clients",
			Help:      "Current number of websocket event subscribers",
		}),

		// Latency metrics
		RPCCallLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "solana",
			Name:      "rpc_call_latency_seconds",
			Help:      "Solana RPC call latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),

		// Database metrics
		DBQueryDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		// Health metrics
		LastCommittedSlot: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_committed_slot",
			Help:      "Slot of the most recently committed instruction",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("", nil)

// RecordInstruction records one processed instruction.
func RecordInstruction(kind, outcome string, seconds float64) {
	DefaultMetrics.InstructionsProcessed.WithLabelValues(kind, outcome).Inc()
	DefaultMetrics.InstructionLatency.WithLabelValues(kind).Observe(seconds)
}

// RecordConflict increments the ledger conflict counter.
func RecordConflict() {
	DefaultMetrics.LedgerConflicts.Inc()
}

// RecordCommittedSlot updates the last committed slot gauge.
func RecordCommittedSlot(slot uint64) {
	DefaultMetrics.LastCommittedSlot.Set(float64(slot))
}

// RecordEventsPersisted records an event store write.
func RecordEventsPersisted(n int, err error) {
	if err != nil {
		DefaultMetrics.EventPersistErrors.Inc()
		return
	}
	DefaultMetrics.EventsPersisted.Add(float64(n))
}

// RecordAudit records one audit run and its violations.
func RecordAudit(violationKinds []string) {
	DefaultMetrics.AuditRuns.Inc()
	for _, kind := range violationKinds {
		DefaultMetrics.AuditViolations.WithLabelValues(kind).Inc()
	}
}

// RecordAPIRequest records a JSON-RPC request.
func RecordAPIRequest(method, outcome string) {
	DefaultMetrics.APIRequests.WithLabelValues(method, outcome).Inc()
}

// RecordRateLimited increments the rate limited counter.
func RecordRateLimited() {
	DefaultMetrics.APIRateLimited.Inc()
}

// AddWebsocketClients adjusts the websocket subscriber gauge.
func AddWebsocketClients(delta int) {
	DefaultMetrics.WebsocketClients.Add(float64(delta))
}

// RecordRPCLatency records RPC call latency.
func RecordRPCLatency(method string, seconds float64) {
	DefaultMetrics.RPCCallLatency.WithLabelValues(method).Observe(seconds)
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
