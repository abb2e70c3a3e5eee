// Package metrics exposes deployment counters on a private Prometheus
// registry. Every method is safe on a nil *Metrics, so callers never need
// to check whether metrics are enabled.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/netpush-network/netpush/pkg/dialect"
)

const namespace = "netpush"

// Metrics collects netpush counters, gauges and histograms.
type Metrics struct {
	registry            *prometheus.Registry
	sessionsActive      *prometheus.GaugeVec
	transactionsTotal   *prometheus.CounterVec
	transactionDuration *prometheus.HistogramVec
	errorsTotal         *prometheus.CounterVec
	rollbacksTotal      *prometheus.CounterVec
	retriesTotal        prometheus.Counter
}

// New constructs a registry and registers all collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	sessionsActive := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "active",
			Help:      "Open device sessions, idle or checked out.",
		},
		[]string{"dialect"},
	)
	transactionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "total",
			Help:      "Device transactions by final status.",
		},
		[]string{"status"},
	)
	transactionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "duration_seconds",
			Help:      "Time from first attempt to final result per device.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"status"},
	)
	errorsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "errors_total",
			Help:      "Failed transactions by error class.",
		},
		[]string{"class"},
	)
	rollbacksTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "rollbacks_total",
			Help:      "Rollback attempts by outcome.",
		},
		[]string{"outcome"},
	)
	retriesTotal := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "retries_total",
			Help:      "Attempts repeated after a transport failure.",
		},
	)

	registry.MustRegister(
		sessionsActive,
		transactionsTotal,
		transactionDuration,
		errorsTotal,
		rollbacksTotal,
		retriesTotal,
	)

	return &Metrics{
		registry:            registry,
		sessionsActive:      sessionsActive,
		transactionsTotal:   transactionsTotal,
		transactionDuration: transactionDuration,
		errorsTotal:         errorsTotal,
		rollbacksTotal:      rollbacksTotal,
		retriesTotal:        retriesTotal,
	}
}

// Registry exposes the underlying registry for tests and embedding.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler returns an HTTP handler that serves the metrics registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WriteTextfile dumps the registry in the text exposition format, for
// node_exporter's textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}

func (m *Metrics) SessionOpened(d dialect.Dialect) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(string(d)).Inc()
}

func (m *Metrics) SessionClosed(d dialect.Dialect) {
	if m == nil {
		return
	}
	m.sessionsActive.WithLabelValues(string(d)).Dec()
}

// ObserveTransaction records one device's final result.
func (m *Metrics) ObserveTransaction(status, errorClass string, duration time.Duration) {
	if m == nil {
		return
	}
	if status == "" {
		status = "unknown"
	}
	m.transactionsTotal.WithLabelValues(status).Inc()
	if seconds := duration.Seconds(); seconds >= 0 {
		m.transactionDuration.WithLabelValues(status).Observe(seconds)
	}
	if errorClass != "" {
		m.errorsTotal.WithLabelValues(errorClass).Inc()
	}
}

// IncRollback counts a rollback by outcome ("succeeded", "unverified", "failed").
func (m *Metrics) IncRollback(outcome string) {
	if m == nil {
		return
	}
	m.rollbacksTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncRetry() {
	if m == nil {
		return
	}
	m.retriesTotal.Inc()
}
