// Package metrics exposes ledger outcomes to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusCollector implements ports.LedgerMetrics.
type PrometheusCollector struct {
	operations     *prometheus.CounterVec
	latency        *prometheus.HistogramVec
	accountsOpened prometheus.Counter
}

// NewPrometheusCollector creates a collector. Call Register before use.
func NewPrometheusCollector(namespace string) *PrometheusCollector {
	return &PrometheusCollector{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Ledger operations by kind and result code (OK on success)",
			},
			[]string{"operation", "code"},
		),
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Ledger operation latency including the store commit",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"operation"},
		),
		accountsOpened: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accounts_opened_total",
				Help:      "Accounts opened",
			},
		),
	}
}

// Register registers all metrics with the given registry.
func (pc *PrometheusCollector) Register(registry prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{pc.operations, pc.latency, pc.accountsOpened} {
		if err := registry.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// RecordOperation counts one ledger call and observes its latency.
func (pc *PrometheusCollector) RecordOperation(operation, code string, duration time.Duration) {
	pc.operations.WithLabelValues(operation, code).Inc()
	pc.latency.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAccountOpened counts a committed CreateAccount.
func (pc *PrometheusCollector) RecordAccountOpened() {
	pc.accountsOpened.Inc()
}
