// Package metrics exposes engine observability through a private prometheus
// registry, one per engine instance so tests never share collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's collectors.
type Metrics struct {
	registry *prometheus.Registry

	// OpsTotal counts engine operations by operation and status.
	OpsTotal *prometheus.CounterVec

	// MergesTotal counts completed merges.
	MergesTotal prometheus.Counter

	// LiveKeys tracks the number of keys present in the index.
	LiveKeys prometheus.Gauge

	// DiskBytes tracks the total size of all segment files.
	DiskBytes prometheus.Gauge
}

// New creates a Metrics with its own registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	return &Metrics{
		registry: registry,
		OpsTotal: promauto.With(registry).NewCounterVec(
			prometheus.CounterOpts{
				Name: "caskdb_operations_total",
				Help: "Total number of engine operations",
			},
			[]string{"operation", "status"},
		),
		MergesTotal: promauto.With(registry).NewCounter(
			prometheus.CounterOpts{
				Name: "caskdb_merges_total",
				Help: "Total number of completed merges",
			},
		),
		LiveKeys: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "caskdb_live_keys",
				Help: "Number of live keys in the index",
			},
		),
		DiskBytes: promauto.With(registry).NewGauge(
			prometheus.GaugeOpts{
				Name: "caskdb_disk_bytes",
				Help: "Bytes occupied by segment files on disk",
			},
		),
	}
}

// Observe records one operation outcome.
func (m *Metrics) Observe(operation string, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.OpsTotal.WithLabelValues(operation, status).Inc()
}

// Handler serves the registry for caskd's /metrics route.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
