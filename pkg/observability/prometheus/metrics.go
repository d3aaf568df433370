// Package prometheus exposes accumd's operational metrics through a
// dedicated Prometheus registry.
package prometheus

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// DefaultRegistry is the registry the /metrics endpoint serves.
	DefaultRegistry = prometheus.NewRegistry()

	// DefaultRegisterer labels every metric with the service name.
	DefaultRegisterer = prometheus.WrapRegistererWith(
		prometheus.Labels{"service": "accumd"}, DefaultRegistry)

	metricsOnce sync.Once
	metrics     *Metrics
)

// Metrics holds all Prometheus metrics.
type Metrics struct {
	// Connection metrics
	ConnectionsTotal   prometheus.Counter
	ConnectionsActive  prometheus.Gauge
	ConnectionDuration prometheus.Histogram

	// Log metrics
	RecordsAppended    prometheus.Counter
	RecordsOverwritten prometheus.Counter
	SeeksTotal         *prometheus.CounterVec
	EchoedBytes        prometheus.Counter
	LogBytes           prometheus.Gauge
	LogRecords         prometheus.Gauge
}

// GetMetrics returns the singleton metric set, registering on first use.
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		metrics = newMetrics(DefaultRegisterer)
	})
	return metrics
}

func newMetrics(registerer prometheus.Registerer) *Metrics {
	return &Metrics{
		ConnectionsTotal: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "accumd_connections_total",
				Help: "Total number of accepted client connections",
			},
		),
		ConnectionsActive: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "accumd_connections_active",
				Help: "Number of currently open client connections",
			},
		),
		ConnectionDuration: promauto.With(registerer).NewHistogram(
			prometheus.HistogramOpts{
				Name:    "accumd_connection_duration_seconds",
				Help:    "Client connection lifetime in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RecordsAppended: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "accumd_records_appended_total",
				Help: "Total number of client records appended to the log (timestamp records are not counted)",
			},
		),
		RecordsOverwritten: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "accumd_records_overwritten_total",
				Help: "Total number of records evicted by ring wraparound",
			},
		),
		SeeksTotal: promauto.With(registerer).NewCounterVec(
			prometheus.CounterOpts{
				Name: "accumd_seeks_total",
				Help: "Total number of seek directives by result",
			},
			[]string{"result"}, // result: applied, rejected, malformed
		),
		EchoedBytes: promauto.With(registerer).NewCounter(
			prometheus.CounterOpts{
				Name: "accumd_echoed_bytes_total",
				Help: "Total number of bytes echoed to clients",
			},
		),
		LogBytes: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "accumd_log_bytes",
				Help: "Logical length of the log in bytes",
			},
		),
		LogRecords: promauto.With(registerer).NewGauge(
			prometheus.GaugeOpts{
				Name: "accumd_log_records",
				Help: "Number of records currently present in the log",
			},
		),
	}
}

// RecordConnection records one finished client connection.
func (m *Metrics) RecordConnection(duration time.Duration) {
	m.ConnectionDuration.Observe(duration.Seconds())
}

// RecordSeek records a seek directive outcome.
func (m *Metrics) RecordSeek(result string) {
	m.SeeksTotal.WithLabelValues(result).Inc()
}

// UpdateLogState updates the log gauges after an append.
func (m *Metrics) UpdateLogState(records int, bytes uint64) {
	m.LogRecords.Set(float64(records))
	m.LogBytes.Set(float64(bytes))
}
