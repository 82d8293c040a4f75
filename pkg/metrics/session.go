package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/dfsio/parfs/pkg/dfs"
)

// sessionMetrics is the Prometheus implementation of dfs.Metrics.
//
// It records namespace operation counts and latencies plus transfer
// throughput and retry pressure, labeled so that a coordinator and its
// peers can be scraped from the same process.
type sessionMetrics struct {
	operationsTotal   *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	transfersTotal    *prometheus.CounterVec
	transferBytes     *prometheus.CounterVec
	transferRetries   *prometheus.CounterVec
	transferDuration  *prometheus.HistogramVec
}

// NewSessionMetrics creates a new Prometheus-backed dfs.Metrics instance.
//
// Returns a no-op implementation if metrics are not enabled (InitRegistry
// not called), so callers can pass the result unconditionally.
func NewSessionMetrics() dfs.Metrics {
	if !IsEnabled() {
		return noopSessionMetrics{}
	}

	reg := GetRegistry()

	return &sessionMetrics{
		operationsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "parfs_operations_total",
				Help: "Total number of namespace operations by name and status",
			},
			[]string{"op", "status"},
		),
		operationDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "parfs_operation_duration_seconds",
				Help: "Duration of namespace operations in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.005, // 5ms
					0.01,  // 10ms
					0.025, // 25ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.25,  // 250ms
					0.5,   // 500ms
					1.0,   // 1s
					2.5,   // 2.5s
					5.0,   // 5s
				},
			},
			[]string{"op"},
		),
		transfersTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "parfs_transfers_total",
				Help: "Total number of transfers by direction and status",
			},
			[]string{"direction", "status"},
		),
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "parfs_transfer_bytes_total",
				Help: "Total bytes moved by completed transfers",
			},
			[]string{"direction"},
		),
		transferRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "parfs_transfer_retries_total",
				Help: "Total short-transfer retries consumed",
			},
			[]string{"direction"},
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "parfs_transfer_duration_seconds",
				Help:    "Duration of transfers in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"direction"},
		),
	}
}

func (m *sessionMetrics) ObserveOperation(op string, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationsTotal.WithLabelValues(op, status).Inc()
	m.operationDuration.WithLabelValues(op).Observe(d.Seconds())
}

func (m *sessionMetrics) ObserveTransfer(direction dfs.Direction, bytes int64, retries int, d time.Duration, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	dir := direction.String()

	m.transfersTotal.WithLabelValues(dir, status).Inc()
	m.transferDuration.WithLabelValues(dir).Observe(d.Seconds())
	if retries > 0 {
		m.transferRetries.WithLabelValues(dir).Add(float64(retries))
	}
	if err == nil {
		m.transferBytes.WithLabelValues(dir).Add(float64(bytes))
	}
}

// noopSessionMetrics is a no-op implementation of dfs.Metrics with zero overhead.
type noopSessionMetrics struct{}

func (noopSessionMetrics) ObserveOperation(op string, d time.Duration, err error) {}

func (noopSessionMetrics) ObserveTransfer(direction dfs.Direction, bytes int64, retries int, d time.Duration, err error) {
}
