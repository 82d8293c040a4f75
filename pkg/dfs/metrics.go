package dfs

import "time"

// Metrics receives observations from the session layer.
//
// Implementations must be safe for concurrent use. A nil Metrics on the
// session is replaced by a no-op implementation, so instrumentation stays
// optional (pkg/metrics provides the Prometheus-backed one).
type Metrics interface {
	// ObserveOperation records one namespace operation (Create, Open,
	// Delete, Stat, ...) with its duration and outcome.
	ObserveOperation(op string, d time.Duration, err error)

	// ObserveTransfer records one completed transfer: direction, bytes
	// requested, retry attempts consumed, duration, and outcome.
	ObserveTransfer(direction Direction, bytes int64, retries int, d time.Duration, err error)
}

type noopMetrics struct{}

func (noopMetrics) ObserveOperation(string, time.Duration, error) {}

func (noopMetrics) ObserveTransfer(Direction, int64, int, time.Duration, error) {}
