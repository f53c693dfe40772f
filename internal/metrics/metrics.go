// Package metrics holds the Prometheus collectors for the decision engine.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	global *Metrics
	once   sync.Once
)

// Metrics groups the engine's collectors.
type Metrics struct {
	OracleRequests   *prometheus.CounterVec
	OracleDuration   *prometheus.HistogramVec
	Flips            prometheus.Counter
	BiasDetections   *prometheus.CounterVec
	HistoryFailures  *prometheus.CounterVec
	HistoryMatches   *prometheus.HistogramVec
	Finalizations    *prometheus.CounterVec
	RateLimitedTotal prometheus.Counter
}

// Get returns the process-wide collectors, registering them on first use.
//
// Metrics:
//   - decision_oracle_requests_total{operation,status}
//   - decision_oracle_duration_seconds{operation}
//   - decision_flips_total
//   - decision_bias_detections_total{type}
//   - decision_history_lookup_failures_total{mode}
//   - decision_history_matches{mode}
//   - decision_finalizations_total{matched_result}
//   - decision_rate_limited_total
func Get() *Metrics {
	once.Do(func() {
		global = &Metrics{
			OracleRequests: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "decision_oracle_requests_total",
					Help: "Reasoning oracle calls by operation and outcome",
				},
				[]string{"operation", "status"},
			),
			OracleDuration: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "decision_oracle_duration_seconds",
					Help:    "Reasoning oracle latency",
					Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
				},
				[]string{"operation"},
			),
			Flips: promauto.NewCounter(prometheus.CounterOpts{
				Name: "decision_flips_total",
				Help: "Weighted selections performed",
			}),
			BiasDetections: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "decision_bias_detections_total",
					Help: "Bias reports by type",
				},
				[]string{"type"},
			),
			HistoryFailures: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "decision_history_lookup_failures_total",
					Help: "History lookups that degraded to an empty context",
				},
				[]string{"mode"},
			),
			HistoryMatches: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Name:    "decision_history_matches",
					Help:    "Records matched per history lookup",
					Buckets: []float64{0, 1, 2, 3, 5, 10},
				},
				[]string{"mode"},
			),
			Finalizations: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Name: "decision_finalizations_total",
					Help: "Final choices recorded, split by whether they matched the flip",
				},
				[]string{"matched_result"},
			),
			RateLimitedTotal: promauto.NewCounter(prometheus.CounterOpts{
				Name: "decision_rate_limited_total",
				Help: "Oracle-backed requests rejected by the per-user limiter",
			}),
		}
	})
	return global
}
