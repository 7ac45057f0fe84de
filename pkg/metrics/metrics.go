// Package metrics exposes Prometheus counters for engine calls.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcomes recorded for an engine call.
const (
	OutcomeOK          = "ok"
	OutcomeRemoteError = "remote_error"
	OutcomeTranslation = "translation_error"
	OutcomeConnection  = "connection_error"
	OutcomeCanceled    = "canceled"
)

var (
	invocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epidata_engine_invocations_total",
			Help: "Total number of operations invoked on an engine",
		},
		[]string{"engine", "method", "outcome"},
	)

	invocationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "epidata_engine_invocation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 14),
		},
		[]string{"engine", "method"},
	)

	rows = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "epidata_result_rows_total",
			Help: "Total number of rows returned by engines",
		},
		[]string{"engine", "method"},
	)

	openEngines = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "epidata_open_engines",
		Help: "Number of engine bridges currently open",
	})
)

// ObserveInvocation records one engine call.
func ObserveInvocation(engine, method, outcome string, elapsed time.Duration, rowCount int) {
	if engine == "" {
		engine = "unknown"
	}
	invocations.WithLabelValues(engine, method, outcome).Inc()
	invocationDuration.WithLabelValues(engine, method).Observe(elapsed.Seconds())
	if rowCount > 0 {
		rows.WithLabelValues(engine, method).Add(float64(rowCount))
	}
}

// EngineOpened and EngineClosed track the number of live bridges.
func EngineOpened() { openEngines.Inc() }

func EngineClosed() { openEngines.Dec() }

// Handler returns the Prometheus HTTP handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}
