package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus counters for the forecast orchestration layer.
type Metrics struct {
	RunsTotal        prometheus.Counter
	RunErrors        prometheus.Counter
	CacheHits        prometheus.Counter
	StoreWriteErrors prometheus.Counter
	EvalRecords      prometheus.Counter
	EvalFailures     prometheus.Counter

	// Per-model labeled metrics.
	SeriesForecastedByModel *prometheus.CounterVec
	InferenceErrorsByModel  *prometheus.CounterVec
	InferenceSeconds        *prometheus.HistogramVec
}

// New creates and registers all metrics.
func New() *Metrics {
	return &Metrics{
		RunsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mmf_runs_total",
			Help: "Total number of batch forecast runs started",
		}),
		RunErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mmf_run_errors_total",
			Help: "Number of batch forecast runs aborted by an error",
		}),
		CacheHits: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mmf_forecast_cache_hits_total",
			Help: "Number of series forecasts served from the forecast cache",
		}),
		StoreWriteErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mmf_store_write_errors_total",
			Help: "Number of failed result-store writes",
		}),
		EvalRecords: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mmf_eval_records_total",
			Help: "Number of per-entity metric records produced",
		}),
		EvalFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "mmf_eval_failures_total",
			Help: "Number of entities omitted from metric output due to a computation failure",
		}),

		SeriesForecastedByModel: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmf_series_forecasted_total",
				Help: "Number of series forecasted per model variant",
			},
			[]string{"model"},
		),
		InferenceErrorsByModel: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "mmf_inference_errors_total",
				Help: "Number of per-series inference failures per model variant",
			},
			[]string{"model"},
		),
		InferenceSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "mmf_inference_seconds",
				Help:    "Per-series inference latency in seconds",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"model"},
		),
	}
}
