package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsRegistry holds all Prometheus metrics of the engine
type MetricsRegistry struct {
	// HTTP Metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec

	// Schema sync
	SchemaSyncTotal     *prometheus.CounterVec
	SchemaSyncDuration  *prometheus.HistogramVec
	SchemaCompensations *prometheus.CounterVec

	// Materializer cache
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Import
	ImportedRowsTotal  prometheus.Counter
	ImportFailuresRows prometheus.Counter
}

var (
	once sync.Once
	std  *MetricsRegistry
)

// Get returns the process-wide registry; promauto registers on first use only.
func Get() *MetricsRegistry {
	once.Do(func() { std = newMetricsRegistry() })
	return std
}

func newMetricsRegistry() *MetricsRegistry {
	return &MetricsRegistry{
		HTTPRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetforge_http_requests_total",
				Help: "Total HTTP requests processed by route, method, and status code",
			},
			[]string{"route", "method", "status_code"},
		),
		HTTPRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetforge_http_request_duration_seconds",
				Help:    "HTTP request latency distribution in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"route", "method"},
		),
		HTTPRequestsInFlight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "assetforge_http_requests_in_flight",
				Help: "Current number of HTTP requests being served",
			},
			[]string{"route"},
		),

		SchemaSyncTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetforge_schema_sync_total",
				Help: "Definition mutations by operation and result",
			},
			[]string{"op", "result"},
		),
		SchemaSyncDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "assetforge_schema_sync_duration_seconds",
				Help:    "Duration of definition mutations (metadata + DDL) in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			},
			[]string{"op"},
		),
		SchemaCompensations: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetforge_schema_compensations_total",
				Help: "DDL compensations performed after a failed mutation",
			},
			[]string{"op", "result"},
		),

		CacheHitsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetforge_cache_hits_total",
				Help: "Total cache hits by cache name",
			},
			[]string{"cache"},
		),
		CacheMissesTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "assetforge_cache_misses_total",
				Help: "Total cache misses by cache name",
			},
			[]string{"cache"},
		),

		ImportedRowsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "assetforge_import_rows_total",
				Help: "Rows migrated from legacy sources",
			},
		),
		ImportFailuresRows: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "assetforge_import_row_failures_total",
				Help: "Rows that failed to migrate from legacy sources",
			},
		),
	}
}
