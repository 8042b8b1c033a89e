package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the
// acquisition pipeline.
type Metrics struct {
	// API client metrics.
	APIRequests   *prometheus.CounterVec   // labels: endpoint={datasources,entities,signals}, outcome={success,transient,fatal}
	APIDuration   *prometheus.HistogramVec // labels: endpoint
	APIRetries    prometheus.Counter
	ResponseBytes prometheus.Histogram

	// Fetch run metrics.
	ChunksProcessed *prometheus.CounterVec // labels: outcome={written,skipped,failed}
	ChunkSplits     prometheus.Counter
	FetchRunning    prometheus.Gauge

	// Coverage probing metrics.
	ProbeRequests   prometheus.Counter
	CoverageResults *prometheus.CounterVec // labels: status={ok,no_recent_data,transient_error,unknown}
	CoverageCache   *prometheus.CounterVec // labels: result={hit,miss,stale}

	// Normalization metrics.
	ObservationsBuilt prometheus.Counter
	DuplicatesDropped prometheus.Counter
	SchemaDriftChunks prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics with the default
// Prometheus registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		APIRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "api_requests_total",
			Help:      "IODA API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		APIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ioda_etl",
			Name:      "api_request_duration_seconds",
			Help:      "IODA API request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"endpoint"}),
		APIRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "api_retries_total",
			Help:      "Total retried API attempts after transient failures.",
		}),
		ResponseBytes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ioda_etl",
			Name:      "response_bytes",
			Help:      "Size of successful API response bodies.",
			Buckets:   []float64{1 << 10, 16 << 10, 128 << 10, 512 << 10, 1 << 20, 2 << 20, 5 << 20},
		}),
		ChunksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "chunks_processed_total",
			Help:      "Fetch chunks by terminal outcome.",
		}, []string{"outcome"}),
		ChunkSplits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "chunk_splits_total",
			Help:      "Oversize responses split into two half windows.",
		}),
		FetchRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ioda_etl",
			Name:      "fetch_running",
			Help:      "1 while a fetch run is active, 0 otherwise.",
		}),
		ProbeRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "probe_requests_total",
			Help:      "Signal requests spent probing coverage bounds.",
		}),
		CoverageResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "coverage_results_total",
			Help:      "Coverage probe conclusions by status.",
		}, []string{"status"}),
		CoverageCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "coverage_cache_total",
			Help:      "Coverage cache lookups by result.",
		}, []string{"result"}),
		ObservationsBuilt: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "observations_built_total",
			Help:      "Rows emitted by normalization before deduplication.",
		}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "duplicates_dropped_total",
			Help:      "Rows dropped by exact and key deduplication.",
		}),
		SchemaDriftChunks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ioda_etl",
			Name:      "schema_drift_chunks_total",
			Help:      "Raw chunks skipped because their payload shape was not recognized.",
		}),
	}

	prometheus.MustRegister(
		m.APIRequests,
		m.APIDuration,
		m.APIRetries,
		m.ResponseBytes,
		m.ChunksProcessed,
		m.ChunkSplits,
		m.FetchRunning,
		m.ProbeRequests,
		m.CoverageResults,
		m.CoverageCache,
		m.ObservationsBuilt,
		m.DuplicatesDropped,
		m.SchemaDriftChunks,
	)

	return m
}

// NewMetricsForTesting creates Metrics with a fresh registry to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return &Metrics{
		APIRequests:       prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "api_requests_total"}, []string{"endpoint", "outcome"}),
		APIDuration:       prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: "ioda_etl", Name: "api_request_duration_seconds"}, []string{"endpoint"}),
		APIRetries:        prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "api_retries_total"}),
		ResponseBytes:     prometheus.NewHistogram(prometheus.HistogramOpts{Namespace: "ioda_etl", Name: "response_bytes"}),
		ChunksProcessed:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "chunks_processed_total"}, []string{"outcome"}),
		ChunkSplits:       prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "chunk_splits_total"}),
		FetchRunning:      prometheus.NewGauge(prometheus.GaugeOpts{Namespace: "ioda_etl", Name: "fetch_running"}),
		ProbeRequests:     prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "probe_requests_total"}),
		CoverageResults:   prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "coverage_results_total"}, []string{"status"}),
		CoverageCache:     prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "coverage_cache_total"}, []string{"result"}),
		ObservationsBuilt: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "observations_built_total"}),
		DuplicatesDropped: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "duplicates_dropped_total"}),
		SchemaDriftChunks: prometheus.NewCounter(prometheus.CounterOpts{Namespace: "ioda_etl", Name: "schema_drift_chunks_total"}),
	}
}
