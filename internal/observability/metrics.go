package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "ecoregion"

// Metrics holds the Prometheus counters, histograms, and gauges for the resolver.
type Metrics struct {
	// Query metrics.
	Queries             *prometheus.CounterVec // labels: status={ok,no_occurrences,unresolved,partial,fetch_failed}
	QueryDuration       prometheus.Histogram
	OccurrencesFetched  prometheus.Counter
	RecordsDropped      prometheus.Counter
	OccurrencesResolved prometheus.Counter
	SessionsSuperseded  prometheus.Counter

	// Reference data.
	ReferenceRegions prometheus.Gauge
	ReferenceTaxa    prometheus.Gauge

	// GBIF metrics.
	GBIFRequests    *prometheus.CounterVec   // labels: endpoint={match,search}, outcome={success,error,empty}
	GBIFAPIDuration *prometheus.HistogramVec // labels: endpoint={match,search}
	MatchCache      *prometheus.CounterVec   // labels: backend={memory,redis}, result={hit,miss,error}

	// Batch mode metrics.
	MessagesConsumed        prometheus.Counter
	MessagesProduced        prometheus.Counter
	TransformErrors         prometheus.Counter
	PipelineRunning         prometheus.Gauge
	BatchSize               prometheus.Histogram
	BatchProcessingDuration prometheus.Histogram
}

var (
	queryDurationBuckets = []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
	apiDurationBuckets   = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	batchSizeBuckets     = []float64{1, 5, 10, 20, 30, 40, 50, 75, 100}
	batchDurationBuckets = []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30}
)

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queries_total",
			Help:      "Resolution queries by outcome status.",
		}, []string{"status"}),
		QueryDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Duration of a complete fetch-normalize-resolve-aggregate query.",
			Buckets:   queryDurationBuckets,
		}),
		OccurrencesFetched: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occurrences_fetched_total",
			Help:      "Raw occurrence records received from the occurrence source.",
		}),
		RecordsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_dropped_total",
			Help:      "Occurrence records dropped for missing or non-numeric coordinates.",
		}),
		OccurrencesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "occurrences_resolved_total",
			Help:      "Point-in-region rows produced by the spatial join.",
		}),
		SessionsSuperseded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_superseded_total",
			Help:      "Queries cancelled or discarded because a newer query started in the same session.",
		}),
		ReferenceRegions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reference_regions",
			Help:      "Number of eco-region polygons loaded.",
		}),
		ReferenceTaxa: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "reference_taxa",
			Help:      "Number of selectable taxon names loaded.",
		}),
		GBIFRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gbif_requests_total",
			Help:      "GBIF API requests by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		GBIFAPIDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gbif_api_duration_seconds",
			Help:      "GBIF API request duration in seconds.",
			Buckets:   apiDurationBuckets,
		}, []string{"endpoint"}),
		MatchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "match_cache_total",
			Help:      "Name-match cache lookups by backend and result.",
		}, []string{"backend", "result"}),
		MessagesConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_consumed_total",
			Help:      "Total query messages read from the source topic.",
		}),
		MessagesProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_produced_total",
			Help:      "Total result messages written to the sink topic.",
		}),
		TransformErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transform_errors_total",
			Help:      "Query messages that could not be decoded or resolved.",
		}),
		PipelineRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pipeline_running",
			Help:      "1 when the batch pipeline is active, 0 when shut down.",
		}),
		BatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of messages per batch extracted from Kafka.",
			Buckets:   batchSizeBuckets,
		}),
		BatchProcessingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_processing_duration_seconds",
			Help:      "Duration of a complete batch extract-resolve-load cycle.",
			Buckets:   batchDurationBuckets,
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Queries,
		m.QueryDuration,
		m.OccurrencesFetched,
		m.RecordsDropped,
		m.OccurrencesResolved,
		m.SessionsSuperseded,
		m.ReferenceRegions,
		m.ReferenceTaxa,
		m.GBIFRequests,
		m.GBIFAPIDuration,
		m.MatchCache,
		m.MessagesConsumed,
		m.MessagesProduced,
		m.TransformErrors,
		m.PipelineRunning,
		m.BatchSize,
		m.BatchProcessingDuration,
	}
}
