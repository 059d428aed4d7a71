// Package telemetry exposes Prometheus counters and a periodic progress
// reporter for the ingestion pipeline.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles Prometheus collectors for the pipeline.
type Metrics struct {
	Registry           *prometheus.Registry
	SourcesTotal       *prometheus.CounterVec
	FetchRequestsTotal *prometheus.CounterVec
	FetchDuration      prometheus.Histogram
	FetchRetriesTotal  prometheus.Counter
	FetchErrorsTotal   *prometheus.CounterVec
	ItemsTotal         *prometheus.CounterVec
	RejectionsTotal    *prometheus.CounterVec
	EnrichmentsTotal   *prometheus.CounterVec
	EnrichDuration     prometheus.Histogram
	RateLimitWait      prometheus.Histogram
}

// NewMetrics constructs and registers all metrics on a dedicated registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	sources := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_sources_total",
			Help: "Sources that reached a terminal or skipped state.",
		},
		[]string{"state"},
	)
	fetchRequests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetch_requests_total",
			Help: "Catalog page requests issued, by outcome.",
		},
		[]string{"outcome"},
	)
	fetchDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_fetch_duration_seconds",
			Help:    "Catalog page request latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	fetchRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ingest_fetch_retries_total",
			Help: "Catalog page retry attempts.",
		},
	)
	fetchErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_fetch_errors_total",
			Help: "Catalog fetch errors by type.",
		},
		[]string{"error_type"},
	)
	items := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_items_total",
			Help: "Listings by pipeline outcome.",
		},
		[]string{"outcome"},
	)
	rejections := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_rejections_total",
			Help: "Listings rejected by validation, by reason.",
		},
		[]string{"reason"},
	)
	enrichments := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ingest_enrichments_total",
			Help: "Attribute sets produced, by analysis kind.",
		},
		[]string{"kind"},
	)
	enrichDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_enrichment_duration_seconds",
			Help:    "Enrichment service call latency.",
			Buckets: prometheus.DefBuckets,
		},
	)
	rateLimitWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ingest_ratelimit_wait_seconds",
			Help:    "Time spent waiting for an enrichment slot.",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30, 60},
		},
	)

	registry.MustRegister(sources, fetchRequests, fetchDuration, fetchRetries, fetchErrors,
		items, rejections, enrichments, enrichDuration, rateLimitWait)

	return &Metrics{
		Registry:           registry,
		SourcesTotal:       sources,
		FetchRequestsTotal: fetchRequests,
		FetchDuration:      fetchDuration,
		FetchRetriesTotal:  fetchRetries,
		FetchErrorsTotal:   fetchErrors,
		ItemsTotal:         items,
		RejectionsTotal:    rejections,
		EnrichmentsTotal:   enrichments,
		EnrichDuration:     enrichDuration,
		RateLimitWait:      rateLimitWait,
	}
}

// IncSource counts a source reaching state.
func (m *Metrics) IncSource(state string) {
	if m == nil {
		return
	}
	m.SourcesTotal.WithLabelValues(state).Inc()
}

// IncFetch counts a page request with its outcome.
func (m *Metrics) IncFetch(outcome string) {
	if m == nil {
		return
	}
	m.FetchRequestsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFetch records a page request duration.
func (m *Metrics) ObserveFetch(d time.Duration) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(d.Seconds())
}

// IncRetries increments the fetch retries counter.
func (m *Metrics) IncRetries() {
	if m == nil {
		return
	}
	m.FetchRetriesTotal.Inc()
}

// IncFetchError increments the fetch errors counter for a type label.
func (m *Metrics) IncFetchError(errorType string) {
	if m == nil {
		return
	}
	m.FetchErrorsTotal.WithLabelValues(errorType).Inc()
}

// AddItems adds n listings to an outcome.
func (m *Metrics) AddItems(outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ItemsTotal.WithLabelValues(outcome).Add(float64(n))
}

// IncRejection counts a validation rejection.
func (m *Metrics) IncRejection(reason string) {
	if m == nil {
		return
	}
	m.RejectionsTotal.WithLabelValues(reason).Inc()
}

// IncEnrichment counts one attribute set of the given kind.
func (m *Metrics) IncEnrichment(kind string) {
	if m == nil {
		return
	}
	m.EnrichmentsTotal.WithLabelValues(kind).Inc()
}

// ObserveEnrich records an enrichment call duration.
func (m *Metrics) ObserveEnrich(d time.Duration) {
	if m == nil {
		return
	}
	m.EnrichDuration.Observe(d.Seconds())
}

// ObserveRateLimitWait records time blocked on the rate limiter.
func (m *Metrics) ObserveRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.RateLimitWait.Observe(d.Seconds())
}
