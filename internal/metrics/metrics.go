// Package metrics registers the Prometheus collectors for terrorreco.
//
// Collectors are package-level and registered on the default registry, so
// any process that imports this package exposes them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for EmbeddingComputations.
const (
	EmbeddingCached   = "cached"
	EmbeddingComputed = "computed"
	EmbeddingDegraded = "degraded"
)

var (
	RecommendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "terrorreco_recommend_duration_seconds",
			Help:    "Duration of recommendation requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RecommendResults = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "terrorreco_recommend_results",
			Help:    "Number of items returned per recommendation request",
			Buckets: []float64{0, 1, 2, 3, 5, 8, 13, 21, 50},
		},
	)

	CorpusItems = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "terrorreco_corpus_items",
			Help: "Number of items in the loaded corpus",
		},
	)

	CorpusBuildAccepted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "terrorreco_corpus_build_accepted_total",
			Help: "Total number of catalog items accepted into the corpus",
		},
	)

	// op: search, detail. outcome: ok, empty, error, rejected.
	CatalogRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrorreco_catalog_requests_total",
			Help: "Total number of catalog provider requests",
		},
		[]string{"op", "outcome"},
	)

	// 0 = closed, 1 = half-open, 2 = open.
	CatalogBreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "terrorreco_catalog_breaker_state",
			Help: "State of the catalog detail circuit breaker",
		},
	)

	EmbeddingComputations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "terrorreco_embedding_matrix_total",
			Help: "Embedding matrix resolutions by outcome (cached, computed, degraded)",
		},
		[]string{"outcome"},
	)
)
