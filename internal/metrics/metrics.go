package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "complylens"
)

var (
	registryDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60}

	// Registry client metrics
	RegistryRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "registry_request_duration_seconds",
		Help:      "Time taken for an evidence registry request.",
		Buckets:   registryDurationBuckets,
	}, []string{"endpoint"})

	RegistryRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_requests_total",
		Help:      "Count of evidence registry requests.",
	}, []string{"endpoint", "status"})

	RegistryDenialsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "registry_denials_total",
		Help:      "Count of HTTP 403 responses from the evidence registry.",
	}, []string{"endpoint"})

	// Cache metrics
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Count of cache hits.",
	}, []string{"kind"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Count of cache misses.",
	}, []string{"kind"})

	// Resolver metrics
	ResolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "resolutions_total",
		Help:      "Count of identifier resolutions by outcome.",
	}, []string{"outcome"})

	// Evidence engine metrics
	EvidenceStrategyAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evidence_strategy_attempts_total",
		Help:      "Count of evidence retrieval strategy attempts.",
	}, []string{"strategy"})

	EvidenceStrategyHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "evidence_strategy_hits_total",
		Help:      "Count of evidence retrieval strategies that produced results.",
	}, []string{"strategy"})

	// Aggregator metrics
	LinearScanJoinsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "aggregate_linear_scan_joins_total",
		Help:      "Count of attestations matched to required controls by last-resort linear scan.",
	})
)
