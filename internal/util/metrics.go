package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CacheEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "cache_entries",
		Help: "Number of entities currently cached, per entity type",
	}, []string{"entity"})

	FetchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_fetches_total",
		Help: "Total number of backing store reads",
	}, []string{"entity"})

	FetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "store_fetch_failures_total",
		Help: "Total number of failed backing store reads",
	}, []string{"entity"})

	MutationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutations_total",
		Help: "Total number of coordinator writes",
	}, []string{"entity", "op"})

	MutationFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mutation_failures_total",
		Help: "Total number of failed coordinator writes",
	}, []string{"entity", "op"})

	ReconcileEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_events_total",
		Help: "Total number of change feed events applied",
	}, []string{"entity", "op"})

	ReconcileSkippedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "reconcile_skipped_total",
		Help: "Total number of change feed events skipped",
	}, []string{"reason"})

	StaleSearchesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stale_searches_dropped_total",
		Help: "Total number of search responses discarded as stale",
	})

	FeedLoadLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feed_load_latency_seconds",
		Help:    "Latency of primary feed page loads",
		Buckets: prometheus.DefBuckets,
	})

	ResolverBatchSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "resolver_batch_size",
		Help:    "Number of ids per batched reference fetch",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
	}, []string{"entity"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
