// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "askbot"

var (
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Semantic cache lookups that reused a stored response.",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Semantic cache lookups with no match above the threshold.",
	})

	CacheErrors = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_lookup_errors_total",
		Help:      "Semantic cache lookups that failed and fell through to the model.",
	})

	ModelInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "model_invocations_total",
		Help:      "Chat model calls by outcome.",
	}, []string{"outcome"})

	Summarizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "summarizations_total",
		Help:      "Summarization calls by outcome.",
	}, []string{"outcome"})

	BackgroundTaskFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "background_task_failures_total",
		Help:      "Background tasks that returned an error or panicked.",
	}, []string{"task"})

	GraphDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "graph_invocation_seconds",
		Help:      "Conversation graph invocation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"path"})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}
