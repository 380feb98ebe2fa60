// Package metrics exposes Prometheus instrumentation for the memory layers.
// A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OK    = "ok"
	Error = "error"
	Miss  = "miss"
)

// Collector holds all metrics on a private registry.
type Collector struct {
	registry *prometheus.Registry

	StoreOperations     *prometheus.CounterVec
	GenerationFallbacks *prometheus.CounterVec
	SearchRequests      *prometheus.CounterVec
	SearchDuration      *prometheus.HistogramVec
	EmbeddingCache      *prometheus.CounterVec
}

// NewCollector creates a collector whose metric names are prefixed with namespace.
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,
		StoreOperations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "store_operations_total",
				Help:      "Layer store operations by outcome",
			},
			[]string{"layer", "operation", "outcome"},
		),
		GenerationFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "generation_fallbacks_total",
				Help:      "Generated text replaced by mock output or omitted",
			},
			[]string{"layer", "kind"},
		),
		SearchRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "search_requests_total",
				Help:      "Search requests by resolved type and outcome",
			},
			[]string{"type", "outcome"},
		),
		SearchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "search_duration_seconds",
				Help:      "Search latency in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		EmbeddingCache: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_cache_total",
				Help:      "Query embedding cache lookups",
			},
			[]string{"result"},
		),
	}

	registry.MustRegister(
		c.StoreOperations,
		c.GenerationFallbacks,
		c.SearchRequests,
		c.SearchDuration,
		c.EmbeddingCache,
	)
	return c
}

// Registry returns the registry holding the collector's metrics.
func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

// StoreOp counts one store operation.
func (c *Collector) StoreOp(layer, operation string, err error) {
	if c == nil {
		return
	}
	outcome := OK
	if err != nil {
		outcome = Error
	}
	c.StoreOperations.WithLabelValues(layer, operation, outcome).Inc()
}

// Fallback counts a degraded generation.
func (c *Collector) Fallback(layer, kind string) {
	if c == nil {
		return
	}
	c.GenerationFallbacks.WithLabelValues(layer, kind).Inc()
}

// Search records a completed search.
func (c *Collector) Search(searchType string, started time.Time, err error) {
	if c == nil {
		return
	}
	outcome := OK
	if err != nil {
		outcome = Error
	}
	c.SearchRequests.WithLabelValues(searchType, outcome).Inc()
	c.SearchDuration.WithLabelValues(searchType).Observe(time.Since(started).Seconds())
}

// CacheLookup counts an embedding cache hit or miss.
func (c *Collector) CacheLookup(hit bool) {
	if c == nil {
		return
	}
	result := "hit"
	if !hit {
		result = Miss
	}
	c.EmbeddingCache.WithLabelValues(result).Inc()
}
