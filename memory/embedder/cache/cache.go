// Package cache wraps a memory.Embedder with an in-process ristretto cache so
// repeated queries are embedded once.
package cache

import (
	"context"
	"fmt"

	"github.com/dgraph-io/ristretto"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/metrics"
)

// Config sizes the cache. MaxCost is measured in vector elements.
type Config struct {
	NumCounters int64 `yaml:"num_counters"`
	MaxCost     int64 `yaml:"max_cost"`
}

// DefaultConfig holds roughly ten thousand 384-dimension vectors.
func DefaultConfig() Config {
	return Config{
		NumCounters: 100_000,
		MaxCost:     10_000 * 384,
	}
}

// Embedder caches the vectors produced by another embedder.
type Embedder struct {
	next    memory.Embedder
	cache   *ristretto.Cache
	metrics *metrics.Collector
}

var _ memory.Embedder = (*Embedder)(nil)

// Option configures an Embedder.
type Option func(*Embedder)

// WithMetrics counts hits and misses.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Embedder) { e.metrics = c }
}

// New wraps next.
func New(next memory.Embedder, cfg Config, opts ...Option) (*Embedder, error) {
	def := DefaultConfig()
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = def.NumCounters
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = def.MaxCost
	}
	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embedding cache: %w", err)
	}
	e := &Embedder{next: next, cache: c}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Embed returns a cached vector for text or computes and caches one. The
// returned slice is a copy and may be modified by the caller.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := e.cache.Get(text); ok {
		e.metrics.CacheLookup(true)
		return clone(v.([]float32)), nil
	}
	e.metrics.CacheLookup(false)

	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(text, clone(vec), int64(len(vec)))
	return vec, nil
}

func (e *Embedder) Dimensions() int {
	return e.next.Dimensions()
}

// Wait blocks until pending writes are visible to Get.
func (e *Embedder) Wait() {
	e.cache.Wait()
}

// Close stops the cache's background goroutines.
func (e *Embedder) Close() {
	e.cache.Close()
}

func clone(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
