package metrics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory/metrics"
)

func TestCollectorCounts(t *testing.T) {
	c := metrics.NewCollector("test")

	c.StoreOp("exact", "store", nil)
	c.StoreOp("exact", "store", nil)
	c.StoreOp("exact", "store", errors.New("boom"))
	c.Fallback("summary", "mock")
	c.Search("dual", time.Now(), nil)
	c.CacheLookup(true)
	c.CacheLookup(false)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.StoreOperations.WithLabelValues("exact", "store", metrics.OK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.StoreOperations.WithLabelValues("exact", "store", metrics.Error)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.GenerationFallbacks.WithLabelValues("summary", "mock")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.SearchRequests.WithLabelValues("dual", metrics.OK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EmbeddingCache.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.EmbeddingCache.WithLabelValues(metrics.Miss)))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *metrics.Collector
	assert.NotPanics(t, func() {
		c.StoreOp("tags", "add", nil)
		c.Fallback("commentary", "omitted")
		c.Search("vector", time.Now(), nil)
		c.CacheLookup(true)
	})
	assert.Nil(t, c.Registry())
}
