package mock_test

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
)

func TestEmbedIsDeterministicUnitVector(t *testing.T) {
	ctx := context.Background()
	e := mock.New(0)
	assert.Equal(t, mock.DefaultDimensions, e.Dimensions())

	a, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "hello")
	require.NoError(t, err)
	c, err := e.Embed(ctx, "goodbye")
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)

	var sum float64
	for _, v := range a {
		sum += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-5)
}

func TestEmbedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := mock.New(8).Embed(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNormalizeZero(t *testing.T) {
	assert.Equal(t, []float32{0, 0}, mock.Normalize([]float32{0, 0}))
}
