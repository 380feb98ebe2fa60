package chromem_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory/vectorindex"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/chromem"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/indextest"
)

func newIndex(t *testing.T) vectorindex.Index {
	t.Helper()
	idx, err := chromem.New(chromem.Config{})
	require.NoError(t, err)
	return idx
}

func TestConformance(t *testing.T) {
	indextest.Run(t, newIndex)
}

func TestRejectsNonCosine(t *testing.T) {
	err := newIndex(t).EnsureCollection(context.Background(), "c", 4, vectorindex.Dot)
	assert.ErrorIs(t, err, chromem.ErrUnsupportedDistance)
}

func TestZeroVectorIsStorable(t *testing.T) {
	ctx := context.Background()
	idx := newIndex(t)
	require.NoError(t, idx.EnsureCollection(ctx, "tags", 3, vectorindex.Cosine))
	require.NoError(t, idx.Upsert(ctx, "tags", vectorindex.Point{
		ID:      vectorindex.NewPointID(),
		Vector:  make([]float32, 3),
		Payload: vectorindex.Payload{"tag_type": "domain"},
	}))

	points, _, err := idx.Scroll(ctx, "tags", vectorindex.NewFilter(vectorindex.Match("tag_type", "domain")), 10, "")
	require.NoError(t, err)
	assert.Len(t, points, 1)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	idx, err := chromem.New(chromem.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, idx.EnsureCollection(ctx, "c", 2, vectorindex.Cosine))
	require.NoError(t, idx.Upsert(ctx, "c", vectorindex.Point{ID: 7, Vector: []float32{1, 0}, Payload: vectorindex.Payload{"k": "v"}}))

	reopened, err := chromem.New(chromem.Config{Path: dir})
	require.NoError(t, err)
	require.NoError(t, reopened.EnsureCollection(ctx, "c", 2, vectorindex.Cosine))
	n, err := reopened.Count(ctx, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
