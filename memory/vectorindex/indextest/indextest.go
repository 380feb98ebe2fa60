// Package indextest holds a conformance suite every vectorindex.Index
// backend runs from its own tests.
package indextest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory/vectorindex"
)

const dims = 4

// Run exercises idx against the vectorindex.Index contract using the cosine
// metric. newIndex must return an empty index per call.
func Run(t *testing.T, newIndex func(t *testing.T) vectorindex.Index) {
	t.Run("UpsertAndScroll", func(t *testing.T) { testUpsertAndScroll(t, newIndex(t)) })
	t.Run("ScrollPagination", func(t *testing.T) { testScrollPagination(t, newIndex(t)) })
	t.Run("SearchOrdering", func(t *testing.T) { testSearchOrdering(t, newIndex(t)) })
	t.Run("Filters", func(t *testing.T) { testFilters(t, newIndex(t)) })
	t.Run("DeleteAndCount", func(t *testing.T) { testDeleteAndCount(t, newIndex(t)) })
	t.Run("UnknownCollection", func(t *testing.T) { testUnknownCollection(t, newIndex(t)) })
}

func point(id uint64, vec []float32, payload vectorindex.Payload) vectorindex.Point {
	return vectorindex.Point{ID: id, Vector: vec, Payload: payload}
}

func setup(t *testing.T, idx vectorindex.Index) context.Context {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, idx.EnsureCollection(ctx, "c", dims, vectorindex.Cosine))
	// Ensuring twice is a no-op.
	require.NoError(t, idx.EnsureCollection(ctx, "c", dims, vectorindex.Cosine))
	return ctx
}

func testUpsertAndScroll(t *testing.T, idx vectorindex.Index) {
	ctx := setup(t, idx)
	require.NoError(t, idx.Upsert(ctx, "c",
		point(2, []float32{0, 1, 0, 0}, vectorindex.Payload{"name": "b"}),
		point(1, []float32{1, 0, 0, 0}, vectorindex.Payload{"name": "a"}),
	))

	points, next, err := idx.Scroll(ctx, "c", nil, 10, "")
	require.NoError(t, err)
	assert.Empty(t, next)
	require.Len(t, points, 2)
	assert.Equal(t, uint64(1), points[0].ID)
	assert.Equal(t, "a", points[0].Payload.String("name"))
	assert.Equal(t, uint64(2), points[1].ID)

	// Upsert replaces by ID.
	require.NoError(t, idx.Upsert(ctx, "c", point(1, []float32{1, 0, 0, 0}, vectorindex.Payload{"name": "a2"})))
	points, _, err = idx.Scroll(ctx, "c", vectorindex.NewFilter(vectorindex.Match("name", "a2")), 10, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, uint64(1), points[0].ID)

	err = idx.Upsert(ctx, "c", point(3, []float32{1, 0}, nil))
	assert.ErrorIs(t, err, vectorindex.ErrDimensionMismatch)
}

func testScrollPagination(t *testing.T, idx vectorindex.Index) {
	ctx := setup(t, idx)
	for i := uint64(1); i <= 5; i++ {
		require.NoError(t, idx.Upsert(ctx, "c", point(i, []float32{1, float32(i), 0, 0}, vectorindex.Payload{"n": "x"})))
	}

	var seen []uint64
	cursor := ""
	pages := 0
	for {
		points, next, err := idx.Scroll(ctx, "c", nil, 2, cursor)
		require.NoError(t, err)
		for _, p := range points {
			seen = append(seen, p.ID)
		}
		pages++
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, seen)
	assert.Equal(t, 3, pages)
}

func testSearchOrdering(t *testing.T, idx vectorindex.Index) {
	ctx := setup(t, idx)
	require.NoError(t, idx.Upsert(ctx, "c",
		point(1, []float32{0, 1, 0, 0}, vectorindex.Payload{"k": "far"}),
		point(2, []float32{1, 0.1, 0, 0}, vectorindex.Payload{"k": "near"}),
		point(3, []float32{1, 1, 0, 0}, vectorindex.Payload{"k": "mid"}),
	))

	hits, err := idx.Search(ctx, "c", []float32{1, 0, 0, 0}, nil, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "near", hits[0].Payload.String("k"))
	assert.Equal(t, "mid", hits[1].Payload.String("k"))
	assert.Greater(t, hits[0].Score, hits[1].Score)

	// Asking for more than exists returns everything.
	hits, err = idx.Search(ctx, "c", []float32{1, 0, 0, 0}, nil, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 3)
}

func testFilters(t *testing.T, idx vectorindex.Index) {
	ctx := setup(t, idx)
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	recent := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Upsert(ctx, "c",
		point(1, []float32{1, 0, 0, 0}, vectorindex.Payload{"type": "note", "ts": old.Format(time.RFC3339Nano)}),
		point(2, []float32{1, 0, 0, 0}, vectorindex.Payload{"type": "note", "ts": recent.Format(time.RFC3339Nano)}),
		point(3, []float32{1, 0, 0, 0}, vectorindex.Payload{"type": "code", "ts": recent.Format(time.RFC3339Nano)}),
	))

	notes := vectorindex.NewFilter(vectorindex.Match("type", "note"))
	hits, err := idx.Search(ctx, "c", []float32{1, 0, 0, 0}, notes, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	recentNotes := vectorindex.NewFilter(
		vectorindex.Match("type", "note"),
		vectorindex.Between("ts", old.Add(time.Hour), time.Time{}),
	)
	hits, err = idx.Search(ctx, "c", []float32{1, 0, 0, 0}, recentNotes, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, uint64(2), hits[0].ID)

	n, err := idx.Count(ctx, "c", recentNotes)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	points, _, err := idx.Scroll(ctx, "c", vectorindex.NewFilter(vectorindex.Match("type", "missing")), 10, "")
	require.NoError(t, err)
	assert.Empty(t, points)
}

func testDeleteAndCount(t *testing.T, idx vectorindex.Index) {
	ctx := setup(t, idx)
	require.NoError(t, idx.Upsert(ctx, "c",
		point(1, []float32{1, 0, 0, 0}, vectorindex.Payload{"k": "a"}),
		point(2, []float32{0, 1, 0, 0}, vectorindex.Payload{"k": "b"}),
	))
	n, err := idx.Count(ctx, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, idx.Delete(ctx, "c", 1, 99))
	n, err = idx.Count(ctx, "c", nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	points, _, err := idx.Scroll(ctx, "c", nil, 10, "")
	require.NoError(t, err)
	require.Len(t, points, 1)
	assert.Equal(t, "b", points[0].Payload.String("k"))
}

func testUnknownCollection(t *testing.T, idx vectorindex.Index) {
	ctx := context.Background()
	_, err := idx.Count(ctx, "nope", nil)
	assert.ErrorIs(t, err, vectorindex.ErrCollectionNotFound)
	_, err = idx.Search(ctx, "nope", []float32{1, 0, 0, 0}, nil, 1)
	assert.ErrorIs(t, err, vectorindex.ErrCollectionNotFound)
}
