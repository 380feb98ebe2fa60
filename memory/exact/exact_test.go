package exact_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/exact"
	"github.com/becomeliminal/nim-memory/memory/vectorindex"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/memindex"
)

const dims = 16

func newStore(t *testing.T) (*exact.Store, *mock.Embedder) {
	t.Helper()
	cfg := exact.DefaultConfig()
	cfg.VectorSize = dims
	s, err := exact.New(context.Background(), memindex.New(), cfg)
	require.NoError(t, err)
	return s, mock.New(dims)
}

func store(t *testing.T, s *exact.Store, e *mock.Embedder, content, contentType, source string) string {
	t.Helper()
	ctx := context.Background()
	emb, err := e.Embed(ctx, content)
	require.NoError(t, err)
	id, err := s.Store(ctx, content, emb, contentType, source, map[string]any{"origin": "test"})
	require.NoError(t, err)
	return id
}

func TestStoreAndDeduplicate(t *testing.T) {
	ctx := context.Background()
	s, e := newStore(t)

	content := "The quick brown fox jumps over the lazy dog"
	id1 := store(t, s, e, content, "", "")
	assert.Regexp(t, `^memory_[0-9a-f]{32}$`, id1)

	dup, err := s.CheckDuplicate(ctx, content)
	require.NoError(t, err)
	assert.Equal(t, id1, dup)

	// Store never deduplicates on its own.
	id2 := store(t, s, e, content, "", "")
	assert.NotEqual(t, id1, id2)

	dup, err = s.CheckDuplicate(ctx, "something else entirely")
	require.NoError(t, err)
	assert.Empty(t, dup)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	s, e := newStore(t)
	id := store(t, s, e, "hello", "note", "agent")

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, m.ID)
	assert.Equal(t, "hello", m.Content)
	assert.Equal(t, memory.ContentHash("hello"), m.ContentHash)
	assert.Equal(t, "note", m.ContentType)
	assert.Equal(t, "agent", m.Source)
	assert.Equal(t, "test", m.Metadata["origin"])
	assert.Len(t, m.Embedding, dims)
	assert.WithinDuration(t, time.Now(), m.Timestamp, time.Minute)

	_, err = s.Get(ctx, "memory_missing")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestDefaults(t *testing.T) {
	ctx := context.Background()
	s, e := newStore(t)
	id := store(t, s, e, "defaults", "", "")

	m, err := s.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, memory.DefaultContentType, m.ContentType)
	assert.Equal(t, memory.DefaultSource, m.Source)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s, e := newStore(t)
	id := store(t, s, e, "to delete", "", "")

	ok, err := s.Delete(ctx, id)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Delete(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestSearchSimilar(t *testing.T) {
	ctx := context.Background()
	s, e := newStore(t)
	target := store(t, s, e, "vector databases", "note", "user")
	store(t, s, e, "cooking pasta", "note", "agent")
	store(t, s, e, "gardening tips", "code", "user")

	query, err := e.Embed(ctx, "vector databases")
	require.NoError(t, err)

	results, err := s.SearchSimilar(ctx, query, memory.SearchOptions{Limit: 3})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, target, results[0].ID)
	assert.InDelta(t, 1.0, results[0].Score, 1e-5)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}

	results, err = s.SearchSimilar(ctx, query, memory.SearchOptions{Limit: 10, ContentType: "note", Source: "user"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, target, results[0].ID)

	results, err = s.SearchSimilar(ctx, query, memory.SearchOptions{Limit: 10, Start: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Empty(t, results)

	results, err = s.SearchSimilar(ctx, query, memory.SearchOptions{Limit: 10, Start: time.Now().Add(-time.Hour), End: time.Now().Add(time.Hour)})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestListAllAndCount(t *testing.T) {
	ctx := context.Background()
	s, e := newStore(t)
	var ids []string
	for _, c := range []string{"a", "b", "c", "d", "e"} {
		ids = append(ids, store(t, s, e, c, "note", "user"))
	}
	store(t, s, e, "other", "code", "user")

	var listed []string
	cursor := ""
	for {
		page, next, err := s.ListAll(ctx, memory.ListOptions{Limit: 2, Cursor: cursor, ContentType: "note"})
		require.NoError(t, err)
		for _, m := range page {
			listed = append(listed, m.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}
	assert.Equal(t, ids, listed)

	n, err := s.Count(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	n, err = s.Count(ctx, "code", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = s.Count(ctx, "", "agent")
	require.NoError(t, err)
	assert.Zero(t, n)
}

type brokenIndex struct {
	vectorindex.Index
}

var errUnreachable = errors.New("index unreachable")

func (brokenIndex) Upsert(context.Context, string, ...vectorindex.Point) error { return errUnreachable }
func (brokenIndex) Scroll(context.Context, string, *vectorindex.Filter, int, string) ([]vectorindex.Point, string, error) {
	return nil, "", errUnreachable
}

func TestStorageErrors(t *testing.T) {
	ctx := context.Background()
	cfg := exact.DefaultConfig()
	cfg.VectorSize = dims
	s, err := exact.New(ctx, brokenIndex{memindex.New()}, cfg)
	require.NoError(t, err)

	_, err = s.Store(ctx, "x", make([]float32, dims), "", "", nil)
	var se *memory.StorageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "exact.store", se.Op)
	assert.ErrorIs(t, err, errUnreachable)

	_, err = s.Get(ctx, "memory_x")
	assert.True(t, memory.IsStorageError(err))
	assert.NotErrorIs(t, err, memory.ErrNotFound)

	_, err = s.CheckDuplicate(ctx, "x")
	assert.True(t, memory.IsStorageError(err))
}
