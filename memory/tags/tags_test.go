package tags_test

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/tags"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/memindex"
)

func newStore(t *testing.T, mutate ...func(*tags.Config)) *tags.Store {
	t.Helper()
	cfg := tags.DefaultConfig()
	cfg.VectorSize = 8
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := tags.New(context.Background(), memindex.New(), cfg)
	require.NoError(t, err)
	return s
}

func add(t *testing.T, s *tags.Store, memoryID string, tt ...memory.Tag) {
	t.Helper()
	ok, err := s.AddTags(context.Background(), memoryID, tt, nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestAddTagsEmpty(t *testing.T) {
	s := newStore(t)
	ok, err := s.AddTags(context.Background(), "m1", nil, nil)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetTagsReturnsWhatWasAdded(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	in := []memory.Tag{
		memory.NewTag("domain", "healthcare"),
		{Type: "tech", Value: "ml", Score: 0.4, Extra: map[string]any{"confidence": "high"}},
		{Value: "untyped", Score: 7},
	}
	add(t, s, "m1", in...)

	got, err := s.GetTags(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "m1_tag_0", got[0].ID)
	assert.Equal(t, "m1", got[0].MemoryID)
	assert.Equal(t, "domain", got[0].Type)
	assert.Equal(t, "healthcare", got[0].Value)
	assert.Equal(t, 1.0, got[0].Score)

	assert.Equal(t, 0.4, got[1].Score)
	assert.Equal(t, "high", got[1].Extra["confidence"])

	assert.Equal(t, memory.DefaultTagType, got[2].Type)
	assert.Equal(t, 1.0, got[2].Score, "scores are clamped to [0,1]")

	// A second call continues the ordinal sequence.
	add(t, s, "m1", memory.NewTag("domain", "finance"))
	got, err = s.GetTags(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 4)
	assert.Equal(t, "m1_tag_3", got[3].ID)

	none, err := s.GetTags(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestZeroScoreIsKept(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	var low memory.Tag
	require.NoError(t, json.Unmarshal([]byte(`{"type": "category", "value": "low", "score": 0.0}`), &low))
	require.Zero(t, low.Score)
	add(t, s, "m1", low, memory.Tag{Type: "category", Value: "negative", Score: -0.5})

	got, err := s.GetTags(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Zero(t, got[0].Score)
	assert.Zero(t, got[1].Score, "negative scores clamp to zero")
}

func TestGetTagsCap(t *testing.T) {
	s := newStore(t, func(c *tags.Config) { c.MaxTagsPerMemory = 3 })
	var many []memory.Tag
	for i := 0; i < 5; i++ {
		many = append(many, memory.NewTag("n", fmt.Sprint(i)))
	}
	add(t, s, "m1", many...)

	got, err := s.GetTags(context.Background(), "m1")
	require.NoError(t, err)
	assert.Len(t, got, 3)
}

func TestSearchByTag(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	add(t, s, "m1", memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "ml"))
	add(t, s, "m2", memory.NewTag("domain", "healthcare"))
	add(t, s, "m3", memory.NewTag("domain", "finance"))

	ids, err := s.SearchByTag(ctx, "domain", "healthcare")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, ids)

	ids, err = s.SearchByTag(ctx, "domain", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, ids)

	ids, err = s.SearchByTag(ctx, "", "ml")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, ids)

	ids, err = s.SearchByTag(ctx, "", "")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSearchByTagScansPastOneBatch(t *testing.T) {
	s := newStore(t, func(c *tags.Config) { c.ScanBatch = 2 })
	for i := 0; i < 7; i++ {
		add(t, s, fmt.Sprintf("m%d", i), memory.NewTag("k", "v"))
	}
	ids, err := s.SearchByTag(context.Background(), "k", "v")
	require.NoError(t, err)
	assert.Len(t, ids, 7)
}

func TestAllAndAnyTags(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	add(t, s, "m1", memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "ml"))
	add(t, s, "m2", memory.NewTag("domain", "healthcare"))
	add(t, s, "m3", memory.NewTag("tech", "ml"))

	query := []memory.Tag{memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "ml")}

	all, err := s.MemoriesWithAllTags(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1"}, all)

	anyIDs, err := s.MemoriesWithAnyTag(ctx, query)
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m3"}, anyIDs)
	assert.Subset(t, anyIDs, all)

	// Empty inputs give empty results.
	all, err = s.MemoriesWithAllTags(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, all)
	anyIDs, err = s.MemoriesWithAnyTag(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, anyIDs)

	// Malformed entries are skipped.
	all, err = s.MemoriesWithAllTags(ctx, []memory.Tag{{Type: "domain"}, memory.NewTag("domain", "healthcare")})
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, all)

	// A usable tag with no matches empties the intersection.
	all, err = s.MemoriesWithAllTags(ctx, []memory.Tag{memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "rust")})
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestDeleteTags(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, func(c *tags.Config) { c.ScanBatch = 2 })
	add(t, s, "m1", memory.NewTag("a", "1"), memory.NewTag("a", "2"), memory.NewTag("a", "3"))
	add(t, s, "m2", memory.NewTag("a", "1"))

	ok, err := s.DeleteTags(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.GetTags(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, got)

	// Idempotent.
	ok, err = s.DeleteTags(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	ids, err := s.SearchByTag(ctx, "a", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"m2"}, ids)
}

func TestEnumeration(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, func(c *tags.Config) { c.ScanBatch = 2 })
	add(t, s, "m1", memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "ml"))
	add(t, s, "m2", memory.NewTag("domain", "healthcare"), memory.NewTag("domain", "finance"))

	types, err := s.AllTagTypes(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"domain", "tech"}, types)

	values, err := s.TagValues(ctx, "domain")
	require.NoError(t, err)
	assert.Equal(t, []string{"healthcare", "finance"}, values)

	values, err = s.TagValues(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, values)

	all, err := s.AllTags(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "domain: healthcare", all[0].String())
	assert.Equal(t, "tech: ml", all[1].String())
	assert.Equal(t, "domain: finance", all[2].String())
}
