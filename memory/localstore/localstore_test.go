package localstore_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/localstore"
)

func newStore(t *testing.T) *localstore.Store {
	t.Helper()
	s, err := localstore.New(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestPutGetDelete(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := localstore.Record{
		MemoryID:   "m1",
		Content:    "The quick brown fox",
		Metadata:   map[string]any{"source": "user"},
		Tags:       []memory.Tag{memory.NewTag("animal", "fox")},
		AIAnalysis: map[string]any{"summary": "a fox"},
	}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "The quick brown fox", got.Content)
	assert.Equal(t, "user", got.Metadata["source"])
	require.Len(t, got.Tags, 1)
	assert.Equal(t, "animal: fox", got.Tags[0].String())
	assert.Equal(t, "a fox", got.AIAnalysis["summary"])
	assert.Empty(t, got.MetaAnalyses)

	ok, err := s.Delete(ctx, "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.Get(ctx, "m1")
	assert.ErrorIs(t, err, memory.ErrNotFound)

	ok, err = s.Delete(ctx, "m1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestContentOnlyRecord(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "layer1", "bare.txt"), []byte("just text"), 0o644))

	got, err := s.Get(context.Background(), "bare")
	require.NoError(t, err)
	assert.Equal(t, "just text", got.Content)
	assert.Empty(t, got.Tags)
	assert.NotNil(t, got.Metadata)
}

func TestInvalidIDs(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	assert.Error(t, s.Put(ctx, localstore.Record{MemoryID: "../escape", Content: "x"}))
	_, err := s.Get(ctx, "../escape")
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestWalkSortedAndAllTags(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Put(ctx, localstore.Record{MemoryID: "b", Content: "two", Tags: []memory.Tag{memory.NewTag("domain", "finance"), memory.NewTag("domain", "healthcare")}}))
	require.NoError(t, s.Put(ctx, localstore.Record{MemoryID: "a", Content: "one", Tags: []memory.Tag{memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "ml")}}))
	require.NoError(t, s.Put(ctx, localstore.Record{MemoryID: "c", Content: "three"}))

	// A corrupt side file is skipped during scans.
	require.NoError(t, os.WriteFile(filepath.Join(s.Root(), "layer2", "c.json"), []byte("{"), 0o644))

	var seen []string
	require.NoError(t, s.Walk(ctx, func(r localstore.Record) error {
		seen = append(seen, r.MemoryID)
		return nil
	}))
	assert.Equal(t, []string{"a", "b"}, seen)

	tags, err := s.AllTags(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"domain": {"healthcare", "finance"},
		"tech":   {"ml"},
	}, tags)
}

func TestMetaCommentaryArchive(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	require.NoError(t, s.Put(ctx, localstore.Record{MemoryID: "m1", Content: "one"}))

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	first := &memory.MetaCommentary{MemoryIDs: []string{"m1", "m2"}, Type: memory.CommentaryPatterns, Text: "shared", Model: "mock", Timestamp: ts}
	require.NoError(t, s.SaveMetaCommentary(ctx, first))
	require.NotEmpty(t, first.ID)

	second := &memory.MetaCommentary{MemoryIDs: []string{"m2"}, Type: memory.CommentaryConnections, Text: "other"}
	require.NoError(t, s.SaveMetaCommentary(ctx, second))

	got, err := s.MetaCommentariesFor(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, first.ID, got[0].ID)
	assert.Equal(t, memory.CommentaryPatterns, got[0].Type)
	assert.Equal(t, "shared", got[0].Text)
	assert.True(t, ts.Equal(got[0].Timestamp))

	got, err = s.MetaCommentariesFor(ctx, "m2")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	rec, err := s.Get(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, rec.MetaAnalyses, 1)
	assert.Equal(t, "shared", rec.MetaAnalyses[0].Analysis["commentary_text"])
}
