package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/commentary"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/exact"
	"github.com/becomeliminal/nim-memory/memory/llm"
	"github.com/becomeliminal/nim-memory/memory/llm/llmtest"
	"github.com/becomeliminal/nim-memory/memory/localstore"
	"github.com/becomeliminal/nim-memory/memory/summary"
	"github.com/becomeliminal/nim-memory/memory/tags"
	"github.com/becomeliminal/nim-memory/memory/vectorindex/memindex"
)

const dims = 16

func newManager(t *testing.T, opts ...memory.ManagerOption) *memory.Manager {
	t.Helper()
	ctx := context.Background()
	index := memindex.New()

	ecfg := exact.DefaultConfig()
	ecfg.VectorSize = dims
	es, err := exact.New(ctx, index, ecfg)
	require.NoError(t, err)

	tcfg := tags.DefaultConfig()
	tcfg.VectorSize = dims
	ts, err := tags.New(ctx, index, tcfg)
	require.NoError(t, err)

	opts = append([]memory.ManagerOption{memory.WithEmbedder(mock.New(dims))}, opts...)
	return memory.NewManager(es, ts, nil, opts...)
}

func TestManager_IngestDedup(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	first, err := m.Ingest(ctx, memory.IngestRequest{Content: "The quick brown fox", Dedup: true})
	require.NoError(t, err)
	assert.False(t, first.Duplicate)

	second, err := m.Ingest(ctx, memory.IngestRequest{Content: "The quick brown fox", Dedup: true})
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Memory.ID, second.Memory.ID)

	n, err := m.Count(ctx, "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// Without dedup the same content is stored again.
	third, err := m.Ingest(ctx, memory.IngestRequest{Content: "The quick brown fox"})
	require.NoError(t, err)
	assert.NotEqual(t, first.Memory.ID, third.Memory.ID)
}

func TestManager_IngestTagsAndDelete(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	res, err := m.Ingest(ctx, memory.IngestRequest{
		Content: "AI triage in hospitals",
		Source:  "notes",
		Tags:    []memory.Tag{memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "ml")},
	})
	require.NoError(t, err)
	require.Len(t, res.Memory.Tags, 2)
	assert.Equal(t, "notes", res.Memory.Source)
	assert.Equal(t, memory.DefaultContentType, res.Memory.ContentType)

	ids, err := m.ByTags(ctx, []memory.Tag{memory.NewTag("domain", "healthcare"), memory.NewTag("tech", "ml")}, true)
	require.NoError(t, err)
	assert.Equal(t, []string{res.Memory.ID}, ids)

	catalog, err := m.TagCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{"domain": {"healthcare"}, "tech": {"ml"}}, catalog)

	ok, err := m.Delete(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = m.Get(ctx, res.Memory.ID)
	assert.True(t, memory.IsNotFound(err))

	remaining, err := m.Tags(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Empty(t, remaining)
}

func TestManager_IngestWithoutEmbedder(t *testing.T) {
	ctx := context.Background()
	index := memindex.New()
	cfg := exact.DefaultConfig()
	cfg.VectorSize = 4
	es, err := exact.New(ctx, index, cfg)
	require.NoError(t, err)
	ts, err := tags.New(ctx, index, tags.DefaultConfig())
	require.NoError(t, err)
	m := memory.NewManager(es, ts, nil)

	_, err = m.Ingest(ctx, memory.IngestRequest{Content: "x"})
	assert.ErrorIs(t, err, memory.ErrNoEmbedder)

	res, err := m.Ingest(ctx, memory.IngestRequest{Content: "x", Embedding: []float32{1, 0, 0, 0}})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Memory.ID)
}

func TestManager_IngestEnrichment(t *testing.T) {
	ctx := context.Background()
	gen := llmtest.New("generated").Queue(llmtest.Reply{Text: `[{"type": "animal", "value": "fox"}]`})
	archive, err := localstore.New(t.TempDir())
	require.NoError(t, err)

	m := newManager(t,
		memory.WithSummarizer(summary.New(gen, summary.DefaultConfig())),
		memory.WithCommentator(commentary.New(llm.Unavailable{}, commentary.DefaultConfig())),
		memory.WithArchive(archive),
	)

	prior, err := m.Ingest(ctx, memory.IngestRequest{Content: "Foxes live in dens"})
	require.NoError(t, err)

	res, err := m.Ingest(ctx, memory.IngestRequest{
		Content:     "The quick brown fox",
		SuggestTags: true,
		Summarize:   true,
		Related:     2,
	})
	require.NoError(t, err)

	require.Len(t, res.Memory.Tags, 1)
	assert.Equal(t, "animal: fox", res.Memory.Tags[0].String())
	assert.Len(t, res.Summaries, 3)
	assert.Equal(t, "generated", res.Summaries[memory.SummaryGeneral].Text)

	require.NotNil(t, res.Commentary)
	assert.Equal(t, memory.CommentaryConnections, res.Commentary.Type)
	assert.Equal(t, []string{res.Memory.ID, prior.Memory.ID}, res.Commentary.MemoryIDs)
	assert.NotEmpty(t, res.Commentary.ID)

	archived, err := m.MetaCommentaries(ctx, prior.Memory.ID)
	require.NoError(t, err)
	require.Len(t, archived, 1)
	assert.Equal(t, res.Commentary.ID, archived[0].ID)
}

func TestManager_GenerationWithoutLayers(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	res, err := m.Ingest(ctx, memory.IngestRequest{Content: "x", Summarize: true, Related: 3})
	require.NoError(t, err)
	assert.Nil(t, res.Summaries)
	assert.Nil(t, res.Commentary)

	_, err = m.Summaries(ctx, res.Memory.ID)
	assert.ErrorIs(t, err, memory.ErrGenerationUnavailable)
	_, err = m.Commentary(ctx, []string{res.Memory.ID})
	assert.ErrorIs(t, err, memory.ErrGenerationUnavailable)
	_, err = m.SuggestConnections(ctx, res.Memory.ID, 3)
	assert.ErrorIs(t, err, memory.ErrGenerationUnavailable)

	archived, err := m.MetaCommentaries(ctx, res.Memory.ID)
	require.NoError(t, err)
	assert.Empty(t, archived)
}

func TestManager_SummariesAndCommentary(t *testing.T) {
	ctx := context.Background()
	m := newManager(t,
		memory.WithSummarizer(summary.New(nil, summary.DefaultConfig())),
		memory.WithCommentator(commentary.New(nil, commentary.DefaultConfig())),
	)
	a, err := m.Ingest(ctx, memory.IngestRequest{Content: "Machine learning improves diagnosis accuracy"})
	require.NoError(t, err)
	b, err := m.Ingest(ctx, memory.IngestRequest{Content: "Hospitals adopt triage software"})
	require.NoError(t, err)

	sums, err := m.Summaries(ctx, a.Memory.ID, memory.SummaryGeneral)
	require.NoError(t, err)
	require.Len(t, sums, 1)
	assert.Equal(t, "General Summary (Mock): This content is about Machine learning improves diagnosis accuracy...", sums[memory.SummaryGeneral].Text)

	mcs, err := m.Commentary(ctx, []string{a.Memory.ID, b.Memory.ID})
	require.NoError(t, err)
	require.Len(t, mcs, 3)
	assert.Equal(t, memory.CommentaryConnections, mcs[0].Type)
	assert.Equal(t, memory.CommentaryPatterns, mcs[1].Type)
	assert.Equal(t, memory.CommentaryImplications, mcs[2].Type)
	assert.Contains(t, mcs[0].Text, "The 2 memories")

	rel, err := m.Relationship(ctx, a.Memory.ID, b.Memory.ID)
	require.NoError(t, err)
	assert.Nil(t, rel)

	_, err = m.Commentary(ctx, []string{"memory_missing"})
	assert.ErrorIs(t, err, memory.ErrNotFound)
}

func TestManager_SuggestConnections(t *testing.T) {
	ctx := context.Background()
	gen := llmtest.New(`[{"memory_id": "memory_x", "explanation": "close", "score": 0.7}]`)
	m := newManager(t, memory.WithCommentator(commentary.New(gen, commentary.DefaultConfig())))

	target, err := m.Ingest(ctx, memory.IngestRequest{Content: "target"})
	require.NoError(t, err)
	_, err = m.Ingest(ctx, memory.IngestRequest{Content: "neighbour"})
	require.NoError(t, err)

	conns, err := m.SuggestConnections(ctx, target.Memory.ID, 0)
	require.NoError(t, err)
	require.Len(t, conns, 1)
	assert.Equal(t, "memory_x", conns[0].MemoryID)

	prompt := gen.Requests()[0].Prompt
	assert.Contains(t, prompt, "suggest up to 3 other memories")
	assert.Contains(t, prompt, "neighbour")
}

func TestManager_Recall(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)

	out, err := m.Recall(ctx, "anything")
	require.NoError(t, err)
	assert.Empty(t, out)

	_, err = m.Ingest(ctx, memory.IngestRequest{Content: "User prefers weekly budget summaries", Tags: []memory.Tag{memory.NewTag("topic", "budget")}})
	require.NoError(t, err)

	// The mock embedder maps identical text to identical vectors.
	out, err = m.Recall(ctx, "User prefers weekly budget summaries")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "=== RELEVANT MEMORIES ==="))
	assert.Contains(t, out, "1. User prefers weekly budget summaries [topic: budget]")
}

func TestManager_List(t *testing.T) {
	ctx := context.Background()
	m := newManager(t)
	for _, c := range []string{"a", "b", "c"} {
		_, err := m.Ingest(ctx, memory.IngestRequest{Content: c, ContentType: "note"})
		require.NoError(t, err)
	}

	page, cursor, err := m.List(ctx, memory.ListOptions{Limit: 2, ContentType: "note"})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "a", page[0].Content)
	require.NotEmpty(t, cursor)

	page, cursor, err = m.List(ctx, memory.ListOptions{Limit: 2, Cursor: cursor, ContentType: "note"})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "c", page[0].Content)
	assert.Empty(t, cursor)
}
