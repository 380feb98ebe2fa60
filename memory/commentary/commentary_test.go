package commentary_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/commentary"
	"github.com/becomeliminal/nim-memory/memory/llm"
	"github.com/becomeliminal/nim-memory/memory/llm/llmtest"
)

func memories(n int) []memory.Memory {
	out := make([]memory.Memory, n)
	for i := range out {
		out[i] = memory.Memory{ID: fmt.Sprintf("memory_%d", i), Content: fmt.Sprintf("content %d", i)}
	}
	return out
}

func TestMockCommentary(t *testing.T) {
	g := commentary.New(llm.Unavailable{}, commentary.DefaultConfig())
	mems := memories(3)
	mems = append(mems, memory.Memory{Content: "no id"})

	out := g.GenerateMultipleCommentaries(context.Background(), mems)
	require.Len(t, out, 3)

	assert.Equal(t, "Connections Analysis (Mock): The 4 memories are connected through their shared concepts and technologies.", out[memory.CommentaryConnections].Text)
	assert.Equal(t, "Pattern Analysis (Mock): These 4 memories show recurring themes related to their content domains.", out[memory.CommentaryPatterns].Text)
	assert.Equal(t, "Implications Analysis (Mock): The 4 memories suggest potential applications in their respective domains.", out[memory.CommentaryImplications].Text)

	for _, mc := range out {
		assert.Equal(t, memory.MockModel, mc.Model)
		assert.Equal(t, []string{"memory_0", "memory_1", "memory_2"}, mc.MemoryIDs)
	}
}

func TestGenerateMetaCommentary(t *testing.T) {
	gen := llmtest.New("They share a theme.")
	g := commentary.New(gen, commentary.DefaultConfig())
	mems := memories(2)
	mems[0].Tags = []memory.Tag{memory.NewTag("domain", "healthcare")}

	mc := g.GenerateMetaCommentary(context.Background(), mems, memory.CommentaryPatterns)
	require.NotNil(t, mc)
	assert.Equal(t, "They share a theme.", mc.Text)
	assert.Equal(t, "test-model", mc.Model)

	req := gen.Requests()[0]
	assert.Contains(t, req.Prompt, "patterns, trends, and recurring themes")
	assert.Contains(t, req.Prompt, "Memory 1:\ncontent 0\nTags: domain: healthcare")
	assert.Contains(t, req.Prompt, "Memory 2:\ncontent 1")
	assert.Equal(t, 1000, req.MaxTokens)
}

func TestAnalyzeRelationship(t *testing.T) {
	mems := memories(2)
	g := commentary.New(llmtest.Failing(), commentary.DefaultConfig())
	assert.Nil(t, g.AnalyzeRelationship(context.Background(), &mems[0], &mems[1]))

	g = commentary.New(llmtest.New("Related."), commentary.DefaultConfig())
	r := g.AnalyzeRelationship(context.Background(), &mems[0], &mems[1])
	require.NotNil(t, r)
	assert.Equal(t, "memory_0", r.MemoryID1)
	assert.Equal(t, "memory_1", r.MemoryID2)
	assert.Equal(t, "Related.", r.Text)
}

func TestSuggestNewConnections(t *testing.T) {
	gen := llmtest.New(`Sure! [{"memory_id": "memory_3", "explanation": "same topic", "score": 0.85}]`)
	g := commentary.New(gen, commentary.DefaultConfig())

	mems := memories(15)
	mems[5].Content = strings.Repeat("x", 300)
	target := mems[0]

	conns := g.SuggestNewConnections(context.Background(), &target, mems, 3)
	require.Len(t, conns, 1)
	assert.Equal(t, memory.Connection{MemoryID: "memory_3", Explanation: "same topic", Score: 0.85}, conns[0])

	req := gen.Requests()[0]
	assert.Equal(t, 0.3, req.Temperature)
	assert.Contains(t, req.Prompt, "suggest up to 3 other memories")
	assert.NotContains(t, req.Prompt, "(ID: memory_0)")
	assert.Contains(t, req.Prompt, "Memory 10 (ID: memory_10)")
	assert.NotContains(t, req.Prompt, "(ID: memory_11)")
	assert.Contains(t, req.Prompt, strings.Repeat("x", 200)+"...")
	assert.NotContains(t, req.Prompt, strings.Repeat("x", 201))
}

func TestSuggestNewConnectionsFailures(t *testing.T) {
	mems := memories(2)
	ctx := context.Background()

	assert.Empty(t, commentary.New(llmtest.Failing(), commentary.DefaultConfig()).SuggestNewConnections(ctx, &mems[0], mems, 3))
	assert.Empty(t, commentary.New(llmtest.New("none"), commentary.DefaultConfig()).SuggestNewConnections(ctx, &mems[0], mems, 3))
}
