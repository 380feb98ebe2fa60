package llm_test

import (
	"context"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/llm"
	"github.com/becomeliminal/nim-memory/memory/llm/llmtest"
)

func TestUnavailable(t *testing.T) {
	_, err := llm.Unavailable{Reason: "OPENAI_API_KEY not set"}.Complete(context.Background(), memory.CompletionRequest{})
	var ge *memory.GenerationError
	require.ErrorAs(t, err, &ge)
	assert.Equal(t, "none", ge.Provider)
	assert.ErrorIs(t, err, memory.ErrGenerationUnavailable)
	assert.Contains(t, err.Error(), "OPENAI_API_KEY not set")

	_, err = llm.Unavailable{}.Complete(context.Background(), memory.CompletionRequest{})
	assert.ErrorIs(t, err, memory.ErrGenerationUnavailable)
}

func TestBreakerPassesThrough(t *testing.T) {
	b := llm.NewBreaker(llmtest.New("hello"), llm.DefaultBreakerConfig("test"), nil)
	out, err := b.Complete(context.Background(), memory.CompletionRequest{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Text)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	gen := llmtest.Failing()
	cfg := llm.DefaultBreakerConfig("test")
	cfg.MinRequests = 2
	cfg.FailureThreshold = 0.5
	cfg.Timeout = time.Hour
	b := llm.NewBreaker(gen, cfg, nil)

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := b.Complete(ctx, memory.CompletionRequest{})
		assert.ErrorIs(t, err, llmtest.ErrScripted)
	}
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Complete(ctx, memory.CompletionRequest{})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	var ge *memory.GenerationError
	assert.ErrorAs(t, err, &ge)
	assert.Len(t, gen.Requests(), 2, "open breaker must not reach the provider")
}

func TestScriptedQueue(t *testing.T) {
	gen := llmtest.New("default").Queue(llmtest.Reply{Text: "first"}, llmtest.Reply{Err: llmtest.ErrScripted})
	ctx := context.Background()

	out, err := gen.Complete(ctx, memory.CompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "first", out.Text)
	assert.Equal(t, "m", out.Model)

	_, err = gen.Complete(ctx, memory.CompletionRequest{})
	assert.Error(t, err)

	out, err = gen.Complete(ctx, memory.CompletionRequest{})
	require.NoError(t, err)
	assert.Equal(t, "default", out.Text)
	assert.Len(t, gen.Requests(), 3)
}
