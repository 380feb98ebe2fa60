package ollama_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/llm/ollama"
)

func newClient(t *testing.T, handler http.HandlerFunc) *ollama.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c, err := ollama.New(ollama.Config{Host: srv.URL, Dimensions: 2})
	require.NoError(t, err)
	return c
}

func TestComplete(t *testing.T) {
	var body map[string]any
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"model":"llama-test","message":{"role":"assistant","content":"Short summary."},"done":true}`))
	})

	out, err := c.Complete(context.Background(), memory.CompletionRequest{System: "sys", Prompt: "hi", Temperature: 0.2, MaxTokens: 50})
	require.NoError(t, err)
	assert.Equal(t, "Short summary.", out.Text)
	assert.Equal(t, "llama-test", out.Model)
	assert.Equal(t, ollama.DefaultModel, body["model"])
	assert.Equal(t, false, body["stream"])
}

func TestEmbed(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embedding":[0.5,-0.5]}`))
	})
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.5, -0.5}, vec)
	assert.Equal(t, 2, c.Dimensions())
}

func TestCompleteError(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":"model not found"}`))
	})
	_, err := c.Complete(context.Background(), memory.CompletionRequest{Prompt: "hi"})
	var ge *memory.GenerationError
	assert.ErrorAs(t, err, &ge)
}
