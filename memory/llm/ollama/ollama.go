// Package ollama implements memory.TextGenerator and memory.Embedder on a
// local Ollama server.
package ollama

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/becomeliminal/nim-memory/memory"
)

const provider = "ollama"

// Defaults.
const (
	DefaultHost           = "http://localhost:11434"
	DefaultModel          = "llama3.2"
	DefaultEmbeddingModel = "nomic-embed-text"
)

// Config configures the client.
type Config struct {
	Host           string
	Model          string
	EmbeddingModel string
	Dimensions     int
	HTTPClient     *http.Client
}

// Client is both a generator and an embedder.
type Client struct {
	client         *api.Client
	model          string
	embeddingModel string
	dimensions     int
}

var (
	_ memory.TextGenerator = (*Client)(nil)
	_ memory.Embedder      = (*Client)(nil)
)

// New creates a client for the Ollama server at cfg.Host.
func New(cfg Config) (*Client, error) {
	host := cfg.Host
	if host == "" {
		host = DefaultHost
	}
	uri, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: bad host %q: %w", host, err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	c := &Client{
		client:         api.NewClient(uri, httpClient),
		model:          cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.Dimensions,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = DefaultEmbeddingModel
	}
	if c.dimensions == 0 {
		c.dimensions = 768
	}
	return c, nil
}

func (c *Client) Complete(ctx context.Context, req memory.CompletionRequest) (*memory.Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	var messages []api.Message
	if req.System != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.System})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.Prompt})

	options := map[string]any{"temperature": req.Temperature}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	var text strings.Builder
	respModel := model
	err := c.client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   new(bool), // false
		Options:  options,
	}, func(resp api.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		if resp.Model != "" {
			respModel = resp.Model
		}
		return nil
	})
	if err != nil {
		return nil, &memory.GenerationError{Provider: provider, Err: err}
	}
	if text.Len() == 0 {
		return nil, &memory.GenerationError{Provider: provider, Err: errors.New("empty response")}
	}
	return &memory.Completion{Text: text.String(), Model: respModel}, nil
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.Embeddings(ctx, &api.EmbeddingRequest{
		Model:  c.embeddingModel,
		Prompt: text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	vec := make([]float32, len(resp.Embedding))
	for i, v := range resp.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Dimensions returns the configured embedding size.
func (c *Client) Dimensions() int {
	return c.dimensions
}
