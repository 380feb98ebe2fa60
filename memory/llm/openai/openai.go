// Package openai implements memory.TextGenerator and memory.Embedder on the
// OpenAI API.
package openai

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"github.com/becomeliminal/nim-memory/memory"
)

const provider = "openai"

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = openai.GPT3Dot5Turbo

// Config configures the client.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string

	// EmbeddingModel and Dimensions configure the embedder.
	EmbeddingModel string
	Dimensions     int
}

// Client is both a generator and an embedder.
type Client struct {
	client         *openai.Client
	model          string
	embeddingModel openai.EmbeddingModel
	dimensions     int
}

var (
	_ memory.TextGenerator = (*Client)(nil)
	_ memory.Embedder      = (*Client)(nil)
)

// New creates a client. An empty API key is an error.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	c := &Client{
		client:         openai.NewClientWithConfig(config),
		model:          cfg.Model,
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		dimensions:     cfg.Dimensions,
	}
	if c.model == "" {
		c.model = DefaultModel
	}
	if c.embeddingModel == "" {
		c.embeddingModel = openai.SmallEmbedding3
	}
	if c.dimensions == 0 {
		c.dimensions = 1536
	}
	return c, nil
}

func (c *Client) Complete(ctx context.Context, req memory.CompletionRequest) (*memory.Completion, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	var messages []openai.ChatCompletionMessage
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: req.Prompt})

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       model,
		Messages:    messages,
		Temperature: float32(req.Temperature),
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, &memory.GenerationError{Provider: provider, Err: err}
	}
	if len(resp.Choices) == 0 {
		return nil, &memory.GenerationError{Provider: provider, Err: errors.New("no choices returned")}
	}
	return &memory.Completion{Text: resp.Choices[0].Message.Content, Model: resp.Model}, nil
}

// Embed returns the embedding of text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      c.embeddingModel,
		Dimensions: c.dimensions,
	})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: no embedding returned")
	}
	return resp.Data[0].Embedding, nil
}

// Dimensions returns the embedding size.
func (c *Client) Dimensions() int {
	return c.dimensions
}
