// Package anthropic implements memory.TextGenerator on the Anthropic
// Messages API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/becomeliminal/nim-memory/memory"
)

const provider = "anthropic"

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = "claude-sonnet-4-20250514"

// Config configures the generator.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string // for tests and proxies

	// MaxRetries overrides the SDK's retry count when non-nil.
	MaxRetries *int
}

// Generator calls Claude.
type Generator struct {
	client *anthropic.Client
	model  string
}

var _ memory.TextGenerator = (*Generator)(nil)

// New creates a generator. An empty API key is an error; use
// llm.Unavailable instead.
func New(cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries != nil {
		opts = append(opts, option.WithMaxRetries(*cfg.MaxRetries))
	}
	client := anthropic.NewClient(opts...)

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Generator{client: &client, model: model}, nil
}

func (g *Generator) Complete(ctx context.Context, req memory.CompletionRequest) (*memory.Completion, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = 1024
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := g.client.Messages.New(ctx, params)
	if err != nil {
		return nil, &memory.GenerationError{Provider: provider, Err: err}
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, &memory.GenerationError{Provider: provider, Err: errors.New("response contained no text")}
	}
	return &memory.Completion{Text: text.String(), Model: string(resp.Model)}, nil
}
