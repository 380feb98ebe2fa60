// Package gemini implements memory.TextGenerator on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/becomeliminal/nim-memory/memory"
)

const provider = "gemini"

// DefaultModel is used when neither the config nor the request names one.
const DefaultModel = "gemini-1.5-flash"

// Config configures the generator.
type Config struct {
	APIKey string
	Model  string
}

// Generator calls Gemini.
type Generator struct {
	client *genai.Client
	model  string
}

var _ memory.TextGenerator = (*Generator)(nil)

// New creates a generator. An empty API key is an error.
func New(ctx context.Context, cfg Config) (*Generator, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini: API key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	return &Generator{client: client, model: model}, nil
}

func (g *Generator) Complete(ctx context.Context, req memory.CompletionRequest) (*memory.Completion, error) {
	name := req.Model
	if name == "" {
		name = g.model
	}
	model := g.client.GenerativeModel(name)
	model.SetTemperature(float32(req.Temperature))
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		return nil, &memory.GenerationError{Provider: provider, Err: err}
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil, &memory.GenerationError{Provider: provider, Err: errors.New("no candidates returned")}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return &memory.Completion{Text: text.String(), Model: name}, nil
}

// Close releases the underlying client.
func (g *Generator) Close() error {
	return g.client.Close()
}
