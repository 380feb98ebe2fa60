package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
	"github.com/becomeliminal/nim-memory/memory/llm"
	"github.com/becomeliminal/nim-memory/memory/llm/anthropic"
	"github.com/becomeliminal/nim-memory/memory/llm/gemini"
	"github.com/becomeliminal/nim-memory/memory/llm/ollama"
	"github.com/becomeliminal/nim-memory/memory/llm/openai"
)

// newGenerator builds the configured text generator. A provider without its
// credential degrades to llm.Unavailable so Layers 3 and 4 produce mock
// output instead of failing.
func (a *app) newGenerator(ctx context.Context) (memory.TextGenerator, error) {
	g := a.cfg.Generator
	var gen memory.TextGenerator

	switch g.Provider {
	case "none":
		return llm.Unavailable{Reason: "no generator configured"}, nil
	case "anthropic":
		if g.AnthropicKey == "" {
			return a.unavailable("ANTHROPIC_API_KEY not set"), nil
		}
		c, err := anthropic.New(anthropic.Config{APIKey: g.AnthropicKey, Model: g.Model, BaseURL: g.BaseURL})
		if err != nil {
			return nil, err
		}
		gen = c
	case "openai":
		if g.OpenAIKey == "" {
			return a.unavailable("OPENAI_API_KEY not set"), nil
		}
		c, err := openai.New(openai.Config{APIKey: g.OpenAIKey, BaseURL: g.BaseURL, Model: g.Model})
		if err != nil {
			return nil, err
		}
		gen = c
	case "ollama":
		c, err := ollama.New(ollama.Config{Host: g.OllamaHost, Model: g.Model})
		if err != nil {
			return nil, err
		}
		gen = c
	case "gemini":
		if g.GeminiKey == "" {
			return a.unavailable("GEMINI_API_KEY not set"), nil
		}
		c, err := gemini.New(ctx, gemini.Config{APIKey: g.GeminiKey, Model: g.Model})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, c.Close)
		gen = c
	default:
		return nil, fmt.Errorf("unknown generator %q", g.Provider)
	}

	if g.Breaker {
		gen = llm.NewBreaker(gen, llm.DefaultBreakerConfig(g.Provider), a.log)
	}
	return gen, nil
}

func (a *app) unavailable(reason string) memory.TextGenerator {
	a.log.Warn("text generation unavailable, using mock output", zap.String("reason", reason))
	return llm.Unavailable{Reason: reason}
}

// newEmbedder builds the configured embedder, optionally behind a cache.
func (a *app) newEmbedder(ctx context.Context) (memory.Embedder, error) {
	e := a.cfg.Embedder
	var emb memory.Embedder

	switch e.Provider {
	case "mock":
		emb = mock.New(e.Dimensions)
	case "openai":
		c, err := openai.New(openai.Config{
			APIKey:         a.cfg.Generator.OpenAIKey,
			BaseURL:        a.cfg.Generator.BaseURL,
			EmbeddingModel: e.Model,
			Dimensions:     e.Dimensions,
		})
		if err != nil {
			return nil, err
		}
		emb = c
	case "ollama":
		c, err := ollama.New(ollama.Config{Host: a.cfg.Generator.OllamaHost, EmbeddingModel: e.Model, Dimensions: e.Dimensions})
		if err != nil {
			return nil, err
		}
		emb = c
	case "onnx":
		c, err := newONNXEmbedder(a)
		if err != nil {
			return nil, err
		}
		emb = c
	default:
		return nil, fmt.Errorf("unknown embedder %q", e.Provider)
	}

	if emb.Dimensions() != e.Dimensions {
		return nil, fmt.Errorf("embedder produces %d dimensions, config says %d", emb.Dimensions(), e.Dimensions)
	}
	if !e.Cache {
		return emb, nil
	}
	c, err := cache.New(emb, e.CacheSize, cache.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() error {
		c.Close()
		return nil
	})
	return c, nil
}
