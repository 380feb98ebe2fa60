// Package summary generates Layer 3 text about single memories: typed
// summaries, free-form analyses and tag suggestions.
//
// Generation never fails from the caller's point of view. Summaries fall back
// to deterministic mock text; analyses and tag suggestions come back empty.
package summary

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/llm"
	"github.com/becomeliminal/nim-memory/memory/metrics"
)

const layer = "summary"

const (
	systemSummary  = "You are an expert analyst providing insightful summaries and explanations."
	systemAnalysis = "You are an expert analyst providing insightful analysis."
	systemTags     = "You are an expert at categorizing and tagging content."
)

// Config holds SummaryStore configuration.
type Config struct {
	// Model is passed to the generator; empty uses its default.
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// TagTemperature is used for tag suggestions.
	TagTemperature float64 `yaml:"tag_temperature"`
}

// DefaultConfig returns the standard Layer 3 settings.
func DefaultConfig() Config {
	return Config{
		Temperature:    0.7,
		MaxTokens:      500,
		TagTemperature: 0.3,
	}
}

// Generator implements memory.Summarizer on a memory.TextGenerator.
type Generator struct {
	gen     memory.TextGenerator
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

var _ memory.Summarizer = (*Generator)(nil)

// Option configures a Generator.
type Option func(*Generator)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Generator) { g.log = l.Named(layer) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(g *Generator) { g.metrics = c }
}

// New creates a Generator. A nil gen behaves as llm.Unavailable.
func New(gen memory.TextGenerator, cfg Config, opts ...Option) *Generator {
	if gen == nil {
		gen = llm.Unavailable{Reason: "no generator configured"}
	}
	def := DefaultConfig()
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	g := &Generator{gen: gen, cfg: cfg, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateSummary summarizes mem. Unknown types are treated as general. Any
// generation failure yields a mock summary with Model "mock".
func (g *Generator) GenerateSummary(ctx context.Context, mem *memory.Memory, summaryType memory.SummaryType) *memory.Summary {
	out, err := g.gen.Complete(ctx, memory.CompletionRequest{
		System:      systemSummary,
		Prompt:      summaryPrompt(mem, summaryType),
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		g.log.Warn("generating mock summary", zap.String("memory_id", mem.ID), zap.String("summary_type", string(summaryType)), zap.Error(err))
		g.metrics.Fallback(layer, "mock")
		return g.mockSummary(mem, summaryType)
	}

	g.log.Info("generated summary", zap.String("memory_id", mem.ID), zap.String("summary_type", string(summaryType)))
	return &memory.Summary{
		MemoryID:  mem.ID,
		Type:      summaryType,
		Text:      strings.TrimSpace(out.Text),
		Model:     g.model(out),
		Timestamp: g.now().UTC(),
	}
}

// GenerateMultipleSummaries produces one summary of each type.
func (g *Generator) GenerateMultipleSummaries(ctx context.Context, mem *memory.Memory) map[memory.SummaryType]*memory.Summary {
	out := make(map[memory.SummaryType]*memory.Summary, len(memory.SummaryTypes))
	for _, t := range memory.SummaryTypes {
		if s := g.GenerateSummary(ctx, mem, t); s != nil {
			out[t] = s
		}
	}
	g.log.Info("generated summaries", zap.String("memory_id", mem.ID), zap.Int("count", len(out)))
	return out
}

// AnalyzeContent returns a free-form analysis of content, optionally steered
// by background. It returns nil when generation fails.
func (g *Generator) AnalyzeContent(ctx context.Context, content, background string) *memory.Analysis {
	prompt := "Please analyze the following content and provide insights, key points, and implications.\n\nContent:\n" + content
	if background != "" {
		prompt += "\n\nContext:\n" + background
	}
	out, err := g.gen.Complete(ctx, memory.CompletionRequest{
		System:      systemAnalysis,
		Prompt:      prompt,
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		g.log.Warn("content analysis unavailable", zap.Error(err))
		g.metrics.Fallback(layer, "omitted")
		return nil
	}
	return &memory.Analysis{
		Content:   memory.Truncate(content, 100),
		Text:      strings.TrimSpace(out.Text),
		Model:     g.model(out),
		Timestamp: g.now().UTC(),
	}
}

// SuggestTags asks the generator for tags. Replies that do not contain a
// parseable JSON array, and entries without a value, are dropped.
func (g *Generator) SuggestTags(ctx context.Context, content string) []memory.Tag {
	out, err := g.gen.Complete(ctx, memory.CompletionRequest{
		System:      systemTags,
		Prompt:      tagPrompt(content),
		Model:       g.cfg.Model,
		Temperature: g.cfg.TagTemperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		g.log.Warn("tag suggestion unavailable", zap.Error(err))
		g.metrics.Fallback(layer, "omitted")
		return []memory.Tag{}
	}

	var parsed []memory.Tag
	if !memory.ParseJSONArray(out.Text, &parsed) {
		g.log.Warn("failed to parse suggested tags")
		return []memory.Tag{}
	}
	tags := make([]memory.Tag, 0, len(parsed))
	for _, t := range parsed {
		if t.Value != "" {
			tags = append(tags, t)
		}
	}
	g.log.Info("suggested tags", zap.Int("count", len(tags)))
	return tags
}

func (g *Generator) mockSummary(mem *memory.Memory, summaryType memory.SummaryType) *memory.Summary {
	head := memory.Prefix(mem.Content, 50)
	var text string
	switch summaryType {
	case memory.SummaryTechnical:
		text = fmt.Sprintf("Technical Analysis (Mock): This content discusses technical aspects of %s...", head)
	case memory.SummaryConceptual:
		text = fmt.Sprintf("Conceptual Explanation (Mock): The key concepts in this content are related to %s...", head)
	default:
		text = fmt.Sprintf("General Summary (Mock): This content is about %s...", head)
	}
	return &memory.Summary{
		MemoryID:  mem.ID,
		Type:      summaryType,
		Text:      text,
		Model:     memory.MockModel,
		Timestamp: g.now().UTC(),
	}
}

func (g *Generator) model(out *memory.Completion) string {
	if out.Model != "" {
		return out.Model
	}
	return g.cfg.Model
}

func summaryPrompt(mem *memory.Memory, summaryType memory.SummaryType) string {
	var instruction string
	switch summaryType {
	case memory.SummaryTechnical:
		instruction = "Please provide a technical analysis of the following content. Focus on technical details, implementation considerations, and potential challenges."
	case memory.SummaryConceptual:
		instruction = "Please provide a conceptual explanation of the following content. Focus on the key concepts, their relationships, and their significance."
	default:
		instruction = "Please provide a comprehensive summary of the following content. Include key points, insights, and implications."
	}
	prompt := instruction + "\n\nContent:\n" + mem.Content
	if len(mem.Tags) > 0 {
		prompt += "\n\nTags:\n" + memory.FormatTagLines(mem.Tags)
	}
	return prompt
}

func tagPrompt(content string) string {
	return `Please suggest tags for the following content.
Return the tags in JSON format with the following structure:
[
    {"type": "category", "value": "tag_value", "score": 0.95},
    {"type": "concept", "value": "tag_value", "score": 0.8}
]

Content:
` + content + `

JSON Tags:`
}
