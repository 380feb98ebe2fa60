// Package commentary generates Layer 4 meta-commentary across groups of
// memories, pairwise relationship analyses and connection suggestions.
package commentary

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

const layer = "commentary"

const (
	systemCommentary   = "You are an expert analyst specializing in finding connections and patterns across different pieces of information. You provide insightful meta-level analysis."
	systemRelationship = "You are an expert analyst specializing in comparing and contrasting different pieces of information. You provide insightful relationship analysis."
	systemConnections  = "You are an expert at finding connections between different pieces of information. You provide insightful connection suggestions in the exact format requested."
)

// Config holds MetaCommentaryStore configuration.
type Config struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`

	// ConnectionTemperature is used for connection suggestions.
	ConnectionTemperature float64 `yaml:"connection_temperature"`

	// MaxCandidates caps how many candidates SuggestNewConnections shows
	// the generator.
	MaxCandidates int `yaml:"max_candidates"`
}

// DefaultConfig returns the standard Layer 4 settings.
func DefaultConfig() Config {
	return Config{
		Temperature:           0.7,
		MaxTokens:             1000,
		ConnectionTemperature: 0.3,
		MaxCandidates:         10,
	}
}

// Generator implements memory.Commentator on a memory.TextGenerator.
type Generator struct {
	gen     memory.TextGenerator
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

var _ memory.Commentator = (*Generator)(nil)

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
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = def.MaxCandidates
	}
	g := &Generator{gen: gen, cfg: cfg, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// GenerateMetaCommentary comments on memories as a group. Unknown types are
// treated as connections. Generation failures yield mock commentary.
func (g *Generator) GenerateMetaCommentary(ctx context.Context, memories []memory.Memory, commentaryType memory.CommentaryType) *memory.MetaCommentary {
	blocks := make([]string, 0, len(memories))
	for i := range memories {
		blocks = append(blocks, memories[i].FormatForPrompt(i+1))
	}

	out, err := g.gen.Complete(ctx, memory.CompletionRequest{
		System:      systemCommentary,
		Prompt:      instruction(commentaryType) + "\n\n" + strings.Join(blocks, "\n\n"),
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		g.log.Warn("generating mock meta commentary", zap.String("commentary_type", string(commentaryType)), zap.Int("memories", len(memories)), zap.Error(err))
		g.metrics.Fallback(layer, "mock")
		return g.mockCommentary(memories, commentaryType)
	}

	g.log.Info("generated meta commentary", zap.String("commentary_type", string(commentaryType)), zap.Int("memories", len(memories)))
	return &memory.MetaCommentary{
		MemoryIDs: memoryIDs(memories),
		Type:      commentaryType,
		Text:      strings.TrimSpace(out.Text),
		Model:     g.model(out),
		Timestamp: g.now().UTC(),
	}
}

// GenerateMultipleCommentaries produces one commentary of each type.
func (g *Generator) GenerateMultipleCommentaries(ctx context.Context, memories []memory.Memory) map[memory.CommentaryType]*memory.MetaCommentary {
	out := make(map[memory.CommentaryType]*memory.MetaCommentary, len(memory.CommentaryTypes))
	for _, t := range memory.CommentaryTypes {
		if mc := g.GenerateMetaCommentary(ctx, memories, t); mc != nil {
			out[t] = mc
		}
	}
	return out
}

// AnalyzeRelationship describes how a and b relate, or returns nil when
// generation fails.
func (g *Generator) AnalyzeRelationship(ctx context.Context, a, b *memory.Memory) *memory.Relationship {
	prompt := fmt.Sprintf(`Please analyze the relationship between these two pieces of information:

Memory 1:
%s

Memory 2:
%s

Analyze how they relate to each other, including:
1. Similarities and differences
2. How they complement each other
3. Any contradictions or tensions
4. How understanding one enhances understanding of the other
`, a.Content, b.Content)

	out, err := g.gen.Complete(ctx, memory.CompletionRequest{
		System:      systemRelationship,
		Prompt:      prompt,
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		g.log.Warn("relationship analysis unavailable", zap.String("memory_id1", a.ID), zap.String("memory_id2", b.ID), zap.Error(err))
		g.metrics.Fallback(layer, "omitted")
		return nil
	}
	return &memory.Relationship{
		MemoryID1: a.ID,
		MemoryID2: b.ID,
		Text:      strings.TrimSpace(out.Text),
		Model:     g.model(out),
		Timestamp: g.now().UTC(),
	}
}

// SuggestNewConnections asks which candidates connect to target. The target
// itself is excluded and only the first MaxCandidates candidates are shown.
// maxConnections is passed to the generator as a request, not enforced.
func (g *Generator) SuggestNewConnections(ctx context.Context, target *memory.Memory, candidates []memory.Memory, maxConnections int) []memory.Connection {
	others := make([]memory.Memory, 0, len(candidates))
	for _, c := range candidates {
		if c.ID != target.ID {
			others = append(others, c)
		}
	}
	if len(others) > g.cfg.MaxCandidates {
		others = others[:g.cfg.MaxCandidates]
	}

	descriptions := make([]string, 0, len(others))
	for i, m := range others {
		descriptions = append(descriptions, fmt.Sprintf("Memory %d (ID: %s):\n%s...", i+1, m.ID, memory.Prefix(m.Content, 200)))
	}

	out, err := g.gen.Complete(ctx, memory.CompletionRequest{
		System:      systemConnections,
		Prompt:      connectionPrompt(target.Content, strings.Join(descriptions, "\n\n"), maxConnections),
		Model:       g.cfg.Model,
		Temperature: g.cfg.ConnectionTemperature,
		MaxTokens:   g.cfg.MaxTokens,
	})
	if err != nil {
		g.log.Warn("connection suggestions unavailable", zap.String("memory_id", target.ID), zap.Error(err))
		g.metrics.Fallback(layer, "omitted")
		return []memory.Connection{}
	}

	var parsed []struct {
		MemoryID    string  `json:"memory_id"`
		Explanation string  `json:"explanation"`
		Score       float64 `json:"score"`
	}
	if !memory.ParseJSONArray(out.Text, &parsed) {
		g.log.Warn("failed to parse connection suggestions", zap.String("memory_id", target.ID))
		return []memory.Connection{}
	}
	conns := make([]memory.Connection, 0, len(parsed))
	for _, p := range parsed {
		conns = append(conns, memory.Connection{MemoryID: p.MemoryID, Explanation: p.Explanation, Score: p.Score})
	}
	g.log.Info("suggested connections", zap.String("memory_id", target.ID), zap.Int("count", len(conns)))
	return conns
}

func (g *Generator) mockCommentary(memories []memory.Memory, commentaryType memory.CommentaryType) *memory.MetaCommentary {
	n := len(memories)
	var text string
	switch commentaryType {
	case memory.CommentaryPatterns:
		text = fmt.Sprintf("Pattern Analysis (Mock): These %d memories show recurring themes related to their content domains.", n)
	case memory.CommentaryImplications:
		text = fmt.Sprintf("Implications Analysis (Mock): The %d memories suggest potential applications in their respective domains.", n)
	default:
		text = fmt.Sprintf("Connections Analysis (Mock): The %d memories are connected through their shared concepts and technologies.", n)
	}
	return &memory.MetaCommentary{
		MemoryIDs: memoryIDs(memories),
		Type:      commentaryType,
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

// memoryIDs returns the non-empty IDs of memories in order.
func memoryIDs(memories []memory.Memory) []string {
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		if m.ID != "" {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

func instruction(commentaryType memory.CommentaryType) string {
	switch commentaryType {
	case memory.CommentaryPatterns:
		return "Please analyze the following memories and identify patterns, trends, and recurring themes across them."
	case memory.CommentaryImplications:
		return "Please analyze the following memories and discuss their broader implications, potential applications, and future directions."
	default:
		return "Please analyze the following memories and identify connections, relationships, and how they complement or contradict each other."
	}
}

func connectionPrompt(target, others string, maxConnections int) string {
	return fmt.Sprintf(`I have a target memory and several other memories. Please suggest up to %d other memories that might have meaningful connections with the target memory.

Target Memory:
%s

Other Memories:
%s

For each suggested connection, provide:
1. The ID of the connected memory
2. A brief explanation of why they are connected
3. A score from 0.0 to 1.0 indicating the strength of the connection

Format your response as a JSON array:
[
  {"memory_id": "memory_123", "explanation": "These are connected because...", "score": 0.85}
]
`, maxConnections, target, others)
}
