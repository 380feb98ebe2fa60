package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// Manager ties the layers together. It owns no storage itself: Layer 1 and 2
// are required, while the embedder, Layer 3, Layer 4 and the commentary
// archive are optional and reported as ErrNoEmbedder or
// ErrGenerationUnavailable when a call needs them.
//
// Deleting through the Manager removes tags before the memory. The stores
// themselves never cascade.
type Manager struct {
	exact       ExactStore
	tags        TagStore
	embedder    Embedder
	summarizer  Summarizer
	commentator Commentator
	archive     CommentaryArchive
	config      *Config
	log         *zap.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithEmbedder sets the embedder used for content and queries without a
// precomputed vector.
func WithEmbedder(e Embedder) ManagerOption {
	return func(m *Manager) { m.embedder = e }
}

// WithSummarizer enables Layer 3.
func WithSummarizer(s Summarizer) ManagerOption {
	return func(m *Manager) { m.summarizer = s }
}

// WithCommentator enables Layer 4.
func WithCommentator(c Commentator) ManagerOption {
	return func(m *Manager) { m.commentator = c }
}

// WithArchive persists generated meta-commentaries.
func WithArchive(a CommentaryArchive) ManagerOption {
	return func(m *Manager) { m.archive = a }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) ManagerOption {
	return func(m *Manager) { m.log = l.Named("manager") }
}

// NewManager creates a Manager over the two storage layers.
func NewManager(exact ExactStore, tags TagStore, config *Config, opts ...ManagerOption) *Manager {
	if config == nil {
		config = DefaultConfig
	}
	m := &Manager{
		exact:  exact,
		tags:   tags,
		config: config,
		log:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IngestRequest describes new content.
type IngestRequest struct {
	Content string

	// Embedding is used as is when set; otherwise Content is embedded.
	Embedding []float32

	ContentType string
	Source      string
	Metadata    map[string]any
	Tags        []Tag

	// Dedup returns the existing memory when identical content is stored.
	Dedup bool

	// SuggestTags adds generated tag suggestions to Tags.
	SuggestTags bool

	// Summarize generates one summary of each type.
	Summarize bool

	// Related is the number of nearest neighbours to include in a
	// connections commentary about the new memory. Zero skips it.
	Related int
}

// IngestResult reports what Ingest produced.
type IngestResult struct {
	Memory     *Memory
	Duplicate  bool
	Summaries  map[SummaryType]*Summary
	Commentary *MetaCommentary
}

// Ingest stores content and runs the requested enrichment. Storage failures
// abort; generation steps degrade as their layers define.
func (m *Manager) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	if req.Dedup {
		id, err := m.exact.CheckDuplicate(ctx, req.Content)
		if err != nil {
			return nil, err
		}
		if id != "" {
			mem, err := m.Get(ctx, id)
			if err != nil {
				return nil, err
			}
			m.log.Info("duplicate content", zap.String("memory_id", id))
			return &IngestResult{Memory: mem, Duplicate: true}, nil
		}
	}

	embedding := req.Embedding
	if embedding == nil {
		var err error
		if embedding, err = m.embed(ctx, req.Content); err != nil {
			return nil, err
		}
	}

	id, err := m.exact.Store(ctx, req.Content, embedding, req.ContentType, req.Source, req.Metadata)
	if err != nil {
		return nil, err
	}

	tags := req.Tags
	if req.SuggestTags && m.summarizer != nil {
		tags = append(append([]Tag(nil), tags...), m.summarizer.SuggestTags(ctx, req.Content)...)
	}
	if len(tags) > 0 {
		if _, err := m.tags.AddTags(ctx, id, tags, embedding); err != nil {
			return nil, fmt.Errorf("tag memory %s: %w", id, err)
		}
	}

	mem, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &IngestResult{Memory: mem}
	m.log.Info("ingested memory", zap.String("memory_id", id), zap.Int("tags", len(mem.Tags)))

	if req.Summarize && m.summarizer != nil {
		res.Summaries = m.summarizer.GenerateMultipleSummaries(ctx, mem)
	}

	if req.Related > 0 && m.commentator != nil {
		neighbours, err := m.SimilarTo(ctx, embedding, SearchOptions{Limit: req.Related + 1})
		if err != nil {
			return nil, err
		}
		group := []Memory{*mem}
		for _, n := range neighbours {
			if n.ID != id && len(group) <= req.Related {
				group = append(group, n)
			}
		}
		if len(group) > 1 {
			res.Commentary = m.commentator.GenerateMetaCommentary(ctx, group, CommentaryConnections)
			m.save(ctx, res.Commentary)
		}
	}
	return res, nil
}

// Get returns a memory with its tags.
func (m *Manager) Get(ctx context.Context, id string) (*Memory, error) {
	mem, err := m.exact.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if mem.Tags, err = m.tags.GetTags(ctx, id); err != nil {
		return nil, err
	}
	return mem, nil
}

// Delete removes a memory's tags and then the memory, reporting whether the
// memory existed.
func (m *Manager) Delete(ctx context.Context, id string) (bool, error) {
	if _, err := m.tags.DeleteTags(ctx, id); err != nil {
		return false, err
	}
	return m.exact.Delete(ctx, id)
}

// Similar embeds query and returns the nearest memories with their tags.
func (m *Manager) Similar(ctx context.Context, query string, opts SearchOptions) ([]Memory, error) {
	embedding, err := m.embed(ctx, query)
	if err != nil {
		return nil, err
	}
	return m.SimilarTo(ctx, embedding, opts)
}

// SimilarTo returns the memories nearest to embedding with their tags.
func (m *Manager) SimilarTo(ctx context.Context, embedding []float32, opts SearchOptions) ([]Memory, error) {
	mems, err := m.exact.SearchSimilar(ctx, embedding, opts)
	if err != nil {
		return nil, err
	}
	for i := range mems {
		if mems[i].Tags, err = m.tags.GetTags(ctx, mems[i].ID); err != nil {
			return nil, err
		}
	}
	return mems, nil
}

// ByTags returns the IDs of memories carrying all (matchAll) or any of tags.
func (m *Manager) ByTags(ctx context.Context, tags []Tag, matchAll bool) ([]string, error) {
	if matchAll {
		return m.tags.MemoriesWithAllTags(ctx, tags)
	}
	return m.tags.MemoriesWithAnyTag(ctx, tags)
}

// Tags returns the tags of one memory.
func (m *Manager) Tags(ctx context.Context, id string) ([]Tag, error) {
	return m.tags.GetTags(ctx, id)
}

// AddTags attaches tags to an existing memory. The tag points reuse the
// memory's embedding.
func (m *Manager) AddTags(ctx context.Context, id string, tags []Tag) (bool, error) {
	mem, err := m.exact.Get(ctx, id)
	if err != nil {
		return false, err
	}
	return m.tags.AddTags(ctx, id, tags, mem.Embedding)
}

// List pages through memories in insertion order.
func (m *Manager) List(ctx context.Context, opts ListOptions) ([]Memory, string, error) {
	return m.exact.ListAll(ctx, opts)
}

// Count counts memories matching the optional filters.
func (m *Manager) Count(ctx context.Context, contentType, source string) (int, error) {
	return m.exact.Count(ctx, contentType, source)
}

// Summaries generates summaries of the given types for a stored memory, or of
// every type when none are given.
func (m *Manager) Summaries(ctx context.Context, id string, types ...SummaryType) (map[SummaryType]*Summary, error) {
	if m.summarizer == nil {
		return nil, ErrGenerationUnavailable
	}
	mem, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		return m.summarizer.GenerateMultipleSummaries(ctx, mem), nil
	}
	out := make(map[SummaryType]*Summary, len(types))
	for _, t := range types {
		if s := m.summarizer.GenerateSummary(ctx, mem, t); s != nil {
			out[t] = s
		}
	}
	return out, nil
}

// Analyze returns a free-form analysis of arbitrary content, or nil when
// generation is unavailable.
func (m *Manager) Analyze(ctx context.Context, content, background string) (*Analysis, error) {
	if m.summarizer == nil {
		return nil, ErrGenerationUnavailable
	}
	return m.summarizer.AnalyzeContent(ctx, content, background), nil
}

// Commentary generates meta-commentary over stored memories, one per type in
// order, or one of each type when none are given. Results are archived when
// an archive is configured.
func (m *Manager) Commentary(ctx context.Context, ids []string, types ...CommentaryType) ([]*MetaCommentary, error) {
	if m.commentator == nil {
		return nil, ErrGenerationUnavailable
	}
	mems, err := m.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(types) == 0 {
		types = CommentaryTypes
	}
	var out []*MetaCommentary
	for _, t := range types {
		mc := m.commentator.GenerateMetaCommentary(ctx, mems, t)
		if mc == nil {
			continue
		}
		m.save(ctx, mc)
		out = append(out, mc)
	}
	return out, nil
}

// Relationship analyses how two stored memories relate. It returns nil
// without error when generation fails.
func (m *Manager) Relationship(ctx context.Context, id1, id2 string) (*Relationship, error) {
	if m.commentator == nil {
		return nil, ErrGenerationUnavailable
	}
	mems, err := m.load(ctx, []string{id1, id2})
	if err != nil {
		return nil, err
	}
	return m.commentator.AnalyzeRelationship(ctx, &mems[0], &mems[1]), nil
}

// SuggestConnections proposes links from a stored memory to its nearest
// neighbours.
func (m *Manager) SuggestConnections(ctx context.Context, id string, maxConnections int) ([]Connection, error) {
	if m.commentator == nil {
		return nil, ErrGenerationUnavailable
	}
	if maxConnections <= 0 {
		maxConnections = m.config.MaxConnections
	}
	target, err := m.exact.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	candidates, err := m.exact.SearchSimilar(ctx, target.Embedding, SearchOptions{Limit: m.config.ConnectionCandidates + 1})
	if err != nil {
		return nil, err
	}
	return m.commentator.SuggestNewConnections(ctx, target, candidates, maxConnections), nil
}

// TagCatalog groups every distinct tag value by type.
func (m *Manager) TagCatalog(ctx context.Context) (map[string][]string, error) {
	all, err := m.tags.AllTags(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, t := range all {
		out[t.Type] = append(out[t.Type], t.Value)
	}
	return out, nil
}

// MetaCommentaries returns archived commentaries that reference id.
func (m *Manager) MetaCommentaries(ctx context.Context, id string) ([]MetaCommentary, error) {
	if m.archive == nil {
		return []MetaCommentary{}, nil
	}
	return m.archive.MetaCommentariesFor(ctx, id)
}

// Recall finds memories relevant to query and renders them as a prompt
// section. It returns "" when nothing scores above MinSimilarity.
func (m *Manager) Recall(ctx context.Context, query string) (string, error) {
	mems, err := m.Similar(ctx, query, SearchOptions{Limit: m.config.RecallLimit})
	if err != nil {
		return "", fmt.Errorf("recall: %w", err)
	}
	relevant := mems[:0]
	for _, mem := range mems {
		if mem.Score >= m.config.MinSimilarity {
			relevant = append(relevant, mem)
		}
	}
	m.log.Debug("recalled memories", zap.String("query", Truncate(query, 50)), zap.Int("count", len(relevant)))
	return m.formatMemories(relevant), nil
}

// formatMemories splits the recall budget evenly across memories.
func (m *Manager) formatMemories(memories []Memory) string {
	if len(memories) == 0 {
		return ""
	}

	perMemory := m.config.RecallBudget / len(memories)
	if perMemory < 100 {
		perMemory = 100
	}

	parts := []string{"=== RELEVANT MEMORIES ===\n"}
	for i, mem := range memories {
		line := fmt.Sprintf("%d. %s", i+1, Truncate(mem.Content, perMemory))
		if len(mem.Tags) > 0 {
			line += " [" + FormatTagList(mem.Tags) + "]"
		}
		parts = append(parts, line+"\n")
	}
	return strings.Join(parts, "\n")
}

func (m *Manager) embed(ctx context.Context, text string) ([]float32, error) {
	if m.embedder == nil {
		return nil, ErrNoEmbedder
	}
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vec, nil
}

func (m *Manager) load(ctx context.Context, ids []string) ([]Memory, error) {
	mems := make([]Memory, 0, len(ids))
	for _, id := range ids {
		mem, err := m.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		mems = append(mems, *mem)
	}
	return mems, nil
}

// save archives mc. Archive failures are logged, not returned.
func (m *Manager) save(ctx context.Context, mc *MetaCommentary) {
	if m.archive == nil || mc == nil {
		return
	}
	if err := m.archive.SaveMetaCommentary(ctx, mc); err != nil {
		m.log.Warn("failed to archive meta commentary", zap.Error(err))
	}
}

// IsNotFound reports whether err means a memory does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Config holds Manager configuration.
type Config struct {
	// MinSimilarity is the minimum score for Recall [0.0-1.0].
	// Note: small models (all-MiniLM-L6-v2) score around 0.35 for similar text.
	MinSimilarity float64 `yaml:"min_similarity" validate:"gte=0,lte=1"`

	// RecallLimit is how many neighbours Recall considers.
	RecallLimit int `yaml:"recall_limit" validate:"gte=1"`

	// RecallBudget is the rough character budget of Recall's output.
	RecallBudget int `yaml:"recall_budget" validate:"gte=100"`

	// ConnectionCandidates is how many neighbours SuggestConnections offers.
	ConnectionCandidates int `yaml:"connection_candidates" validate:"gte=1"`

	// MaxConnections is the default number of connections to ask for.
	MaxConnections int `yaml:"max_connections" validate:"gte=1"`
}

// DefaultConfig holds the standard Manager settings.
var DefaultConfig = &Config{
	MinSimilarity:        0.3,
	RecallLimit:          10,
	RecallBudget:         2000,
	ConnectionCandidates: 10,
	MaxConnections:       3,
}
