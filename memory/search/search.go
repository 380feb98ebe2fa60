// Package search ranks memories by vector similarity, tags, or a weighted
// blend of both. It runs over a Backend: the layered stores when a vector
// index is available, or the local filesystem store otherwise.
package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/metrics"
)

var tracer = otel.Tracer("nim-memory/search")

// ErrInvalidSearchType is returned for an unknown Request.Type.
var ErrInvalidSearchType = errors.New("invalid search type")

// Type selects a search strategy.
type Type string

const (
	TypeAuto   Type = "auto"
	TypeVector Type = "vector"
	TypeTag    Type = "tag"
	TypeDual   Type = "dual"
)

// Defaults.
const (
	DefaultLimit  = 10
	DefaultWeight = 0.5

	// dualFetch is how many results each half of a dual search ranks.
	dualFetch = 100
)

// Request is a search over any strategy.
type Request struct {
	Query  string
	Type   Type // empty means auto
	Tags   []memory.Tag
	Limit  int
	Offset int

	// Weights apply to dual searches. Both zero selects 0.5/0.5.
	VectorWeight float64
	TagWeight    float64
}

// Result is one ranked memory.
type Result struct {
	MemoryID   string         `json:"memory_id"`
	Content    string         `json:"content"`
	Metadata   map[string]any `json:"metadata"`
	Tags       []memory.Tag   `json:"tags,omitempty"`
	AIAnalysis map[string]any `json:"ai_analysis,omitempty"`
	Score      float64        `json:"score"`

	// Set by dual searches only. VectorScore and TagScore are the unweighted
	// scores of each half; CombinedScore is their weighted sum.
	VectorScore   float64 `json:"vector_score,omitempty"`
	TagScore      float64 `json:"tag_score,omitempty"`
	CombinedScore float64 `json:"combined_score,omitempty"`
}

// ResultSet is one page of results. Total counts every ranked result before
// pagination.
type ResultSet struct {
	SearchType   Type         `json:"search_type"`
	Query        string       `json:"query,omitempty"`
	Tags         []memory.Tag `json:"tags,omitempty"`
	Results      []Result     `json:"results"`
	Total        int          `json:"total"`
	Limit        int          `json:"limit"`
	Offset       int          `json:"offset"`
	VectorWeight float64      `json:"vector_weight,omitempty"`
	TagWeight    float64      `json:"tag_weight,omitempty"`
}

// Record is a single memory with everything known about it.
type Record struct {
	MemoryID         string                  `json:"memory_id"`
	Content          string                  `json:"content"`
	Metadata         map[string]any          `json:"metadata"`
	Tags             []memory.Tag            `json:"tags"`
	AIAnalysis       map[string]any          `json:"ai_analysis,omitempty"`
	MetaCommentaries []memory.MetaCommentary `json:"meta_analyses"`
}

// Backend supplies ranked candidates. n is how many results the caller needs;
// backends may return more, and every returned result counts towards Total.
type Backend interface {
	Vector(ctx context.Context, query string, n int) ([]Result, error)

	// Tagged returns memories carrying every tag in tags, optionally
	// narrowed by a case-insensitive substring match on query.
	Tagged(ctx context.Context, tags []memory.Tag, query string, n int) ([]Result, error)

	Get(ctx context.Context, memoryID string) (*Record, error)
	AllTags(ctx context.Context) (map[string][]string, error)
}

// Searcher runs searches against a Backend.
type Searcher struct {
	backend Backend
	log     *zap.Logger
	metrics *metrics.Collector
}

// Option configures a Searcher.
type Option func(*Searcher)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Searcher) { s.log = l.Named("search") }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Searcher) { s.metrics = c }
}

// New creates a Searcher.
func New(backend Backend, opts ...Option) *Searcher {
	s := &Searcher{backend: backend, log: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Search dispatches on req.Type. Auto resolves to a tag search when tags are
// given and a vector search otherwise.
func (s *Searcher) Search(ctx context.Context, req Request) (*ResultSet, error) {
	switch req.Type {
	case TypeAuto, "":
		if len(req.Tags) > 0 {
			return s.TagSearch(ctx, req.Tags, req.Query, req.Limit, req.Offset)
		}
		return s.VectorSearch(ctx, req.Query, req.Limit, req.Offset)
	case TypeVector:
		return s.VectorSearch(ctx, req.Query, req.Limit, req.Offset)
	case TypeTag:
		return s.TagSearch(ctx, req.Tags, req.Query, req.Limit, req.Offset)
	case TypeDual:
		vw, tw := req.VectorWeight, req.TagWeight
		if vw == 0 && tw == 0 {
			vw, tw = DefaultWeight, DefaultWeight
		}
		return s.DualSearch(ctx, req.Query, req.Tags, vw, tw, req.Limit, req.Offset)
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidSearchType, req.Type)
	}
}

// VectorSearch ranks memories by similarity to query.
func (s *Searcher) VectorSearch(ctx context.Context, query string, limit, offset int) (rs *ResultSet, err error) {
	limit, offset = normalize(limit, offset)
	ctx, span := s.start(ctx, "search.Vector", TypeVector, limit, offset)
	started := time.Now()
	defer func() { s.finish(span, TypeVector, started, err) }()

	results, err := s.backend.Vector(ctx, query, offset+limit)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return &ResultSet{
		SearchType: TypeVector,
		Query:      query,
		Results:    page(results, offset, limit),
		Total:      len(results),
		Limit:      limit,
		Offset:     offset,
	}, nil
}

// TagSearch returns memories carrying all of tags, optionally narrowed by
// query. Tags without a type or value are ignored; with none left the result
// is empty.
func (s *Searcher) TagSearch(ctx context.Context, tags []memory.Tag, query string, limit, offset int) (rs *ResultSet, err error) {
	limit, offset = normalize(limit, offset)
	ctx, span := s.start(ctx, "search.Tag", TypeTag, limit, offset)
	started := time.Now()
	defer func() { s.finish(span, TypeTag, started, err) }()

	rs = &ResultSet{SearchType: TypeTag, Query: query, Tags: tags, Results: []Result{}, Limit: limit, Offset: offset}
	usable := validTags(tags)
	if len(usable) == 0 {
		return rs, nil
	}
	results, err := s.backend.Tagged(ctx, usable, query, offset+limit)
	if err != nil {
		return nil, fmt.Errorf("tag search: %w", err)
	}
	rs.Results = page(results, offset, limit)
	rs.Total = len(results)
	return rs, nil
}

// DualSearch blends a vector search for query with a tag search for tags.
// Each half ranks up to 100 results; a memory found by both gets
// VectorScore*vectorWeight + TagScore*tagWeight. Ties keep vector results
// first, then tag-only results, each in backend order.
func (s *Searcher) DualSearch(ctx context.Context, query string, tags []memory.Tag, vectorWeight, tagWeight float64, limit, offset int) (rs *ResultSet, err error) {
	limit, offset = normalize(limit, offset)
	ctx, span := s.start(ctx, "search.Dual", TypeDual, limit, offset)
	span.SetAttributes(attribute.Float64("vector_weight", vectorWeight), attribute.Float64("tag_weight", tagWeight))
	started := time.Now()
	defer func() { s.finish(span, TypeDual, started, err) }()

	vector, err := s.backend.Vector(ctx, query, dualFetch)
	if err != nil {
		return nil, fmt.Errorf("dual search: %w", err)
	}
	if len(vector) > dualFetch {
		vector = vector[:dualFetch]
	}

	var tagged []Result
	if usable := validTags(tags); len(usable) > 0 {
		if tagged, err = s.backend.Tagged(ctx, usable, "", dualFetch); err != nil {
			return nil, fmt.Errorf("dual search: %w", err)
		}
		if len(tagged) > dualFetch {
			tagged = tagged[:dualFetch]
		}
	}

	merged := Merge(vector, tagged, vectorWeight, tagWeight)
	return &ResultSet{
		SearchType:   TypeDual,
		Query:        query,
		Tags:         tags,
		Results:      page(merged, offset, limit),
		Total:        len(merged),
		Limit:        limit,
		Offset:       offset,
		VectorWeight: vectorWeight,
		TagWeight:    tagWeight,
	}, nil
}

// Merge combines vector and tag results by memory ID and sorts them by
// combined score, highest first, keeping input order among equal scores.
func Merge(vector, tagged []Result, vectorWeight, tagWeight float64) []Result {
	merged := make([]Result, 0, len(vector)+len(tagged))
	pos := make(map[string]int, len(vector)+len(tagged))
	tagSeen := make(map[string]bool, len(tagged))

	for _, r := range vector {
		if _, dup := pos[r.MemoryID]; dup {
			continue
		}
		r.VectorScore = r.Score
		r.TagScore = 0
		r.CombinedScore = r.Score * vectorWeight
		pos[r.MemoryID] = len(merged)
		merged = append(merged, r)
	}
	for _, r := range tagged {
		if tagSeen[r.MemoryID] {
			continue
		}
		tagSeen[r.MemoryID] = true
		if i, ok := pos[r.MemoryID]; ok {
			merged[i].TagScore = r.Score
			merged[i].CombinedScore += r.Score * tagWeight
			continue
		}
		r.VectorScore = 0
		r.TagScore = r.Score
		r.CombinedScore = r.Score * tagWeight
		pos[r.MemoryID] = len(merged)
		merged = append(merged, r)
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CombinedScore > merged[j].CombinedScore
	})
	for i := range merged {
		merged[i].Score = merged[i].CombinedScore
	}
	return merged
}

// GetMemory returns one memory or memory.ErrNotFound.
func (s *Searcher) GetMemory(ctx context.Context, memoryID string) (*Record, error) {
	ctx, span := tracer.Start(ctx, "search.GetMemory", trace.WithAttributes(attribute.String("memory.id", memoryID)))
	defer span.End()

	rec, err := s.backend.Get(ctx, memoryID)
	if err != nil {
		if !errors.Is(err, memory.ErrNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		return nil, err
	}
	return rec, nil
}

// AllTags groups every distinct tag value by type.
func (s *Searcher) AllTags(ctx context.Context) (map[string][]string, error) {
	ctx, span := tracer.Start(ctx, "search.AllTags")
	defer span.End()

	tags, err := s.backend.AllTags(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return tags, nil
}

func (s *Searcher) start(ctx context.Context, name string, t Type, limit, offset int) (context.Context, trace.Span) {
	return tracer.Start(ctx, name, trace.WithAttributes(
		attribute.String("search.type", string(t)),
		attribute.Int("search.limit", limit),
		attribute.Int("search.offset", offset),
	))
}

func (s *Searcher) finish(span trace.Span, t Type, started time.Time, err error) {
	defer span.End()
	s.metrics.Search(string(t), started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.log.Error("search failed", zap.String("search_type", string(t)), zap.Error(err))
		return
	}
	s.log.Debug("search complete", zap.String("search_type", string(t)), zap.Duration("took", time.Since(started)))
}

func normalize(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// page slices results[offset:offset+limit], clamped to the slice.
func page(results []Result, offset, limit int) []Result {
	if offset >= len(results) {
		return []Result{}
	}
	end := offset + limit
	if end > len(results) {
		end = len(results)
	}
	return results[offset:end]
}

func validTags(tags []memory.Tag) []memory.Tag {
	out := make([]memory.Tag, 0, len(tags))
	for _, t := range tags {
		if t.Valid() {
			out = append(out, t)
		}
	}
	return out
}
