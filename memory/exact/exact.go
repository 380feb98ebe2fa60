// Package exact stores raw memory content with its embedding (Layer 1).
package exact

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/metrics"
	"github.com/becomeliminal/nim-memory/memory/vectorindex"
)

const layer = "exact"

// Payload keys.
const (
	keyMemoryID    = "memory_id"
	keyContent     = "content"
	keyContentHash = "content_hash"
	keyContentType = "content_type"
	keySource      = "source"
	keyTimestamp   = "timestamp"
	keyMetadata    = "metadata"
)

// Config holds ExactStore configuration.
type Config struct {
	// Collection is the index collection owned by this store.
	Collection string `yaml:"collection"`

	// VectorSize must match the embedder's dimensions.
	VectorSize int `yaml:"vector_size"`

	// Distance is the similarity metric.
	Distance vectorindex.Distance `yaml:"distance"`

	// DefaultLimit applies when a search or list asks for zero results.
	DefaultLimit int `yaml:"default_limit"`
}

// DefaultConfig returns the standard Layer 1 settings.
func DefaultConfig() Config {
	return Config{
		Collection:   "exact_storage",
		VectorSize:   384,
		Distance:     vectorindex.Cosine,
		DefaultLimit: 100,
	}
}

// Store implements memory.ExactStore.
type Store struct {
	index   vectorindex.Index
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

var _ memory.ExactStore = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.log = l.Named(layer) }
}

// WithMetrics sets the metrics collector.
func WithMetrics(c *metrics.Collector) Option {
	return func(s *Store) { s.metrics = c }
}

// New creates the store and ensures its collection exists.
func New(ctx context.Context, index vectorindex.Index, cfg Config, opts ...Option) (*Store, error) {
	def := DefaultConfig()
	if cfg.Collection == "" {
		cfg.Collection = def.Collection
	}
	if cfg.VectorSize == 0 {
		cfg.VectorSize = def.VectorSize
	}
	if cfg.Distance == "" {
		cfg.Distance = def.Distance
	}
	if cfg.DefaultLimit == 0 {
		cfg.DefaultLimit = def.DefaultLimit
	}

	s := &Store{index: index, cfg: cfg, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := index.EnsureCollection(ctx, cfg.Collection, cfg.VectorSize, cfg.Distance); err != nil {
		return nil, &memory.StorageError{Op: "exact.ensure_collection", Err: err}
	}
	return s, nil
}

// Store saves content and returns its new memory ID. It never deduplicates;
// call CheckDuplicate first when that is wanted.
func (s *Store) Store(ctx context.Context, content string, embedding []float32, contentType, source string, metadata map[string]any) (string, error) {
	if contentType == "" {
		contentType = memory.DefaultContentType
	}
	if source == "" {
		source = memory.DefaultSource
	}
	if metadata == nil {
		metadata = map[string]any{}
	}

	id := memory.NewID()
	payload := vectorindex.Payload{
		keyMemoryID:    id,
		keyContent:     content,
		keyContentHash: memory.ContentHash(content),
		keyContentType: contentType,
		keySource:      source,
		keyTimestamp:   s.now().UTC().Format(time.RFC3339Nano),
		keyMetadata:    metadata,
	}
	err := s.index.Upsert(ctx, s.cfg.Collection, vectorindex.Point{
		ID:      vectorindex.NewPointID(),
		Vector:  embedding,
		Payload: payload,
	})
	s.metrics.StoreOp(layer, "store", err)
	if err != nil {
		return "", &memory.StorageError{Op: "exact.store", Err: err}
	}

	s.log.Debug("stored memory", zap.String("memory_id", id), zap.String("content_type", contentType), zap.String("source", source))
	return id, nil
}

// CheckDuplicate returns the ID of a memory with identical content, or "".
func (s *Store) CheckDuplicate(ctx context.Context, content string) (string, error) {
	p, err := s.first(ctx, vectorindex.Match(keyContentHash, memory.ContentHash(content)))
	s.metrics.StoreOp(layer, "check_duplicate", err)
	if err != nil {
		return "", &memory.StorageError{Op: "exact.check_duplicate", Err: err}
	}
	if p == nil {
		return "", nil
	}
	return p.Payload.String(keyMemoryID), nil
}

// Get returns the memory with the given ID or memory.ErrNotFound.
func (s *Store) Get(ctx context.Context, memoryID string) (*memory.Memory, error) {
	p, err := s.first(ctx, vectorindex.Match(keyMemoryID, memoryID))
	s.metrics.StoreOp(layer, "get", err)
	if err != nil {
		return nil, &memory.StorageError{Op: "exact.get", Err: err}
	}
	if p == nil {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}
	m := fromPoint(*p)
	return &m, nil
}

// Delete removes the memory and reports whether it existed. The lookup and
// the delete are separate index calls and are not atomic. Tags are not touched.
func (s *Store) Delete(ctx context.Context, memoryID string) (bool, error) {
	p, err := s.first(ctx, vectorindex.Match(keyMemoryID, memoryID))
	if err != nil {
		s.metrics.StoreOp(layer, "delete", err)
		return false, &memory.StorageError{Op: "exact.delete", Err: err}
	}
	if p == nil {
		return false, nil
	}
	err = s.index.Delete(ctx, s.cfg.Collection, p.ID)
	s.metrics.StoreOp(layer, "delete", err)
	if err != nil {
		return false, &memory.StorageError{Op: "exact.delete", Err: err}
	}
	s.log.Debug("deleted memory", zap.String("memory_id", memoryID))
	return true, nil
}

// SearchSimilar returns the memories nearest to embedding, best first, with
// Score set. All filters in opts are combined with AND.
func (s *Store) SearchSimilar(ctx context.Context, embedding []float32, opts memory.SearchOptions) ([]memory.Memory, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	conds := s.conditions(opts.ContentType, opts.Source)
	if !opts.Start.IsZero() || !opts.End.IsZero() {
		conds = append(conds, vectorindex.Between(keyTimestamp, opts.Start, opts.End))
	}

	hits, err := s.index.Search(ctx, s.cfg.Collection, embedding, vectorindex.NewFilter(conds...), limit)
	s.metrics.StoreOp(layer, "search_similar", err)
	if err != nil {
		return nil, &memory.StorageError{Op: "exact.search_similar", Err: err}
	}
	out := make([]memory.Memory, 0, len(hits))
	for _, h := range hits {
		m := fromPoint(h.Point)
		m.Score = h.Score
		out = append(out, m)
	}
	return out, nil
}

// ListAll pages through memories in insertion order. The returned cursor is
// "" once the collection is exhausted.
func (s *Store) ListAll(ctx context.Context, opts memory.ListOptions) ([]memory.Memory, string, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	points, next, err := s.index.Scroll(ctx, s.cfg.Collection, vectorindex.NewFilter(s.conditions(opts.ContentType, opts.Source)...), limit, opts.Cursor)
	s.metrics.StoreOp(layer, "list_all", err)
	if err != nil {
		return nil, "", &memory.StorageError{Op: "exact.list_all", Err: err}
	}
	out := make([]memory.Memory, 0, len(points))
	for _, p := range points {
		out = append(out, fromPoint(p))
	}
	return out, next, nil
}

// Count returns the number of memories matching the optional filters.
func (s *Store) Count(ctx context.Context, contentType, source string) (int, error) {
	n, err := s.index.Count(ctx, s.cfg.Collection, vectorindex.NewFilter(s.conditions(contentType, source)...))
	s.metrics.StoreOp(layer, "count", err)
	if err != nil {
		return 0, &memory.StorageError{Op: "exact.count", Err: err}
	}
	return n, nil
}

func (s *Store) conditions(contentType, source string) []vectorindex.Condition {
	var conds []vectorindex.Condition
	if contentType != "" {
		conds = append(conds, vectorindex.Match(keyContentType, contentType))
	}
	if source != "" {
		conds = append(conds, vectorindex.Match(keySource, source))
	}
	return conds
}

// first returns the first point matching cond, or nil.
func (s *Store) first(ctx context.Context, cond vectorindex.Condition) (*vectorindex.Point, error) {
	points, _, err := s.index.Scroll(ctx, s.cfg.Collection, vectorindex.NewFilter(cond), 1, "")
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, nil
	}
	return &points[0], nil
}

func fromPoint(p vectorindex.Point) memory.Memory {
	m := memory.Memory{
		ID:          p.Payload.String(keyMemoryID),
		Content:     p.Payload.String(keyContent),
		ContentHash: p.Payload.String(keyContentHash),
		ContentType: p.Payload.String(keyContentType),
		Source:      p.Payload.String(keySource),
		Embedding:   p.Vector,
	}
	if ts, ok := p.Payload.Time(keyTimestamp); ok {
		m.Timestamp = ts
	}
	if md, ok := p.Payload[keyMetadata].(map[string]any); ok {
		m.Metadata = md
	}
	return m
}

