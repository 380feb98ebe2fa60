// Package tags stores typed tags keyed by memory ID (Layer 2).
//
// Every tag is its own point in the tag collection. Enumeration operations
// (AllTagTypes, TagValues, AllTags) scan the whole collection and cost
// O(total tags).
package tags

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/metrics"
	"github.com/becomeliminal/nim-memory/memory/vectorindex"
)

const layer = "tags"

// Payload keys.
const (
	keyMemoryID  = "memory_id"
	keyTagID     = "tag_id"
	keyTagType   = "tag_type"
	keyTagValue  = "tag_value"
	keyTagScore  = "tag_score"
	keyTimestamp = "timestamp"
)

var reserved = map[string]bool{
	keyMemoryID: true, keyTagID: true, keyTagType: true,
	keyTagValue: true, keyTagScore: true, keyTimestamp: true,
}

// Config holds TagStore configuration.
type Config struct {
	Collection string               `yaml:"collection"`
	VectorSize int                  `yaml:"vector_size"`
	Distance   vectorindex.Distance `yaml:"distance"`

	// MaxTagsPerMemory caps GetTags. Tags beyond the cap are stored but not
	// returned by GetTags.
	MaxTagsPerMemory int `yaml:"max_tags_per_memory"`

	// ScanBatch is the page size of full-collection scans.
	ScanBatch int `yaml:"scan_batch"`
}

// DefaultConfig returns the standard Layer 2 settings.
func DefaultConfig() Config {
	return Config{
		Collection:       "memory_tags",
		VectorSize:       384,
		Distance:         vectorindex.Cosine,
		MaxTagsPerMemory: 100,
		ScanBatch:        1000,
	}
}

// Store implements memory.TagStore.
type Store struct {
	index   vectorindex.Index
	cfg     Config
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
}

var _ memory.TagStore = (*Store)(nil)

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
	if cfg.MaxTagsPerMemory == 0 {
		cfg.MaxTagsPerMemory = def.MaxTagsPerMemory
	}
	if cfg.ScanBatch == 0 {
		cfg.ScanBatch = def.ScanBatch
	}

	s := &Store{index: index, cfg: cfg, log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := index.EnsureCollection(ctx, cfg.Collection, cfg.VectorSize, cfg.Distance); err != nil {
		return nil, &memory.StorageError{Op: "tags.ensure_collection", Err: err}
	}
	return s, nil
}

// AddTags attaches tags to memoryID. It returns false when tags is empty.
// A nil embedding stores the zero vector. Tag IDs continue the ordinal
// sequence after the memory's existing tags. Empty types become
// memory.DefaultTagType and scores are clamped to [0, 1]. Zero is a valid
// score; construct tags with memory.NewTag to get the default.
func (s *Store) AddTags(ctx context.Context, memoryID string, tags []memory.Tag, embedding []float32) (bool, error) {
	if len(tags) == 0 {
		return false, nil
	}
	if embedding == nil {
		embedding = make([]float32, s.cfg.VectorSize)
	}

	existing, err := s.index.Count(ctx, s.cfg.Collection, byMemory(memoryID))
	if err != nil {
		s.metrics.StoreOp(layer, "add", err)
		return false, &memory.StorageError{Op: "tags.add", Err: err}
	}

	ts := s.now().UTC().Format(time.RFC3339Nano)
	points := make([]vectorindex.Point, 0, len(tags))
	for i, tag := range tags {
		payload := vectorindex.Payload{}
		for k, v := range tag.Extra {
			if !reserved[k] {
				payload[k] = v
			}
		}
		tagType := tag.Type
		if tagType == "" {
			tagType = memory.DefaultTagType
		}
		payload[keyMemoryID] = memoryID
		payload[keyTagID] = fmt.Sprintf("%s_tag_%d", memoryID, existing+i)
		payload[keyTagType] = tagType
		payload[keyTagValue] = tag.Value
		payload[keyTagScore] = clamp(tag.Score)
		payload[keyTimestamp] = ts

		points = append(points, vectorindex.Point{
			ID:      vectorindex.NewPointID(),
			Vector:  embedding,
			Payload: payload,
		})
	}

	err = s.index.Upsert(ctx, s.cfg.Collection, points...)
	s.metrics.StoreOp(layer, "add", err)
	if err != nil {
		return false, &memory.StorageError{Op: "tags.add", Err: err}
	}
	s.log.Debug("added tags", zap.String("memory_id", memoryID), zap.Int("count", len(points)))
	return true, nil
}

// GetTags returns the tags of memoryID in insertion order, up to
// Config.MaxTagsPerMemory.
func (s *Store) GetTags(ctx context.Context, memoryID string) ([]memory.Tag, error) {
	points, _, err := s.index.Scroll(ctx, s.cfg.Collection, byMemory(memoryID), s.cfg.MaxTagsPerMemory, "")
	s.metrics.StoreOp(layer, "get", err)
	if err != nil {
		return nil, &memory.StorageError{Op: "tags.get", Err: err}
	}
	out := make([]memory.Tag, 0, len(points))
	for _, p := range points {
		out = append(out, fromPayload(p.Payload))
	}
	return out, nil
}

// SearchByTag returns the IDs of memories carrying a tag that matches the
// given type and/or value, in first-seen order. With neither set it returns
// an empty list.
func (s *Store) SearchByTag(ctx context.Context, tagType, tagValue string) ([]string, error) {
	var conds []vectorindex.Condition
	if tagType != "" {
		conds = append(conds, vectorindex.Match(keyTagType, tagType))
	}
	if tagValue != "" {
		conds = append(conds, vectorindex.Match(keyTagValue, tagValue))
	}
	if len(conds) == 0 {
		return []string{}, nil
	}

	ids := []string{}
	seen := make(map[string]bool)
	err := s.scan(ctx, vectorindex.NewFilter(conds...), func(p vectorindex.Payload) {
		id := p.String(keyMemoryID)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	})
	s.metrics.StoreOp(layer, "search", err)
	if err != nil {
		return nil, &memory.StorageError{Op: "tags.search", Err: err}
	}
	return ids, nil
}

// MemoriesWithAllTags returns the memories carrying every usable tag in
// tags. Tags missing a type or value are ignored; if none remain the result
// is empty.
func (s *Store) MemoriesWithAllTags(ctx context.Context, tags []memory.Tag) ([]string, error) {
	var result []string
	started := false
	for _, tag := range tags {
		if !tag.Valid() {
			continue
		}
		ids, err := s.SearchByTag(ctx, tag.Type, tag.Value)
		if err != nil {
			return nil, err
		}
		if !started {
			result, started = ids, true
			continue
		}
		result = intersect(result, ids)
		if len(result) == 0 {
			break
		}
	}
	if result == nil {
		result = []string{}
	}
	return result, nil
}

// MemoriesWithAnyTag returns the memories carrying at least one usable tag
// in tags, in first-seen order.
func (s *Store) MemoriesWithAnyTag(ctx context.Context, tags []memory.Tag) ([]string, error) {
	result := []string{}
	seen := make(map[string]bool)
	for _, tag := range tags {
		if !tag.Valid() {
			continue
		}
		ids, err := s.SearchByTag(ctx, tag.Type, tag.Value)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				result = append(result, id)
			}
		}
	}
	return result, nil
}

// DeleteTags removes every tag of memoryID. It returns true even when the
// memory had no tags. Like exact.Store.Delete, finding and deleting are
// separate index calls.
func (s *Store) DeleteTags(ctx context.Context, memoryID string) (bool, error) {
	var ids []uint64
	cursor := ""
	for {
		points, next, err := s.index.Scroll(ctx, s.cfg.Collection, byMemory(memoryID), s.cfg.ScanBatch, cursor)
		if err != nil {
			s.metrics.StoreOp(layer, "delete", err)
			return false, &memory.StorageError{Op: "tags.delete", Err: err}
		}
		for _, p := range points {
			ids = append(ids, p.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	var err error
	if len(ids) > 0 {
		err = s.index.Delete(ctx, s.cfg.Collection, ids...)
	}
	s.metrics.StoreOp(layer, "delete", err)
	if err != nil {
		return false, &memory.StorageError{Op: "tags.delete", Err: err}
	}
	s.log.Debug("deleted tags", zap.String("memory_id", memoryID), zap.Int("count", len(ids)))
	return true, nil
}

// AllTagTypes returns every distinct tag type in first-seen order.
func (s *Store) AllTagTypes(ctx context.Context) ([]string, error) {
	types := []string{}
	seen := make(map[string]bool)
	err := s.scan(ctx, nil, func(p vectorindex.Payload) {
		if t := p.String(keyTagType); t != "" && !seen[t] {
			seen[t] = true
			types = append(types, t)
		}
	})
	s.metrics.StoreOp(layer, "all_types", err)
	if err != nil {
		return nil, &memory.StorageError{Op: "tags.all_types", Err: err}
	}
	return types, nil
}

// TagValues returns every distinct value of tagType in first-seen order.
func (s *Store) TagValues(ctx context.Context, tagType string) ([]string, error) {
	values := []string{}
	seen := make(map[string]bool)
	err := s.scan(ctx, vectorindex.NewFilter(vectorindex.Match(keyTagType, tagType)), func(p vectorindex.Payload) {
		if v := p.String(keyTagValue); v != "" && !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	})
	s.metrics.StoreOp(layer, "values", err)
	if err != nil {
		return nil, &memory.StorageError{Op: "tags.values", Err: err}
	}
	return values, nil
}

// AllTags returns one tag per distinct (type, value) pair in first-seen
// order. The returned tags carry only type, value and score.
func (s *Store) AllTags(ctx context.Context) ([]memory.Tag, error) {
	out := []memory.Tag{}
	seen := make(map[[2]string]bool)
	err := s.scan(ctx, nil, func(p vectorindex.Payload) {
		key := [2]string{p.String(keyTagType), p.String(keyTagValue)}
		if key[0] == "" || key[1] == "" || seen[key] {
			return
		}
		seen[key] = true
		score, _ := p.Float(keyTagScore)
		out = append(out, memory.Tag{Type: key[0], Value: key[1], Score: score})
	})
	s.metrics.StoreOp(layer, "all", err)
	if err != nil {
		return nil, &memory.StorageError{Op: "tags.all", Err: err}
	}
	return out, nil
}

// scan visits every payload matching filter, one batch at a time.
func (s *Store) scan(ctx context.Context, filter *vectorindex.Filter, fn func(vectorindex.Payload)) error {
	cursor := ""
	for {
		points, next, err := s.index.Scroll(ctx, s.cfg.Collection, filter, s.cfg.ScanBatch, cursor)
		if err != nil {
			return err
		}
		for _, p := range points {
			fn(p.Payload)
		}
		if next == "" {
			return nil
		}
		cursor = next
	}
}

func byMemory(memoryID string) *vectorindex.Filter {
	return vectorindex.NewFilter(vectorindex.Match(keyMemoryID, memoryID))
}

func fromPayload(p vectorindex.Payload) memory.Tag {
	tag := memory.Tag{
		ID:       p.String(keyTagID),
		MemoryID: p.String(keyMemoryID),
		Type:     p.String(keyTagType),
		Value:    p.String(keyTagValue),
		Score:    memory.DefaultTagScore,
	}
	if score, ok := p.Float(keyTagScore); ok {
		tag.Score = score
	}
	for k, v := range p {
		if reserved[k] {
			continue
		}
		if tag.Extra == nil {
			tag.Extra = make(map[string]any)
		}
		tag.Extra[k] = v
	}
	return tag
}

func intersect(a, b []string) []string {
	in := make(map[string]bool, len(b))
	for _, id := range b {
		in[id] = true
	}
	out := []string{}
	for _, id := range a {
		if in[id] {
			out = append(out, id)
		}
	}
	return out
}

func clamp(score float64) float64 {
	switch {
	case score < 0:
		return 0
	case score > 1:
		return 1
	}
	return score
}
