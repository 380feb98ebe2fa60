// Package chromem implements vectorindex.Index on chromem-go, a pure Go
// embedded vector database.
package chromem

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-memory/memory/vectorindex"
)

// ErrUnsupportedDistance is returned for metrics other than cosine.
var ErrUnsupportedDistance = errors.New("chromem: only cosine distance is supported")

// Config configures the chromem index.
type Config struct {
	// Path persists the database to this directory. Empty keeps it in memory.
	Path string

	// Compress gzips persisted documents.
	Compress bool
}

// Index wraps a chromem.DB. Payloads are stored as JSON in the document
// content; string payload fields are mirrored into metadata so equality
// filters run inside chromem.
type Index struct {
	db          *chromem.DB
	collections map[string]*chromem.Collection
	sizes       map[string]int
	mu          sync.RWMutex
}

var _ vectorindex.Index = (*Index)(nil)

// New opens a chromem database.
func New(cfg Config) (*Index, error) {
	db := chromem.NewDB()
	if cfg.Path != "" {
		var err error
		db, err = chromem.NewPersistentDB(cfg.Path, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("open chromem db: %w", err)
		}
	}
	return &Index{
		db:          db,
		collections: make(map[string]*chromem.Collection),
		sizes:       make(map[string]int),
	}, nil
}

// embeddingsRequired keeps chromem from calling out to a hosted embedding
// API; every document and query arrives with its vector.
func embeddingsRequired(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem: embeddings must be supplied by the caller")
}

func (x *Index) EnsureCollection(_ context.Context, name string, vectorSize int, distance vectorindex.Distance) error {
	if distance != vectorindex.Cosine {
		return fmt.Errorf("%w: %s", ErrUnsupportedDistance, distance)
	}
	if vectorSize <= 0 {
		return fmt.Errorf("chromem: invalid vector size %d for %q", vectorSize, name)
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.collections[name]; ok {
		return nil
	}
	col, err := x.db.GetOrCreateCollection(name, map[string]string{
		"vector_size": strconv.Itoa(vectorSize),
		"distance":    string(distance),
	}, embeddingsRequired)
	if err != nil {
		return fmt.Errorf("create collection: %w", err)
	}
	x.collections[name] = col
	x.sizes[name] = vectorSize
	return nil
}

func (x *Index) collection(name string) (*chromem.Collection, int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.collections[name]
	if !ok {
		return nil, 0, fmt.Errorf("chromem: %w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	return col, x.sizes[name], nil
}

func (x *Index) Upsert(ctx context.Context, name string, points ...vectorindex.Point) error {
	col, size, err := x.collection(name)
	if err != nil {
		return err
	}
	for _, p := range points {
		if len(p.Vector) != size {
			return fmt.Errorf("chromem: %w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(p.Vector), size)
		}
		doc, err := toDocument(p)
		if err != nil {
			return err
		}
		if err := col.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("add document: %w", err)
		}
	}
	return nil
}

func (x *Index) Scroll(ctx context.Context, name string, filter *vectorindex.Filter, limit int, cursor string) ([]vectorindex.Point, string, error) {
	start, err := vectorindex.ParseCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("chromem: bad cursor %q: %w", cursor, err)
	}
	all, err := x.matching(ctx, name, filter)
	if err != nil {
		return nil, "", err
	}
	var out []vectorindex.Point
	for _, hit := range all {
		if hit.ID < start {
			continue
		}
		if len(out) == limit {
			return out, vectorindex.FormatCursor(hit.ID), nil
		}
		out = append(out, hit.Point)
	}
	return out, "", nil
}

func (x *Index) Search(ctx context.Context, name string, vector []float32, filter *vectorindex.Filter, limit int) ([]vectorindex.ScoredPoint, error) {
	col, size, err := x.collection(name)
	if err != nil {
		return nil, err
	}
	if len(vector) != size {
		return nil, fmt.Errorf("chromem: %w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(vector), size)
	}
	total := col.Count()
	if total == 0 || limit <= 0 {
		return nil, nil
	}

	// chromem requires nResults <= collection size. Range conditions are
	// evaluated here, so they need every candidate.
	n := limit
	if filter.HasRange() || n > total {
		n = total
	}
	results, err := col.QueryEmbedding(ctx, vector, n, filter.Equalities(), nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]vectorindex.ScoredPoint, 0, len(results))
	for _, r := range results {
		p, err := fromResult(r)
		if err != nil {
			return nil, err
		}
		if !filter.Matches(p.Payload) {
			continue
		}
		hits = append(hits, vectorindex.ScoredPoint{Point: p, Score: float64(r.Similarity)})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ID < hits[j].ID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (x *Index) Delete(ctx context.Context, name string, ids ...uint64) error {
	col, _, err := x.collection(name)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	docIDs := make([]string, len(ids))
	for i, id := range ids {
		docIDs[i] = vectorindex.FormatCursor(id)
	}
	if err := col.Delete(ctx, nil, nil, docIDs...); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	return nil
}

func (x *Index) Count(ctx context.Context, name string, filter *vectorindex.Filter) (int, error) {
	col, _, err := x.collection(name)
	if err != nil {
		return 0, err
	}
	if filter == nil {
		return col.Count(), nil
	}
	all, err := x.matching(ctx, name, filter)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

// matching enumerates every document matching filter, sorted by point ID.
// chromem has no listing API, so this queries with a unit probe vector and
// nResults equal to the collection size.
func (x *Index) matching(ctx context.Context, name string, filter *vectorindex.Filter) ([]vectorindex.ScoredPoint, error) {
	col, size, err := x.collection(name)
	if err != nil {
		return nil, err
	}
	total := col.Count()
	if total == 0 {
		return nil, nil
	}
	results, err := col.QueryEmbedding(ctx, unitVector(size), total, filter.Equalities(), nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}
	out := make([]vectorindex.ScoredPoint, 0, len(results))
	for _, r := range results {
		p, err := fromResult(r)
		if err != nil {
			return nil, err
		}
		if filter.Matches(p.Payload) {
			out = append(out, vectorindex.ScoredPoint{Point: p})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func toDocument(p vectorindex.Point) (chromem.Document, error) {
	content, err := json.Marshal(p.Payload)
	if err != nil {
		return chromem.Document{}, fmt.Errorf("marshal payload: %w", err)
	}
	metadata := make(map[string]string)
	for k, v := range p.Payload {
		if s, ok := v.(string); ok {
			metadata[k] = s
		}
	}
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	if isZero(vec) {
		// chromem normalizes every vector and cannot represent the zero vector.
		vec[0] = 1
	}
	return chromem.Document{
		ID:        vectorindex.FormatCursor(p.ID),
		Metadata:  metadata,
		Embedding: vec,
		Content:   string(content),
	}, nil
}

func fromResult(r chromem.Result) (vectorindex.Point, error) {
	id, err := strconv.ParseUint(r.ID, 10, 64)
	if err != nil {
		return vectorindex.Point{}, fmt.Errorf("chromem: unexpected document id %q: %w", r.ID, err)
	}
	var payload vectorindex.Payload
	if err := json.Unmarshal([]byte(r.Content), &payload); err != nil {
		return vectorindex.Point{}, fmt.Errorf("unmarshal payload: %w", err)
	}
	return vectorindex.Point{ID: id, Vector: r.Embedding, Payload: payload}, nil
}

func unitVector(size int) []float32 {
	v := make([]float32, size)
	v[0] = 1
	return v
}

func isZero(v []float32) bool {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return sum == 0 || math.IsNaN(sum)
}
