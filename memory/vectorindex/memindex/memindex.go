// Package memindex is an in-process vectorindex.Index backed by maps.
// It supports every distance metric and is the default backend for tests.
package memindex

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/becomeliminal/nim-memory/memory/vectorindex"
)

type collection struct {
	size     int
	distance vectorindex.Distance
	points   map[uint64]vectorindex.Point
	ids      []uint64 // sorted
}

// Index is safe for concurrent use.
type Index struct {
	mu          sync.RWMutex
	collections map[string]*collection
}

var _ vectorindex.Index = (*Index)(nil)

// New creates an empty index.
func New() *Index {
	return &Index{collections: make(map[string]*collection)}
}

func (x *Index) EnsureCollection(_ context.Context, name string, vectorSize int, distance vectorindex.Distance) error {
	if vectorSize <= 0 {
		return fmt.Errorf("memindex: invalid vector size %d for %q", vectorSize, name)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if _, ok := x.collections[name]; ok {
		return nil
	}
	x.collections[name] = &collection{
		size:     vectorSize,
		distance: distance,
		points:   make(map[uint64]vectorindex.Point),
	}
	return nil
}

func (x *Index) Upsert(_ context.Context, name string, points ...vectorindex.Point) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	col, ok := x.collections[name]
	if !ok {
		return fmt.Errorf("memindex: %w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	for _, p := range points {
		if len(p.Vector) != col.size {
			return fmt.Errorf("memindex: %w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(p.Vector), col.size)
		}
	}
	for _, p := range points {
		if _, exists := col.points[p.ID]; !exists {
			i := sort.Search(len(col.ids), func(i int) bool { return col.ids[i] >= p.ID })
			col.ids = append(col.ids, 0)
			copy(col.ids[i+1:], col.ids[i:])
			col.ids[i] = p.ID
		}
		col.points[p.ID] = clonePoint(p)
	}
	return nil
}

func (x *Index) Scroll(_ context.Context, name string, filter *vectorindex.Filter, limit int, cursor string) ([]vectorindex.Point, string, error) {
	start, err := vectorindex.ParseCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("memindex: bad cursor %q: %w", cursor, err)
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.collections[name]
	if !ok {
		return nil, "", fmt.Errorf("memindex: %w: %s", vectorindex.ErrCollectionNotFound, name)
	}

	var out []vectorindex.Point
	i := sort.Search(len(col.ids), func(i int) bool { return col.ids[i] >= start })
	for ; i < len(col.ids); i++ {
		p := col.points[col.ids[i]]
		if !filter.Matches(p.Payload) {
			continue
		}
		if len(out) == limit {
			return out, vectorindex.FormatCursor(p.ID), nil
		}
		out = append(out, clonePoint(p))
	}
	return out, "", nil
}

func (x *Index) Search(_ context.Context, name string, vector []float32, filter *vectorindex.Filter, limit int) ([]vectorindex.ScoredPoint, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.collections[name]
	if !ok {
		return nil, fmt.Errorf("memindex: %w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	if len(vector) != col.size {
		return nil, fmt.Errorf("memindex: %w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(vector), col.size)
	}

	var hits []vectorindex.ScoredPoint
	for _, id := range col.ids {
		p := col.points[id]
		if !filter.Matches(p.Payload) {
			continue
		}
		hits = append(hits, vectorindex.ScoredPoint{
			Point: clonePoint(p),
			Score: vectorindex.Score(col.distance, vector, p.Vector),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (x *Index) Delete(_ context.Context, name string, ids ...uint64) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	col, ok := x.collections[name]
	if !ok {
		return fmt.Errorf("memindex: %w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	for _, id := range ids {
		if _, exists := col.points[id]; !exists {
			continue
		}
		delete(col.points, id)
		i := sort.Search(len(col.ids), func(i int) bool { return col.ids[i] >= id })
		col.ids = append(col.ids[:i], col.ids[i+1:]...)
	}
	return nil
}

func (x *Index) Count(_ context.Context, name string, filter *vectorindex.Filter) (int, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	col, ok := x.collections[name]
	if !ok {
		return 0, fmt.Errorf("memindex: %w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	if filter == nil {
		return len(col.ids), nil
	}
	n := 0
	for _, p := range col.points {
		if filter.Matches(p.Payload) {
			n++
		}
	}
	return n, nil
}

// clonePoint copies the vector and the top level of the payload so callers
// cannot mutate stored state.
func clonePoint(p vectorindex.Point) vectorindex.Point {
	vec := make([]float32, len(p.Vector))
	copy(vec, p.Vector)
	payload := make(vectorindex.Payload, len(p.Payload))
	for k, v := range p.Payload {
		payload[k] = v
	}
	return vectorindex.Point{ID: p.ID, Vector: vec, Payload: payload}
}
