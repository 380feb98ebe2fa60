// Package vectorindex defines the contract the memory layers use to talk to a
// vector database, plus the filter and scoring helpers shared by the backends.
//
// Backends:
//   - memindex: in-process maps, all distance metrics
//   - chromem: embedded chromem-go database, optionally persisted to disk
//   - sqlite: durable single-file store (modernc.org/sqlite)
package vectorindex

import (
	"context"
	"errors"
	"math"
	"strconv"
	"sync/atomic"
	"time"
)

// Distance is the similarity metric of a collection.
type Distance string

const (
	Cosine    Distance = "cosine"
	Euclidean Distance = "euclidean"
	Dot       Distance = "dot"
)

// ParseDistance maps a configuration string onto a Distance.
// Unknown names fall back to Cosine.
func ParseDistance(s string) Distance {
	switch Distance(s) {
	case Euclidean, "euclid":
		return Euclidean
	case Dot:
		return Dot
	default:
		return Cosine
	}
}

var (
	// ErrCollectionNotFound is returned when a collection was never ensured.
	ErrCollectionNotFound = errors.New("vectorindex: collection not found")

	// ErrDimensionMismatch is returned when a vector does not match the collection size.
	ErrDimensionMismatch = errors.New("vectorindex: vector dimension mismatch")
)

// Point is a stored vector with its payload. ID is an opaque numeric handle;
// semantic identifiers live in the payload.
type Point struct {
	ID      uint64
	Vector  []float32
	Payload Payload
}

// ScoredPoint is a search hit. Higher scores are better for every metric.
type ScoredPoint struct {
	Point
	Score float64
}

// Index is a vector database holding named collections of points.
type Index interface {
	// EnsureCollection creates the collection if it does not exist yet.
	EnsureCollection(ctx context.Context, name string, vectorSize int, distance Distance) error

	// Upsert inserts or replaces points by ID.
	Upsert(ctx context.Context, collection string, points ...Point) error

	// Scroll returns up to limit points matching filter, in ID order, starting
	// at cursor ("" for the beginning). next is "" when there are no more points.
	Scroll(ctx context.Context, collection string, filter *Filter, limit int, cursor string) (points []Point, next string, err error)

	// Search returns the limit nearest points matching filter, best first.
	Search(ctx context.Context, collection string, vector []float32, filter *Filter, limit int) ([]ScoredPoint, error)

	// Delete removes points by ID. Missing IDs are ignored.
	Delete(ctx context.Context, collection string, ids ...uint64) error

	// Count returns the number of points matching filter.
	Count(ctx context.Context, collection string, filter *Filter) (int, error)
}

var lastPointID atomic.Uint64

// NewPointID returns a process-unique, increasing point handle derived from
// the wall clock, so scroll order follows insertion order across restarts.
func NewPointID() uint64 {
	for {
		last := lastPointID.Load()
		next := uint64(time.Now().UnixNano())
		if next <= last {
			next = last + 1
		}
		if lastPointID.CompareAndSwap(last, next) {
			return next
		}
	}
}

// FormatCursor encodes a point ID as a scroll cursor.
func FormatCursor(id uint64) string {
	return strconv.FormatUint(id, 10)
}

// ParseCursor decodes a scroll cursor. The empty cursor starts at zero.
func ParseCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	return strconv.ParseUint(cursor, 10, 64)
}

// Score computes the similarity of a and b under distance d.
// Euclidean distance is mapped to 1/(1+d) so that higher is better.
func Score(d Distance, a, b []float32) float64 {
	switch d {
	case Dot:
		return dot(a, b)
	case Euclidean:
		var sum float64
		for i := range a {
			diff := float64(a[i]) - float64(b[i])
			sum += diff * diff
		}
		return 1 / (1 + math.Sqrt(sum))
	default:
		na, nb := norm(a), norm(b)
		if na == 0 || nb == 0 {
			return 0
		}
		return dot(a, b) / (na * nb)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func norm(v []float32) float64 {
	return math.Sqrt(dot(v, v))
}
