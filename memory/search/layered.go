package search

import (
	"context"
	"strings"

	"github.com/becomeliminal/nim-memory/memory"
)

// Memories is the part of memory.Manager the layered backend reads from.
type Memories interface {
	Similar(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.Memory, error)
	ByTags(ctx context.Context, tags []memory.Tag, matchAll bool) ([]string, error)
	Get(ctx context.Context, id string) (*memory.Memory, error)
	TagCatalog(ctx context.Context) (map[string][]string, error)
	MetaCommentaries(ctx context.Context, id string) ([]memory.MetaCommentary, error)
}

var _ Memories = (*memory.Manager)(nil)

// Layered searches the vector-indexed layer stores.
type Layered struct {
	memories Memories
}

var _ Backend = (*Layered)(nil)

// NewLayered creates a layered backend.
func NewLayered(memories Memories) *Layered {
	return &Layered{memories: memories}
}

// Vector returns the n memories nearest to query with their similarity scores.
func (l *Layered) Vector(ctx context.Context, query string, n int) ([]Result, error) {
	mems, err := l.memories.Similar(ctx, query, memory.SearchOptions{Limit: n})
	if err != nil {
		return nil, err
	}
	out := make([]Result, 0, len(mems))
	for i := range mems {
		out = append(out, toResult(&mems[i], mems[i].Score))
	}
	return out, nil
}

// Tagged scores each memory by the mean stored score of its tags that match
// the query tags. Results keep tag-store order.
func (l *Layered) Tagged(ctx context.Context, tags []memory.Tag, query string, _ int) ([]Result, error) {
	ids, err := l.memories.ByTags(ctx, tags, true)
	if err != nil {
		return nil, err
	}
	needle := strings.ToLower(query)
	out := make([]Result, 0, len(ids))
	for _, id := range ids {
		mem, err := l.memories.Get(ctx, id)
		if memory.IsNotFound(err) {
			// Tags can outlive their memory.
			continue
		}
		if err != nil {
			return nil, err
		}
		if needle != "" && !strings.Contains(strings.ToLower(mem.Content), needle) {
			continue
		}
		out = append(out, toResult(mem, tagScore(mem.Tags, tags)))
	}
	return out, nil
}

func (l *Layered) Get(ctx context.Context, memoryID string) (*Record, error) {
	mem, err := l.memories.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	mcs, err := l.memories.MetaCommentaries(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	return &Record{
		MemoryID:         mem.ID,
		Content:          mem.Content,
		Metadata:         metadata(mem),
		Tags:             mem.Tags,
		MetaCommentaries: mcs,
	}, nil
}

func (l *Layered) AllTags(ctx context.Context) (map[string][]string, error) {
	return l.memories.TagCatalog(ctx)
}

func toResult(mem *memory.Memory, score float64) Result {
	return Result{
		MemoryID: mem.ID,
		Content:  mem.Content,
		Metadata: metadata(mem),
		Tags:     mem.Tags,
		Score:    score,
	}
}

// metadata copies the memory's metadata and adds its Layer 1 attributes
// under keys the caller did not set.
func metadata(mem *memory.Memory) map[string]any {
	md := make(map[string]any, len(mem.Metadata)+3)
	for k, v := range mem.Metadata {
		md[k] = v
	}
	for k, v := range map[string]any{
		"content_type": mem.ContentType,
		"source":       mem.Source,
		"timestamp":    mem.Timestamp,
	} {
		if _, ok := md[k]; !ok {
			md[k] = v
		}
	}
	return md
}

// tagScore is the mean score of the memory's tags matching any query tag.
func tagScore(have, want []memory.Tag) float64 {
	var sum float64
	var n int
	for _, h := range have {
		for _, w := range want {
			if h.Type == w.Type && h.Value == w.Value {
				sum += h.Score
				n++
				break
			}
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
