package search

import (
	"context"
	"strings"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/localstore"
)

// PlaceholderScore is the score of every local match; the local store has no
// notion of relevance.
const PlaceholderScore = 0.5

// Local searches a localstore by substring and exact tag matching. It returns
// every match regardless of n.
type Local struct {
	store *localstore.Store
}

var _ Backend = (*Local)(nil)

// NewLocal creates a filesystem backend.
func NewLocal(store *localstore.Store) *Local {
	return &Local{store: store}
}

// Vector returns records whose content contains query, ignoring case. An
// empty query matches everything.
func (l *Local) Vector(ctx context.Context, query string, _ int) ([]Result, error) {
	needle := strings.ToLower(query)
	out := []Result{}
	err := l.store.Walk(ctx, func(rec localstore.Record) error {
		if strings.Contains(strings.ToLower(rec.Content), needle) {
			out = append(out, localResult(rec))
		}
		return nil
	})
	return out, err
}

// Tagged returns records carrying every tag in tags and, when query is set,
// containing it.
func (l *Local) Tagged(ctx context.Context, tags []memory.Tag, query string, _ int) ([]Result, error) {
	needle := strings.ToLower(query)
	out := []Result{}
	err := l.store.Walk(ctx, func(rec localstore.Record) error {
		if !hasAll(rec.Tags, tags) {
			return nil
		}
		if needle != "" && !strings.Contains(strings.ToLower(rec.Content), needle) {
			return nil
		}
		out = append(out, localResult(rec))
		return nil
	})
	return out, err
}

func (l *Local) Get(ctx context.Context, memoryID string) (*Record, error) {
	rec, err := l.store.Get(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	mcs := make([]memory.MetaCommentary, 0, len(rec.MetaAnalyses))
	for _, a := range rec.MetaAnalyses {
		mcs = append(mcs, a.Commentary())
	}
	return &Record{
		MemoryID:         rec.MemoryID,
		Content:          rec.Content,
		Metadata:         rec.Metadata,
		Tags:             rec.Tags,
		AIAnalysis:       rec.AIAnalysis,
		MetaCommentaries: mcs,
	}, nil
}

func (l *Local) AllTags(ctx context.Context) (map[string][]string, error) {
	return l.store.AllTags(ctx)
}

func localResult(rec localstore.Record) Result {
	return Result{
		MemoryID:   rec.MemoryID,
		Content:    rec.Content,
		Metadata:   rec.Metadata,
		Tags:       rec.Tags,
		AIAnalysis: rec.AIAnalysis,
		Score:      PlaceholderScore,
	}
}

func hasAll(have, want []memory.Tag) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if h.Type == w.Type && h.Value == w.Value {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
