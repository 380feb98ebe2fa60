// Package localstore is the filesystem fallback used when no vector index is
// reachable. Each memory is spread over parallel files keyed by memory ID:
//
//	layer1/<id>.txt   raw content
//	layer2/<id>.json  {"metadata": {...}, "tags": [...]}
//	layer3/<id>.json  {"ai_analysis": {...}}
//	layer4/<meta_id>.json {"memory_ids": [...], "meta_analysis": {...}}
//
// Lookups by tag or across meta-analyses are linear scans.
package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/metrics"
)

const layer = "localstore"

const (
	dirContent  = "layer1"
	dirTags     = "layer2"
	dirAnalysis = "layer3"
	dirMeta     = "layer4"
)

// Record is everything stored locally about one memory.
type Record struct {
	MemoryID   string
	Content    string
	Metadata   map[string]any
	Tags       []memory.Tag
	AIAnalysis map[string]any

	// MetaAnalyses is only populated by Get.
	MetaAnalyses []MetaAnalysis
}

// MetaAnalysis is one layer4 file referencing a memory.
type MetaAnalysis struct {
	MetaID    string         `json:"meta_id"`
	MemoryIDs []string       `json:"memory_ids"`
	Analysis  map[string]any `json:"meta_analysis"`
}

type tagFile struct {
	Metadata map[string]any `json:"metadata"`
	Tags     []memory.Tag   `json:"tags"`
}

type analysisFile struct {
	AIAnalysis map[string]any `json:"ai_analysis"`
}

type metaFile struct {
	MemoryIDs    []string       `json:"memory_ids"`
	MetaAnalysis map[string]any `json:"meta_analysis"`
}

// Store reads and writes the layered directory tree under a root.
type Store struct {
	root    string
	log     *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var _ memory.CommentaryArchive = (*Store)(nil)

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

// New opens root, creating the layer directories if needed.
func New(root string, opts ...Option) (*Store, error) {
	for _, d := range []string{dirContent, dirTags, dirAnalysis, dirMeta} {
		if err := os.MkdirAll(filepath.Join(root, d), 0o755); err != nil {
			return nil, fmt.Errorf("localstore: create %s: %w", d, err)
		}
	}
	s := &Store{
		root:    root,
		log:     zap.NewNop(),
		now:     time.Now,
		entropy: ulid.Monotonic(rand.New(rand.NewSource(time.Now().UnixNano())), 0),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Root returns the store's directory.
func (s *Store) Root() string {
	return s.root
}

// Put writes a record. A nil AIAnalysis leaves any existing layer3 file alone.
func (s *Store) Put(ctx context.Context, rec Record) error {
	err := s.put(ctx, rec)
	s.metrics.StoreOp(layer, "put", err)
	return err
}

func (s *Store) put(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkID(rec.MemoryID); err != nil {
		return err
	}
	if err := writeFile(s.path(dirContent, rec.MemoryID, ".txt"), []byte(rec.Content)); err != nil {
		return &memory.StorageError{Op: "localstore.put", Err: err}
	}
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	tags := rec.Tags
	if tags == nil {
		tags = []memory.Tag{}
	}
	if err := writeJSON(s.path(dirTags, rec.MemoryID, ".json"), tagFile{Metadata: metadata, Tags: tags}); err != nil {
		return &memory.StorageError{Op: "localstore.put", Err: err}
	}
	if rec.AIAnalysis != nil {
		if err := writeJSON(s.path(dirAnalysis, rec.MemoryID, ".json"), analysisFile{AIAnalysis: rec.AIAnalysis}); err != nil {
			return &memory.StorageError{Op: "localstore.put", Err: err}
		}
	}
	s.log.Debug("stored record", zap.String("memory_id", rec.MemoryID))
	return nil
}

// Get returns the full record for memoryID, including the meta-analyses that
// reference it, or memory.ErrNotFound when there is no layer1 file.
func (s *Store) Get(ctx context.Context, memoryID string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if checkID(memoryID) != nil {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}
	rec, err := s.read(memoryID)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", memory.ErrNotFound, memoryID)
	}
	if err != nil {
		s.metrics.StoreOp(layer, "get", err)
		return nil, &memory.StorageError{Op: "localstore.get", Err: err}
	}
	rec.MetaAnalyses, err = s.MetaAnalysesFor(ctx, memoryID)
	s.metrics.StoreOp(layer, "get", err)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Delete removes the memory's layer1..layer3 files and reports whether the
// content file existed. Meta-analyses are left in place.
func (s *Store) Delete(ctx context.Context, memoryID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if checkID(memoryID) != nil {
		return false, nil
	}
	existed := true
	for i, p := range []string{
		s.path(dirContent, memoryID, ".txt"),
		s.path(dirTags, memoryID, ".json"),
		s.path(dirAnalysis, memoryID, ".json"),
	} {
		err := os.Remove(p)
		if errors.Is(err, fs.ErrNotExist) {
			if i == 0 {
				existed = false
			}
			continue
		}
		if err != nil {
			s.metrics.StoreOp(layer, "delete", err)
			return false, &memory.StorageError{Op: "localstore.delete", Err: err}
		}
	}
	s.metrics.StoreOp(layer, "delete", nil)
	return existed, nil
}

// IDs returns every stored memory ID in sorted order.
func (s *Store) IDs(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	names, err := doublestar.Glob(os.DirFS(filepath.Join(s.root, dirContent)), "*.txt")
	if err != nil {
		return nil, &memory.StorageError{Op: "localstore.ids", Err: err}
	}
	ids := make([]string, 0, len(names))
	for _, n := range names {
		ids = append(ids, strings.TrimSuffix(n, ".txt"))
	}
	slices.Sort(ids)
	return ids, nil
}

// Walk calls fn for every record in memory ID order. Records whose side files
// cannot be decoded are logged and skipped. MetaAnalyses are not loaded.
func (s *Store) Walk(ctx context.Context, fn func(Record) error) error {
	ids, err := s.IDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := s.read(id)
		if err != nil {
			s.log.Warn("skipping unreadable record", zap.String("memory_id", id), zap.Error(err))
			continue
		}
		if err := fn(*rec); err != nil {
			return err
		}
	}
	return nil
}

// MetaAnalysesFor scans layer4 for entries listing memoryID.
func (s *Store) MetaAnalysesFor(ctx context.Context, memoryID string) ([]MetaAnalysis, error) {
	var out []MetaAnalysis
	err := s.eachMeta(ctx, func(metaID string, mf metaFile) {
		if slices.Contains(mf.MemoryIDs, memoryID) {
			out = append(out, MetaAnalysis{MetaID: metaID, MemoryIDs: mf.MemoryIDs, Analysis: mf.MetaAnalysis})
		}
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AllTags groups every distinct tag value by type, in first-seen order.
func (s *Store) AllTags(ctx context.Context) (map[string][]string, error) {
	out := make(map[string][]string)
	seen := make(map[string]bool)
	err := s.Walk(ctx, func(rec Record) error {
		for _, t := range rec.Tags {
			key := t.Type + "\x00" + t.Value
			if seen[key] {
				continue
			}
			seen[key] = true
			out[t.Type] = append(out[t.Type], t.Value)
		}
		return nil
	})
	return out, err
}

// SaveMetaCommentary writes mc to layer4, assigning a ULID when mc.ID is empty.
func (s *Store) SaveMetaCommentary(ctx context.Context, mc *memory.MetaCommentary) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if mc.ID == "" {
		mc.ID = s.newID()
	}
	if err := checkID(mc.ID); err != nil {
		return err
	}
	mf := metaFile{
		MemoryIDs: mc.MemoryIDs,
		MetaAnalysis: map[string]any{
			"commentary_type": string(mc.Type),
			"commentary_text": mc.Text,
			"model":           mc.Model,
			"timestamp":       mc.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
	err := writeJSON(s.path(dirMeta, mc.ID, ".json"), mf)
	s.metrics.StoreOp(layer, "save_meta_commentary", err)
	if err != nil {
		return &memory.StorageError{Op: "localstore.save_meta_commentary", Err: err}
	}
	s.log.Debug("saved meta commentary", zap.String("meta_id", mc.ID), zap.Strings("memory_ids", mc.MemoryIDs))
	return nil
}

// MetaCommentariesFor returns the archived commentaries referencing memoryID,
// ordered by meta ID.
func (s *Store) MetaCommentariesFor(ctx context.Context, memoryID string) ([]memory.MetaCommentary, error) {
	analyses, err := s.MetaAnalysesFor(ctx, memoryID)
	if err != nil {
		return nil, err
	}
	out := make([]memory.MetaCommentary, 0, len(analyses))
	for _, a := range analyses {
		out = append(out, a.Commentary())
	}
	return out, nil
}

// Commentary converts a meta-analysis written by SaveMetaCommentary back into
// a MetaCommentary. Fields missing from foreign files are left zero.
func (a MetaAnalysis) Commentary() memory.MetaCommentary {
	mc := memory.MetaCommentary{
		ID:        a.MetaID,
		MemoryIDs: a.MemoryIDs,
		Type:      memory.CommentaryType(str(a.Analysis, "commentary_type")),
		Text:      str(a.Analysis, "commentary_text"),
		Model:     str(a.Analysis, "model"),
	}
	if ts, err := time.Parse(time.RFC3339Nano, str(a.Analysis, "timestamp")); err == nil {
		mc.Timestamp = ts
	}
	return mc
}

func (s *Store) eachMeta(ctx context.Context, fn func(metaID string, mf metaFile)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dir := filepath.Join(s.root, dirMeta)
	names, err := doublestar.Glob(os.DirFS(dir), "*.json")
	if err != nil {
		return &memory.StorageError{Op: "localstore.meta_scan", Err: err}
	}
	slices.Sort(names)
	for _, n := range names {
		var mf metaFile
		if err := readJSON(filepath.Join(dir, n), &mf); err != nil {
			s.log.Warn("skipping unreadable meta analysis", zap.String("file", n), zap.Error(err))
			continue
		}
		fn(strings.TrimSuffix(n, ".json"), mf)
	}
	return nil
}

func (s *Store) read(memoryID string) (*Record, error) {
	content, err := os.ReadFile(s.path(dirContent, memoryID, ".txt"))
	if err != nil {
		return nil, err
	}
	rec := &Record{MemoryID: memoryID, Content: string(content), Metadata: map[string]any{}, AIAnalysis: map[string]any{}}

	var tf tagFile
	if err := readJSON(s.path(dirTags, memoryID, ".json"), &tf); err == nil {
		if tf.Metadata != nil {
			rec.Metadata = tf.Metadata
		}
		rec.Tags = tf.Tags
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	var af analysisFile
	if err := readJSON(s.path(dirAnalysis, memoryID, ".json"), &af); err == nil {
		if af.AIAnalysis != nil {
			rec.AIAnalysis = af.AIAnalysis
		}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return rec, nil
}

func (s *Store) path(dir, id, ext string) string {
	return filepath.Join(s.root, dir, id+ext)
}

func (s *Store) newID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(s.now()), s.entropy).String()
}

// checkID rejects IDs that would escape their directory.
func checkID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) {
		return fmt.Errorf("localstore: invalid id %q", id)
	}
	return nil
}

func str(m map[string]any, key string) string {
	v, _ := m[key].(string)
	return v
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return writeFile(path, data)
}

// writeFile replaces path via a temp file and rename.
func writeFile(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return nil
}
