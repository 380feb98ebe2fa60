// Package sqlite implements vectorindex.Index on a single SQLite file.
//
// Vectors are stored as little-endian float32 blobs and payloads as JSON.
// Equality filters are pushed into SQL through json_extract; similarity is
// computed in Go over the filtered rows.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/becomeliminal/nim-memory/memory/vectorindex"
)

const defaultBusyTimeout = 5000

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS collections (
		name        TEXT    PRIMARY KEY,
		vector_size INTEGER NOT NULL,
		distance    TEXT    NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS points (
		collection TEXT    NOT NULL,
		id         INTEGER NOT NULL,
		vector     BLOB    NOT NULL,
		payload    TEXT    NOT NULL DEFAULT '{}',
		PRIMARY KEY (collection, id)
	)`,
}

// Index is a vectorindex.Index backed by database/sql.
type Index struct {
	db *sql.DB
}

var _ vectorindex.Index = (*Index)(nil)

// Open opens (creating if needed) the database at path. Use ":memory:" for a
// throwaway database.
func Open(path string) (*Index, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
			}
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	// SQLite serialises writes; a single connection also keeps ":memory:"
	// databases alive across calls.
	db.SetMaxOpenConns(1)

	ctx := context.Background()
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", defaultBusyTimeout),
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return &Index{db: db}, nil
}

// Close closes the database.
func (x *Index) Close() error {
	return x.db.Close()
}

func (x *Index) EnsureCollection(ctx context.Context, name string, vectorSize int, distance vectorindex.Distance) error {
	if vectorSize <= 0 {
		return fmt.Errorf("sqlite: invalid vector size %d for %q", vectorSize, name)
	}
	_, err := x.db.ExecContext(ctx,
		`INSERT INTO collections (name, vector_size, distance) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO NOTHING`,
		name, vectorSize, string(distance))
	if err != nil {
		return fmt.Errorf("sqlite: ensure collection %s: %w", name, err)
	}
	return nil
}

func (x *Index) describe(ctx context.Context, name string) (int, vectorindex.Distance, error) {
	var size int
	var distance string
	err := x.db.QueryRowContext(ctx,
		`SELECT vector_size, distance FROM collections WHERE name = ?`, name).Scan(&size, &distance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", fmt.Errorf("sqlite: %w: %s", vectorindex.ErrCollectionNotFound, name)
	}
	if err != nil {
		return 0, "", fmt.Errorf("sqlite: describe %s: %w", name, err)
	}
	return size, vectorindex.Distance(distance), nil
}

func (x *Index) Upsert(ctx context.Context, name string, points ...vectorindex.Point) error {
	size, _, err := x.describe(ctx, name)
	if err != nil {
		return err
	}

	tx, err := x.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, p := range points {
		if len(p.Vector) != size {
			return fmt.Errorf("sqlite: %w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(p.Vector), size)
		}
		payload, err := json.Marshal(p.Payload)
		if err != nil {
			return fmt.Errorf("sqlite: marshal payload: %w", err)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO points (collection, id, vector, payload) VALUES (?, ?, ?, ?)
			 ON CONFLICT(collection, id) DO UPDATE SET vector = excluded.vector, payload = excluded.payload`,
			name, int64(p.ID), encodeVector(p.Vector), string(payload))
		if err != nil {
			return fmt.Errorf("sqlite: upsert point %d: %w", p.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

func (x *Index) Scroll(ctx context.Context, name string, filter *vectorindex.Filter, limit int, cursor string) ([]vectorindex.Point, string, error) {
	start, err := vectorindex.ParseCursor(cursor)
	if err != nil {
		return nil, "", fmt.Errorf("sqlite: bad cursor %q: %w", cursor, err)
	}
	if _, _, err := x.describe(ctx, name); err != nil {
		return nil, "", err
	}

	var out []vectorindex.Point
	next := ""
	err = x.each(ctx, name, filter, int64(start), func(p vectorindex.Point) bool {
		if len(out) == limit {
			next = vectorindex.FormatCursor(p.ID)
			return false
		}
		out = append(out, p)
		return true
	})
	if err != nil {
		return nil, "", err
	}
	return out, next, nil
}

func (x *Index) Search(ctx context.Context, name string, vector []float32, filter *vectorindex.Filter, limit int) ([]vectorindex.ScoredPoint, error) {
	size, distance, err := x.describe(ctx, name)
	if err != nil {
		return nil, err
	}
	if len(vector) != size {
		return nil, fmt.Errorf("sqlite: %w: got %d, want %d", vectorindex.ErrDimensionMismatch, len(vector), size)
	}

	var hits []vectorindex.ScoredPoint
	err = x.each(ctx, name, filter, 0, func(p vectorindex.Point) bool {
		hits = append(hits, vectorindex.ScoredPoint{Point: p, Score: vectorindex.Score(distance, vector, p.Vector)})
		return true
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit >= 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (x *Index) Delete(ctx context.Context, name string, ids ...uint64) error {
	if _, _, err := x.describe(ctx, name); err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := x.db.ExecContext(ctx,
			`DELETE FROM points WHERE collection = ? AND id = ?`, name, int64(id)); err != nil {
			return fmt.Errorf("sqlite: delete point %d: %w", id, err)
		}
	}
	return nil
}

func (x *Index) Count(ctx context.Context, name string, filter *vectorindex.Filter) (int, error) {
	if _, _, err := x.describe(ctx, name); err != nil {
		return 0, err
	}
	if !filter.HasRange() {
		where, args := whereClause(name, filter, 0)
		var n int
		if err := x.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM points WHERE `+where, args...).Scan(&n); err != nil {
			return 0, fmt.Errorf("sqlite: count: %w", err)
		}
		return n, nil
	}
	n := 0
	err := x.each(ctx, name, filter, 0, func(vectorindex.Point) bool {
		n++
		return true
	})
	return n, err
}

// each streams points with id >= start matching filter in ID order until fn
// returns false.
func (x *Index) each(ctx context.Context, name string, filter *vectorindex.Filter, start int64, fn func(vectorindex.Point) bool) error {
	where, args := whereClause(name, filter, start)
	rows, err := x.db.QueryContext(ctx,
		`SELECT id, vector, payload FROM points WHERE `+where+` ORDER BY id`, args...)
	if err != nil {
		return fmt.Errorf("sqlite: query points: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id      int64
			blob    []byte
			payload string
		)
		if err := rows.Scan(&id, &blob, &payload); err != nil {
			return fmt.Errorf("sqlite: scan point: %w", err)
		}
		p := vectorindex.Point{ID: uint64(id), Vector: decodeVector(blob)}
		if err := json.Unmarshal([]byte(payload), &p.Payload); err != nil {
			return fmt.Errorf("sqlite: unmarshal payload of point %d: %w", id, err)
		}
		if !filter.Matches(p.Payload) {
			continue
		}
		if !fn(p) {
			return nil
		}
	}
	return rows.Err()
}

func whereClause(name string, filter *vectorindex.Filter, start int64) (string, []any) {
	clauses := []string{"collection = ?", "id >= ?"}
	args := []any{name, start}
	if filter != nil {
		for _, c := range filter.Must {
			if c.Range != nil {
				continue
			}
			clauses = append(clauses, "json_extract(payload, ?) = ?")
			args = append(args, `$."`+c.Key+`"`, c.Value)
		}
	}
	return strings.Join(clauses, " AND "), args
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}
