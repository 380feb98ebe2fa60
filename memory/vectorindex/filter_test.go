package vectorindex_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/becomeliminal/nim-memory/memory/vectorindex"
)

func TestFilterMatches(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	payload := vectorindex.Payload{
		"source":    "user",
		"timestamp": ts.Format(time.RFC3339Nano),
	}

	tests := []struct {
		name   string
		filter *vectorindex.Filter
		want   bool
	}{
		{"nil filter", nil, true},
		{"equality hit", vectorindex.NewFilter(vectorindex.Match("source", "user")), true},
		{"equality miss", vectorindex.NewFilter(vectorindex.Match("source", "agent")), false},
		{"missing key", vectorindex.NewFilter(vectorindex.Match("content_type", "text")), false},
		{"range inside", vectorindex.NewFilter(vectorindex.Between("timestamp", ts.Add(-time.Hour), ts.Add(time.Hour))), true},
		{"range inclusive", vectorindex.NewFilter(vectorindex.Between("timestamp", ts, ts)), true},
		{"range open end", vectorindex.NewFilter(vectorindex.Between("timestamp", ts.Add(-time.Hour), time.Time{})), true},
		{"range before", vectorindex.NewFilter(vectorindex.Between("timestamp", ts.Add(time.Minute), time.Time{})), false},
		{"and of both", vectorindex.NewFilter(
			vectorindex.Match("source", "user"),
			vectorindex.Between("timestamp", time.Time{}, ts.Add(-time.Minute)),
		), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.filter.Matches(payload))
		})
	}
}

func TestNewFilterEmpty(t *testing.T) {
	assert.Nil(t, vectorindex.NewFilter())
}

func TestScore(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	assert.InDelta(t, 0.0, vectorindex.Score(vectorindex.Cosine, a, b), 1e-9)
	assert.InDelta(t, 1.0, vectorindex.Score(vectorindex.Cosine, a, a), 1e-9)
	assert.InDelta(t, 0.0, vectorindex.Score(vectorindex.Cosine, a, []float32{0, 0}), 1e-9)
	assert.InDelta(t, 1.0, vectorindex.Score(vectorindex.Dot, a, a), 1e-9)
	assert.InDelta(t, 1/(1+1.4142135623730951), vectorindex.Score(vectorindex.Euclidean, a, b), 1e-6)
}

func TestNewPointIDIncreases(t *testing.T) {
	prev := vectorindex.NewPointID()
	for i := 0; i < 1000; i++ {
		next := vectorindex.NewPointID()
		assert.Greater(t, next, prev)
		prev = next
	}
}

func TestCursorRoundTrip(t *testing.T) {
	id, err := vectorindex.ParseCursor(vectorindex.FormatCursor(12345))
	assert.NoError(t, err)
	assert.Equal(t, uint64(12345), id)

	id, err = vectorindex.ParseCursor("")
	assert.NoError(t, err)
	assert.Zero(t, id)

	_, err = vectorindex.ParseCursor("abc")
	assert.Error(t, err)
}

func TestParseDistance(t *testing.T) {
	assert.Equal(t, vectorindex.Euclidean, vectorindex.ParseDistance("euclid"))
	assert.Equal(t, vectorindex.Dot, vectorindex.ParseDistance("dot"))
	assert.Equal(t, vectorindex.Cosine, vectorindex.ParseDistance(""))
}
