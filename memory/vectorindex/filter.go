package vectorindex

import (
	"fmt"
	"time"
)

// Payload is the JSON-compatible document attached to a point.
type Payload map[string]any

// String returns the string value stored under key, or "".
func (p Payload) String(key string) string {
	if v, ok := p[key].(string); ok {
		return v
	}
	return ""
}

// Float returns the numeric value stored under key.
func (p Payload) Float(key string) (float64, bool) {
	switch v := p[key].(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}

// Time parses an RFC 3339 timestamp stored under key.
func (p Payload) Time(key string) (time.Time, bool) {
	s := p.String(key)
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Filter is a conjunction of conditions. A nil Filter matches everything.
type Filter struct {
	Must []Condition
}

// Condition matches one payload key, either by string equality or by a
// time range over an RFC 3339 value.
type Condition struct {
	Key   string
	Value string
	Range *TimeRange
}

// TimeRange bounds are inclusive; zero bounds are open.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// Match builds an equality condition.
func Match(key, value string) Condition {
	return Condition{Key: key, Value: value}
}

// Between builds a time-range condition.
func Between(key string, from, to time.Time) Condition {
	return Condition{Key: key, Range: &TimeRange{From: from, To: to}}
}

// NewFilter returns a filter over conds, or nil when conds is empty.
func NewFilter(conds ...Condition) *Filter {
	if len(conds) == 0 {
		return nil
	}
	return &Filter{Must: conds}
}

// Matches reports whether payload satisfies every condition.
func (f *Filter) Matches(payload Payload) bool {
	if f == nil {
		return true
	}
	for _, c := range f.Must {
		if !c.matches(payload) {
			return false
		}
	}
	return true
}

// Equalities returns the equality conditions as a key/value map.
func (f *Filter) Equalities() map[string]string {
	if f == nil {
		return nil
	}
	eq := make(map[string]string)
	for _, c := range f.Must {
		if c.Range == nil {
			eq[c.Key] = c.Value
		}
	}
	return eq
}

// HasRange reports whether any condition is a range.
func (f *Filter) HasRange() bool {
	if f == nil {
		return false
	}
	for _, c := range f.Must {
		if c.Range != nil {
			return true
		}
	}
	return false
}

func (c Condition) matches(payload Payload) bool {
	if c.Range == nil {
		v, ok := payload[c.Key]
		if !ok {
			return false
		}
		return fmt.Sprint(v) == c.Value
	}
	t, ok := payload.Time(c.Key)
	if !ok {
		return false
	}
	if !c.Range.From.IsZero() && t.Before(c.Range.From) {
		return false
	}
	if !c.Range.To.IsZero() && t.After(c.Range.To) {
		return false
	}
	return true
}
