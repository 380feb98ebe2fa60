package memory

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Truncate shortens s to at most n runes, appending "..." when it was cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

// Prefix returns the first n runes of s.
func Prefix(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// FormatTagLines renders tags one per line as "- type: value".
func FormatTagLines(tags []Tag) string {
	lines := make([]string, 0, len(tags))
	for _, t := range tags {
		lines = append(lines, "- "+t.String())
	}
	return strings.Join(lines, "\n")
}

// FormatTagList renders tags on one line as "type: value, type: value".
func FormatTagList(tags []Tag) string {
	parts := make([]string, 0, len(tags))
	for _, t := range tags {
		parts = append(parts, t.String())
	}
	return strings.Join(parts, ", ")
}

// FormatForPrompt renders a numbered memory block for multi-memory prompts.
func (m *Memory) FormatForPrompt(n int) string {
	s := fmt.Sprintf("Memory %d:\n%s", n, m.Content)
	if len(m.Tags) > 0 {
		s += "\nTags: " + FormatTagList(m.Tags)
	}
	return s
}

// ParseJSONArray decodes the first JSON array found in text into v, skipping
// any prose around it. It reports false when no array could be decoded.
func ParseJSONArray(text string, v any) bool {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return false
	}
	return json.Unmarshal([]byte(text[start:end+1]), v) == nil
}
