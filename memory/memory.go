package memory

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Defaults shared by the layers.
const (
	DefaultContentType = "text"
	DefaultSource      = "user"
	DefaultTagType     = "general"
	DefaultTagScore    = 1.0

	// MockModel marks generated text produced without a language model.
	MockModel = "mock"
)

// Memory is a stored piece of content (Layer 1). Tags and Score are only
// populated on joined reads and search results.
type Memory struct {
	ID          string         `json:"memory_id"`
	Content     string         `json:"content"`
	ContentHash string         `json:"content_hash"`
	Embedding   []float32      `json:"-"`
	ContentType string         `json:"content_type"`
	Source      string         `json:"source"`
	Timestamp   time.Time      `json:"timestamp"`
	Metadata    map[string]any `json:"metadata,omitempty"`

	Tags  []Tag   `json:"tags,omitempty"`
	Score float64 `json:"score,omitempty"`
}

// NewID returns a fresh memory identifier.
func NewID() string {
	return "memory_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ContentHash returns the hex SHA-256 of content, used for duplicate detection.
func ContentHash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Tag is a (type, value, score) annotation attached to a memory (Layer 2).
// Extra carries any additional fields through storage verbatim.
type Tag struct {
	ID       string
	MemoryID string
	Type     string
	Value    string
	Score    float64
	Extra    map[string]any
}

// NewTag returns a tag with the default score.
func NewTag(tagType, value string) Tag {
	return Tag{Type: tagType, Value: value, Score: DefaultTagScore}
}

// Valid reports whether the tag has both a type and a value.
func (t Tag) Valid() bool {
	return t.Type != "" && t.Value != ""
}

// String renders the tag as "type: value".
func (t Tag) String() string {
	return t.Type + ": " + t.Value
}

var tagKeys = map[string]bool{"tag_id": true, "memory_id": true, "type": true, "value": true, "score": true}

// MarshalJSON flattens Extra next to the known fields.
func (t Tag) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(t.Extra)+5)
	for k, v := range t.Extra {
		if !tagKeys[k] {
			m[k] = v
		}
	}
	if t.ID != "" {
		m["tag_id"] = t.ID
	}
	if t.MemoryID != "" {
		m["memory_id"] = t.MemoryID
	}
	m["type"] = t.Type
	m["value"] = t.Value
	m["score"] = t.Score
	return json.Marshal(m)
}

// UnmarshalJSON accepts the flattened form. A missing score defaults to 1.0.
func (t *Tag) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	*t = Tag{Score: DefaultTagScore}
	for k, v := range m {
		switch k {
		case "tag_id":
			t.ID, _ = v.(string)
		case "memory_id":
			t.MemoryID, _ = v.(string)
		case "type":
			t.Type, _ = v.(string)
		case "value":
			t.Value, _ = v.(string)
		case "score":
			if f, ok := v.(float64); ok {
				t.Score = f
			}
		default:
			if t.Extra == nil {
				t.Extra = make(map[string]any)
			}
			t.Extra[k] = v
		}
	}
	return nil
}

// SummaryType selects the flavour of a Layer 3 summary.
type SummaryType string

const (
	SummaryGeneral    SummaryType = "general"
	SummaryTechnical  SummaryType = "technical"
	SummaryConceptual SummaryType = "conceptual"
)

// SummaryTypes lists every summary type in generation order.
var SummaryTypes = []SummaryType{SummaryGeneral, SummaryTechnical, SummaryConceptual}

// Summary is generated text about one memory (Layer 3). Summaries are not
// persisted by the summary layer.
type Summary struct {
	MemoryID  string      `json:"memory_id"`
	Type      SummaryType `json:"summary_type"`
	Text      string      `json:"summary_text"`
	Model     string      `json:"model"`
	Timestamp time.Time   `json:"timestamp"`
}

// CommentaryType selects the flavour of a Layer 4 meta-commentary.
type CommentaryType string

const (
	CommentaryConnections  CommentaryType = "connections"
	CommentaryPatterns     CommentaryType = "patterns"
	CommentaryImplications CommentaryType = "implications"
)

// CommentaryTypes lists every commentary type in generation order.
var CommentaryTypes = []CommentaryType{CommentaryConnections, CommentaryPatterns, CommentaryImplications}

// MetaCommentary is generated text about a group of memories (Layer 4).
// ID is assigned when the commentary is archived.
type MetaCommentary struct {
	ID        string         `json:"meta_id,omitempty"`
	MemoryIDs []string       `json:"memory_ids"`
	Type      CommentaryType `json:"commentary_type"`
	Text      string         `json:"commentary_text"`
	Model     string         `json:"model"`
	Timestamp time.Time      `json:"timestamp"`
}

// Analysis is a free-form analysis of a piece of content.
type Analysis struct {
	Content   string    `json:"content"`
	Text      string    `json:"analysis_text"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Relationship is generated text about how two memories relate.
type Relationship struct {
	MemoryID1 string    `json:"memory_id1"`
	MemoryID2 string    `json:"memory_id2"`
	Text      string    `json:"analysis_text"`
	Model     string    `json:"model"`
	Timestamp time.Time `json:"timestamp"`
}

// Connection is a suggested link from a target memory to a candidate.
type Connection struct {
	MemoryID    string  `json:"memory_id"`
	Explanation string  `json:"explanation"`
	Score       float64 `json:"score"`
}

// SearchOptions narrows a similarity search. Zero values disable a filter.
type SearchOptions struct {
	Limit       int
	ContentType string
	Source      string
	Start       time.Time
	End         time.Time
}

// ListOptions pages through stored memories.
type ListOptions struct {
	Limit       int
	Cursor      string
	ContentType string
	Source      string
}

// Embedder converts text to vector embeddings.
// Implementations: mock (testing), onnx (local model), openai, ollama; the
// cache package wraps any of them.
type Embedder interface {
	// Embed converts a single text to embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns embedding vector size.
	Dimensions() int
}

// CompletionRequest is a single system+user prompt exchange.
type CompletionRequest struct {
	System      string
	Prompt      string
	Model       string // empty selects the generator's default
	Temperature float64
	MaxTokens   int
}

// Completion is generated text and the model that produced it.
type Completion struct {
	Text  string
	Model string
}

// TextGenerator produces text from a prompt. Failures, including a missing
// credential, are reported as *GenerationError.
type TextGenerator interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// ExactStore persists raw memories with their embeddings (Layer 1).
type ExactStore interface {
	Store(ctx context.Context, content string, embedding []float32, contentType, source string, metadata map[string]any) (string, error)
	CheckDuplicate(ctx context.Context, content string) (string, error)
	Get(ctx context.Context, memoryID string) (*Memory, error)
	Delete(ctx context.Context, memoryID string) (bool, error)
	SearchSimilar(ctx context.Context, embedding []float32, opts SearchOptions) ([]Memory, error)
	ListAll(ctx context.Context, opts ListOptions) ([]Memory, string, error)
	Count(ctx context.Context, contentType, source string) (int, error)
}

// TagStore persists tags keyed by memory ID (Layer 2).
type TagStore interface {
	AddTags(ctx context.Context, memoryID string, tags []Tag, embedding []float32) (bool, error)
	GetTags(ctx context.Context, memoryID string) ([]Tag, error)
	SearchByTag(ctx context.Context, tagType, tagValue string) ([]string, error)
	MemoriesWithAllTags(ctx context.Context, tags []Tag) ([]string, error)
	MemoriesWithAnyTag(ctx context.Context, tags []Tag) ([]string, error)
	DeleteTags(ctx context.Context, memoryID string) (bool, error)
	AllTagTypes(ctx context.Context) ([]string, error)
	TagValues(ctx context.Context, tagType string) ([]string, error)
	AllTags(ctx context.Context) ([]Tag, error)
}

// Summarizer produces Layer 3 text. It never returns errors: generation
// failures degrade to mock output or nil.
type Summarizer interface {
	GenerateSummary(ctx context.Context, mem *Memory, summaryType SummaryType) *Summary
	GenerateMultipleSummaries(ctx context.Context, mem *Memory) map[SummaryType]*Summary
	SuggestTags(ctx context.Context, content string) []Tag
	AnalyzeContent(ctx context.Context, content, background string) *Analysis
}

// Commentator produces Layer 4 text about groups of memories.
type Commentator interface {
	GenerateMetaCommentary(ctx context.Context, memories []Memory, commentaryType CommentaryType) *MetaCommentary
	GenerateMultipleCommentaries(ctx context.Context, memories []Memory) map[CommentaryType]*MetaCommentary
	AnalyzeRelationship(ctx context.Context, a, b *Memory) *Relationship
	SuggestNewConnections(ctx context.Context, target *Memory, candidates []Memory, maxConnections int) []Connection
}

// CommentaryArchive persists meta-commentaries.
type CommentaryArchive interface {
	SaveMetaCommentary(ctx context.Context, mc *MetaCommentary) error
	MetaCommentariesFor(ctx context.Context, memoryID string) ([]MetaCommentary, error)
}
