package onnx

import (
	"encoding/json"
	"os"
	"strings"
	"unicode"
)

// Special token IDs of the uncased BERT vocabulary.
const (
	padID = 0
	unkID = 100
	clsID = 101
	sepID = 102
)

// Tokenizer is a lowercase WordPiece tokenizer loaded from a Hugging Face
// tokenizer.json.
type Tokenizer struct {
	vocab map[string]int
}

// NewTokenizer builds a tokenizer from a vocabulary.
func NewTokenizer(vocab map[string]int) *Tokenizer {
	return &Tokenizer{vocab: vocab}
}

// LoadTokenizer reads model.vocab from a tokenizer.json file.
func LoadTokenizer(path string) (*Tokenizer, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var file struct {
		Model struct {
			Vocab map[string]int `json:"vocab"`
		} `json:"model"`
	}
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, err
	}
	return NewTokenizer(file.Model.Vocab), nil
}

// Encode returns padded input IDs and the attention mask, both of length
// maxLen, framed by [CLS] and [SEP].
func (t *Tokenizer) Encode(text string, maxLen int) (ids, mask []int64) {
	ids = make([]int64, maxLen)
	mask = make([]int64, maxLen)

	tokens := t.Tokenize(text)
	if len(tokens) > maxLen-2 {
		tokens = tokens[:maxLen-2]
	}
	ids[0], mask[0] = clsID, 1
	for i, tok := range tokens {
		ids[i+1], mask[i+1] = tok, 1
	}
	ids[len(tokens)+1], mask[len(tokens)+1] = sepID, 1
	for i := len(tokens) + 2; i < maxLen; i++ {
		ids[i] = padID
	}
	return ids, mask
}

// Tokenize splits lowercased text on whitespace and punctuation and maps each
// word to its greedy longest-match WordPiece IDs.
func (t *Tokenizer) Tokenize(text string) []int64 {
	var out []int64
	for _, word := range splitWords(strings.ToLower(text)) {
		if id, ok := t.vocab[word]; ok {
			out = append(out, int64(id))
			continue
		}
		out = append(out, t.wordPiece(word)...)
	}
	return out
}

func (t *Tokenizer) wordPiece(word string) []int64 {
	var out []int64
	runes := []rune(word)
	for start := 0; start < len(runes); {
		end := len(runes)
		for ; end > start; end-- {
			piece := string(runes[start:end])
			if start > 0 {
				piece = "##" + piece
			}
			if id, ok := t.vocab[piece]; ok {
				out = append(out, int64(id))
				break
			}
		}
		if end == start {
			// No piece matches; the whole word is unknown.
			return []int64{unkID}
		}
		start = end
	}
	return out
}

func splitWords(s string) []string {
	var words []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			words = append(words, cur.String())
			cur.Reset()
		}
	}
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			flush()
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			flush()
			words = append(words, string(r))
		default:
			cur.WriteRune(r)
		}
	}
	flush()
	return words
}
