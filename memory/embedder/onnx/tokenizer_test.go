package onnx

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func testVocab() map[string]int {
	return map[string]int{
		"[PAD]": 0, "[UNK]": 100, "[CLS]": 101, "[SEP]": 102,
		"the": 1996, "fox": 4419, "jump": 5376, "##s": 2015, ".": 1012,
	}
}

func TestTokenize(t *testing.T) {
	tok := NewTokenizer(testVocab())

	assert.Equal(t, []int64{1996, 4419, 5376, 2015, 1012}, tok.Tokenize("The fox jumps."))
	assert.Equal(t, []int64{unkID}, tok.Tokenize("zzz"))
	assert.Empty(t, tok.Tokenize("   "))
}

func TestEncode(t *testing.T) {
	tok := NewTokenizer(testVocab())

	ids, mask := tok.Encode("the fox", 6)
	assert.Equal(t, []int64{clsID, 1996, 4419, sepID, 0, 0}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1, 0, 0}, mask)

	// Long input is truncated to leave room for [CLS] and [SEP].
	ids, mask = tok.Encode("the the the the the", 4)
	assert.Equal(t, []int64{clsID, 1996, 1996, sepID}, ids)
	assert.Equal(t, []int64{1, 1, 1, 1}, mask)
}
