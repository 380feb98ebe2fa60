//go:build !onnx

package main

import (
	"errors"

	"github.com/becomeliminal/nim-memory/memory"
)

func newONNXEmbedder(*app) (memory.Embedder, error) {
	return nil, errors.New("memoryctl was built without ONNX support; rebuild with -tags onnx")
}
