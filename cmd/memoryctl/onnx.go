//go:build onnx

package main

import (
	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/onnx"
)

func newONNXEmbedder(a *app) (memory.Embedder, error) {
	e, err := onnx.New(onnx.Config{
		LibraryPath:   a.cfg.Embedder.ONNXLibrary,
		ModelPath:     a.cfg.Embedder.ONNXModel,
		TokenizerPath: a.cfg.Embedder.ONNXTokenizer,
		Dimensions:    a.cfg.Embedder.Dimensions,
	}, onnx.WithLogger(a.log))
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, e.Close)
	return e, nil
}
