//go:build onnx

// Package onnx embeds text locally with a sentence-transformer model run
// through ONNX Runtime. Build with -tags onnx.
package onnx

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/embedder/mock"
)

// Config configures the embedder.
type Config struct {
	// LibraryPath locates libonnxruntime. Empty uses the loader's search path.
	LibraryPath string `yaml:"library_path"`

	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`

	// Dimensions defaults to 384 (all-MiniLM-L6-v2).
	Dimensions int `yaml:"dimensions"`

	// MaxLength is the padded sequence length, including [CLS] and [SEP].
	MaxLength int `yaml:"max_length"`
}

// Embedder runs a BERT-style model and mean-pools its last hidden state.
type Embedder struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	tokenizer  *Tokenizer
	dimensions int
	maxLength  int
	log        *zap.Logger
}

var _ memory.Embedder = (*Embedder)(nil)

// Option configures an Embedder.
type Option func(*Embedder)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Embedder) { e.log = l.Named("onnx") }
}

var initOnce sync.Once
var initErr error

// New loads the tokenizer and model.
func New(cfg Config, opts ...Option) (*Embedder, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("onnx: model path is required")
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 384
	}
	if cfg.MaxLength == 0 {
		cfg.MaxLength = 128
	}

	initOnce.Do(func() {
		if cfg.LibraryPath != "" {
			ort.SetSharedLibraryPath(cfg.LibraryPath)
		}
		initErr = ort.InitializeEnvironment()
	})
	if initErr != nil {
		return nil, fmt.Errorf("onnx: initialize runtime: %w", initErr)
	}

	tok, err := LoadTokenizer(cfg.TokenizerPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: load tokenizer: %w", err)
	}

	session, err := ort.NewDynamicAdvancedSession(cfg.ModelPath,
		[]string{"input_ids", "attention_mask", "token_type_ids"},
		[]string{"last_hidden_state"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: create session: %w", err)
	}

	e := &Embedder{
		session:    session,
		tokenizer:  tok,
		dimensions: cfg.Dimensions,
		maxLength:  cfg.MaxLength,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log.Info("loaded model", zap.String("path", cfg.ModelPath), zap.Int("dimensions", cfg.Dimensions))
	return e, nil
}

// Embed returns the unit-length mean-pooled embedding of text.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask := e.tokenizer.Encode(text, e.maxLength)
	types := make([]int64, len(ids))

	shape := ort.NewShape(1, int64(len(ids)))
	var inputs []ort.Value
	for _, data := range [][]int64{ids, mask, types} {
		t, err := ort.NewTensor(shape, data)
		if err != nil {
			return nil, fmt.Errorf("onnx: create tensor: %w", err)
		}
		defer t.Destroy()
		inputs = append(inputs, t)
	}

	outputs := []ort.Value{nil}
	e.mu.Lock()
	err := e.session.Run(inputs, outputs)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: inference: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	out, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, errors.New("onnx: unexpected output tensor type")
	}
	vec, err := pool(out.GetData(), out.GetShape(), mask, e.dimensions)
	if err != nil {
		return nil, err
	}
	e.log.Debug("embedded text", zap.Int("tokens", countTokens(mask)))
	return mock.Normalize(vec), nil
}

func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close releases the session.
func (e *Embedder) Close() error {
	return e.session.Destroy()
}

// pool mean-pools a [1, seq, hidden] output over attended tokens. A [1, hidden]
// output is already pooled and is returned as is.
func pool(data []float32, shape ort.Shape, mask []int64, dims int) ([]float32, error) {
	switch len(shape) {
	case 2:
		if len(data) < dims {
			return nil, fmt.Errorf("onnx: output has %d values, want %d", len(data), dims)
		}
		return append([]float32(nil), data[:dims]...), nil
	case 3:
		if shape[0] != 1 || shape[2] != int64(dims) {
			return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
		}
		vec := make([]float32, dims)
		n := 0
		for i := 0; i < int(shape[1]); i++ {
			if mask[i] == 0 {
				continue
			}
			n++
			row := data[i*dims : (i+1)*dims]
			for j, v := range row {
				vec[j] += v
			}
		}
		if n > 0 {
			for j := range vec {
				vec[j] /= float32(n)
			}
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("onnx: unexpected output shape %v", shape)
	}
}

func countTokens(mask []int64) int {
	n := 0
	for _, m := range mask {
		n += int(m)
	}
	return n
}
