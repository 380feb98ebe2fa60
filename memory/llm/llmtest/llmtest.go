// Package llmtest provides a scripted memory.TextGenerator for tests.
package llmtest

import (
	"context"
	"errors"
	"sync"

	"github.com/becomeliminal/nim-memory/memory"
)

// ErrScripted is returned by Failing generators.
var ErrScripted = errors.New("scripted failure")

// Generator replays queued replies in order; once the queue is empty it
// repeats Default. Every request is recorded.
type Generator struct {
	mu       sync.Mutex
	replies  []Reply
	Default  Reply
	requests []memory.CompletionRequest
}

// Reply is one scripted outcome.
type Reply struct {
	Text  string
	Model string
	Err   error
}

var _ memory.TextGenerator = (*Generator)(nil)

// New returns a generator answering every call with text.
func New(text string) *Generator {
	return &Generator{Default: Reply{Text: text, Model: "test-model"}}
}

// Failing returns a generator whose every call fails.
func Failing() *Generator {
	return &Generator{Default: Reply{Err: ErrScripted}}
}

// Queue appends replies to be returned before Default.
func (g *Generator) Queue(replies ...Reply) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.replies = append(g.replies, replies...)
	return g
}

func (g *Generator) Complete(_ context.Context, req memory.CompletionRequest) (*memory.Completion, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.requests = append(g.requests, req)

	reply := g.Default
	if len(g.replies) > 0 {
		reply, g.replies = g.replies[0], g.replies[1:]
	}
	if reply.Err != nil {
		return nil, &memory.GenerationError{Provider: "llmtest", Err: reply.Err}
	}
	model := reply.Model
	if model == "" {
		model = req.Model
	}
	return &memory.Completion{Text: reply.Text, Model: model}, nil
}

// Requests returns a copy of the recorded requests.
func (g *Generator) Requests() []memory.CompletionRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]memory.CompletionRequest(nil), g.requests...)
}
