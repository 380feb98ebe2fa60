// Package llm holds text generator plumbing shared by the provider
// subpackages: the null generator and a circuit breaker.
package llm

import (
	"context"
	"fmt"

	"github.com/becomeliminal/nim-memory/memory"
)

// Unavailable is the generator used when no provider is configured. Every
// call fails with memory.ErrGenerationUnavailable, which the summary and
// commentary layers turn into mock output.
type Unavailable struct {
	// Reason is reported in the error, e.g. "OPENAI_API_KEY not set".
	Reason string
}

var _ memory.TextGenerator = Unavailable{}

func (u Unavailable) Complete(context.Context, memory.CompletionRequest) (*memory.Completion, error) {
	err := memory.ErrGenerationUnavailable
	if u.Reason != "" {
		err = fmt.Errorf("%w: %s", err, u.Reason)
	}
	return nil, &memory.GenerationError{Provider: "none", Err: err}
}
