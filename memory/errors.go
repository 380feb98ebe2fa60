package memory

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a memory does not exist.
	ErrNotFound = errors.New("memory not found")

	// ErrGenerationUnavailable means no text generator is configured.
	ErrGenerationUnavailable = errors.New("text generation unavailable")

	// ErrNoEmbedder is returned when content must be embedded but no
	// Embedder was configured.
	ErrNoEmbedder = errors.New("no embedder configured")
)

// StorageError wraps a failure of the backing vector index.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// GenerationError wraps a failure of a text generator.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation (%s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// IsStorageError reports whether err is or wraps a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
