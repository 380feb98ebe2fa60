package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func env(vars map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := vars[k]
		return v, ok
	}
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "memory.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaults(t *testing.T) {
	cfg, err := load("", env(nil))
	require.NoError(t, err)
	assert.Equal(t, BackendChromem, cfg.Backend)
	assert.Equal(t, "mock", cfg.Embedder.Provider)
	assert.Equal(t, "none", cfg.Generator.Provider)
	assert.Equal(t, "exact_storage", cfg.Exact.Collection)
	assert.Equal(t, "memory_tags", cfg.Tags.Collection)
	assert.Equal(t, 384, cfg.Exact.VectorSize)
	assert.Equal(t, 0.7, cfg.Summary.Temperature)
	assert.Equal(t, 10, cfg.Commentary.MaxCandidates)
}

func TestLoadFileAndEnv(t *testing.T) {
	path := writeFile(t, `
backend: sqlite
data_dir: ${DATA_ROOT:-/tmp/fallback}/memory
embedder:
  provider: ollama
  dimensions: 768
generator:
  provider: anthropic
  model: claude-test
summary:
  temperature: 0.2
tags:
  scan_batch: 50
`)
	cfg, err := load(path, env(map[string]string{
		"ANTHROPIC_API_KEY": "sk-test",
		"MEMORY_LOG_LEVEL":  "debug",
	}))
	require.NoError(t, err)

	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, "/tmp/fallback/memory", cfg.DataDir)
	assert.Equal(t, 768, cfg.Exact.VectorSize)
	assert.Equal(t, 768, cfg.Tags.VectorSize)
	assert.Equal(t, 50, cfg.Tags.ScanBatch)
	assert.Equal(t, 100, cfg.Tags.MaxTagsPerMemory, "unset fields keep defaults")
	assert.Equal(t, "claude-test", cfg.Generator.Model)
	assert.Equal(t, "sk-test", cfg.Generator.AnthropicKey)
	assert.Equal(t, 0.2, cfg.Summary.Temperature)
	assert.Equal(t, 500, cfg.Summary.MaxTokens)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeFile(t, "backend: sqlite\n")
	cfg, err := load(path, env(map[string]string{
		"MEMORY_BACKEND":              "local",
		"MEMORY_EMBEDDING_DIMENSIONS": "32",
	}))
	require.NoError(t, err)
	assert.Equal(t, BackendLocal, cfg.Backend)
	assert.Equal(t, 32, cfg.Exact.VectorSize)
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		env  map[string]string
	}{
		{name: "unknown backend", yaml: "backend: qdrant\n"},
		{name: "unknown generator", yaml: "generator:\n  provider: bard\n"},
		{name: "bad log format", yaml: "log:\n  format: xml\n"},
		{name: "openai embedder without key", yaml: "embedder:\n  provider: openai\n"},
		{name: "onnx without model", yaml: "embedder:\n  provider: onnx\n"},
		{name: "min similarity out of range", yaml: "manager:\n  min_similarity: 2\n"},
		{name: "unresolved variable", yaml: "data_dir: ${NOPE}\n"},
		{name: "bad dimensions env", yaml: "", env: map[string]string{"MEMORY_EMBEDDING_DIMENSIONS": "many"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(writeFile(t, tt.yaml), env(tt.env))
			assert.Error(t, err)
		})
	}
}

func TestNewLogger(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		l, err := NewLogger("warn", format)
		require.NoError(t, err)
		assert.False(t, l.Core().Enabled(-1), "debug disabled at warn")
	}
	_, err := NewLogger("loud", "json")
	assert.Error(t, err)
}
