// Package config loads memoryctl configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-memory/memory"
	"github.com/becomeliminal/nim-memory/memory/commentary"
	"github.com/becomeliminal/nim-memory/memory/embedder/cache"
	"github.com/becomeliminal/nim-memory/memory/exact"
	"github.com/becomeliminal/nim-memory/memory/summary"
	"github.com/becomeliminal/nim-memory/memory/tags"
)

// Backends.
const (
	BackendMemory  = "memory"
	BackendChromem = "chromem"
	BackendSQLite  = "sqlite"
	BackendLocal   = "local"
)

// Config is the full memoryctl configuration.
type Config struct {
	// Backend selects the vector index, or "local" for the filesystem
	// fallback with no index at all.
	Backend string `yaml:"backend" validate:"oneof=memory chromem sqlite local"`

	// DataDir holds the chromem database, the SQLite file and the local
	// store.
	DataDir string `yaml:"data_dir" validate:"required"`

	// Compress gzips chromem's persisted files.
	Compress bool `yaml:"compress"`

	Log        LogConfig         `yaml:"log"`
	Embedder   EmbedderConfig    `yaml:"embedder"`
	Generator  GeneratorConfig   `yaml:"generator"`
	Metrics    MetricsConfig     `yaml:"metrics"`
	Exact      exact.Config      `yaml:"exact"`
	Tags       tags.Config       `yaml:"tags"`
	Summary    summary.Config    `yaml:"summary"`
	Commentary commentary.Config `yaml:"commentary"`
	Manager    memory.Config     `yaml:"manager"`
}

// LogConfig configures the zap logger.
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=console json"`
}

// EmbedderConfig selects how text is embedded.
type EmbedderConfig struct {
	Provider   string       `yaml:"provider" validate:"oneof=mock openai ollama onnx"`
	Model      string       `yaml:"model"`
	Dimensions int          `yaml:"dimensions" validate:"gte=1"`
	Cache      bool         `yaml:"cache"`
	CacheSize  cache.Config `yaml:"cache_size"`

	// ONNX model files, used when Provider is "onnx".
	ONNXModel     string `yaml:"onnx_model"`
	ONNXTokenizer string `yaml:"onnx_tokenizer"`
	ONNXLibrary   string `yaml:"onnx_library"`
}

// GeneratorConfig selects the text generator behind Layers 3 and 4.
type GeneratorConfig struct {
	Provider string `yaml:"provider" validate:"oneof=none anthropic openai ollama gemini"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url" validate:"omitempty,url"`

	// Breaker wraps the generator in a circuit breaker.
	Breaker bool `yaml:"breaker"`

	// Credentials come from the environment only.
	OpenAIKey    string `yaml:"-"`
	AnthropicKey string `yaml:"-"`
	GeminiKey    string `yaml:"-"`
	OllamaHost   string `yaml:"ollama_host"`
}

// MetricsConfig configures Prometheus exposition.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
	Addr      string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendChromem,
		DataDir: defaultDataDir(),
		Log:     LogConfig{Level: "info", Format: "console"},
		Embedder: EmbedderConfig{
			Provider:   "mock",
			Dimensions: 384,
			CacheSize:  cache.DefaultConfig(),
		},
		Generator:  GeneratorConfig{Provider: "none", Breaker: true},
		Metrics:    MetricsConfig{Namespace: "nim_memory", Addr: ":9464"},
		Exact:      exact.DefaultConfig(),
		Tags:       tags.DefaultConfig(),
		Summary:    summary.DefaultConfig(),
		Commentary: commentary.DefaultConfig(),
		Manager:    *memory.DefaultConfig,
	}
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".nim-memory"
	}
	return filepath.Join(home, ".nim-memory")
}

// Load reads path over the defaults (an empty path skips the file), applies
// environment overrides and validates the result.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading %s: %w", path, err)
		}
		expanded, err := expandEnv(raw, lookup)
		if err != nil {
			return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
		}
		if err := yaml.Unmarshal(expanded, cfg); err != nil {
			return nil, fmt.Errorf("config: parsing %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}

	// The stores' vectors are whatever the embedder produces.
	cfg.Exact.VectorSize = cfg.Embedder.Dimensions
	cfg.Tags.VectorSize = cfg.Embedder.Dimensions

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"MEMORY_BACKEND":      &c.Backend,
		"MEMORY_DATA_DIR":     &c.DataDir,
		"MEMORY_LOG_LEVEL":    &c.Log.Level,
		"MEMORY_LOG_FORMAT":   &c.Log.Format,
		"MEMORY_EMBEDDER":     &c.Embedder.Provider,
		"MEMORY_GENERATOR":    &c.Generator.Provider,
		"MEMORY_MODEL":        &c.Generator.Model,
		"MEMORY_METRICS_ADDR": &c.Metrics.Addr,
		"OPENAI_API_KEY":      &c.Generator.OpenAIKey,
		"ANTHROPIC_API_KEY":   &c.Generator.AnthropicKey,
		"GEMINI_API_KEY":      &c.Generator.GeminiKey,
		"OLLAMA_HOST":         &c.Generator.OllamaHost,
	}
	for name, dst := range str {
		if v, ok := lookup(name); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("MEMORY_EMBEDDING_DIMENSIONS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("config: MEMORY_EMBEDDING_DIMENSIONS: %w", err)
		}
		c.Embedder.Dimensions = n
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints and provider credentials.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	var errs []error
	if c.Embedder.Provider == "openai" && c.Generator.OpenAIKey == "" {
		errs = append(errs, errors.New("embedder openai requires OPENAI_API_KEY"))
	}
	if c.Embedder.Provider == "onnx" && c.Embedder.ONNXModel == "" {
		errs = append(errs, errors.New("embedder onnx requires onnx_model"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// NewLogger builds a zap logger. "console" gives a development encoder,
// "json" a production one.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("config: log level: %w", err)
	}

	var zc zap.Config
	if format == "json" {
		zc = zap.NewProductionConfig()
	} else {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.OutputPaths = []string{"stderr"}
	zc.ErrorOutputPaths = []string{"stderr"}
	return zc.Build()
}

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// expandEnv replaces ${VAR} and ${VAR:-default} in raw YAML. Variables with
// neither a value nor a default are reported together.
func expandEnv(raw []byte, lookup func(string) (string, bool)) ([]byte, error) {
	var errs []error
	out := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		if v, ok := lookup(name); ok {
			return []byte(v)
		}
		if subs[2] != nil {
			return subs[2]
		}
		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})
	return out, errors.Join(errs...)
}
