package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/statline-ai/statline/pkg/models"
	"gopkg.in/yaml.v3"
)

// Config holds all statline configuration.
type Config struct {
	Listen       string                `yaml:"listen"`
	DBPath       string                `yaml:"db_path"`
	Log          LogConfig             `yaml:"log"`
	Gazetteer    GazetteerConfig       `yaml:"gazetteer"`
	Season       SeasonConfig          `yaml:"season"`
	Index        IndexConfig           `yaml:"index"`
	Embedding    EmbeddingConfig       `yaml:"embedding"`
	Records      RecordsConfig         `yaml:"records"`
	Retrieval    RetrievalConfig       `yaml:"retrieval"`
	Prompt       PromptConfig          `yaml:"prompt"`
	Providers    []ProviderConfig      `yaml:"providers"`
	Router       RouterConfig          `yaml:"router"`
	DefaultModel string                `yaml:"default_model"`
	Pricing      []models.ModelPricing `yaml:"pricing"`
	Cache        CacheConfig           `yaml:"cache"`
	Retry        RetryConfig           `yaml:"retry"`
	Generation   GenerationConfig      `yaml:"generation"`
	Budget       BudgetConfig          `yaml:"budget"`
}

// LogConfig selects the zap logger flavour.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// GazetteerConfig points at the player/team name file.
type GazetteerConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
	// MaxDistance caps the fuzzy edit distance; zero keeps the
	// length-based tolerance.
	MaxDistance int `yaml:"max_distance"`
}

// SeasonConfig describes the league calendar. Season N runs from
// StartMonth/StartDay of year N-1 to EndMonth/EndDay of year N.
type SeasonConfig struct {
	StartMonth int `yaml:"start_month"`
	StartDay   int `yaml:"start_day"`
	EndMonth   int `yaml:"end_month"`
	EndDay     int `yaml:"end_day"`
}

// IndexConfig selects the embedding index backend.
type IndexConfig struct {
	Backend string        `yaml:"backend"` // "sqlite" (default) or "milvus"
	Path    string        `yaml:"path"`
	Timeout time.Duration `yaml:"timeout"`
	Milvus  MilvusConfig  `yaml:"milvus"`
}

// MilvusConfig holds connection details for a Milvus collection.
type MilvusConfig struct {
	Address     string `yaml:"address"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Collection  string `yaml:"collection"`
	VectorField string `yaml:"vector_field"`
}

// EmbeddingConfig selects how query text becomes a vector.
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // "hash" (default), "openai" or "genai"
	Model      string `yaml:"model"`
	APIKey     string `yaml:"api_key"`
	URL        string `yaml:"url"`
	Dimensions int    `yaml:"dimensions"`
}

// RecordsConfig controls the structured record store and its read cache.
type RecordsConfig struct {
	Path      string        `yaml:"path"`
	CacheSize int           `yaml:"cache_size"`
	CacheTTL  time.Duration `yaml:"cache_ttl"`
}

// RetrievalConfig controls evidence budgeting.
type RetrievalConfig struct {
	EvidenceBudget int                           `yaml:"evidence_budget"`
	Weights        map[models.SourceType]float64 `yaml:"weights"`
	Timeout        time.Duration                 `yaml:"timeout"`
}

// PromptConfig controls prompt assembly.
type PromptConfig struct {
	ContextTokens   int    `yaml:"context_tokens"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	Encoding        string `yaml:"encoding"`
	// MaxQueryBytes bounds the question text accepted by ask.
	MaxQueryBytes int `yaml:"max_query_bytes"`
}

// ProviderConfig defines an upstream LLM provider.
// Type is "openai" (default) or "anthropic".
type ProviderConfig struct {
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
	Type   string `yaml:"type"`
}

// RouterConfig defines model routing and fallback chains.
type RouterConfig struct {
	Routes []RouteConfig `yaml:"routes"`
}

// RouteConfig maps a client-facing model alias to an ordered list of targets.
type RouteConfig struct {
	Model   string        `yaml:"model"`
	Targets []RouteTarget `yaml:"targets"`
}

// RouteTarget identifies a specific provider and model in a fallback chain.
type RouteTarget struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Backend    string        `yaml:"backend"` // "memory" (default), "sqlite" or "redis"
	TTL        time.Duration `yaml:"ttl"`
	MaxEntries int           `yaml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis"`
}

// RedisConfig holds connection details for the shared cache tier.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RetryConfig is the bounded retry policy for transient provider errors.
type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BackoffBase time.Duration `yaml:"backoff_base"`
	MaxBackoff  time.Duration `yaml:"max_backoff"`
}

// GenerationConfig bounds each model call.
type GenerationConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// BudgetConfig controls spend enforcement.
type BudgetConfig struct {
	Enabled  bool                  `yaml:"enabled"`
	Policies []models.BudgetPolicy `yaml:"policies"`
}

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Listen: ":8080",
		DBPath: "statline.db",
		Log: LogConfig{
			Level: "info",
		},
		Season: SeasonConfig{
			StartMonth: 10,
			StartDay:   1,
			EndMonth:   6,
			EndDay:     30,
		},
		Index: IndexConfig{
			Backend: "sqlite",
			Timeout: 3 * time.Second,
			Milvus: MilvusConfig{
				Collection:  "statline_evidence",
				VectorField: "embedding",
			},
		},
		Embedding: EmbeddingConfig{
			Provider:   "hash",
			Dimensions: 256,
		},
		Records: RecordsConfig{
			CacheSize: 1024,
			CacheTTL:  10 * time.Minute,
		},
		Retrieval: RetrievalConfig{
			EvidenceBudget: 10,
			Weights: map[models.SourceType]float64{
				models.SourcePlayer: 0.4,
				models.SourceGame:   0.3,
				models.SourcePlay:   0.3,
			},
			Timeout: 3 * time.Second,
		},
		Prompt: PromptConfig{
			ContextTokens:   4096,
			MaxOutputTokens: 512,
			Encoding:        "cl100k_base",
			MaxQueryBytes:   2048,
		},
		DefaultModel: "gpt-4o-mini",
		Cache: CacheConfig{
			Enabled:    true,
			Backend:    "memory",
			TTL:        time.Hour,
			MaxEntries: 1024,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "statline:",
			},
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BackoffBase: 200 * time.Millisecond,
			MaxBackoff:  5 * time.Second,
		},
		Generation: GenerationConfig{
			Timeout: 60 * time.Second,
		},
	}
}

// Load reads a YAML config file and expands environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail deep inside the pipeline.
func (c *Config) Validate() error {
	var errs []error
	if c.Retrieval.EvidenceBudget < 0 {
		errs = append(errs, fmt.Errorf("retrieval.evidence_budget must be >= 0, got %d", c.Retrieval.EvidenceBudget))
	}
	var sum float64
	for st, w := range c.Retrieval.Weights {
		if models.SourceRank(st) == len(models.SourceTypes) {
			errs = append(errs, fmt.Errorf("retrieval.weights: unknown source type %q", st))
		}
		if w < 0 {
			errs = append(errs, fmt.Errorf("retrieval.weights[%s] must be >= 0", st))
		}
		sum += w
	}
	if sum <= 0 {
		errs = append(errs, errors.New("retrieval.weights must not sum to zero"))
	}
	if c.Prompt.ContextTokens <= 0 {
		errs = append(errs, fmt.Errorf("prompt.context_tokens must be > 0, got %d", c.Prompt.ContextTokens))
	}
	if c.Prompt.MaxQueryBytes < 0 {
		errs = append(errs, fmt.Errorf("prompt.max_query_bytes must be >= 0, got %d", c.Prompt.MaxQueryBytes))
	}
	if c.Gazetteer.MaxDistance < 0 {
		errs = append(errs, fmt.Errorf("gazetteer.max_distance must be >= 0, got %d", c.Gazetteer.MaxDistance))
	}
	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts))
	}
	switch c.Index.Backend {
	case "sqlite", "milvus":
	default:
		errs = append(errs, fmt.Errorf("index.backend: unknown backend %q", c.Index.Backend))
	}
	switch c.Embedding.Provider {
	case "hash", "openai", "genai":
	default:
		errs = append(errs, fmt.Errorf("embedding.provider: unknown provider %q", c.Embedding.Provider))
	}
	switch c.Cache.Backend {
	case "memory", "sqlite", "redis":
	default:
		errs = append(errs, fmt.Errorf("cache.backend: unknown backend %q", c.Cache.Backend))
	}
	for _, p := range c.Providers {
		switch p.Type {
		case "", "openai", "anthropic":
		default:
			errs = append(errs, fmt.Errorf("providers[%s]: unknown type %q", p.Name, p.Type))
		}
	}
	return errors.Join(errs...)
}

// IndexPath returns the index database path, defaulting to the main database.
func (c *Config) IndexPath() string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return c.DBPath
}

// RecordsPath returns the record store path, defaulting to the main database.
func (c *Config) RecordsPath() string {
	if c.Records.Path != "" {
		return c.Records.Path
	}
	return c.DBPath
}
