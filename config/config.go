package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the image search tool.
type Config struct {
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Cache     CacheConfig     `yaml:"cache"`
	Describe  DescribeConfig  `yaml:"describe"`
	Scan      ScanConfig      `yaml:"scan"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// EmbeddingConfig holds encoder configuration.
type EmbeddingConfig struct {
	Provider  string        `yaml:"provider"`    // "jina", "openai-compatible", "histogram"
	Model     string        `yaml:"model"`       // e.g., "jina-clip-v2"
	BaseURL   string        `yaml:"base_url"`    // required for "openai-compatible"
	APIKeyEnv string        `yaml:"api_key_env"` // Environment variable for API key
	Dimension int           `yaml:"dimension"`   // requested output size, 0 = server default
	Timeout   time.Duration `yaml:"timeout"`
	RateLimit float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
}

// IndexConfig holds indexing configuration.
type IndexConfig struct {
	Includes  []string `yaml:"includes"`
	Excludes  []string `yaml:"excludes"`
	BatchSize int      `yaml:"batch_size"`
}

// SearchConfig holds similarity search configuration.
type SearchConfig struct {
	Threshold         float64       `yaml:"threshold"`
	HybridMinScore    float64       `yaml:"hybrid_min_score"`
	HybridBoost       float64       `yaml:"hybrid_boost"`
	HybridSingleMatch string        `yaml:"hybrid_single_match"` // "score" or "mean"
	FallbackTopN      int           `yaml:"fallback_top_n"`
	FallbackEpsilon   float64       `yaml:"fallback_epsilon"`
	CacheSize         int           `yaml:"cache_size"` // 0 disables the result cache
	CacheTTL          time.Duration `yaml:"cache_ttl"`
}

// CacheConfig selects where the embedding snapshot is persisted.
type CacheConfig struct {
	Backend string `yaml:"backend"` // "json", "bolt", "sqlite"
	Path    string `yaml:"path"`    // empty = backend default in the working directory
}

// DescribeConfig holds zero-shot labelling configuration.
type DescribeConfig struct {
	Labels []string `yaml:"labels"`
	TopK   int      `yaml:"top_k"`
}

// ScanConfig holds project scanner defaults.
type ScanConfig struct {
	ExcludeFolders    []string `yaml:"exclude_folders"`
	ExcludeExtensions []string `yaml:"exclude_extensions"`
	ExcludeFiles      []string `yaml:"exclude_files"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

const (
	DefaultJSONCache   = "image_features_cache.json"
	DefaultBoltCache   = "image_features_cache.db"
	DefaultSQLiteCache = "image_features_cache.sqlite"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			Includes:  []string{"**/*.png", "**/*.jpg", "**/*.jpeg", "**/*.gif"},
			Excludes:  []string{"**/.git/**", "**/node_modules/**", "**/.imgsearch/**"},
			BatchSize: 32,
		},
		Search: SearchConfig{
			Threshold:         0.15,
			HybridMinScore:    0.3,
			HybridBoost:       1.5,
			HybridSingleMatch: "score",
			FallbackTopN:      5,
			FallbackEpsilon:   0.01,
			CacheSize:         100,
			CacheTTL:          5 * time.Minute,
		},
		Embedding: EmbeddingConfig{
			Provider:  "histogram",
			Model:     "jina-clip-v2",
			APIKeyEnv: "JINA_API_KEY",
			Timeout:   60 * time.Second,
			RateLimit: 0,
		},
		Cache: CacheConfig{
			Backend: "json",
		},
		Describe: DescribeConfig{
			Labels: []string{
				"a photo of a person", "a landscape", "an animal", "food", "a building",
				"a vehicle", "clothing", "technology", "art", "text or writing",
			},
			TopK: 3,
		},
		Scan: ScanConfig{
			ExcludeFolders:    []string{".git", "__pycache__", "venv", "node_modules"},
			ExcludeExtensions: []string{".pyc", ".pyo", ".pyd", ".pdf", ".json", ".md"},
			ExcludeFiles:      []string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for imgsearch.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "imgsearch.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".imgsearch", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// CachePath returns the snapshot location for the configured backend,
// resolved against dir when relative.
func (c *Config) CachePath(dir string) string {
	path := c.Cache.Path
	if path == "" {
		switch c.Cache.Backend {
		case "bolt":
			path = DefaultBoltCache
		case "sqlite":
			path = DefaultSQLiteCache
		default:
			path = DefaultJSONCache
		}
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(dir, path)
}
