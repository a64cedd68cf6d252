// Package config loads codeintel settings from a TOML file, CODEINTEL_*
// environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
)

const (
	// DefaultFileName is the config file looked up in the project root
	DefaultFileName = ".codeintel.toml"

	// DefaultIndexDir is the index directory relative to the project root
	DefaultIndexDir = ".codeintel"

	envPrefix = "CODEINTEL"
)

// Config is the complete codeintel configuration
type Config struct {
	IndexDir        string   `mapstructure:"index_dir" toml:"index_dir"`
	MaxChunkSize    int      `mapstructure:"max_chunk_size" toml:"max_chunk_size"`
	MinChunkSize    int      `mapstructure:"min_chunk_size" toml:"min_chunk_size"`
	VectorWeight    float64  `mapstructure:"vector_weight" toml:"vector_weight"`
	DefaultLimit    int      `mapstructure:"default_limit" toml:"default_limit"`
	ExcludePatterns []string `mapstructure:"exclude_patterns" toml:"exclude_patterns"`
	MaxFileSize     int64    `mapstructure:"max_file_size" toml:"max_file_size"`
	IncludeVendor   bool     `mapstructure:"include_vendor" toml:"include_vendor"`
	Workers         int      `mapstructure:"workers" toml:"workers"`

	// IncludeExtensions adds extensions (".sql", ".proto") indexed as plain text
	IncludeExtensions []string `mapstructure:"include_extensions" toml:"include_extensions"`

	// StdlibRoots are trees whose files are classified as the stdlib tier.
	// Load adds $GOROOT when it is set.
	StdlibRoots []string `mapstructure:"stdlib_roots" toml:"stdlib_roots,omitempty"`

	Embedding EmbeddingConfig `mapstructure:"embedding" toml:"embedding"`
	Research  ResearchConfig  `mapstructure:"research" toml:"research"`
	Log       LogConfig       `mapstructure:"log" toml:"log"`
}

// EmbeddingConfig selects and configures the embedding provider
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider" toml:"provider"` // local, daemon, openai, none
	DaemonURL string        `mapstructure:"daemon_url" toml:"daemon_url"`
	Model     string        `mapstructure:"model" toml:"model"`
	Dimension int           `mapstructure:"dimension" toml:"dimension"`
	Timeout   time.Duration `mapstructure:"timeout" toml:"timeout"`
	APIKey    string        `mapstructure:"api_key" toml:"api_key,omitempty"`
	CacheSize int           `mapstructure:"cache_size" toml:"cache_size"`
}

// ResearchConfig bounds multi-hop research
type ResearchConfig struct {
	MaxHops     int `mapstructure:"max_hops" toml:"max_hops"`
	PerHopLimit int `mapstructure:"per_hop_limit" toml:"per_hop_limit"`
	SmallK      int `mapstructure:"small_k" toml:"small_k"`
	MaxVisited  int `mapstructure:"max_visited" toml:"max_visited"`
	Concurrency int `mapstructure:"concurrency" toml:"concurrency"`
}

// LogConfig controls the process logger
type LogConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"` // text or json
}

// DefaultConfig returns the built-in defaults
func DefaultConfig() *Config {
	return &Config{
		IndexDir:     DefaultIndexDir,
		MaxChunkSize: 1200,
		MinChunkSize: 50,
		VectorWeight: 0.5,
		DefaultLimit: 10,
		ExcludePatterns: []string{
			"*.min.js",
			"*.lock",
			"*.sum",
			"*_test.go",
		},
		MaxFileSize:       1 << 20,
		Workers:           0, // NumCPU
		IncludeExtensions: []string{".yaml", ".yml", ".toml", ".sql"},
		Embedding: EmbeddingConfig{
			Provider:  "local",
			Model:     "local-hash",
			Dimension: 384,
			Timeout:   10 * time.Second,
			CacheSize: 10000,
		},
		Research: ResearchConfig{
			MaxHops:     2,
			PerHopLimit: 8,
			SmallK:      3,
			MaxVisited:  100,
			Concurrency: 4,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads configuration. When path is empty the default file in root is
// used if it exists; a missing default file is not an error.
func Load(root, path string) (*Config, error) {
	// .env values become plain environment variables; existing ones win
	envFile := filepath.Join(root, ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	}

	v := viper.New()
	setDefaults(v, DefaultConfig())

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	explicit := path != ""
	if !explicit {
		path = filepath.Join(root, DefaultFileName)
	}
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound), !explicit && errors.Is(err, os.ErrNotExist):
		default:
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if !filepath.IsAbs(cfg.IndexDir) {
		cfg.IndexDir = filepath.Join(root, cfg.IndexDir)
	}
	if goroot := os.Getenv("GOROOT"); goroot != "" && !slices.Contains(cfg.StdlibRoots, goroot) {
		cfg.StdlibRoots = append(cfg.StdlibRoots, goroot)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("index_dir", d.IndexDir)
	v.SetDefault("max_chunk_size", d.MaxChunkSize)
	v.SetDefault("min_chunk_size", d.MinChunkSize)
	v.SetDefault("vector_weight", d.VectorWeight)
	v.SetDefault("default_limit", d.DefaultLimit)
	v.SetDefault("exclude_patterns", d.ExcludePatterns)
	v.SetDefault("max_file_size", d.MaxFileSize)
	v.SetDefault("include_vendor", d.IncludeVendor)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("include_extensions", d.IncludeExtensions)
	v.SetDefault("stdlib_roots", d.StdlibRoots)

	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.daemon_url", d.Embedding.DaemonURL)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimension", d.Embedding.Dimension)
	v.SetDefault("embedding.timeout", d.Embedding.Timeout)
	v.SetDefault("embedding.api_key", d.Embedding.APIKey)
	v.SetDefault("embedding.cache_size", d.Embedding.CacheSize)

	v.SetDefault("research.max_hops", d.Research.MaxHops)
	v.SetDefault("research.per_hop_limit", d.Research.PerHopLimit)
	v.SetDefault("research.small_k", d.Research.SmallK)
	v.SetDefault("research.max_visited", d.Research.MaxVisited)
	v.SetDefault("research.concurrency", d.Research.Concurrency)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate checks value ranges
func (c *Config) Validate() error {
	switch {
	case c.MaxChunkSize <= 0:
		return &ConfigError{Field: "max_chunk_size", Message: "must be positive"}
	case c.MinChunkSize < 0:
		return &ConfigError{Field: "min_chunk_size", Message: "must not be negative"}
	case c.MinChunkSize > c.MaxChunkSize:
		return &ConfigError{Field: "min_chunk_size", Message: "must not exceed max_chunk_size"}
	case c.VectorWeight < 0 || c.VectorWeight > 1:
		return &ConfigError{Field: "vector_weight", Message: "must be between 0 and 1"}
	case c.DefaultLimit <= 0:
		return &ConfigError{Field: "default_limit", Message: "must be positive"}
	case c.MaxFileSize <= 0:
		return &ConfigError{Field: "max_file_size", Message: "must be positive"}
	case c.Workers < 0:
		return &ConfigError{Field: "workers", Message: "must not be negative"}
	case c.Embedding.Timeout <= 0:
		return &ConfigError{Field: "embedding.timeout", Message: "must be positive"}
	case c.Research.MaxHops < 0:
		return &ConfigError{Field: "research.max_hops", Message: "must not be negative"}
	case c.Research.PerHopLimit <= 0:
		return &ConfigError{Field: "research.per_hop_limit", Message: "must be positive"}
	case c.Research.SmallK <= 0:
		return &ConfigError{Field: "research.small_k", Message: "must be positive"}
	case c.Research.MaxVisited <= 0:
		return &ConfigError{Field: "research.max_visited", Message: "must be positive"}
	}

	switch c.Embedding.Provider {
	case "local", "daemon", "openai", "none":
	default:
		return &ConfigError{Field: "embedding.provider", Message: "unknown provider " + c.Embedding.Provider}
	}
	if c.Embedding.Provider == "daemon" && c.Embedding.DaemonURL == "" {
		return &ConfigError{Field: "embedding.daemon_url", Message: "required for the daemon provider"}
	}
	return nil
}

// WriteFile writes the configuration as TOML
func (c *Config) WriteFile(path string) error {
	data, err := c.TOML()
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// TOML encodes the configuration in the config file format
func (c *Config) TOML() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to encode config: %w", err)
	}
	return data, nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}
