package embedder

import (
	"fmt"
	"os"
	"strings"

	"github.com/dshills/codeintel/internal/config"
)

// DetectProvider resolves the provider name for cfg. An empty provider picks
// the daemon when a URL is configured, OpenAI when an API key is available,
// and the local provider otherwise.
func DetectProvider(cfg config.EmbeddingConfig) string {
	if cfg.Provider != "" {
		return strings.ToLower(cfg.Provider)
	}
	if cfg.DaemonURL != "" {
		return ProviderDaemon
	}
	if cfg.APIKey != "" || os.Getenv(EnvOpenAIAPIKey) != "" {
		return ProviderOpenAI
	}
	return ProviderLocal
}

// NewProvider creates the bare provider selected by cfg
func NewProvider(cfg config.EmbeddingConfig) (Embedder, error) {
	switch provider := DetectProvider(cfg); provider {
	case ProviderLocal:
		return NewLocalProvider(cfg.Dimension), nil
	case ProviderDaemon:
		return NewDaemonProvider(cfg.DaemonURL, cfg.Model, cfg.Dimension, cfg.Timeout)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg.APIKey, cfg.Model, cfg.Dimension, cfg.DaemonURL)
	case ProviderNone:
		return NewNoneProvider(cfg.Dimension), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, provider)
	}
}

// New creates the embedder used by the backend: the configured provider
// behind an LRU cache, a single serialized handle and a per-call timeout.
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	provider, err := NewProvider(cfg)
	if err != nil {
		return nil, err
	}

	var e Embedder = provider
	if cfg.CacheSize > 0 && provider.Provider() != ProviderNone {
		e = Cached(e, cfg.CacheSize)
	}
	e = Serialized(e)
	return WithTimeout(e, cfg.Timeout), nil
}
