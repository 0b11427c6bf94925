package embed

import (
	"fmt"

	"github.com/marketlink/semsearch/internal/config"
)

// NewFromConfig builds the configured embedder wrapped with the LRU
// cache. The static provider needs no external model server.
func NewFromConfig(cfg *config.Config) (Embedder, error) {
	var inner Embedder

	switch cfg.Embeddings.Provider {
	case "static":
		inner = NewStaticEmbedder(cfg.Embeddings.Dimensions)
	case "ollama", "":
		inner = NewOllamaEmbedder(OllamaConfig{
			Host:       cfg.Embeddings.OllamaHost,
			Model:      cfg.Embeddings.Model,
			Dimensions: cfg.Embeddings.Dimensions,
			BatchSize:  cfg.Embeddings.BatchSize,
			Timeout:    cfg.EmbedTimeout(),
		})
	default:
		return nil, fmt.Errorf("unknown embeddings provider %q", cfg.Embeddings.Provider)
	}

	return NewCachedEmbedder(inner, cfg.Embeddings.CacheSize), nil
}
