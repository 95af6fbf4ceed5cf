package embedder

import (
	"fmt"

	"github.com/yoanbernabeu/codeindex/config"
)

// NewFromConfig creates an Embedder based on the provided configuration.
func NewFromConfig(cfg *config.Config) (Embedder, error) {
	var (
		emb Embedder
		err error
	)

	switch cfg.Embedder.Provider {
	case "ollama":
		opts := []OllamaOption{
			WithOllamaEndpoint(cfg.Embedder.Endpoint),
			WithOllamaModel(cfg.Embedder.Model),
		}
		if cfg.Embedder.Dimensions != nil {
			opts = append(opts, WithOllamaDimensions(*cfg.Embedder.Dimensions))
		}
		emb = NewOllamaEmbedder(opts...)

	case "openai":
		opts := []OpenAIOption{
			WithOpenAIModel(cfg.Embedder.Model),
			WithOpenAIKey(cfg.Embedder.ResolvedAPIKey()),
			WithOpenAIEndpoint(cfg.Embedder.Endpoint),
		}
		if cfg.Embedder.Dimensions != nil {
			opts = append(opts, WithOpenAIDimensions(*cfg.Embedder.Dimensions))
		}
		emb, err = NewOpenAIEmbedder(opts...)

	case "openrouter":
		opts := []OpenRouterOption{
			WithOpenAIModel(cfg.Embedder.Model),
			WithOpenAIKey(cfg.Embedder.ResolvedAPIKey()),
			WithOpenAIEndpoint(cfg.Embedder.Endpoint),
		}
		if cfg.Embedder.Dimensions != nil {
			opts = append(opts, WithOpenAIDimensions(*cfg.Embedder.Dimensions))
		}
		emb, err = NewOpenRouterEmbedder(opts...)

	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Embedder.Provider)
	}
	if err != nil {
		return nil, err
	}

	if cfg.Embedder.RequestsPerSecond > 0 {
		emb = NewRateLimited(emb, cfg.Embedder.RequestsPerSecond)
	}
	return emb, nil
}
