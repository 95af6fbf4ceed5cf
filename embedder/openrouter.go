package embedder

import (
	"fmt"
	"net/http"
	"os"
	"time"
)

const (
	defaultOpenRouterEndpoint = "https://openrouter.ai/api/v1"
	defaultOpenRouterModel    = "openai/text-embedding-3-small"
)

type OpenRouterOption = OpenAIOption

// NewOpenRouterEmbedder returns an OpenAI-protocol client preconfigured for OpenRouter.
func NewOpenRouterEmbedder(opts ...OpenRouterOption) (*OpenAIEmbedder, error) {
	e := &OpenAIEmbedder{
		name:     "openrouter",
		endpoint: defaultOpenRouterEndpoint,
		model:    defaultOpenRouterModel,
		headers: map[string]string{
			"HTTP-Referer": "codeindex",
			"X-Title":      "codeindex",
		},
		client: &http.Client{
			Timeout: 60 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.apiKey == "" {
		e.apiKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if e.apiKey == "" {
		return nil, fmt.Errorf("%w (use OPENROUTER_API_KEY or embedder.api_key)", ErrMissingAPIKey)
	}

	return e, nil
}
